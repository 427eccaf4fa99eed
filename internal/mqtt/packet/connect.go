package packet

import (
	"bytes"
	"fmt"
)

// ConnectFlags is the CONNECT variable header's single flags byte (spec
// MQTT 3.1.1 §3.1.2.3 / MQTT 5.0 §3.1.2.3 — unchanged across versions).
type ConnectFlags struct {
	CleanStart   bool
	WillFlag     bool
	WillQoS      byte
	WillRetain   bool
	PasswordFlag bool
	UsernameFlag bool
}

func (f ConnectFlags) encode() byte {
	var b byte
	if f.UsernameFlag {
		b |= 1 << 7
	}
	if f.PasswordFlag {
		b |= 1 << 6
	}
	if f.WillRetain {
		b |= 1 << 5
	}
	b |= (f.WillQoS & 0x3) << 3
	if f.WillFlag {
		b |= 1 << 2
	}
	if f.CleanStart {
		b |= 1 << 1
	}
	return b
}

func decodeConnectFlags(b byte) ConnectFlags {
	return ConnectFlags{
		UsernameFlag: b&(1<<7) != 0,
		PasswordFlag: b&(1<<6) != 0,
		WillRetain:   b&(1<<5) != 0,
		WillQoS:      (b >> 3) & 0x3,
		WillFlag:     b&(1<<2) != 0,
		CleanStart:   b&(1<<1) != 0,
	}
}

// ConnectPacket is the first packet any connection sends (spec §4.9's
// "On CONNECT" pipeline).
type ConnectPacket struct {
	ProtocolVersion ProtocolVersion
	Flags           ConnectFlags
	KeepAlive       uint16
	Properties      *Properties // MQTT 5.0 only

	ClientID string

	WillTopic      string
	WillPayload    []byte
	WillProperties *Properties // MQTT 5.0 only

	Username string
	Password []byte
}

// protocolName is the fixed "MQTT" magic string both versions share;
// MQTT 3.1 (not 3.1.1) used "MQIsdp" but RobustMQ only targets 3.1.1/5.0.
const protocolName = "MQTT"

// Encode writes the CONNECT variable header and payload (excluding the
// fixed header, written separately by the caller via WriteFixedHeader).
func (c *ConnectPacket) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeString(&buf, protocolName)
	buf.WriteByte(byte(c.ProtocolVersion))
	buf.WriteByte(c.Flags.encode())
	writeUint16(&buf, c.KeepAlive)

	if c.ProtocolVersion == MQTT5 {
		props, err := encodeProperties(c.Properties)
		if err != nil {
			return nil, err
		}
		buf.Write(props)
	}

	writeString(&buf, c.ClientID)

	if c.Flags.WillFlag {
		if c.ProtocolVersion == MQTT5 {
			props, err := encodeProperties(c.WillProperties)
			if err != nil {
				return nil, err
			}
			buf.Write(props)
		}
		writeString(&buf, c.WillTopic)
		writeBinary(&buf, c.WillPayload)
	}
	if c.Flags.UsernameFlag {
		writeString(&buf, c.Username)
	}
	if c.Flags.PasswordFlag {
		writeBinary(&buf, c.Password)
	}
	return buf.Bytes(), nil
}

// DecodeConnect parses a CONNECT packet's variable header and payload
// from the remaining-length-bounded body.
func DecodeConnect(body []byte) (*ConnectPacket, error) {
	r := bytes.NewReader(body)

	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	if name != protocolName {
		return nil, fmt.Errorf("%w: unexpected protocol name %q", ErrMalformedPacket, name)
	}
	versionByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	version := ProtocolVersion(versionByte)
	if version != MQTT311 && version != MQTT5 {
		return nil, fmt.Errorf("%w: unsupported protocol version %d", ErrMalformedPacket, versionByte)
	}

	flagsByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	flags := decodeConnectFlags(flagsByte)

	keepAlive, err := readUint16(r)
	if err != nil {
		return nil, err
	}

	c := &ConnectPacket{ProtocolVersion: version, Flags: flags, KeepAlive: keepAlive}

	if version == MQTT5 {
		props, err := readProperties(r)
		if err != nil {
			return nil, err
		}
		c.Properties = props
	}

	c.ClientID, err = readString(r)
	if err != nil {
		return nil, err
	}

	if flags.WillFlag {
		if version == MQTT5 {
			props, err := readProperties(r)
			if err != nil {
				return nil, err
			}
			c.WillProperties = props
		}
		c.WillTopic, err = readString(r)
		if err != nil {
			return nil, err
		}
		c.WillPayload, err = readBinary(r)
		if err != nil {
			return nil, err
		}
	}
	if flags.UsernameFlag {
		c.Username, err = readString(r)
		if err != nil {
			return nil, err
		}
	}
	if flags.PasswordFlag {
		c.Password, err = readBinary(r)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ConnAckReasonCode covers the MQTT 5.0 reason codes CONNACK uses; the
// low byte doubles as the MQTT 3.1.1 "connect return code" for the
// values both versions share (0-5).
type ConnAckReasonCode byte

const (
	ConnAckSuccess                ConnAckReasonCode = 0x00
	ConnAckUnspecifiedError       ConnAckReasonCode = 0x80
	ConnAckUnsupportedProtocol    ConnAckReasonCode = 0x84
	ConnAckClientIDNotValid       ConnAckReasonCode = 0x85
	ConnAckBadUsernameOrPassword  ConnAckReasonCode = 0x86
	ConnAckNotAuthorized          ConnAckReasonCode = 0x87
	ConnAckServerUnavailable      ConnAckReasonCode = 0x88
	ConnAckBanned                 ConnAckReasonCode = 0x8A
	ConnAckBadAuthMethod          ConnAckReasonCode = 0x8C
)

// ConnAckPacket answers CONNECT (spec §4.9 step 6).
type ConnAckPacket struct {
	ProtocolVersion ProtocolVersion
	SessionPresent  bool
	ReasonCode      ConnAckReasonCode
	Properties      *Properties // MQTT 5.0 only: assigned_client_id, max_qos, etc.
}

func (c *ConnAckPacket) Encode() ([]byte, error) {
	var buf bytes.Buffer
	var flags byte
	if c.SessionPresent {
		flags = 1
	}
	buf.WriteByte(flags)
	buf.WriteByte(byte(c.ReasonCode))
	if c.ProtocolVersion == MQTT5 {
		props, err := encodeProperties(c.Properties)
		if err != nil {
			return nil, err
		}
		buf.Write(props)
	}
	return buf.Bytes(), nil
}

func DecodeConnAck(body []byte, version ProtocolVersion) (*ConnAckPacket, error) {
	r := bytes.NewReader(body)
	flags, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	reason, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c := &ConnAckPacket{
		ProtocolVersion: version,
		SessionPresent:  flags&0x1 != 0,
		ReasonCode:      ConnAckReasonCode(reason),
	}
	if version == MQTT5 {
		props, err := readProperties(r)
		if err != nil {
			return nil, err
		}
		c.Properties = props
	}
	return c, nil
}
