package packet

import "bytes"

// QoS is the MQTT delivery guarantee level (spec §4.9's "PUBLISH
// handling by QoS").
type QoS byte

const (
	QoS0 QoS = 0
	QoS1 QoS = 1
	QoS2 QoS = 2
)

// PublishFlags are the fixed header's low nibble for a PUBLISH packet.
type PublishFlags struct {
	Dup    bool
	QoS    QoS
	Retain bool
}

func (f PublishFlags) encode() byte {
	var b byte
	if f.Dup {
		b |= 1 << 3
	}
	b |= byte(f.QoS&0x3) << 1
	if f.Retain {
		b |= 1
	}
	return b
}

// DecodePublishFlags reads a PUBLISH packet's fixed-header flags nibble.
func DecodePublishFlags(b byte) PublishFlags {
	return PublishFlags{
		Dup:    b&(1<<3) != 0,
		QoS:    QoS((b >> 1) & 0x3),
		Retain: b&1 != 0,
	}
}

// PublishPacket carries application data on a topic (spec §4.9).
type PublishPacket struct {
	ProtocolVersion ProtocolVersion
	Flags           PublishFlags
	Topic           string
	PacketID        uint16 // present only for QoS 1/2
	Properties      *Properties
	Payload         []byte
}

func (p *PublishPacket) FixedHeaderFlags() byte { return p.Flags.encode() }

func (p *PublishPacket) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeString(&buf, p.Topic)
	if p.Flags.QoS > QoS0 {
		writeUint16(&buf, p.PacketID)
	}
	if p.ProtocolVersion == MQTT5 {
		props, err := encodeProperties(p.Properties)
		if err != nil {
			return nil, err
		}
		buf.Write(props)
	}
	buf.Write(p.Payload)
	return buf.Bytes(), nil
}

func DecodePublish(body []byte, flags PublishFlags, version ProtocolVersion) (*PublishPacket, error) {
	r := bytes.NewReader(body)
	topic, err := readString(r)
	if err != nil {
		return nil, err
	}
	p := &PublishPacket{ProtocolVersion: version, Flags: flags, Topic: topic}
	if flags.QoS > QoS0 {
		p.PacketID, err = readUint16(r)
		if err != nil {
			return nil, err
		}
	}
	if version == MQTT5 {
		props, err := readProperties(r)
		if err != nil {
			return nil, err
		}
		p.Properties = props
	}
	payload := make([]byte, r.Len())
	if _, err := r.Read(payload); err != nil && r.Len() > 0 {
		return nil, err
	}
	p.Payload = payload
	return p, nil
}

// PubAckReasonCode covers MQTT 5.0 reason codes for PUBACK/PUBREC/
// PUBREL/PUBCOMP; MQTT 3.1.1 packets of these types carry no reason code
// at all (just packet id) and Encode/Decode handle that by version.
type PubAckReasonCode byte

const (
	PubAckSuccess               PubAckReasonCode = 0x00
	PubAckNoMatchingSubscribers PubAckReasonCode = 0x10
	PubAckUnspecifiedError      PubAckReasonCode = 0x80
	PubAckNotAuthorized         PubAckReasonCode = 0x87
	PubAckTopicNameInvalid      PubAckReasonCode = 0x90
	PubAckPacketIDInUse         PubAckReasonCode = 0x91
	PubAckQuotaExceeded         PubAckReasonCode = 0x97
)

// ackPacket is the shared shape of PUBACK/PUBREC/PUBREL/PUBCOMP: packet
// id, and in MQTT 5.0 (when anything beyond success needs reporting) a
// reason code plus properties.
type ackPacket struct {
	ProtocolVersion ProtocolVersion
	PacketID        uint16
	ReasonCode      PubAckReasonCode
	Properties      *Properties
}

func encodeAck(a ackPacket) ([]byte, error) {
	var buf bytes.Buffer
	writeUint16(&buf, a.PacketID)
	if a.ProtocolVersion == MQTT5 && (a.ReasonCode != PubAckSuccess || a.Properties != nil) {
		buf.WriteByte(byte(a.ReasonCode))
		props, err := encodeProperties(a.Properties)
		if err != nil {
			return nil, err
		}
		buf.Write(props)
	}
	return buf.Bytes(), nil
}

func decodeAck(body []byte, version ProtocolVersion) (ackPacket, error) {
	r := bytes.NewReader(body)
	a := ackPacket{ProtocolVersion: version, ReasonCode: PubAckSuccess}
	var err error
	a.PacketID, err = readUint16(r)
	if err != nil {
		return a, err
	}
	if version == MQTT5 && r.Len() > 0 {
		reason, err := r.ReadByte()
		if err != nil {
			return a, err
		}
		a.ReasonCode = PubAckReasonCode(reason)
		if r.Len() > 0 {
			props, err := readProperties(r)
			if err != nil {
				return a, err
			}
			a.Properties = props
		}
	}
	return a, nil
}

type PubAckPacket struct{ ackPacket }
type PubRecPacket struct{ ackPacket }
type PubRelPacket struct{ ackPacket }
type PubCompPacket struct{ ackPacket }

func (p *PubAckPacket) Encode() ([]byte, error) { return encodeAck(p.ackPacket) }
func (p *PubRecPacket) Encode() ([]byte, error) { return encodeAck(p.ackPacket) }
func (p *PubRelPacket) Encode() ([]byte, error) { return encodeAck(p.ackPacket) }
func (p *PubCompPacket) Encode() ([]byte, error) { return encodeAck(p.ackPacket) }

func DecodePubAck(body []byte, version ProtocolVersion) (*PubAckPacket, error) {
	a, err := decodeAck(body, version)
	if err != nil {
		return nil, err
	}
	return &PubAckPacket{a}, nil
}

func DecodePubRec(body []byte, version ProtocolVersion) (*PubRecPacket, error) {
	a, err := decodeAck(body, version)
	if err != nil {
		return nil, err
	}
	return &PubRecPacket{a}, nil
}

func DecodePubRel(body []byte, version ProtocolVersion) (*PubRelPacket, error) {
	a, err := decodeAck(body, version)
	if err != nil {
		return nil, err
	}
	return &PubRelPacket{a}, nil
}

func DecodePubComp(body []byte, version ProtocolVersion) (*PubCompPacket, error) {
	a, err := decodeAck(body, version)
	if err != nil {
		return nil, err
	}
	return &PubCompPacket{a}, nil
}
