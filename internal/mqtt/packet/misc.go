package packet

import "bytes"

// PingReqPacket and PingRespPacket carry no variable header or payload;
// the fixed header alone (remaining length 0) is the whole packet.
type PingReqPacket struct{}
type PingRespPacket struct{}

func (PingReqPacket) Encode() ([]byte, error)  { return nil, nil }
func (PingRespPacket) Encode() ([]byte, error) { return nil, nil }

// DisconnectReasonCode covers MQTT 5.0's DISCONNECT reason codes (spec
// §4.9's ReceiveMaximumExceeded is one of these); MQTT 3.1.1 DISCONNECT
// carries no reason code at all.
type DisconnectReasonCode byte

const (
	DisconnectNormal                DisconnectReasonCode = 0x00
	DisconnectWithWillMessage       DisconnectReasonCode = 0x04
	DisconnectUnspecifiedError      DisconnectReasonCode = 0x80
	DisconnectProtocolError         DisconnectReasonCode = 0x82
	DisconnectNotAuthorized         DisconnectReasonCode = 0x87
	DisconnectKeepAliveTimeout      DisconnectReasonCode = 0x8D
	DisconnectSessionTakenOver      DisconnectReasonCode = 0x8E
	DisconnectTopicFilterInvalid    DisconnectReasonCode = 0x8F
	DisconnectTopicNameInvalid      DisconnectReasonCode = 0x90
	DisconnectReceiveMaximumExceeded DisconnectReasonCode = 0x93
	DisconnectPacketTooLarge        DisconnectReasonCode = 0x95
	DisconnectMessageRateTooHigh    DisconnectReasonCode = 0x96
	DisconnectQuotaExceeded         DisconnectReasonCode = 0x97
	DisconnectAdministrativeAction  DisconnectReasonCode = 0x98
)

type DisconnectPacket struct {
	ProtocolVersion ProtocolVersion
	ReasonCode      DisconnectReasonCode
	Properties      *Properties
}

func (p *DisconnectPacket) Encode() ([]byte, error) {
	if p.ProtocolVersion != MQTT5 {
		return nil, nil
	}
	if p.ReasonCode == DisconnectNormal && p.Properties == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(p.ReasonCode))
	if p.Properties != nil {
		props, err := encodeProperties(p.Properties)
		if err != nil {
			return nil, err
		}
		buf.Write(props)
	}
	return buf.Bytes(), nil
}

func DecodeDisconnect(body []byte, version ProtocolVersion) (*DisconnectPacket, error) {
	p := &DisconnectPacket{ProtocolVersion: version, ReasonCode: DisconnectNormal}
	if version != MQTT5 || len(body) == 0 {
		return p, nil
	}
	r := bytes.NewReader(body)
	rc, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	p.ReasonCode = DisconnectReasonCode(rc)
	if r.Len() > 0 {
		props, err := readProperties(r)
		if err != nil {
			return nil, err
		}
		p.Properties = props
	}
	return p, nil
}

// AuthReasonCode covers the MQTT 5.0 enhanced-auth handshake (AUTH is a
// 5.0-only packet type with no 3.1.1 equivalent).
type AuthReasonCode byte

const (
	AuthSuccess               AuthReasonCode = 0x00
	AuthContinueAuthentication AuthReasonCode = 0x18
	AuthReAuthenticate        AuthReasonCode = 0x19
)

type AuthPacket struct {
	ReasonCode AuthReasonCode
	Properties *Properties
}

func (p *AuthPacket) Encode() ([]byte, error) {
	if p.ReasonCode == AuthSuccess && p.Properties == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(p.ReasonCode))
	props, err := encodeProperties(p.Properties)
	if err != nil {
		return nil, err
	}
	buf.Write(props)
	return buf.Bytes(), nil
}

func DecodeAuth(body []byte) (*AuthPacket, error) {
	if len(body) == 0 {
		return &AuthPacket{ReasonCode: AuthSuccess}, nil
	}
	r := bytes.NewReader(body)
	rc, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	p := &AuthPacket{ReasonCode: AuthReasonCode(rc)}
	if r.Len() > 0 {
		props, err := readProperties(r)
		if err != nil {
			return nil, err
		}
		p.Properties = props
	}
	return p, nil
}
