package packet

import "bytes"

// SubscribeOptions is one SUBSCRIBE payload entry's options byte. MQTT
// 3.1.1 only ever sets QoS; the retain-handling/no-local/retain-as-
// published bits are MQTT 5.0 additions (spec §4.9's subscription
// matching pipeline).
type SubscribeOptions struct {
	QoS               QoS
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte // 0,1,2
}

func (o SubscribeOptions) encode() byte {
	b := byte(o.QoS & 0x3)
	if o.NoLocal {
		b |= 1 << 2
	}
	if o.RetainAsPublished {
		b |= 1 << 3
	}
	b |= (o.RetainHandling & 0x3) << 4
	return b
}

func decodeSubscribeOptions(b byte) SubscribeOptions {
	return SubscribeOptions{
		QoS:               QoS(b & 0x3),
		NoLocal:           b&(1<<2) != 0,
		RetainAsPublished: b&(1<<3) != 0,
		RetainHandling:    (b >> 4) & 0x3,
	}
}

// SubscribeFilter is one filter/options pair of a SUBSCRIBE payload.
// Filter may be a shared-subscription ("$share/<group>/<filter>") or
// exclusive-subscription ("$exclusive/<filter>") form; internal/mqtt/
// subscription parses those prefixes out of Filter.
type SubscribeFilter struct {
	Filter  string
	Options SubscribeOptions
}

type SubscribePacket struct {
	ProtocolVersion ProtocolVersion
	PacketID        uint16
	Properties      *Properties
	Filters         []SubscribeFilter
}

func (p *SubscribePacket) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeUint16(&buf, p.PacketID)
	if p.ProtocolVersion == MQTT5 {
		props, err := encodeProperties(p.Properties)
		if err != nil {
			return nil, err
		}
		buf.Write(props)
	}
	for _, f := range p.Filters {
		writeString(&buf, f.Filter)
		buf.WriteByte(f.Options.encode())
	}
	return buf.Bytes(), nil
}

func DecodeSubscribe(body []byte, version ProtocolVersion) (*SubscribePacket, error) {
	r := bytes.NewReader(body)
	pid, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	p := &SubscribePacket{ProtocolVersion: version, PacketID: pid}
	if version == MQTT5 {
		props, err := readProperties(r)
		if err != nil {
			return nil, err
		}
		p.Properties = props
	}
	for r.Len() > 0 {
		filter, err := readString(r)
		if err != nil {
			return nil, err
		}
		optByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		p.Filters = append(p.Filters, SubscribeFilter{Filter: filter, Options: decodeSubscribeOptions(optByte)})
	}
	if len(p.Filters) == 0 {
		return nil, ErrMalformedPacket
	}
	return p, nil
}

// SubAckReasonCode covers both the MQTT 3.1.1 "granted QoS"/failure
// codes and the richer MQTT 5.0 set; values 0-2 mean the same thing in
// both versions.
type SubAckReasonCode byte

const (
	SubAckGrantedQoS0        SubAckReasonCode = 0x00
	SubAckGrantedQoS1        SubAckReasonCode = 0x01
	SubAckGrantedQoS2        SubAckReasonCode = 0x02
	SubAckUnspecifiedError   SubAckReasonCode = 0x80
	SubAckNotAuthorized      SubAckReasonCode = 0x87
	SubAckTopicFilterInvalid SubAckReasonCode = 0x8F
	SubAckSharedSubNotSupported SubAckReasonCode = 0x9E
)

type SubAckPacket struct {
	ProtocolVersion ProtocolVersion
	PacketID        uint16
	Properties      *Properties
	ReasonCodes     []SubAckReasonCode
}

func (p *SubAckPacket) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeUint16(&buf, p.PacketID)
	if p.ProtocolVersion == MQTT5 {
		props, err := encodeProperties(p.Properties)
		if err != nil {
			return nil, err
		}
		buf.Write(props)
	}
	for _, rc := range p.ReasonCodes {
		buf.WriteByte(byte(rc))
	}
	return buf.Bytes(), nil
}

func DecodeSubAck(body []byte, version ProtocolVersion) (*SubAckPacket, error) {
	r := bytes.NewReader(body)
	pid, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	p := &SubAckPacket{ProtocolVersion: version, PacketID: pid}
	if version == MQTT5 {
		props, err := readProperties(r)
		if err != nil {
			return nil, err
		}
		p.Properties = props
	}
	for r.Len() > 0 {
		rc, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		p.ReasonCodes = append(p.ReasonCodes, SubAckReasonCode(rc))
	}
	return p, nil
}

type UnsubscribePacket struct {
	ProtocolVersion ProtocolVersion
	PacketID        uint16
	Properties      *Properties
	Filters         []string
}

func (p *UnsubscribePacket) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeUint16(&buf, p.PacketID)
	if p.ProtocolVersion == MQTT5 {
		props, err := encodeProperties(p.Properties)
		if err != nil {
			return nil, err
		}
		buf.Write(props)
	}
	for _, f := range p.Filters {
		writeString(&buf, f)
	}
	return buf.Bytes(), nil
}

func DecodeUnsubscribe(body []byte, version ProtocolVersion) (*UnsubscribePacket, error) {
	r := bytes.NewReader(body)
	pid, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	p := &UnsubscribePacket{ProtocolVersion: version, PacketID: pid}
	if version == MQTT5 {
		props, err := readProperties(r)
		if err != nil {
			return nil, err
		}
		p.Properties = props
	}
	for r.Len() > 0 {
		f, err := readString(r)
		if err != nil {
			return nil, err
		}
		p.Filters = append(p.Filters, f)
	}
	if len(p.Filters) == 0 {
		return nil, ErrMalformedPacket
	}
	return p, nil
}

type UnsubAckReasonCode byte

const (
	UnsubAckSuccess            UnsubAckReasonCode = 0x00
	UnsubAckNoSubscriptionFound UnsubAckReasonCode = 0x11
	UnsubAckUnspecifiedError   UnsubAckReasonCode = 0x80
)

type UnsubAckPacket struct {
	ProtocolVersion ProtocolVersion
	PacketID        uint16
	Properties      *Properties
	ReasonCodes     []UnsubAckReasonCode // MQTT 5.0 only
}

func (p *UnsubAckPacket) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeUint16(&buf, p.PacketID)
	if p.ProtocolVersion == MQTT5 {
		props, err := encodeProperties(p.Properties)
		if err != nil {
			return nil, err
		}
		buf.Write(props)
		for _, rc := range p.ReasonCodes {
			buf.WriteByte(byte(rc))
		}
	}
	return buf.Bytes(), nil
}

func DecodeUnsubAck(body []byte, version ProtocolVersion) (*UnsubAckPacket, error) {
	r := bytes.NewReader(body)
	pid, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	p := &UnsubAckPacket{ProtocolVersion: version, PacketID: pid}
	if version == MQTT5 {
		props, err := readProperties(r)
		if err != nil {
			return nil, err
		}
		p.Properties = props
		for r.Len() > 0 {
			rc, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			p.ReasonCodes = append(p.ReasonCodes, UnsubAckReasonCode(rc))
		}
	}
	return p, nil
}
