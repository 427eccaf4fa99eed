package packet

import (
	"bytes"
	"fmt"
	"io"

	"github.com/robustmq/robustmq/pkg/varint"
)

// Property identifiers (MQTT 5.0 §2.2.2.2). readProperties rejects any
// identifier missing from propKind as a malformed packet.
type Property byte

const (
	PropPayloadFormatIndicator Property = 0x01
	PropMessageExpiryInterval Property = 0x02
	PropContentType           Property = 0x03
	PropResponseTopic         Property = 0x08
	PropCorrelationData       Property = 0x09
	PropSubscriptionID        Property = 0x0B
	PropSessionExpiryInterval Property = 0x11
	PropAssignedClientID      Property = 0x12
	PropServerKeepAlive       Property = 0x13
	PropAuthMethod            Property = 0x15
	PropAuthData              Property = 0x16
	PropRequestProblemInfo    Property = 0x17
	PropWillDelayInterval     Property = 0x18
	PropRequestResponseInfo   Property = 0x19
	PropResponseInfo          Property = 0x1A
	PropReasonString          Property = 0x1F
	PropReceiveMaximum        Property = 0x21
	PropTopicAliasMaximum     Property = 0x22
	PropTopicAlias            Property = 0x23
	PropMaximumQoS            Property = 0x24
	PropRetainAvailable       Property = 0x25
	PropUserProperty          Property = 0x26
	PropMaximumPacketSize     Property = 0x27
	PropWildcardSubAvailable  Property = 0x28
	PropSubIDsAvailable       Property = 0x29
	PropSharedSubAvailable    Property = 0x2A

	propKindByte   = 0
	propKindU16    = 1
	propKindU32    = 2
	propKindVarint = 3
	propKindString = 4
	propKindBinary = 5
	propKindPair   = 6 // user property: two strings
)

var propKind = map[Property]int{
	PropPayloadFormatIndicator: propKindByte,
	PropMessageExpiryInterval:  propKindU32,
	PropContentType:            propKindString,
	PropResponseTopic:          propKindString,
	PropCorrelationData:        propKindBinary,
	PropSubscriptionID:         propKindVarint,
	PropSessionExpiryInterval:  propKindU32,
	PropAssignedClientID:       propKindString,
	PropServerKeepAlive:        propKindU16,
	PropAuthMethod:             propKindString,
	PropAuthData:               propKindBinary,
	PropRequestProblemInfo:     propKindByte,
	PropWillDelayInterval:      propKindU32,
	PropRequestResponseInfo:    propKindByte,
	PropResponseInfo:           propKindString,
	PropReasonString:           propKindString,
	PropReceiveMaximum:         propKindU16,
	PropTopicAliasMaximum:      propKindU16,
	PropTopicAlias:             propKindU16,
	PropMaximumQoS:             propKindByte,
	PropRetainAvailable:        propKindByte,
	PropUserProperty:           propKindPair,
	PropMaximumPacketSize:      propKindU32,
	PropWildcardSubAvailable:   propKindByte,
	PropSubIDsAvailable:        propKindByte,
	PropSharedSubAvailable:     propKindByte,
}

// UserProperty is an MQTT 5.0 name/value pair; a packet may carry many.
type UserProperty struct {
	Key   string
	Value string
}

// Properties is the generic MQTT 5.0 property bag attached to CONNECT,
// CONNACK, PUBLISH, and the other v5 variable headers. Values are kept
// loosely typed (one field per MQTT wire kind) rather than one Go field
// per property identifier, since most packets only ever populate a
// handful.
type Properties struct {
	Byte   map[Property]byte
	U16    map[Property]uint16
	U32    map[Property]uint32
	VarInt map[Property]uint32
	String map[Property]string
	Binary map[Property][]byte
	User   []UserProperty
}

func (p *Properties) ensure() {
	if p.Byte == nil {
		p.Byte = map[Property]byte{}
	}
	if p.U16 == nil {
		p.U16 = map[Property]uint16{}
	}
	if p.U32 == nil {
		p.U32 = map[Property]uint32{}
	}
	if p.VarInt == nil {
		p.VarInt = map[Property]uint32{}
	}
	if p.String == nil {
		p.String = map[Property]string{}
	}
	if p.Binary == nil {
		p.Binary = map[Property][]byte{}
	}
}

// SetU32 sets a four-byte integer property such as SessionExpiryInterval
// without touching the map fields directly.
func (p *Properties) SetU32(id Property, v uint32) {
	p.ensure()
	p.U32[id] = v
}

// SetString is the string-valued analogue of SetU32.
func (p *Properties) SetString(id Property, v string) {
	p.ensure()
	p.String[id] = v
}

func encodeProperties(p *Properties) ([]byte, error) {
	var body bytes.Buffer
	if p != nil {
		for id, v := range p.Byte {
			body.WriteByte(byte(id))
			body.WriteByte(v)
		}
		for id, v := range p.U16 {
			body.WriteByte(byte(id))
			writeUint16(&body, v)
		}
		for id, v := range p.U32 {
			body.WriteByte(byte(id))
			var b [4]byte
			b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
			body.Write(b[:])
		}
		for id, v := range p.VarInt {
			body.WriteByte(byte(id))
			enc, err := varint.Encode(nil, v)
			if err != nil {
				return nil, fmt.Errorf("packet: encode property %#x: %w", id, err)
			}
			body.Write(enc)
		}
		for id, v := range p.String {
			body.WriteByte(byte(id))
			writeString(&body, v)
		}
		for id, v := range p.Binary {
			body.WriteByte(byte(id))
			writeBinary(&body, v)
		}
		for _, up := range p.User {
			body.WriteByte(byte(PropUserProperty))
			writeString(&body, up.Key)
			writeString(&body, up.Value)
		}
	}

	var out bytes.Buffer
	length, err := varint.Encode(nil, uint32(body.Len()))
	if err != nil {
		return nil, fmt.Errorf("packet: encode properties length: %w", err)
	}
	out.Write(length)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func readProperties(r *bytes.Reader) (*Properties, error) {
	length, err := varint.DecodeReader(r)
	if err != nil {
		return nil, fmt.Errorf("packet: read properties length: %w", err)
	}
	if length == 0 {
		return &Properties{}, nil
	}

	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("packet: read properties body: %w", err)
	}
	pr := bytes.NewReader(raw)

	out := &Properties{}
	out.ensure()
	for pr.Len() > 0 {
		idByte, err := pr.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("packet: read property id: %w", err)
		}
		id := Property(idByte)
		if id == PropUserProperty {
			k, err := readString(pr)
			if err != nil {
				return nil, err
			}
			v, err := readString(pr)
			if err != nil {
				return nil, err
			}
			out.User = append(out.User, UserProperty{Key: k, Value: v})
			continue
		}

		kind, known := propKind[id]
		if !known {
			return nil, fmt.Errorf("%w: unknown property id %#x", ErrMalformedPacket, id)
		}
		switch kind {
		case propKindByte:
			b, err := pr.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("packet: read byte property %#x: %w", id, err)
			}
			out.Byte[id] = b
		case propKindU16:
			v, err := readUint16(pr)
			if err != nil {
				return nil, fmt.Errorf("packet: read u16 property %#x: %w", id, err)
			}
			out.U16[id] = v
		case propKindU32:
			var b [4]byte
			if _, err := io.ReadFull(pr, b[:]); err != nil {
				return nil, fmt.Errorf("packet: read u32 property %#x: %w", id, err)
			}
			out.U32[id] = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		case propKindVarint:
			v, err := varint.DecodeReader(pr)
			if err != nil {
				return nil, fmt.Errorf("packet: read varint property %#x: %w", id, err)
			}
			out.VarInt[id] = v
		case propKindString:
			s, err := readString(pr)
			if err != nil {
				return nil, fmt.Errorf("packet: read string property %#x: %w", id, err)
			}
			out.String[id] = s
		case propKindBinary:
			b, err := readBinary(pr)
			if err != nil {
				return nil, fmt.Errorf("packet: read binary property %#x: %w", id, err)
			}
			out.Binary[id] = b
		default:
			return nil, fmt.Errorf("%w: unknown property id %#x", ErrMalformedPacket, id)
		}
	}
	return out, nil
}
