// Package packet implements the MQTT 3.1.1 and 5.0 wire codec (spec
// §4.8): a transport-agnostic fixed-header reader/writer plus typed
// encode/decode for every control packet the broker core needs
// (CONNECT, CONNACK, PUBLISH, PUBACK, PUBREC, PUBREL, PUBCOMP, SUBSCRIBE,
// SUBACK, UNSUBSCRIBE, UNSUBACK, PINGREQ, PINGRESP, DISCONNECT). Framing
// uses pkg/varint for the remaining-length field, the same encoding
// MQTT 5.0 properties use for their own length prefixes.
package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/robustmq/robustmq/pkg/varint"
)

// Type is the MQTT control packet type, the high nibble of the fixed
// header's first byte.
type Type byte

const (
	TypeConnect     Type = 1
	TypeConnAck     Type = 2
	TypePublish     Type = 3
	TypePubAck      Type = 4
	TypePubRec      Type = 5
	TypePubRel      Type = 6
	TypePubComp     Type = 7
	TypeSubscribe   Type = 8
	TypeSubAck      Type = 9
	TypeUnsubscribe Type = 10
	TypeUnsubAck    Type = 11
	TypePingReq     Type = 12
	TypePingResp    Type = 13
	TypeDisconnect  Type = 14
	TypeAuth        Type = 15
)

// ProtocolVersion selects which spec release governs variable-header
// shape (v5 carries a Properties block 3.1.1 doesn't).
type ProtocolVersion byte

const (
	MQTT311 ProtocolVersion = 4
	MQTT5   ProtocolVersion = 5
)

// FixedHeader is every control packet's first 2-5 bytes: type, flags,
// and the remaining-length varint (spec §4.8).
type FixedHeader struct {
	Type            Type
	Flags           byte
	RemainingLength int
}

// ReadFixedHeader reads and decodes one fixed header from r. It is the
// single suspension point every connection's reader loop blocks on
// between packets.
func ReadFixedHeader(r io.Reader) (*FixedHeader, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, err
	}
	length, err := varint.DecodeReader(r)
	if err != nil {
		return nil, fmt.Errorf("packet: decode remaining length: %w", err)
	}
	return &FixedHeader{
		Type:            Type(first[0] >> 4),
		Flags:           first[0] & 0x0f,
		RemainingLength: int(length),
	}, nil
}

// WriteFixedHeader writes a fixed header for a packet whose variable
// header + payload is remainingLength bytes.
func WriteFixedHeader(w io.Writer, t Type, flags byte, remainingLength int) error {
	if _, err := w.Write([]byte{byte(t)<<4 | flags}); err != nil {
		return err
	}
	length, err := varint.Encode(nil, uint32(remainingLength))
	if err != nil {
		return fmt.Errorf("packet: encode remaining length: %w", err)
	}
	_, err = w.Write(length)
	return err
}

// --- shared variable-header primitive codecs ---------------------------

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("packet: read string length: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("packet: read string body: %w", err)
	}
	return string(buf), nil
}

func writeBinary(buf *bytes.Buffer, b []byte) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readBinary(r *bytes.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("packet: read binary length: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("packet: read binary body: %w", err)
	}
	return buf, nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// ErrMalformedPacket is returned for structurally invalid packets that
// warrant an immediate connection close with a protocol error (spec
// §4.8's "violating packets close the connection").
var ErrMalformedPacket = fmt.Errorf("packet: malformed packet")
