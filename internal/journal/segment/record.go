// Package segment implements journal segment files: the append-only,
// per-shard log storage that backs MQTT message durability. Each segment
// is a sequence of framed records; the length-prefixed, crc-checked
// framing scheme generalizes from a write-ahead log's session entries to
// the key/value/tags/timestamp record shape journal consumers read back
// by offset.
package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"strings"

	"github.com/robustmq/robustmq/pkg/crypto/adaptive"
)

var (
	ErrCorruptedRecord  = errors.New("segment: corrupted record")
	ErrChecksumMismatch = errors.New("segment: checksum mismatch")
)

// encryptedHeaderKey flags a record whose value bytes are ciphertext
// rather than the raw publish payload. It travels inside the header map
// so compaction and offset indexing can still read key/header/tags
// without holding the cipher.
const encryptedHeaderKey = "x-robustmq-enc"

// Tag is a single key/value attached to a record, carried alongside the
// primary key/value for routing and filtering (e.g. MQTT QoS, retain
// flag, originating client ID) without needing a schema migration. On
// the wire a tag is a single UTF-8 string of the form "key=value"; a tag
// with no '=' round-trips as a Key with an empty Value.
type Tag struct {
	Key   string
	Value string
}

// Record is one journal entry: a key (typically the MQTT topic, or a
// topic/partition composite), an opaque value (the publish payload), a
// small header of protocol metadata, and a tag set.
//
// Wire layout per record: len:u32 | crc32:u32 | header_len:u16 | header |
// key_len:u32 | key | value_len:u32 | value | tags_count:u16 |
// (tag_len:u16|tag)* | timestamp:u64 | offset:u64, matching the segment
// record format journal readers and the compaction tool expect. header
// is itself a count-prefixed list of length-prefixed key/value pairs,
// keys sorted so the same record always produces the same bytes.
type Record struct {
	Header    map[string]string
	Key       []byte
	Value     []byte
	Tags      []Tag
	Timestamp int64
	Offset    uint64
}

// encodeFrame serializes r into the on-disk frame: [len:4][crc32:4][body],
// where body is the packed field layout documented on Record. When cipher
// is non-nil the value is encrypted at rest (per-node journal encryption,
// configured via JournalSection.EncryptionKey) while the key, header, and
// tags stay in the clear so journal compaction and offset indexing never
// need to decrypt.
func encodeFrame(r *Record, cipher adaptive.Cipher) ([]byte, error) {
	header := r.Header
	value := r.Value

	if cipher != nil {
		ciphertext, err := cipher.Encrypt(r.Value, r.Key)
		if err != nil {
			return nil, fmt.Errorf("segment: encrypt value: %w", err)
		}
		header = withEncryptedFlag(header)
		value = ciphertext
	}

	headerBytes, err := encodeHeader(header)
	if err != nil {
		return nil, err
	}
	if len(r.Tags) > 0xFFFF {
		return nil, fmt.Errorf("segment: too many tags: %d", len(r.Tags))
	}

	var body bytes.Buffer
	writeUint16(&body, uint16(len(headerBytes)))
	body.Write(headerBytes)

	writeUint32(&body, uint32(len(r.Key)))
	body.Write(r.Key)

	writeUint32(&body, uint32(len(value)))
	body.Write(value)

	writeUint16(&body, uint16(len(r.Tags)))
	for _, t := range r.Tags {
		tag := []byte(t.Key + "=" + t.Value)
		if len(tag) > 0xFFFF {
			return nil, fmt.Errorf("segment: tag too large: %d bytes", len(tag))
		}
		writeUint16(&body, uint16(len(tag)))
		body.Write(tag)
	}

	writeUint64(&body, uint64(r.Timestamp))
	writeUint64(&body, r.Offset)

	payload := body.Bytes()
	crc := crc32.ChecksumIEEE(payload)

	out := make([]byte, 0, 8+len(payload))
	var lenBuf, crcBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	out = append(out, lenBuf[:]...)
	out = append(out, crcBuf[:]...)
	out = append(out, payload...)
	return out, nil
}

func decodeFrame(payload []byte, wantCRC uint32, cipher adaptive.Cipher) (*Record, error) {
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, ErrChecksumMismatch
	}

	r := bytes.NewReader(payload)

	headerLen, err := readUint16(r)
	if err != nil {
		return nil, fmt.Errorf("segment: %w: header length: %v", ErrCorruptedRecord, err)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("segment: %w: header: %v", ErrCorruptedRecord, err)
	}
	header, err := decodeHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	key, err := readBytes32(r)
	if err != nil {
		return nil, fmt.Errorf("segment: %w: key: %v", ErrCorruptedRecord, err)
	}

	value, err := readBytes32(r)
	if err != nil {
		return nil, fmt.Errorf("segment: %w: value: %v", ErrCorruptedRecord, err)
	}

	tagsCount, err := readUint16(r)
	if err != nil {
		return nil, fmt.Errorf("segment: %w: tags count: %v", ErrCorruptedRecord, err)
	}
	tags := make([]Tag, 0, tagsCount)
	for i := 0; i < int(tagsCount); i++ {
		raw, err := readBytes16(r)
		if err != nil {
			return nil, fmt.Errorf("segment: %w: tag %d: %v", ErrCorruptedRecord, i, err)
		}
		tags = append(tags, parseTag(string(raw)))
	}

	timestamp, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("segment: %w: timestamp: %v", ErrCorruptedRecord, err)
	}
	offset, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("segment: %w: offset: %v", ErrCorruptedRecord, err)
	}

	rec := &Record{
		Key:       key,
		Tags:      tags,
		Timestamp: int64(timestamp),
		Offset:    offset,
	}

	if header[encryptedHeaderKey] != "" {
		if cipher == nil {
			return nil, fmt.Errorf("segment: record is encrypted but no cipher configured")
		}
		plain, err := cipher.Decrypt(value, key)
		if err != nil {
			return nil, fmt.Errorf("segment: decrypt value: %w", err)
		}
		rec.Value = plain
		delete(header, encryptedHeaderKey)
	} else {
		rec.Value = value
	}
	rec.Header = header

	return rec, nil
}

// withEncryptedFlag returns a copy of header with the encryption marker
// set, leaving the caller's map untouched.
func withEncryptedFlag(header map[string]string) map[string]string {
	out := make(map[string]string, len(header)+1)
	for k, v := range header {
		out[k] = v
	}
	out[encryptedHeaderKey] = "1"
	return out
}

// parseTag splits a wire tag string at its first '=', matching how
// encodeFrame joins a Tag's Key and Value back together.
func parseTag(s string) Tag {
	if idx := strings.IndexByte(s, '='); idx >= 0 {
		return Tag{Key: s[:idx], Value: s[idx+1:]}
	}
	return Tag{Key: s}
}

// encodeHeader packs a header map as count:u16 | (klen:u16|key|vlen:u16|val)*,
// sorted by key so identical headers always encode to identical bytes.
func encodeHeader(header map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	writeUint16(&buf, uint16(len(keys)))
	for _, k := range keys {
		v := header[k]
		if len(k) > 0xFFFF || len(v) > 0xFFFF {
			return nil, fmt.Errorf("segment: header entry too large")
		}
		writeUint16(&buf, uint16(len(k)))
		buf.WriteString(k)
		writeUint16(&buf, uint16(len(v)))
		buf.WriteString(v)
	}
	return buf.Bytes(), nil
}

func decodeHeader(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return map[string]string{}, nil
	}
	r := bytes.NewReader(b)
	count, err := readUint16(r)
	if err != nil {
		return nil, fmt.Errorf("segment: %w: header entry count: %v", ErrCorruptedRecord, err)
	}
	header := make(map[string]string, count)
	for i := 0; i < int(count); i++ {
		k, err := readBytes16(r)
		if err != nil {
			return nil, fmt.Errorf("segment: %w: header key %d: %v", ErrCorruptedRecord, i, err)
		}
		v, err := readBytes16(r)
		if err != nil {
			return nil, fmt.Errorf("segment: %w: header value %d: %v", ErrCorruptedRecord, i, err)
		}
		header[string(k)] = string(v)
	}
	return header, nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readBytes16(r *bytes.Reader) ([]byte, error) {
	n, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readBytes32(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
