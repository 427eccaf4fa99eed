package varint

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, 268435455}
	for _, v := range cases {
		enc, err := Encode(nil, v)
		if err != nil {
			t.Fatalf("encode(%d): %v", v, err)
		}
		got, n, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode(%v): %v", enc, err)
		}
		if got != v {
			t.Errorf("decode(%v) = %d, want %d", enc, got, v)
		}
		if n != len(enc) {
			t.Errorf("decode consumed %d bytes, want %d", n, len(enc))
		}
		if got := Size(v); got != len(enc) {
			t.Errorf("Size(%d) = %d, want %d", v, got, len(enc))
		}
	}
}

func TestEncodeByteCounts(t *testing.T) {
	cases := map[uint32]int{
		0:         1,
		127:       1,
		128:       2,
		16383:     2,
		16384:     3,
		2097151:   3,
		2097152:   4,
		268435455: 4,
	}
	for v, want := range cases {
		enc, err := Encode(nil, v)
		if err != nil {
			t.Fatal(err)
		}
		if len(enc) != want {
			t.Errorf("encode(%d) length = %d, want %d", v, len(enc), want)
		}
	}
}

func TestEncodeTooLarge(t *testing.T) {
	if _, err := Encode(nil, MaxRemainingLength+1); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestDecodeIncomplete(t *testing.T) {
	if _, _, err := Decode([]byte{0x80}); err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if _, _, err := Decode(nil); err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete for empty buf, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	buf := []byte{0x80, 0x80, 0x80, 0x80}
	if _, _, err := Decode(buf); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeAppendedBytesIgnored(t *testing.T) {
	enc, _ := Encode(nil, 16384)
	enc = append(enc, 0xFF, 0xFF)
	v, n, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if v != 16384 || n != 3 {
		t.Fatalf("got v=%d n=%d, want v=16384 n=3", v, n)
	}
}
