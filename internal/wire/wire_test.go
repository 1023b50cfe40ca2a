package wire

import (
	"bytes"
	"net"
	"testing"
)

func TestEncodeDecodeAddrV4RoundTrip(t *testing.T) {
	ip := net.ParseIP("10.0.0.7")
	enc, err := EncodeAddr(ip)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(enc) != 5 {
		t.Fatalf("expected 5-byte encoding, got %d", len(enc))
	}
	if enc[0] != addrTagV4 {
		t.Fatalf("expected v4 tag, got %d", enc[0])
	}
	got, err := DecodeAddr(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(ip) {
		t.Fatalf("round-trip mismatch: got %s, want %s", got, ip)
	}
}

func TestEncodeDecodeAddrV6RoundTrip(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	enc, err := EncodeAddr(ip)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(enc) != 17 {
		t.Fatalf("expected 17-byte encoding, got %d", len(enc))
	}
	if enc[0] != addrTagV6 {
		t.Fatalf("expected v6 tag, got %d", enc[0])
	}
	got, err := DecodeAddr(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(ip) {
		t.Fatalf("round-trip mismatch: got %s, want %s", got, ip)
	}
}

func TestEncodeAddrNil(t *testing.T) {
	if _, err := EncodeAddr(nil); err == nil {
		t.Fatal("expected error for nil address")
	}
}

func TestDecodeAddrUnknownTag(t *testing.T) {
	if _, err := DecodeAddr(bytes.NewReader([]byte{9, 1, 2, 3})); err != ErrUnknownAddrTag {
		t.Fatalf("expected ErrUnknownAddrTag, got %v", err)
	}
}

func TestUint16RoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 9000, 65535} {
		buf := WriteUint16(nil, v)
		if len(buf) != 2 {
			t.Fatalf("expected 2 bytes, got %d", len(buf))
		}
		got, err := ReadUint16(bytes.NewReader(buf))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != v {
			t.Fatalf("round-trip mismatch: got %d, want %d", got, v)
		}
	}
}

func TestUint32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 40000, 4294967295} {
		buf := WriteUint32(nil, v)
		if len(buf) != 4 {
			t.Fatalf("expected 4 bytes, got %d", len(buf))
		}
		got, err := ReadUint32(bytes.NewReader(buf))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != v {
			t.Fatalf("round-trip mismatch: got %d, want %d", got, v)
		}
	}
}

func TestWriteUint16MatchesScenarioBytes(t *testing.T) {
	// Scenario 1 from the spec: port 9000 encodes as 0x23 0x28.
	buf := WriteUint16(nil, 9000)
	want := []byte{0x23, 0x28}
	if !bytes.Equal(buf, want) {
		t.Fatalf("got %x, want %x", buf, want)
	}
}
