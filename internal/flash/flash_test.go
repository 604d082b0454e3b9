package flash

import (
	"encoding/binary"
	"hash/crc32"
	"testing"
)

// buildEntry encodes one archive entry: header + name (no padding needed
// if already aligned) + payload, each section padded to Alignment.
func buildEntry(t *testing.T, name string, payload []byte, checksum uint32) []byte {
	t.Helper()
	nameEnd := HeaderSize + len(name)
	payloadStart := int(alignUp32(nameEnd, Alignment))
	payloadEnd := payloadStart + len(payload)
	total := int(alignUp32(payloadEnd, Alignment))

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], checksum)
	binary.LittleEndian.PutUint32(buf[8:12], 0) // type
	binary.LittleEndian.PutUint32(buf[12:16], uint32(total))
	binary.LittleEndian.PutUint32(buf[16:20], Alignment)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(name)))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[28:32], 0)
	copy(buf[HeaderSize:nameEnd], name)
	copy(buf[payloadStart:payloadEnd], payload)
	return buf
}

func TestSpanInitAndLookup(t *testing.T) {
	e1 := buildEntry(t, "app", []byte("binary-payload-bytes"), 0)
	e2 := buildEntry(t, "config", []byte("key=value"), 0)
	image := append(append([]byte{}, e1...), e2...)

	var s Span
	if err := s.SpanInit(image); err != nil {
		t.Fatalf("SpanInit: %v", err)
	}

	entry, ok := s.Lookup("app")
	if !ok {
		t.Fatal("expected to find entry \"app\"")
	}
	if string(s.Payload(entry)) != "binary-payload-bytes" {
		t.Errorf("payload = %q", s.Payload(entry))
	}

	if _, ok := s.Lookup("missing"); ok {
		t.Error("Lookup of an absent name should fail")
	}
}

func TestSpanInitRejectsBadMagic(t *testing.T) {
	image := make([]byte, 64)
	var s Span
	if err := s.SpanInit(image); err == nil {
		t.Error("expected error for zeroed (bad-magic) image")
	}
}

func TestSpanCRCVerification(t *testing.T) {
	payload := []byte("checked-payload")
	sum := crc32.ChecksumIEEE(payload)
	image := buildEntry(t, "x", payload, sum)

	var s Span
	s.CRC = crc32.ChecksumIEEE
	if err := s.SpanInit(image); err != nil {
		t.Fatalf("SpanInit with matching CRC: %v", err)
	}

	var bad Span
	bad.CRC = crc32.ChecksumIEEE
	corrupted := buildEntry(t, "x", payload, sum+1)
	if err := bad.SpanInit(corrupted); err == nil {
		t.Error("expected CRC mismatch error")
	}
}

func TestSpanWithoutCRCIgnoresChecksum(t *testing.T) {
	image := buildEntry(t, "x", []byte("data"), 0xdeadbeef)
	var s Span
	if err := s.SpanInit(image); err != nil {
		t.Fatalf("SpanInit should not verify checksum when CRC is nil: %v", err)
	}
}
