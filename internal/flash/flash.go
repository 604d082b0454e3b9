// Package flash walks the read-only resource archive ("PAK" format) that
// ships user programs and other payloads in flash. The wire format is
// bit-exact with original_source's flash_resource_entry_header: 32-byte
// little-endian headers, 32-byte aligned entries, walked by total length
// until the span ends or an entry fails to validate.
package flash

import (
	"encoding/binary"
	"fmt"

	"github.com/nhdewitt/pico32/internal/kernerr"
)

const (
	Magic      uint32 = 0x05091979
	HeaderSize        = 32
	Alignment  uint32 = 32
)

// Header is the fixed 32-byte entry header, decoded from its on-flash
// little-endian representation.
type Header struct {
	Magic         uint32
	Checksum      uint32
	Type          uint32
	Length        uint32 // total length incl. header+name+payload+padding
	AlignmentVal  uint32
	NameLength    uint32
	PayloadLength uint32
	Reserved      uint32
}

// Entry is one parsed archive entry: its header plus the byte ranges
// (as offsets into the Span's backing image) for its name and payload.
type Entry struct {
	Header       Header
	Name         string
	PayloadStart int
	PayloadLen   int
}

// CRCFunc computes a checksum over a payload. When non-nil, SpanInit
// checks it against each entry's nonzero Header.Checksum: a mismatch in
// the first entry makes SpanInit return an error, and a mismatch in a
// later entry ends the walk there. Verification is opt-in (spec leaves
// it "defined but optional") so the zero value of Span performs none.
type CRCFunc func(payload []byte) uint32

// Span is a parsed view over one contiguous flash image.
type Span struct {
	image   []byte
	entries []Entry
	CRC     CRCFunc
}

// SpanInit validates that image begins with a well-formed entry header
// and walks entries by Length until the image is exhausted or an entry
// fails to parse. It does not verify checksums unless s.CRC is set
// before calling SpanInit.
func (s *Span) SpanInit(image []byte) error {
	s.image = image
	s.entries = nil

	off := 0
	for off < len(image) {
		e, err := s.parseEntry(off)
		if err != nil {
			if off == 0 {
				return err
			}
			break
		}
		s.entries = append(s.entries, e)
		off += int(e.Header.Length)
	}
	if len(s.entries) == 0 {
		return kernerr.ErrInvalidArgs
	}
	return nil
}

func (s *Span) parseEntry(off int) (Entry, error) {
	if off+HeaderSize > len(s.image) {
		return Entry{}, fmt.Errorf("flash: truncated header at offset %d: %w", off, kernerr.ErrInvalidArgs)
	}
	raw := s.image[off : off+HeaderSize]
	h := Header{
		Magic:         binary.LittleEndian.Uint32(raw[0:4]),
		Checksum:      binary.LittleEndian.Uint32(raw[4:8]),
		Type:          binary.LittleEndian.Uint32(raw[8:12]),
		Length:        binary.LittleEndian.Uint32(raw[12:16]),
		AlignmentVal:  binary.LittleEndian.Uint32(raw[16:20]),
		NameLength:    binary.LittleEndian.Uint32(raw[20:24]),
		PayloadLength: binary.LittleEndian.Uint32(raw[24:28]),
		Reserved:      binary.LittleEndian.Uint32(raw[28:32]),
	}
	if h.Magic != Magic {
		return Entry{}, fmt.Errorf("flash: bad magic 0x%x at offset %d: %w", h.Magic, off, kernerr.ErrInvalidArgs)
	}

	nameStart := off + HeaderSize
	nameEnd := nameStart + int(h.NameLength)
	if nameEnd > len(s.image) {
		return Entry{}, fmt.Errorf("flash: name overruns image at offset %d: %w", off, kernerr.ErrInvalidArgs)
	}
	name := string(s.image[nameStart:nameEnd])

	payloadStart := alignUp32(nameEnd, Alignment)
	payloadEnd := payloadStart + int(h.PayloadLength)
	if payloadEnd > len(s.image) {
		return Entry{}, fmt.Errorf("flash: payload overruns image at offset %d: %w", off, kernerr.ErrInvalidArgs)
	}

	if s.CRC != nil && h.Checksum != 0 {
		if got := s.CRC(s.image[payloadStart:payloadEnd]); got != h.Checksum {
			return Entry{}, fmt.Errorf("flash: entry %q checksum mismatch (got 0x%x, want 0x%x): %w", name, got, h.Checksum, kernerr.ErrInvalidArgs)
		}
	}

	return Entry{
		Header:       h,
		Name:         name,
		PayloadStart: payloadStart,
		PayloadLen:   int(h.PayloadLength),
	}, nil
}

// Lookup returns the first entry whose name matches exactly.
func (s *Span) Lookup(name string) (Entry, bool) {
	for _, e := range s.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Payload returns the payload bytes for e, a view into the Span's
// backing image (not a copy).
func (s *Span) Payload(e Entry) []byte {
	return s.image[e.PayloadStart : e.PayloadStart+e.PayloadLen]
}

func alignUp32(v int, align uint32) int {
	a := int(align)
	return (v + a - 1) &^ (a - 1)
}
