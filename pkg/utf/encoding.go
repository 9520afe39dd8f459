package utf

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
)

// Encoding selects the character encoding used for the string pool of a
// page table. USM files produced by CRI's own tools default to
// Shift-JIS; this module defaults to UTF-8 unless a caller opts in,
// since most fan re-encodes and all synthesized fixtures are ASCII/UTF-8.
type Encoding int

const (
	// EncodingUTF8 treats the string pool as UTF-8, the wire
	// format's nominal encoding. This is the package default.
	EncodingUTF8 Encoding = iota
	// EncodingShiftJIS treats the string pool as Shift-JIS, the
	// encoding CRI's own tools default to.
	EncodingShiftJIS
)

func (e Encoding) codec() encoding.Encoding {
	if e == EncodingShiftJIS {
		return japanese.ShiftJIS
	}
	return nil
}

// decodeString converts raw string-pool bytes (already split on the
// terminating NUL) to a Go string in the page table's declared
// encoding.
func (e Encoding) decodeString(raw []byte) (string, error) {
	codec := e.codec()
	if codec == nil {
		return string(raw), nil
	}
	out, err := codec.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// encodeString converts a Go string to raw bytes in the page table's
// declared encoding, not including the terminating NUL.
func (e Encoding) encodeString(s string) ([]byte, error) {
	codec := e.codec()
	if codec == nil {
		return []byte(s), nil
	}
	return codec.NewEncoder().Bytes([]byte(s))
}
