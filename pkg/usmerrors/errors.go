// Package usmerrors contains the typed error taxonomy returned by the
// rest of this module. Each error is a plain struct implementing the
// error interface, so callers that care about a specific failure can
// use errors.As instead of matching on a string.
package usmerrors

import "fmt"

// ErrInvalidMagic is returned when a byte source doesn't begin with the
// USM file signature "CRID".
type ErrInvalidMagic struct {
	Got []byte
}

// Error implements the error interface.
func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid USM magic: %x", e.Got)
}

// ErrCorruptChunk is returned when a chunk header describes a length or
// padding that cannot correspond to a well-formed chunk.
type ErrCorruptChunk struct {
	Offset int64
	Reason string
}

// Error implements the error interface.
func (e ErrCorruptChunk) Error() string {
	return fmt.Sprintf("corrupt chunk at offset %#x: %s", e.Offset, e.Reason)
}

// ErrUnknownChunkKind is returned when a chunk's four-byte ASCII tag
// doesn't match any known kind.
type ErrUnknownChunkKind struct {
	Tag []byte
}

// Error implements the error interface.
func (e ErrUnknownChunkKind) Error() string {
	return fmt.Sprintf("unknown chunk kind: %q", e.Tag)
}

// ErrInvalidPageTable is returned by the @UTF page codec on a malformed
// header, an unknown type tag, or a schema/array length mismatch.
type ErrInvalidPageTable struct {
	Reason string
}

// Error implements the error interface.
func (e ErrInvalidPageTable) Error() string {
	return fmt.Sprintf("invalid page table: %s", e.Reason)
}

// ErrMissingDirectoryEntry is returned by the demuxer when the file has
// no top-level CRIUSF_DIR_STREAM page (stmid 0, chno -1), or when a
// VIDEO or AUDIO channel has no matching CRIUSF_DIR_STREAM page.
type ErrMissingDirectoryEntry struct {
	StreamID      uint32
	ChannelNumber int
}

// Error implements the error interface.
func (e ErrMissingDirectoryEntry) Error() string {
	return fmt.Sprintf("missing directory entry for stmid %#x channel %d", e.StreamID, e.ChannelNumber)
}

// ErrMissingFormatVersion is returned by the demuxer when the top-level
// directory page (chno -1, stmid 0) has no fmtver element.
type ErrMissingFormatVersion struct{}

// Error implements the error interface.
func (e ErrMissingFormatVersion) Error() string {
	return "missing top-level format version"
}

// ErrInvalidKey is returned by the cipher when given a key of the wrong
// length for the operation requested.
type ErrInvalidKey struct {
	Want int
	Got  int
}

// Error implements the error interface.
func (e ErrInvalidKey) Error() string {
	return fmt.Sprintf("invalid key length: want %d bytes, got %d", e.Want, e.Got)
}

// ErrUnsupportedCodec is returned when a probe or header page names a
// codec this module has no knowledge of.
type ErrUnsupportedCodec struct {
	Codec string
}

// Error implements the error interface.
func (e ErrUnsupportedCodec) Error() string {
	return fmt.Sprintf("unsupported codec: %s", e.Codec)
}

// ErrIO wraps an underlying I/O failure with the operation that caused
// it, so callers don't need to string-match os/io error text.
type ErrIO struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e ErrIO) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped error.
func (e ErrIO) Unwrap() error {
	return e.Err
}
