// Package chunk implements the codec for the 0x20-byte-header chunk
// that is the basic unit of a USM container.
package chunk

import (
	"encoding/binary"

	"github.com/cri-works/gousm/pkg/usmerrors"
	"github.com/cri-works/gousm/pkg/utf"
)

// Kind is a chunk's four-byte ASCII tag.
type Kind string

// Chunk kind tags fixed by the wire format.
const (
	KindInfo     Kind = "CRID"
	KindVideo    Kind = "@SFV"
	KindAudio    Kind = "@SFA"
	KindAlpha    Kind = "@ALP"
	KindSubtitle Kind = "@SBT"
	KindCue      Kind = "@CUE"
	KindSFSH     Kind = "SFSH"
	KindAHX      Kind = "@AHX"
	KindUSR      Kind = "@USR"
	KindPST      Kind = "@PST"
)

func (k Kind) valid() bool {
	switch k {
	case KindInfo, KindVideo, KindAudio, KindAlpha, KindSubtitle,
		KindCue, KindSFSH, KindAHX, KindUSR, KindPST:
		return true
	default:
		return false
	}
}

// PayloadKind is the low two bits of header byte 0x0F.
type PayloadKind uint8

// Payload kinds fixed by the wire format.
const (
	PayloadStream      PayloadKind = 0
	PayloadHeader      PayloadKind = 1
	PayloadSectionEnd  PayloadKind = 2
	PayloadMetadata    PayloadKind = 3
)

const (
	// HeaderSize is the fixed on-disk chunk header length.
	HeaderSize = 0x20
	// diskPayloadOffset is the distance from byte 0x08 to the start of
	// the payload that every chunk this module writes uses.
	diskPayloadOffset = 0x18
	// Alignment is the byte boundary every chunk's total length is
	// padded to.
	Alignment = 0x20
	// SectorSize is the CD-ROM sector boundary the top INFO chunk is
	// padded to, so the header section that follows it starts on a
	// sector boundary.
	SectorSize = 0x800
)

// Chunk is one decoded container chunk: a header plus its raw or
// page-table payload.
type Chunk struct {
	Kind          Kind
	PayloadKind   PayloadKind
	ChannelNumber uint8
	FrameTime     uint32
	FrameRate     uint32
	Payload       []byte
	Padding       int
}

// IsPageTable reports whether Payload begins with the "@UTF" magic,
// the on-decode test that distinguishes HEADER/METADATA payloads from
// raw STREAM/SECTION_END bytes.
func (c *Chunk) IsPageTable() bool {
	return len(c.Payload) >= 4 && string(c.Payload[:4]) == "@UTF"
}

// DecodePages decodes Payload as a page table in the given string
// encoding.
func (c *Chunk) DecodePages(enc utf.Encoding) ([]*utf.Page, error) {
	return utf.DecodeTable(c.Payload, enc)
}

// MarshalSize returns the total on-disk length of the chunk.
func (c *Chunk) MarshalSize() int {
	return HeaderSize + len(c.Payload) + c.Padding
}

// Marshal encodes the chunk to a newly allocated byte slice.
func (c *Chunk) Marshal() ([]byte, error) {
	buf := make([]byte, c.MarshalSize())
	if _, err := c.MarshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalTo encodes the chunk into buf, which must be at least
// MarshalSize() bytes, and returns the number of bytes written.
func (c *Chunk) MarshalTo(buf []byte) (int, error) {
	if !c.Kind.valid() {
		return 0, usmerrors.ErrUnknownChunkKind{Tag: []byte(c.Kind)}
	}

	n := c.MarshalSize()
	if len(buf) < n {
		return 0, usmerrors.ErrCorruptChunk{Reason: "destination buffer too small"}
	}

	lengthAfter8 := diskPayloadOffset + len(c.Payload) + c.Padding

	copy(buf[0:4], c.Kind)
	binary.BigEndian.PutUint32(buf[4:8], uint32(lengthAfter8))
	buf[8] = 0
	buf[9] = diskPayloadOffset
	binary.BigEndian.PutUint16(buf[10:12], uint16(c.Padding))
	buf[12] = c.ChannelNumber
	buf[13] = 0
	buf[14] = 0
	buf[15] = byte(c.PayloadKind) & 0x3
	binary.BigEndian.PutUint32(buf[16:20], c.FrameTime)
	binary.BigEndian.PutUint32(buf[20:24], c.FrameRate)
	for i := 24; i < HeaderSize; i++ {
		buf[i] = 0
	}
	copy(buf[HeaderSize:], c.Payload)
	for i := HeaderSize + len(c.Payload); i < n; i++ {
		buf[i] = 0
	}
	return n, nil
}

// Unmarshal decodes a chunk from buf, which must start at the chunk's
// four-byte kind tag. offset is the chunk's absolute position in its
// source, used only to annotate errors. It returns the number of bytes
// consumed (the chunk's total on-disk length).
func (c *Chunk) Unmarshal(buf []byte, offset int64) (int, error) {
	if len(buf) < HeaderSize {
		return 0, usmerrors.ErrCorruptChunk{Offset: offset, Reason: "short chunk header"}
	}

	kind := Kind(buf[0:4])
	if !kind.valid() {
		return 0, usmerrors.ErrUnknownChunkKind{Tag: append([]byte(nil), buf[0:4]...)}
	}

	lengthAfter8 := binary.BigEndian.Uint32(buf[4:8])
	payloadOffset := buf[9]
	padding := binary.BigEndian.Uint16(buf[10:12])
	channelNumber := buf[12]
	payloadKind := PayloadKind(buf[15] & 0x3)
	frameTime := binary.BigEndian.Uint32(buf[16:20])
	frameRate := binary.BigEndian.Uint32(buf[20:24])

	payloadSize := int64(lengthAfter8) - int64(padding) - int64(payloadOffset)
	if payloadSize < 0 {
		return 0, usmerrors.ErrCorruptChunk{Offset: offset, Reason: "padding and payload offset exceed chunk length"}
	}

	payloadBegin := 8 + int64(payloadOffset)
	total := 8 + int64(lengthAfter8)
	if int64(len(buf)) < payloadBegin+payloadSize {
		return 0, usmerrors.ErrCorruptChunk{Offset: offset, Reason: "truncated payload"}
	}

	payload := make([]byte, payloadSize)
	copy(payload, buf[payloadBegin:payloadBegin+payloadSize])

	c.Kind = kind
	c.PayloadKind = payloadKind
	c.ChannelNumber = channelNumber
	c.FrameTime = frameTime
	c.FrameRate = frameRate
	c.Payload = payload
	c.Padding = int(padding)
	return int(total), nil
}
