package mediachan

import (
	"github.com/cri-works/gousm/pkg/chunk"
)

// CipherMode selects how a channel's Chunks iterator treats packet
// bytes as it emits them.
type CipherMode int

// Cipher modes a channel's chunk source can run in.
const (
	CipherNone CipherMode = iota
	CipherEncrypt
	CipherDecrypt
)

// ChunkBatch is one pull from a channel's chunk source: normally a
// single STREAM chunk, plus a trailing SECTION_END chunk on the final
// packet.
type ChunkBatch struct {
	Chunks   []*chunk.Chunk
	Keyframe bool
}

// ChunkSource is a single-shot, pull-based sequence of chunk batches.
// Next returns io.EOF once the underlying packet source is exhausted.
type ChunkSource interface {
	Next() (ChunkBatch, error)
}

func paddingTo(size, align int) int {
	rem := size % align
	if rem == 0 {
		return 0
	}
	return align - rem
}

// sectionBanner pads label with spaces to column 16, then appends the
// fifteen-equals-sign rule and NUL terminator every SECTION_END banner
// carries.
func sectionBanner(label string) []byte {
	const col = 16
	b := make([]byte, 0, 32)
	b = append(b, label...)
	for len(b) < col {
		b = append(b, ' ')
	}
	b = append(b, "==============="...)
	b = append(b, 0)
	return b
}

var (
	bannerHeaderEnd   = sectionBanner("#HEADER END")
	bannerMetadataEnd = sectionBanner("#METADATA END")
	bannerContentsEnd = sectionBanner("#CONTENTS END")
)

// HeaderEndChunk builds the SECTION_END chunk that closes a channel's
// header section.
func HeaderEndChunk(kind chunk.Kind, channelNumber uint8) *chunk.Chunk {
	return &chunk.Chunk{
		Kind:          kind,
		PayloadKind:   chunk.PayloadSectionEnd,
		ChannelNumber: channelNumber,
		Payload:       bannerHeaderEnd,
	}
}

// MetadataEndChunk builds the SECTION_END chunk that closes a
// channel's metadata section.
func MetadataEndChunk(kind chunk.Kind, channelNumber uint8) *chunk.Chunk {
	return &chunk.Chunk{
		Kind:          kind,
		PayloadKind:   chunk.PayloadSectionEnd,
		ChannelNumber: channelNumber,
		Payload:       bannerMetadataEnd,
	}
}

func contentsEndChunk(kind chunk.Kind, channelNumber uint8) *chunk.Chunk {
	return &chunk.Chunk{
		Kind:          kind,
		PayloadKind:   chunk.PayloadSectionEnd,
		ChannelNumber: channelNumber,
		Payload:       bannerContentsEnd,
	}
}

// metadataPadding implements the metadata chunk padding rule:
// pad to 0xF0 if the table fits, otherwise round up to the next 0x08.
func metadataPadding(size int) int {
	if size <= 0xF0 {
		return 0xF0 - size
	}
	return paddingTo(size, 8)
}
