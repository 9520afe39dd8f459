package mediachan

import (
	"io"
	"math"

	"github.com/cri-works/gousm/pkg/chunk"
	"github.com/cri-works/gousm/pkg/usmcipher"
	"github.com/cri-works/gousm/pkg/utf"
)

// VideoPacketSource yields raw, lazily-produced video packets in frame
// order. It is single-shot: once Next returns io.EOF it must not be
// reused.
type VideoPacketSource interface {
	Len() int
	Next() (payload []byte, keyframe bool, err error)
}

// VideoChannel is one video elementary stream inside a USM: its
// directory entry, header page, optional seek pages, and packet
// source.
type VideoChannel struct {
	ChannelNumber uint8
	Directory     *utf.Page
	Header        *utf.Page
	Seek          []*utf.Page // VIDEO_SEEKINFO, one per keyframe
	Source        VideoPacketSource
}

// Len reports the channel's packet count.
func (v *VideoChannel) Len() int { return v.Source.Len() }

// Framerate reads framerate_n/framerate_d off the header page,
// falling back to 30 when either is missing or the denominator is
// zero.
func (v *VideoChannel) Framerate() float64 {
	const fallback = 30

	n, ok := v.Header.Get("framerate_n")
	if !ok {
		return fallback
	}
	d, ok := v.Header.Get("framerate_d")
	if !ok {
		return fallback
	}
	nv, _ := n.Int()
	dv, _ := d.Int()
	if dv == 0 {
		return fallback
	}
	return float64(nv) / float64(dv)
}

// HeaderChunk wraps the channel's header page as a HEADER chunk.
func (v *VideoChannel) HeaderChunk(enc utf.Encoding) (*chunk.Chunk, error) {
	payload, err := utf.EncodeTable([]*utf.Page{v.Header}, enc, 0)
	if err != nil {
		return nil, err
	}
	return &chunk.Chunk{
		Kind:          chunk.KindVideo,
		PayloadKind:   chunk.PayloadHeader,
		ChannelNumber: v.ChannelNumber,
		Payload:       payload,
		Padding:       0x18,
	}, nil
}

// MetadataChunk wraps the channel's seek pages as a METADATA chunk. It
// returns nil, nil when the channel has no seek pages.
func (v *VideoChannel) MetadataChunk(enc utf.Encoding) (*chunk.Chunk, error) {
	if len(v.Seek) == 0 {
		return nil, nil
	}
	payload, err := utf.EncodeTable(v.Seek, enc, 0)
	if err != nil {
		return nil, err
	}
	return &chunk.Chunk{
		Kind:          chunk.KindVideo,
		PayloadKind:   chunk.PayloadMetadata,
		ChannelNumber: v.ChannelNumber,
		Payload:       payload,
		Padding:       metadataPadding(len(payload)),
	}, nil
}

// Chunks returns a single-shot chunk source over the channel's stream
// packets, applying the video cipher in the given mode.
func (v *VideoChannel) Chunks(mode CipherMode, videoKey []byte) ChunkSource {
	return &videoChunkSource{
		channel:   v,
		mode:      mode,
		key:       videoKey,
		framerate: v.Framerate(),
	}
}

type videoChunkSource struct {
	channel   *VideoChannel
	mode      CipherMode
	key       []byte
	framerate float64
	index     int
	done      bool
}

func (s *videoChunkSource) Next() (ChunkBatch, error) {
	if s.done {
		return ChunkBatch{}, io.EOF
	}

	payload, keyframe, err := s.channel.Source.Next()
	if err != nil {
		return ChunkBatch{}, err
	}

	switch s.mode {
	case CipherEncrypt:
		payload, err = usmcipher.CryptVideoPacket(payload, s.key, true)
	case CipherDecrypt:
		payload, err = usmcipher.CryptVideoPacket(payload, s.key, false)
	}
	if err != nil {
		return ChunkBatch{}, err
	}

	c := &chunk.Chunk{
		Kind:          chunk.KindVideo,
		PayloadKind:   chunk.PayloadStream,
		ChannelNumber: s.channel.ChannelNumber,
		FrameTime:     uint32(s.index * 999 / 10),
		FrameRate:     uint32(math.Round(s.framerate * 100)),
		Payload:       payload,
		Padding:       paddingTo(len(payload), chunk.Alignment),
	}
	batch := ChunkBatch{Chunks: []*chunk.Chunk{c}, Keyframe: keyframe}

	s.index++
	if s.index >= s.channel.Source.Len() {
		batch.Chunks = append(batch.Chunks, contentsEndChunk(chunk.KindVideo, s.channel.ChannelNumber))
		s.done = true
	}
	return batch, nil
}
