package mediachan

import (
	"io"

	"github.com/cri-works/gousm/pkg/chunk"
	"github.com/cri-works/gousm/pkg/usmcipher"
	"github.com/cri-works/gousm/pkg/utf"
)

// AudioPacketSource yields raw, lazily-produced audio packets in frame
// order. Single-shot, like VideoPacketSource.
type AudioPacketSource interface {
	Len() int
	Next() (payload []byte, err error)
}

// AudioChannel is one audio elementary stream inside a USM.
type AudioChannel struct {
	ChannelNumber uint8
	Directory     *utf.Page
	Header        *utf.Page
	Metadata      []*utf.Page // optional; absent unless the source supplied explicit metadata
	Source        AudioPacketSource
}

// Len reports the channel's packet count.
func (a *AudioChannel) Len() int { return a.Source.Len() }

// HeaderChunk wraps the channel's header page as a HEADER chunk.
func (a *AudioChannel) HeaderChunk(enc utf.Encoding) (*chunk.Chunk, error) {
	payload, err := utf.EncodeTable([]*utf.Page{a.Header}, enc, 0)
	if err != nil {
		return nil, err
	}
	return &chunk.Chunk{
		Kind:          chunk.KindAudio,
		PayloadKind:   chunk.PayloadHeader,
		ChannelNumber: a.ChannelNumber,
		Payload:       payload,
		Padding:       0x08,
	}, nil
}

// MetadataChunk wraps the channel's metadata pages as a METADATA
// chunk. It returns nil, nil when the channel has no metadata pages
// (most audio channels carry no metadata and are skipped here).
func (a *AudioChannel) MetadataChunk(enc utf.Encoding) (*chunk.Chunk, error) {
	if len(a.Metadata) == 0 {
		return nil, nil
	}
	payload, err := utf.EncodeTable(a.Metadata, enc, 0)
	if err != nil {
		return nil, err
	}
	return &chunk.Chunk{
		Kind:          chunk.KindAudio,
		PayloadKind:   chunk.PayloadMetadata,
		ChannelNumber: a.ChannelNumber,
		Payload:       payload,
		Padding:       metadataPadding(len(payload)),
	}, nil
}

// Chunks returns a single-shot chunk source over the channel's stream
// packets, applying the audio cipher in the given mode.
func (a *AudioChannel) Chunks(mode CipherMode, audioKey []byte) ChunkSource {
	return &audioChunkSource{channel: a, mode: mode, key: audioKey}
}

type audioChunkSource struct {
	channel *AudioChannel
	mode    CipherMode
	key     []byte
	index   int
	done    bool
}

func (s *audioChunkSource) Next() (ChunkBatch, error) {
	if s.done {
		return ChunkBatch{}, io.EOF
	}

	payload, err := s.channel.Source.Next()
	if err != nil {
		return ChunkBatch{}, err
	}

	if s.mode != CipherNone {
		payload, err = usmcipher.CryptAudioPacket(payload, s.key)
		if err != nil {
			return ChunkBatch{}, err
		}
	}

	c := &chunk.Chunk{
		Kind:          chunk.KindAudio,
		PayloadKind:   chunk.PayloadStream,
		ChannelNumber: s.channel.ChannelNumber,
		FrameTime:     uint32(s.index * 999 / 10),
		FrameRate:     3000,
		Payload:       payload,
		Padding:       paddingTo(len(payload), chunk.Alignment),
	}
	batch := ChunkBatch{Chunks: []*chunk.Chunk{c}}

	s.index++
	if s.index >= s.channel.Source.Len() {
		batch.Chunks = append(batch.Chunks, contentsEndChunk(chunk.KindAudio, s.channel.ChannelNumber))
		s.done = true
	}
	return batch, nil
}
