package mediachan

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cri-works/gousm/pkg/chunk"
	"github.com/cri-works/gousm/pkg/usmcipher"
	"github.com/cri-works/gousm/pkg/utf"
)

type sliceVideoSource struct {
	packets   [][]byte
	keyframes []bool
	index     int
}

func (s *sliceVideoSource) Len() int { return len(s.packets) }

func (s *sliceVideoSource) Next() ([]byte, bool, error) {
	if s.index >= len(s.packets) {
		return nil, false, io.EOF
	}
	p, k := s.packets[s.index], s.keyframes[s.index]
	s.index++
	return p, k, nil
}

type sliceAudioSource struct {
	packets [][]byte
	index   int
}

func (s *sliceAudioSource) Len() int { return len(s.packets) }

func (s *sliceAudioSource) Next() ([]byte, error) {
	if s.index >= len(s.packets) {
		return nil, io.EOF
	}
	p := s.packets[s.index]
	s.index++
	return p, nil
}

func newTestVideoChannel(packets [][]byte, keyframes []bool) *VideoChannel {
	header := utf.NewPage("VIDEO_HDRINFO")
	header.Set("framerate_n", utf.NewI32(30000))
	header.Set("framerate_d", utf.NewI32(1000))
	return &VideoChannel{
		ChannelNumber: 0,
		Header:        header,
		Source:        &sliceVideoSource{packets: packets, keyframes: keyframes},
	}
}

func TestVideoChannelChunksEmitsSectionEndOnLastPacket(t *testing.T) {
	ch := newTestVideoChannel([][]byte{{1, 2, 3}, {4, 5}}, []bool{true, false})
	src := ch.Chunks(CipherNone, nil)

	batch1, err := src.Next()
	require.NoError(t, err)
	require.Len(t, batch1.Chunks, 1)
	require.True(t, batch1.Keyframe)

	batch2, err := src.Next()
	require.NoError(t, err)
	require.Len(t, batch2.Chunks, 2)
	require.False(t, batch2.Keyframe)
	require.Equal(t, chunk.PayloadSectionEnd, batch2.Chunks[1].PayloadKind)

	_, err = src.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestVideoChannelFramerateFallback(t *testing.T) {
	ch := &VideoChannel{Header: utf.NewPage("VIDEO_HDRINFO")}
	require.Equal(t, float64(30), ch.Framerate())
}

func TestVideoChannelChunksAppliesCipher(t *testing.T) {
	videoKey, _ := usmcipher.DeriveKeys(42)
	payload := make([]byte, 0x400)
	for i := range payload {
		payload[i] = byte(i)
	}
	original := append([]byte(nil), payload...)

	ch := newTestVideoChannel([][]byte{payload}, []bool{true})
	src := ch.Chunks(CipherEncrypt, videoKey)

	batch, err := src.Next()
	require.NoError(t, err)
	require.NotEqual(t, original, batch.Chunks[0].Payload)
}

func TestAudioChannelChunksEmitsSectionEndOnLastPacket(t *testing.T) {
	ch := &AudioChannel{
		ChannelNumber: 1,
		Header:        utf.NewPage("AUDIO_HDRINFO"),
		Source:        &sliceAudioSource{packets: [][]byte{{9}, {9, 9}}},
	}
	src := ch.Chunks(CipherNone, nil)

	batch1, err := src.Next()
	require.NoError(t, err)
	require.Len(t, batch1.Chunks, 1)
	require.Equal(t, uint32(3000), batch1.Chunks[0].FrameRate)

	batch2, err := src.Next()
	require.NoError(t, err)
	require.Len(t, batch2.Chunks, 2)

	_, err = src.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestHeaderAndMetadataChunkPadding(t *testing.T) {
	ch := newTestVideoChannel(nil, nil)
	hc, err := ch.HeaderChunk(utf.EncodingUTF8)
	require.NoError(t, err)
	require.Equal(t, 0x18, hc.Padding)

	ch.Seek = []*utf.Page{NewSeekInfoPage(0x800, 0)}
	mc, err := ch.MetadataChunk(utf.EncodingUTF8)
	require.NoError(t, err)
	require.NotNil(t, mc)
	require.Equal(t, 0xF0, len(mc.Payload)+mc.Padding)
}

func TestAudioChannelMetadataChunkOmittedWhenAbsent(t *testing.T) {
	ch := &AudioChannel{Header: utf.NewPage("AUDIO_HDRINFO"), Source: &sliceAudioSource{}}
	mc, err := ch.MetadataChunk(utf.EncodingUTF8)
	require.NoError(t, err)
	require.Nil(t, mc)
}
