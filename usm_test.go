package usm

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cri-works/gousm/pkg/chunk"
	"github.com/cri-works/gousm/pkg/mediachan"
	"github.com/cri-works/gousm/pkg/usmcipher"
	"github.com/cri-works/gousm/pkg/usmerrors"
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

func fixtureVideoPackets() ([][]byte, []bool) {
	packets := make([][]byte, 3)
	for i := range packets {
		p := make([]byte, 0x300)
		for j := range p {
			p[j] = byte(i*31 + j)
		}
		packets[i] = p
	}
	return packets, []bool{true, false, false}
}

func fixtureAudioPackets() [][]byte {
	packets := make([][]byte, 2)
	for i := range packets {
		p := make([]byte, 0x180)
		for j := range p {
			p[j] = byte(i*17 + j*3)
		}
		packets[i] = p
	}
	return packets
}

func copyPackets(src [][]byte) [][]byte {
	out := make([][]byte, len(src))
	for i, p := range src {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

func fixtureMuxer(videoPackets [][]byte, keyframes []bool, audioPackets [][]byte, seed *uint64) *Muxer {
	vheader := utf.NewPage("VIDEO_HDRINFO")
	vheader.Set("framerate_n", utf.NewI32(30000))
	vheader.Set("framerate_d", utf.NewI32(1000))
	vheader.Set("total_frames", utf.NewI32(int32(len(videoPackets))))

	aheader := utf.NewPage("AUDIO_HDRINFO")
	aheader.Set("audio_codec", utf.NewI8(mediachan.AudioCodecHCA))
	aheader.Set("sampling_rate", utf.NewI32(48000))
	aheader.Set("num_channels", utf.NewI32(2))

	return &Muxer{
		Directory: mediachan.NewDirectoryPage(DefaultFormatVersion, "fixture.usm", 0, 0,
			mediachan.StreamIDTopLevel, -1, 1, 0, 0),
		Videos: []*mediachan.VideoChannel{{
			ChannelNumber: 0,
			Directory: mediachan.NewDirectoryPage(0, "movies/fixture.ivf", 0, 0,
				mediachan.StreamIDVideo, 0, 1, 0, 1500000),
			Header: vheader,
			Source: &sliceVideoSource{packets: videoPackets, keyframes: keyframes},
		}},
		Audios: []*mediachan.AudioChannel{{
			ChannelNumber: 0,
			Directory: mediachan.NewDirectoryPage(0, "movies/fixture.hca", 0, 0,
				mediachan.StreamIDAudio, 0, 1, 0, 96000),
			Header: aheader,
			Source: &sliceAudioSource{packets: audioPackets},
		}},
		Seed:     seed,
		Encoding: utf.EncodingUTF8,
	}
}

func demuxBytes(t *testing.T, b []byte) *USM {
	t.Helper()
	u, err := NewDemuxer(NewBytesRandomAccessReader(b), utf.EncodingUTF8).Demux()
	require.NoError(t, err)
	return u
}

func TestMuxDemuxStructuralRoundTrip(t *testing.T) {
	videoPackets, keyframes := fixtureVideoPackets()
	audioPackets := fixtureAudioPackets()

	m := fixtureMuxer(copyPackets(videoPackets), keyframes, copyPackets(audioPackets), nil)
	var buf bytes.Buffer
	require.NoError(t, m.Stream(context.Background(), &buf, nil))

	out := buf.Bytes()
	require.Equal(t, "CRID", string(out[:4]))
	require.Equal(t, 0, len(out)%chunk.Alignment)

	// the top CRID chunk is padded out to a full CD sector
	var top chunk.Chunk
	n, err := top.Unmarshal(out, 0)
	require.NoError(t, err)
	require.Equal(t, chunk.SectorSize, n)
	require.Equal(t, chunk.KindInfo, top.Kind)

	u := demuxBytes(t, out)
	require.Equal(t, DefaultFormatVersion, u.FormatVersion)
	require.Len(t, u.Videos, 1)
	require.Len(t, u.Audios, 1)

	filesize, _ := u.Directory.MustGet("filesize").Int()
	require.Equal(t, int64(len(out)), filesize)
	datasize, _ := u.Directory.MustGet("datasize").Int()
	require.Zero(t, datasize)

	video := u.Videos[0]
	require.Equal(t, len(videoPackets), video.Source.Len())
	for i, want := range videoPackets {
		got, keyframe, err := video.Source.Next()
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, keyframes[i], keyframe)
	}
	_, _, err = video.Source.Next()
	require.ErrorIs(t, err, io.EOF)

	audio := u.Audios[0]
	require.Equal(t, len(audioPackets), audio.Source.Len())
	for _, want := range audioPackets {
		got, err := audio.Source.Next()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	// a single keyframe at frame 0, whose ofs_byte points at the start
	// of a video chunk in the finished file
	require.Len(t, video.Seek, 1)
	ofsByte, _ := video.Seek[0].MustGet("ofs_byte").Int()
	ofsFrame, _ := video.Seek[0].MustGet("ofs_frmid").Int()
	require.Zero(t, ofsFrame)
	require.Equal(t, string(chunk.KindVideo), string(out[ofsByte:ofsByte+4]))

	var keyframeChunk chunk.Chunk
	_, err = keyframeChunk.Unmarshal(out[ofsByte:], ofsByte)
	require.NoError(t, err)
	require.Equal(t, chunk.PayloadStream, keyframeChunk.PayloadKind)
	require.Zero(t, keyframeChunk.FrameTime)
}

func TestMuxEncryptDemuxDecryptRoundTrip(t *testing.T) {
	videoPackets, keyframes := fixtureVideoPackets()
	audioPackets := fixtureAudioPackets()
	seed := uint64(0xDEADBEEF)

	m := fixtureMuxer(copyPackets(videoPackets), keyframes, copyPackets(audioPackets), &seed)
	var buf bytes.Buffer
	require.NoError(t, m.Stream(context.Background(), &buf, nil))

	u := demuxBytes(t, buf.Bytes())
	videoKey, audioKey := usmcipher.DeriveKeys(seed)

	for _, want := range videoPackets {
		got, _, err := u.Videos[0].Source.Next()
		require.NoError(t, err)
		require.NotEqual(t, want, got)
		got, err = usmcipher.CryptVideoPacket(got, videoKey, false)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	for _, want := range audioPackets {
		got, err := u.Audios[0].Source.Next()
		require.NoError(t, err)
		require.NotEqual(t, want, got)
		got, err = usmcipher.CryptAudioPacket(got, audioKey)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestMuxZeroPacketChannel(t *testing.T) {
	m := fixtureMuxer(nil, nil, nil, nil)
	var buf bytes.Buffer
	require.NoError(t, m.Stream(context.Background(), &buf, nil))

	u := demuxBytes(t, buf.Bytes())
	require.Len(t, u.Videos, 1)
	require.Zero(t, u.Videos[0].Source.Len())
	require.NotNil(t, u.Videos[0].Header)
	require.Empty(t, u.Videos[0].Seek)
}

func TestDemuxRejectsInvalidMagic(t *testing.T) {
	b := make([]byte, chunk.SectorSize)
	copy(b, "RIFF")
	_, err := NewDemuxer(NewBytesRandomAccessReader(b), utf.EncodingUTF8).Demux()

	var magicErr usmerrors.ErrInvalidMagic
	require.ErrorAs(t, err, &magicErr)
}

func TestDemuxRejectsMissingDirectoryEntry(t *testing.T) {
	// a CRID chunk whose table describes only the top-level entry,
	// followed by a video header chunk with no matching directory page
	top := mediachan.NewDirectoryPage(DefaultFormatVersion, "x.usm", 0, 0,
		mediachan.StreamIDTopLevel, -1, 1, 0, 0)
	payload, err := utf.EncodeTable([]*utf.Page{top}, utf.EncodingUTF8, 5)
	require.NoError(t, err)

	crid := &chunk.Chunk{Kind: chunk.KindInfo, PayloadKind: chunk.PayloadHeader, Payload: payload}
	header := utf.NewPage("VIDEO_HDRINFO")
	header.Set("framerate_n", utf.NewI32(30))
	hp, err := utf.EncodeTable([]*utf.Page{header}, utf.EncodingUTF8, 0)
	require.NoError(t, err)
	vh := &chunk.Chunk{Kind: chunk.KindVideo, PayloadKind: chunk.PayloadHeader, Payload: hp}

	var buf bytes.Buffer
	for _, c := range []*chunk.Chunk{crid, vh} {
		b, err := c.Marshal()
		require.NoError(t, err)
		buf.Write(b)
	}

	_, err = NewDemuxer(NewBytesRandomAccessReader(buf.Bytes()), utf.EncodingUTF8).Demux()
	var dirErr usmerrors.ErrMissingDirectoryEntry
	require.ErrorAs(t, err, &dirErr)
	require.Equal(t, mediachan.StreamIDVideo, dirErr.StreamID)
}

func TestUSMFilename(t *testing.T) {
	videoPackets, keyframes := fixtureVideoPackets()
	m := fixtureMuxer(copyPackets(videoPackets), keyframes, nil, nil)
	var buf bytes.Buffer
	require.NoError(t, m.Stream(context.Background(), &buf, nil))

	u := demuxBytes(t, buf.Bytes())
	name, ok := u.Filename()
	require.True(t, ok)
	require.Equal(t, "fixture.usm", name)
}

func TestUSMFilenameStripsPathOnly(t *testing.T) {
	top := utf.NewPage("CRIUSF_DIR_STREAM")
	top.Set("filename", utf.NewString("movies/Opening Movie.usm"))
	u := &USM{Directory: top}

	name, ok := u.Filename()
	require.True(t, ok)
	require.Equal(t, "Opening Movie.usm", name)
}

func TestUSMFilenameVideoFallback(t *testing.T) {
	dir := utf.NewPage("CRIUSF_DIR_STREAM")
	dir.Set("filename", utf.NewString("movies/Opening Movie.ivf"))
	u := &USM{Videos: []*mediachan.VideoChannel{{Directory: dir}}}

	name, ok := u.Filename()
	require.True(t, ok)
	require.Equal(t, "Opening Movie.usm", name)

	_, ok = (&USM{}).Filename()
	require.False(t, ok)
}

func TestWriteChannelsExtractsStreams(t *testing.T) {
	videoPackets, keyframes := fixtureVideoPackets()
	audioPackets := fixtureAudioPackets()

	m := fixtureMuxer(copyPackets(videoPackets), keyframes, copyPackets(audioPackets), nil)
	var buf bytes.Buffer
	require.NoError(t, m.Stream(context.Background(), &buf, nil))

	u := demuxBytes(t, buf.Bytes())
	dir := t.TempDir()
	videoPaths, audioPaths, err := u.WriteChannels(context.Background(), dir, WriteOptions{})
	require.NoError(t, err)
	require.Len(t, videoPaths, 1)
	require.Len(t, audioPaths, 1)
	require.Equal(t, filepath.Join(dir, "videos", "fixture.ivf"), videoPaths[0])

	got, err := os.ReadFile(videoPaths[0])
	require.NoError(t, err)
	require.Equal(t, bytes.Join(videoPackets, nil), got)

	got, err = os.ReadFile(audioPaths[0])
	require.NoError(t, err)
	require.Equal(t, bytes.Join(audioPackets, nil), got)
}

func TestOpenMissingFile(t *testing.T) {
	_, _, err := Open(filepath.Join(t.TempDir(), "nope.usm"), utf.EncodingUTF8)
	var ioErr usmerrors.ErrIO
	require.ErrorAs(t, err, &ioErr)
}
