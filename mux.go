package usm

import (
	"context"
	"io"
	"math"
	"os"

	"golang.org/x/time/rate"

	"github.com/cri-works/gousm/internal/asyncprocessor"
	"github.com/cri-works/gousm/pkg/chunk"
	"github.com/cri-works/gousm/pkg/mediachan"
	"github.com/cri-works/gousm/pkg/usmcipher"
	"github.com/cri-works/gousm/pkg/usmerrors"
	"github.com/cri-works/gousm/pkg/usmmetrics"
	"github.com/cri-works/gousm/pkg/utf"
)

// Muxer packs a set of channels into a well-formed USM byte stream.
// A Muxer is used once, for one call to Stream.
type Muxer struct {
	// Directory is the top-level CRIUSF_DIR_STREAM page template.
	// fmtver, filename, stmid (0), chno (-1), and minchk must already
	// be set; filesize, datasize, minbuf, and avbps are overwritten by
	// Stream from the computed layout.
	Directory *utf.Page
	Videos    []*mediachan.VideoChannel
	Audios    []*mediachan.AudioChannel
	// Seed, if set, ciphers every channel's packets during the stream
	// pass.
	Seed     *uint64
	Encoding utf.Encoding
	// OnWarning, if set, receives non-fatal conditions.
	OnWarning func(error)
	// Metrics, if set, receives Prometheus observations during Stream.
	// A nil Metrics (the zero value) is safe to leave unset.
	Metrics *usmmetrics.Metrics
}

func (m *Muxer) warn(err error) {
	if m.OnWarning != nil {
		m.OnWarning(err)
	}
}

func (m *Muxer) cipherParams() (mediachan.CipherMode, []byte, []byte) {
	if m.Seed == nil {
		return mediachan.CipherNone, nil, nil
	}
	videoKey, audioKey := usmcipher.DeriveKeys(*m.Seed)
	return mediachan.CipherEncrypt, videoKey, audioKey
}

type keyframeOffset struct {
	frameIndex    int
	scratchOffset int64
}

// Stream runs the full pack pipeline and writes the resulting USM
// bytes to w. limiter, if non-nil, throttles the rate at which bytes
// are written.
func (m *Muxer) Stream(ctx context.Context, w io.Writer, limiter *rate.Limiter) error {
	m.Metrics.OperationStarted("mux")
	defer m.Metrics.OperationFinished("mux")

	mode, videoKey, audioKey := m.cipherParams()

	scratch, err := os.CreateTemp("", "gousm-scratch-*")
	if err != nil {
		m.Metrics.ObserveError("pack")
		return usmerrors.ErrIO{Op: "create scratch file", Err: err}
	}
	defer os.Remove(scratch.Name())
	defer scratch.Close()

	maxPacketSize, scratchSize, keyframeOffsets, err := m.packStream(ctx, scratch, mode, videoKey, audioKey)
	if err != nil {
		m.Metrics.ObserveError("pack")
		return err
	}

	phaseB, err := m.buildPhaseB(keyframeOffsets, 0)
	if err != nil {
		return err
	}
	totalPhaseB := sumChunkSizes(phaseB)

	// Resolve the seek-offset back-patching cycle: the metadata
	// chunks' encoded size is already final (every VIDEO_SEEKINFO
	// field is fixed-width, so the value doesn't change the length),
	// so now that totalPhaseB is known the real ofs_byte values can be
	// filled in without re-sizing anything.
	baseOffset := int64(chunk.SectorSize) + int64(totalPhaseB)
	phaseB, err = m.buildPhaseB(keyframeOffsets, baseOffset)
	if err != nil {
		return err
	}

	phaseC, err := m.buildPhaseC(maxPacketSize, totalPhaseB, scratchSize)
	if err != nil {
		return err
	}

	if err := writeChunk(ctx, w, limiter, phaseC); err != nil {
		return err
	}
	for _, c := range phaseB {
		if err := writeChunk(ctx, w, limiter, c); err != nil {
			return err
		}
	}
	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return usmerrors.ErrIO{Op: "seek scratch file", Err: err}
	}
	if err := copyWithLimiter(ctx, w, scratch, limiter); err != nil {
		return err
	}
	return nil
}

// packStream is phase A: interleave every channel's chunk batches
// frame by frame (videos before audios) into the scratch file. Chunk
// marshaling runs on this goroutine; the scratch writes themselves are
// pushed to an asyncprocessor so packing the next frame overlaps with
// writing the previous one.
func (m *Muxer) packStream(ctx context.Context, scratch io.Writer, mode mediachan.CipherMode, videoKey, audioKey []byte) (maxPacketSize int, scratchSize int64, keyframeOffsets map[uint8][]keyframeOffset, err error) {
	proc := &asyncprocessor.Processor{BufferSize: 64}
	proc.Initialize()
	proc.Start()
	defer func() {
		if cerr := proc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	videoSources := make([]mediachan.ChunkSource, len(m.Videos))
	for i, v := range m.Videos {
		videoSources[i] = v.Chunks(mode, videoKey)
	}
	audioSources := make([]mediachan.ChunkSource, len(m.Audios))
	for i, a := range m.Audios {
		audioSources[i] = a.Chunks(mode, audioKey)
	}

	maxFrames := 0
	for _, v := range m.Videos {
		if v.Len() > maxFrames {
			maxFrames = v.Len()
		}
	}
	for _, a := range m.Audios {
		if a.Len() > maxFrames {
			maxFrames = a.Len()
		}
	}

	keyframeOffsets = make(map[uint8][]keyframeOffset)
	var scratchOffset int64

	writeChunks := func(chunks []*chunk.Chunk, packetKind string) error {
		for _, c := range chunks {
			b, err := c.Marshal()
			if err != nil {
				return err
			}
			if err := proc.Push(func() error {
				if _, werr := scratch.Write(b); werr != nil {
					return usmerrors.ErrIO{Op: "write scratch chunk", Err: werr}
				}
				return nil
			}); err != nil {
				return err
			}
			scratchOffset += int64(len(b))
			if len(b) > maxPacketSize {
				maxPacketSize = len(b)
			}
			m.Metrics.ObserveChunkWritten(string(c.Kind), len(b))
			if c.PayloadKind == chunk.PayloadStream {
				m.Metrics.ObservePacketSize(packetKind, len(c.Payload))
			}
		}
		return nil
	}

	for i := 0; i < maxFrames; i++ {
		select {
		case <-ctx.Done():
			return 0, 0, nil, ctx.Err()
		default:
		}

		for idx, v := range m.Videos {
			if i >= v.Len() {
				continue
			}
			firstOffset := scratchOffset
			batch, err := videoSources[idx].Next()
			if err == io.EOF {
				continue
			}
			if err != nil {
				return 0, 0, nil, err
			}
			if err := writeChunks(batch.Chunks, "video"); err != nil {
				return 0, 0, nil, err
			}
			if batch.Keyframe {
				keyframeOffsets[v.ChannelNumber] = append(keyframeOffsets[v.ChannelNumber], keyframeOffset{frameIndex: i, scratchOffset: firstOffset})
			}
		}

		for idx, a := range m.Audios {
			if i >= a.Len() {
				continue
			}
			batch, err := audioSources[idx].Next()
			if err == io.EOF {
				continue
			}
			if err != nil {
				return 0, 0, nil, err
			}
			if err := writeChunks(batch.Chunks, "audio"); err != nil {
				return 0, 0, nil, err
			}
		}
	}

	return maxPacketSize, scratchOffset, keyframeOffsets, nil
}

// buildPhaseB builds the header/header-end/metadata/metadata-end
// chunk sequence. baseOffset is added to every keyframe's recorded
// scratch offset to produce VIDEO_SEEKINFO.ofs_byte; pass 0 for a
// sizing-only pass.
func (m *Muxer) buildPhaseB(keyframeOffsets map[uint8][]keyframeOffset, baseOffset int64) ([]*chunk.Chunk, error) {
	var headerChunks, headerEndChunks, videoMetaChunks, audioMetaChunks, metaEndChunks []*chunk.Chunk

	for _, v := range m.Videos {
		hc, err := v.HeaderChunk(m.Encoding)
		if err != nil {
			return nil, err
		}
		headerChunks = append(headerChunks, hc)
	}
	for _, a := range m.Audios {
		hc, err := a.HeaderChunk(m.Encoding)
		if err != nil {
			return nil, err
		}
		headerChunks = append(headerChunks, hc)
	}

	for _, v := range m.Videos {
		headerEndChunks = append(headerEndChunks, mediachan.HeaderEndChunk(chunk.KindVideo, v.ChannelNumber))
	}
	for _, a := range m.Audios {
		headerEndChunks = append(headerEndChunks, mediachan.HeaderEndChunk(chunk.KindAudio, a.ChannelNumber))
	}

	for _, v := range m.Videos {
		offsets := keyframeOffsets[v.ChannelNumber]
		pages := make([]*utf.Page, len(offsets))
		for i, o := range offsets {
			pages[i] = mediachan.NewSeekInfoPage(baseOffset+o.scratchOffset, uint32(o.frameIndex))
		}
		v.Seek = pages

		mc, err := v.MetadataChunk(m.Encoding)
		if err != nil {
			return nil, err
		}
		if mc != nil {
			videoMetaChunks = append(videoMetaChunks, mc)
			metaEndChunks = append(metaEndChunks, mediachan.MetadataEndChunk(chunk.KindVideo, v.ChannelNumber))
		}
	}

	for _, a := range m.Audios {
		mc, err := a.MetadataChunk(m.Encoding)
		if err != nil {
			return nil, err
		}
		if mc != nil {
			audioMetaChunks = append(audioMetaChunks, mc)
			metaEndChunks = append(metaEndChunks, mediachan.MetadataEndChunk(chunk.KindAudio, a.ChannelNumber))
		}
	}

	out := make([]*chunk.Chunk, 0, len(headerChunks)+len(headerEndChunks)+len(videoMetaChunks)+len(audioMetaChunks)+len(metaEndChunks))
	out = append(out, headerChunks...)
	out = append(out, headerEndChunks...)
	out = append(out, videoMetaChunks...)
	out = append(out, audioMetaChunks...)
	out = append(out, metaEndChunks...)
	return out, nil
}

// buildPhaseC builds the top-level CRID/HEADER chunk wrapping the USM
// directory page and every channel's directory page.
func (m *Muxer) buildPhaseC(maxPacketSize int, phaseBSize int, scratchSize int64) (*chunk.Chunk, error) {
	filesize := int64(chunk.SectorSize) + int64(phaseBSize) + scratchSize
	minbuf := roundUpTo16(int64(math.Round(float64(maxPacketSize) * 1.98746)))

	var avbps int64
	pages := make([]*utf.Page, 0, 1+len(m.Videos)+len(m.Audios))

	top := m.Directory
	top.Set("filesize", utf.NewI32(int32(filesize)))
	top.Set("datasize", utf.NewI32(0))
	top.Set("minbuf", utf.NewI32(int32(minbuf)))
	pages = append(pages, top)

	for _, v := range m.Videos {
		pages = append(pages, v.Directory)
		if el, ok := v.Directory.Get("avbps"); ok {
			bps, _ := el.Int()
			avbps += bps
		}
	}
	for _, a := range m.Audios {
		pages = append(pages, a.Directory)
		if el, ok := a.Directory.Get("avbps"); ok {
			bps, _ := el.Int()
			avbps += bps
		}
	}
	top.Set("avbps", utf.NewI32(int32(avbps)))

	payload, err := utf.EncodeTable(pages, m.Encoding, 5)
	if err != nil {
		return nil, err
	}

	total := chunk.HeaderSize + len(payload)
	padding := (chunk.SectorSize - total%chunk.SectorSize) % chunk.SectorSize

	return &chunk.Chunk{
		Kind:        chunk.KindInfo,
		PayloadKind: chunk.PayloadHeader,
		Payload:     payload,
		Padding:     padding,
	}, nil
}

func sumChunkSizes(chunks []*chunk.Chunk) int {
	total := 0
	for _, c := range chunks {
		total += c.MarshalSize()
	}
	return total
}

func roundUpTo16(v int64) int64 {
	return (v + 15) &^ 15
}

func writeChunk(ctx context.Context, w io.Writer, limiter *rate.Limiter, c *chunk.Chunk) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	b, err := c.Marshal()
	if err != nil {
		return err
	}
	if limiter != nil {
		if err := limiter.WaitN(ctx, len(b)); err != nil {
			return usmerrors.ErrIO{Op: "rate limit write", Err: err}
		}
	}
	if _, err := w.Write(b); err != nil {
		return usmerrors.ErrIO{Op: "write chunk", Err: err}
	}
	return nil
}

func copyWithLimiter(ctx context.Context, w io.Writer, r io.Reader, limiter *rate.Limiter) error {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			if limiter != nil {
				if werr := limiter.WaitN(ctx, n); werr != nil {
					return usmerrors.ErrIO{Op: "rate limit copy", Err: werr}
				}
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return usmerrors.ErrIO{Op: "write scratch bytes", Err: werr}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return usmerrors.ErrIO{Op: "read scratch bytes", Err: err}
		}
	}
}
