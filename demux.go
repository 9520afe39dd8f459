package usm

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/cri-works/gousm/pkg/chunk"
	"github.com/cri-works/gousm/pkg/mediachan"
	"github.com/cri-works/gousm/pkg/usmerrors"
	"github.com/cri-works/gousm/pkg/usmmetrics"
	"github.com/cri-works/gousm/pkg/utf"
)

// Demuxer reads an existing USM file and classifies its chunks into
// per-channel packet sources. A Demuxer is used once, for one
// call to Demux.
type Demuxer struct {
	r        RandomAccessReader
	mu       sync.Mutex
	Encoding utf.Encoding
	// OnWarning, if set, receives non-fatal conditions encountered
	// during the scan (e.g. an unrecognized but harmless chunk kind).
	OnWarning func(error)
	// Metrics, if set, receives Prometheus observations during Demux.
	// A nil Metrics (the zero value) is safe to leave unset.
	Metrics *usmmetrics.Metrics
}

// NewDemuxer builds a Demuxer over r using the given string encoding
// for page tables.
func NewDemuxer(r RandomAccessReader, enc utf.Encoding) *Demuxer {
	return &Demuxer{r: r, Encoding: enc}
}

func (d *Demuxer) warn(err error) {
	if d.OnWarning != nil {
		d.OnWarning(err)
	}
}

type packetRange struct {
	offset int64
	size   int64
}

type channelBuild struct {
	channelNumber uint8
	stream        []packetRange
	header        *utf.Page
	metadata      []*utf.Page
}

// readChunkAt reads one complete chunk (header, payload, and the
// padding length, though padding bytes themselves are never decoded)
// starting at offset.
func (d *Demuxer) readChunkAt(offset int64) (*chunk.Chunk, int64, error) {
	var hdr [chunk.HeaderSize]byte
	d.mu.Lock()
	_, err := d.r.ReadAt(hdr[:], offset)
	d.mu.Unlock()
	if err != nil {
		return nil, 0, usmerrors.ErrIO{Op: "read chunk header", Err: err}
	}

	// lengthAfter8 lives at header offset 4; decode just enough to size
	// the full read before handing the buffer to chunk.Unmarshal.
	lengthAfter8 := uint32(hdr[4])<<24 | uint32(hdr[5])<<16 | uint32(hdr[6])<<8 | uint32(hdr[7])
	total := int64(8) + int64(lengthAfter8)
	if total < chunk.HeaderSize {
		return nil, 0, usmerrors.ErrCorruptChunk{Offset: offset, Reason: "chunk shorter than its own header"}
	}

	buf := make([]byte, total)
	copy(buf, hdr[:])
	if total > chunk.HeaderSize {
		d.mu.Lock()
		_, err = d.r.ReadAt(buf[chunk.HeaderSize:], offset+chunk.HeaderSize)
		d.mu.Unlock()
		if err != nil {
			return nil, 0, usmerrors.ErrIO{Op: "read chunk body", Err: err}
		}
	}

	var c chunk.Chunk
	n, err := c.Unmarshal(buf, offset)
	if err != nil {
		return nil, 0, err
	}
	return &c, int64(n), nil
}

func (d *Demuxer) applyChunkToBuild(b *channelBuild, c *chunk.Chunk, offset int64) error {
	switch c.PayloadKind {
	case chunk.PayloadStream:
		b.stream = append(b.stream, packetRange{offset: offset + chunk.HeaderSize, size: int64(len(c.Payload))})
	case chunk.PayloadHeader:
		pages, err := c.DecodePages(d.Encoding)
		if err != nil {
			return err
		}
		if len(pages) != 1 {
			return usmerrors.ErrInvalidPageTable{Reason: "HEADER chunk must wrap exactly one page"}
		}
		b.header = pages[0]
	case chunk.PayloadMetadata:
		pages, err := c.DecodePages(d.Encoding)
		if err != nil {
			return err
		}
		b.metadata = append(b.metadata, pages...)
	case chunk.PayloadSectionEnd:
		// boundary marker only; nothing to record.
	}
	return nil
}

func matchDirectory(pages []*utf.Page, stmid uint32, chno int) (*utf.Page, bool) {
	for _, p := range pages {
		s, ok := p.Get("stmid")
		if !ok {
			continue
		}
		c, ok := p.Get("chno")
		if !ok {
			continue
		}
		sv, _ := s.Int()
		cv, _ := c.Int()
		if uint32(sv) == stmid && int(cv) == chno {
			return p, true
		}
	}
	return nil, false
}

// Demux scans the file from offset 0, classifies every chunk, and
// returns the reconstructed USM.
func (d *Demuxer) Demux() (*USM, error) {
	d.Metrics.OperationStarted("demux")
	defer d.Metrics.OperationFinished("demux")

	size := d.r.Size()

	var magic [4]byte
	d.mu.Lock()
	_, err := d.r.ReadAt(magic[:], 0)
	d.mu.Unlock()
	if err != nil {
		return nil, usmerrors.ErrIO{Op: "read file magic", Err: err}
	}
	if string(magic[:]) != string(chunk.KindInfo) {
		return nil, usmerrors.ErrInvalidMagic{Got: magic[:]}
	}

	var directoryPages []*utf.Page
	videoBuilds := map[uint8]*channelBuild{}
	audioBuilds := map[uint8]*channelBuild{}
	var videoOrder, audioOrder []uint8

	for offset := int64(0); offset < size; {
		c, n, err := d.readChunkAt(offset)
		if err != nil {
			d.Metrics.ObserveError("demux")
			return nil, err
		}
		d.Metrics.ObserveChunkRead(string(c.Kind), int(n))

		switch c.Kind {
		case chunk.KindInfo:
			if c.IsPageTable() {
				pages, err := c.DecodePages(d.Encoding)
				if err != nil {
					d.Metrics.ObserveError("demux")
					return nil, err
				}
				directoryPages = append(directoryPages, pages...)
			}
		case chunk.KindVideo:
			b, ok := videoBuilds[c.ChannelNumber]
			if !ok {
				b = &channelBuild{channelNumber: c.ChannelNumber}
				videoBuilds[c.ChannelNumber] = b
				videoOrder = append(videoOrder, c.ChannelNumber)
			}
			if err := d.applyChunkToBuild(b, c, offset); err != nil {
				d.Metrics.ObserveError("demux")
				return nil, err
			}
			if c.PayloadKind == chunk.PayloadStream {
				d.Metrics.ObservePacketSize("video", len(c.Payload))
			}
		case chunk.KindAudio:
			b, ok := audioBuilds[c.ChannelNumber]
			if !ok {
				b = &channelBuild{channelNumber: c.ChannelNumber}
				audioBuilds[c.ChannelNumber] = b
				audioOrder = append(audioOrder, c.ChannelNumber)
			}
			if err := d.applyChunkToBuild(b, c, offset); err != nil {
				d.Metrics.ObserveError("demux")
				return nil, err
			}
			if c.PayloadKind == chunk.PayloadStream {
				d.Metrics.ObservePacketSize("audio", len(c.Payload))
			}
		default:
			d.warn(fmt.Errorf("ignoring unhandled chunk kind %q at offset %#x", c.Kind, offset))
		}

		offset += n
	}

	topPage, ok := matchDirectory(directoryPages, mediachan.StreamIDTopLevel, -1)
	if !ok {
		return nil, usmerrors.ErrMissingDirectoryEntry{StreamID: mediachan.StreamIDTopLevel, ChannelNumber: -1}
	}
	fmtverEl, ok := topPage.Get("fmtver")
	if !ok {
		return nil, usmerrors.ErrMissingFormatVersion{}
	}
	fmtver, _ := fmtverEl.Int()

	sort.Slice(videoOrder, func(i, j int) bool { return videoOrder[i] < videoOrder[j] })
	sort.Slice(audioOrder, func(i, j int) bool { return audioOrder[i] < audioOrder[j] })

	videos := make([]*mediachan.VideoChannel, 0, len(videoOrder))
	for _, chno := range videoOrder {
		b := videoBuilds[chno]
		dirPage, ok := matchDirectory(directoryPages, mediachan.StreamIDVideo, int(chno))
		if !ok {
			return nil, usmerrors.ErrMissingDirectoryEntry{StreamID: mediachan.StreamIDVideo, ChannelNumber: int(chno)}
		}

		keyframes := make(map[int]bool, len(b.metadata))
		for _, p := range b.metadata {
			el, ok := p.Get("ofs_frmid")
			if !ok {
				continue
			}
			v, _ := el.Int()
			keyframes[int(v)] = true
		}

		videos = append(videos, &mediachan.VideoChannel{
			ChannelNumber: chno,
			Directory:     dirPage,
			Header:        b.header,
			Seek:          b.metadata,
			Source:        &fileVideoSource{d: d, ranges: b.stream, keyframes: keyframes},
		})
	}

	audios := make([]*mediachan.AudioChannel, 0, len(audioOrder))
	for _, chno := range audioOrder {
		b := audioBuilds[chno]
		dirPage, ok := matchDirectory(directoryPages, mediachan.StreamIDAudio, int(chno))
		if !ok {
			return nil, usmerrors.ErrMissingDirectoryEntry{StreamID: mediachan.StreamIDAudio, ChannelNumber: int(chno)}
		}

		audios = append(audios, &mediachan.AudioChannel{
			ChannelNumber: chno,
			Directory:     dirPage,
			Header:        b.header,
			Metadata:      b.metadata,
			Source:        &fileAudioSource{d: d, ranges: b.stream},
		})
	}

	return &USM{
		FormatVersion: int32(fmtver),
		Directory:     topPage,
		Videos:        videos,
		Audios:        audios,
		Encoding:      d.Encoding,
	}, nil
}

type fileVideoSource struct {
	d         *Demuxer
	ranges    []packetRange
	keyframes map[int]bool
	index     int
}

func (s *fileVideoSource) Len() int { return len(s.ranges) }

func (s *fileVideoSource) Next() ([]byte, bool, error) {
	if s.index >= len(s.ranges) {
		return nil, false, io.EOF
	}
	r := s.ranges[s.index]
	buf := make([]byte, r.size)
	s.d.mu.Lock()
	_, err := s.d.r.ReadAt(buf, r.offset)
	s.d.mu.Unlock()
	if err != nil {
		return nil, false, usmerrors.ErrIO{Op: "read video packet", Err: err}
	}
	keyframe := s.keyframes[s.index]
	s.index++
	return buf, keyframe, nil
}

type fileAudioSource struct {
	d      *Demuxer
	ranges []packetRange
	index  int
}

func (s *fileAudioSource) Len() int { return len(s.ranges) }

func (s *fileAudioSource) Next() ([]byte, error) {
	if s.index >= len(s.ranges) {
		return nil, io.EOF
	}
	r := s.ranges[s.index]
	buf := make([]byte, r.size)
	s.d.mu.Lock()
	_, err := s.d.r.ReadAt(buf, r.offset)
	s.d.mu.Unlock()
	if err != nil {
		return nil, usmerrors.ErrIO{Op: "read audio packet", Err: err}
	}
	s.index++
	return buf, nil
}
