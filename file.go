package usm

import (
	"io"
	"os"

	"github.com/cri-works/gousm/pkg/usmerrors"
	"github.com/cri-works/gousm/pkg/utf"
)

// Open opens the USM container at path and demuxes its structure. The
// returned closer owns the underlying file handle and must stay open
// while the USM's channel packet sources are in use.
func Open(path string, enc utf.Encoding) (*USM, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, usmerrors.ErrIO{Op: "open usm file", Err: err}
	}
	r, err := NewFileRandomAccessReader(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	u, err := NewDemuxer(r, enc).Demux()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return u, f, nil
}

// RandomAccessReader is the random-access byte source a Demuxer reads
// from. Implementations must support concurrent ReadAt calls; the
// Demuxer serializes its own access with a mutex, but callers sharing
// the same underlying handle elsewhere are responsible for their own
// synchronization.
type RandomAccessReader interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
}

type fileRandomAccessReader struct {
	f    *os.File
	size int64
}

func (r *fileRandomAccessReader) ReadAt(p []byte, off int64) (int, error) { return r.f.ReadAt(p, off) }
func (r *fileRandomAccessReader) Size() int64                            { return r.size }

// NewFileRandomAccessReader adapts an open file into a
// RandomAccessReader, statting it once to learn its size.
func NewFileRandomAccessReader(f *os.File) (RandomAccessReader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, usmerrors.ErrIO{Op: "stat usm file", Err: err}
	}
	return &fileRandomAccessReader{f: f, size: info.Size()}, nil
}

type bytesRandomAccessReader struct {
	b []byte
}

func (r *bytesRandomAccessReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(r.b)) {
		return 0, usmerrors.ErrIO{Op: "read usm bytes", Err: os.ErrInvalid}
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, usmerrors.ErrIO{Op: "read usm bytes", Err: os.ErrInvalid}
	}
	return n, nil
}

func (r *bytesRandomAccessReader) Size() int64 { return int64(len(r.b)) }

// NewBytesRandomAccessReader adapts an in-memory byte slice into a
// RandomAccessReader, useful for tests and small embedded fixtures.
func NewBytesRandomAccessReader(b []byte) RandomAccessReader {
	return &bytesRandomAccessReader{b: b}
}
