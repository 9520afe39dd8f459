// Package usm implements the CRI Sofdec2 "USM" container engine: the
// chunked on-disk format, its @UTF page tables, a demuxer that reads
// an existing file into per-channel packet sources, and a muxer that
// packs caller-supplied channels into a new file.
package usm

import (
	"strings"

	"github.com/cri-works/gousm/pkg/mediachan"
	"github.com/cri-works/gousm/pkg/usmcipher"
	"github.com/cri-works/gousm/pkg/utf"
)

// DefaultFormatVersion is the only format version this module
// understands.
const DefaultFormatVersion int32 = 0x01000240

// USM is a container's in-memory representation: either the read-only
// result of a Demux, or the built-from-scratch input to a Mux.
type USM struct {
	FormatVersion int32
	// Seed is the obfuscation key seed. nil means the container's
	// packets are not (or should not be) ciphered.
	Seed *uint64
	// Directory is the top-level CRIUSF_DIR_STREAM page (chno=-1,
	// stmid=0).
	Directory *utf.Page
	Videos    []*mediachan.VideoChannel
	Audios    []*mediachan.AudioChannel
	Encoding  utf.Encoding
}

// Filename returns the top-level directory page's filename column with
// any directory prefix stripped, otherwise verbatim. When the
// top-level page has no filename, it synthesizes one from the first
// video channel's filename stem plus ".usm". It reports false when
// neither is available.
func (u *USM) Filename() (string, bool) {
	if u.Directory != nil {
		if s, ok := pageFilename(u.Directory); ok {
			return s, true
		}
	}
	if len(u.Videos) > 0 && u.Videos[0].Directory != nil {
		if s, ok := pageFilename(u.Videos[0].Directory); ok {
			if i := strings.LastIndexByte(s, '.'); i > 0 {
				s = s[:i]
			}
			return s + ".usm", true
		}
	}
	return "", false
}

func pageFilename(p *utf.Page) (string, bool) {
	el, ok := p.Get("filename")
	if !ok {
		return "", false
	}
	s, ok := el.String()
	if !ok {
		return "", false
	}
	return s[strings.LastIndexByte(s, '/')+1:], true
}

// VideoKey derives this USM's video cipher key from Seed, or returns
// nil if no seed is set.
func (u *USM) VideoKey() []byte {
	if u.Seed == nil {
		return nil
	}
	k, _ := usmcipher.DeriveKeys(*u.Seed)
	return k
}

// AudioKey derives this USM's audio cipher key from Seed, or returns
// nil if no seed is set.
func (u *USM) AudioKey() []byte {
	if u.Seed == nil {
		return nil
	}
	_, k := usmcipher.DeriveKeys(*u.Seed)
	return k
}
