package usm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cri-works/gousm/pkg/usmcipher"
	"github.com/cri-works/gousm/pkg/usmerrors"
	"github.com/cri-works/gousm/pkg/utf"
)

// WriteOptions configures WriteChannels.
type WriteOptions struct {
	// AllowUnicode keeps non-ASCII characters in the slugged output
	// file names instead of folding them to an ASCII approximation.
	AllowUnicode bool
}

// WriteChannels extracts every channel's packet stream below dir:
// videos under dir/videos, audios under dir/audios, each named after
// its directory page's filename column. If the USM carries a Seed, the
// packets are deciphered on the way out. Channel packet sources are
// single-shot, so a demuxed USM can be written out at most once.
func (u *USM) WriteChannels(ctx context.Context, dir string, opts WriteOptions) (videoPaths, audioPaths []string, err error) {
	videoKey := u.VideoKey()
	audioKey := u.AudioKey()
	used := make(map[string]bool)

	for _, v := range u.Videos {
		name := channelFileName(v.Directory, opts.AllowUnicode, fmt.Sprintf("video_%d", v.ChannelNumber), int(v.ChannelNumber), used)
		path, err := writeChannelFile(dir, "videos", name, func(w io.Writer) error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				payload, _, err := v.Source.Next()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if videoKey != nil {
					payload, err = usmcipher.CryptVideoPacket(payload, videoKey, false)
					if err != nil {
						return err
					}
				}
				if _, err := w.Write(payload); err != nil {
					return usmerrors.ErrIO{Op: "write video packet", Err: err}
				}
			}
		})
		if err != nil {
			return nil, nil, err
		}
		videoPaths = append(videoPaths, path)
	}

	for _, a := range u.Audios {
		name := channelFileName(a.Directory, opts.AllowUnicode, fmt.Sprintf("audio_%d", a.ChannelNumber), int(a.ChannelNumber), used)
		path, err := writeChannelFile(dir, "audios", name, func(w io.Writer) error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				payload, err := a.Source.Next()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if audioKey != nil {
					payload, err = usmcipher.CryptAudioPacket(payload, audioKey)
					if err != nil {
						return err
					}
				}
				if _, err := w.Write(payload); err != nil {
					return usmerrors.ErrIO{Op: "write audio packet", Err: err}
				}
			}
		})
		if err != nil {
			return nil, nil, err
		}
		audioPaths = append(audioPaths, path)
	}

	return videoPaths, audioPaths, nil
}

func channelFileName(dir *utf.Page, allowUnicode bool, fallback string, chno int, used map[string]bool) string {
	name := fallback
	if dir != nil {
		if slug, ok := dir.Slug(allowUnicode); ok && slug != "" {
			name = slug
		}
	}
	if used[name] {
		name = fmt.Sprintf("%s_%d", name, chno)
	}
	used[name] = true
	return name
}

func writeChannelFile(dir, subdir, name string, write func(w io.Writer) error) (string, error) {
	if err := os.MkdirAll(filepath.Join(dir, subdir), 0o755); err != nil {
		return "", usmerrors.ErrIO{Op: "create output directory", Err: err}
	}
	path := filepath.Join(dir, subdir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", usmerrors.ErrIO{Op: "create output file", Err: err}
	}
	defer f.Close()
	if err := write(f); err != nil {
		return "", err
	}
	return path, nil
}
