package mediachan

import (
	"math"

	"github.com/cri-works/gousm/pkg/utf"
)

// NewDirectoryPage builds a CRIUSF_DIR_STREAM page. chno is -1 for
// the top-level USM entry and the top-level-only fmtver/filesize/datasize
// fields carry real values there; per-channel entries pass filesize=0,
// datasize=0 and their own fmtver=0, matching what real files carry.
func NewDirectoryPage(fmtver int32, filename string, filesize, datasize int32, stmid uint32, chno int16, minchk int16, minbuf, avbps int32) *utf.Page {
	p := utf.NewPage("CRIUSF_DIR_STREAM")
	p.Set("fmtver", utf.NewI32(fmtver))
	p.Set("filename", utf.NewString(filename))
	p.Set("filesize", utf.NewI32(filesize))
	p.Set("datasize", utf.NewI32(datasize))
	p.Set("stmid", utf.NewI32(int32(stmid)))
	p.Set("chno", utf.NewI16(chno))
	p.Set("minchk", utf.NewI16(minchk))
	p.Set("minbuf", utf.NewI32(minbuf))
	p.Set("avbps", utf.NewI32(avbps))
	return p
}

// NewVideoHeaderPage builds a VIDEO_HDRINFO page from a probe result.
// framerate_n/d are scaled by 1000 when framerate_d < 1000, keeping
// framerate as a ratio with a denominator of at least 1000.
func NewVideoHeaderPage(probe VideoProbe, ixsize int32) *utf.Page {
	n, d := int32(probe.FramerateN()), int32(probe.FramerateD())
	if d < 1000 {
		n *= 1000
		d *= 1000
	}

	p := utf.NewPage("VIDEO_HDRINFO")
	w, h := int32(probe.Width()), int32(probe.Height())
	p.Set("width", utf.NewI32(w))
	p.Set("height", utf.NewI32(h))
	p.Set("mat_width", utf.NewI32(w))
	p.Set("mat_height", utf.NewI32(h))
	p.Set("disp_width", utf.NewI32(w))
	p.Set("disp_height", utf.NewI32(h))
	p.Set("scrn_width", utf.NewI32(0))
	p.Set("mpeg_dcprec", utf.NewI8(0))
	p.Set("mpeg_codec", utf.NewI8(probe.Codec()))
	p.Set("alpha_type", utf.NewI32(0))
	p.Set("total_frames", utf.NewI32(int32(probe.TotalFrames())))
	p.Set("framerate_n", utf.NewI32(n))
	p.Set("framerate_d", utf.NewI32(d))
	p.Set("metadata_count", utf.NewI32(1))
	p.Set("metadata_size", utf.NewI32(0))
	p.Set("ixsize", utf.NewI32(ixsize))
	p.Set("pre_padding", utf.NewI32(0))
	p.Set("max_picture_size", utf.NewI32(int32(probe.MaxPacketSize())))
	p.Set("color_space", utf.NewI32(0))
	p.Set("picture_type", utf.NewI32(0))
	return p
}

// NewAudioHeaderPage builds an AUDIO_HDRINFO page from a probe result.
// ixsize/metadata_size carry the documented HCA placeholder constants.
func NewAudioHeaderPage(probe AudioProbe) *utf.Page {
	p := utf.NewPage("AUDIO_HDRINFO")
	p.Set("audio_codec", utf.NewI8(AudioCodecHCA))
	p.Set("sampling_rate", utf.NewI32(int32(probe.SampleRate())))
	p.Set("num_channels", utf.NewI32(int32(probe.NumChannels())))
	p.Set("metadata_count", utf.NewI32(1))
	p.Set("metadata_size", utf.NewI32(DefaultHCAMetadataSize))
	p.Set("ixsize", utf.NewI32(DefaultHCAIndexSize))
	p.Set("ambisonics", utf.NewI8(0))
	return p
}

// HCAMinBuf is the empirical HCA buffer-size formula:
// ceil(frame_size * 54.4140625).
func HCAMinBuf(frameSize int) int32 {
	return int32(math.Ceil(float64(frameSize) * 54.4140625))
}

// HCAAvgBitsPerSecond is the empirical HCA bitrate formula:
// round(0.0399607 * frame_count * frame_size).
func HCAAvgBitsPerSecond(frameCount, frameSize int) int32 {
	return int32(math.Round(0.0399607 * float64(frameCount) * float64(frameSize)))
}

// NewSeekInfoPage builds one VIDEO_SEEKINFO page locating a keyframe.
func NewSeekInfoPage(ofsByte int64, ofsFrameID uint32) *utf.Page {
	p := utf.NewPage("VIDEO_SEEKINFO")
	p.Set("ofs_byte", utf.NewI64(ofsByte))
	p.Set("ofs_frmid", utf.NewU32(ofsFrameID))
	p.Set("num_skip", utf.NewU16(0))
	p.Set("resv", utf.NewU16(0))
	return p
}
