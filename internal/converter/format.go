// Package converter derives encoder arguments from a target format, a speed
// tier and the detected hardware accelerator.
package converter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is returned for targets that have no usable encoder.
var ErrUnsupportedFormat = errors.New("target format unsupported")

// Format is a container or stream format tag, matching a file extension.
type Format string

const (
	FormatMP4   Format = "mp4"
	FormatWebM  Format = "webm"
	FormatGIF   Format = "gif"
	FormatAVI   Format = "avi"
	FormatMKV   Format = "mkv"
	FormatWMV   Format = "wmv"
	FormatMOV   Format = "mov"
	FormatMTS   Format = "mts"
	FormatTS    Format = "ts"
	FormatM2TS  Format = "m2ts"
	FormatMPEG  Format = "mpeg"
	FormatMPG   Format = "mpg"
	FormatFLV   Format = "flv"
	FormatF4V   Format = "f4v"
	FormatVOB   Format = "vob"
	FormatM4V   Format = "m4v"
	Format3GP   Format = "3gp"
	Format3G2   Format = "3g2"
	FormatMXF   Format = "mxf"
	FormatOGV   Format = "ogv"
	FormatRM    Format = "rm"
	FormatRMVB  Format = "rmvb"
	FormatH264  Format = "h264"
	FormatDivX  Format = "divx"
	FormatSWF   Format = "swf"
	FormatAMV   Format = "amv"
	FormatASF   Format = "asf"
	FormatNUT   Format = "nut"
)

// speedStyle selects how a speed tier is expressed for a format.
type speedStyle int

const (
	speedNone speedStyle = iota
	speedPreset
	speedEffort
	speedTheora
)

// formatPolicy describes how to encode into a format.
type formatPolicy struct {
	// accel lists codec families to try on the accelerator, in order.
	accel []string
	// video is the software fallback (or only) video encoder.
	video string
	audio string
	// pre is emitted before the codec flags, post after them.
	pre  []string
	post []string

	speed       speedStyle
	unsupported string
	animated    bool
}

var h264Policy = formatPolicy{
	accel: []string{"h264"},
	video: "libx264",
	audio: "aac",
	post:  []string{"-strict", "experimental"},
	speed: speedPreset,
}

var formatPolicies = map[Format]formatPolicy{
	FormatMP4:  h264Policy,
	FormatMKV:  h264Policy,
	FormatMOV:  h264Policy,
	FormatMTS:  h264Policy,
	FormatTS:   h264Policy,
	FormatM2TS: h264Policy,
	FormatFLV:  h264Policy,
	FormatF4V:  h264Policy,
	FormatM4V:  h264Policy,
	Format3GP:  h264Policy,
	Format3G2:  h264Policy,
	FormatH264: h264Policy,

	FormatGIF: {animated: true},

	FormatWMV: {accel: []string{"wmv2", "wmv3"}, video: "wmv2", audio: "wmav2"},
	FormatWebM: {
		accel: []string{"av1", "vp9", "vp8"},
		video: "libvpx",
		audio: "libvorbis",
		speed: speedEffort,
	},

	FormatNUT: {video: "mpeg4", audio: "libmp3lame", speed: speedEffort},
	FormatAVI: {video: "mpeg4", audio: "libmp3lame", speed: speedEffort},

	FormatMPEG: {video: "mpeg2video", audio: "mp2"},
	FormatMPG:  {video: "mpeg2video", audio: "mp2"},
	FormatVOB:  {video: "mpeg2video", audio: "mp2"},

	FormatMXF: {video: "mpeg2video", audio: "pcm_s16le", post: []string{"-strict", "unofficial"}},
	FormatOGV: {video: "libtheora", audio: "libvorbis", speed: speedTheora},

	FormatRM:   {unsupported: "Encoding to RM/RMVB is not supported"},
	FormatRMVB: {unsupported: "Encoding to RM/RMVB is not supported"},

	FormatDivX: {pre: []string{"-f", "avi"}, video: "mpeg4", audio: "libmp3lame", speed: speedPreset},
	FormatSWF:  {pre: []string{"-f", "swf"}, video: "flv", audio: "libmp3lame", post: []string{"-b:a", "192k"}},
	FormatASF:  {video: "msmpeg4v3", audio: "wmav2"},
	FormatAMV: {
		video: "amv",
		audio: "adpcm_ima_amv",
		post:  []string{"-ac", "1", "-ar", "22050", "-r", "25", "-block_size", "882"},
	},
}

// ParseFormat returns the format for a tag or file extension, ignoring case
// and a leading dot.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	if _, ok := formatPolicies[f]; !ok {
		return "", fmt.Errorf("unknown format %q", s)
	}
	return f, nil
}

// Formats returns every known format tag.
func Formats() []Format {
	out := make([]Format, 0, len(formatPolicies))
	for f := range formatPolicies {
		out = append(out, f)
	}
	return out
}

// String returns the format tag.
func (f Format) String() string {
	return string(f)
}

// Supported reports whether the format can be used as a conversion target.
func (f Format) Supported() bool {
	p, ok := formatPolicies[f]
	return ok && p.unsupported == ""
}

// CheckTarget returns the error BuildArgs would report for a target that
// cannot be encoded, or nil.
func CheckTarget(f Format) error {
	policy, ok := formatPolicies[f]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	if policy.unsupported != "" {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, policy.unsupported)
	}
	return nil
}

// Animated reports whether the format is rendered as a palette frame sequence.
func (f Format) Animated() bool {
	return formatPolicies[f].animated
}
