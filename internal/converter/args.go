package converter

import (
	"fmt"
	"math"
	"runtime"
	"strconv"
)

const (
	// DefaultBitrate is assumed when the source bitrate cannot be probed.
	DefaultBitrate uint64 = 4_000_000
	// SourceBitrateMultiplier scales the probed source bitrate into a ceiling.
	SourceBitrateMultiplier = 2.5
	// MaxAnimatedFrameRate caps the frame rate of animated outputs.
	MaxAnimatedFrameRate = 24
)

// Accelerator reports whether a hardware encoder is usable on this host.
type Accelerator interface {
	Available(encoder string) bool
}

// Params are the inputs to BuildArgs.
type Params struct {
	Target Format
	Speed  Speed
	Vendor Vendor
	// GOOS defaults to runtime.GOOS.
	GOOS string
	// SourceBitrate is the probed bitrate of the source video stream.
	// Zero selects DefaultBitrate.
	SourceBitrate uint64
	// FrameRate of the source; only used for animated targets.
	FrameRate float64
	// Accelerator may be nil, which disables hardware encoders.
	Accelerator Accelerator
}

// Plan is the resolved encoder invocation for a target.
type Plan struct {
	Args []string
	// VideoEncoder is empty for filter-only targets.
	VideoEncoder string
	Family       EncoderFamily
	// Bitrate is the -b:v value, zero when not emitted.
	Bitrate uint64
	// SpeedIgnored is set when the target has no speed knob.
	SpeedIgnored bool
}

// BuildArgs derives the codec, speed and bitrate arguments for a conversion.
// For identical params and accelerator answers the result is identical.
func BuildArgs(p Params) (Plan, error) {
	if err := CheckTarget(p.Target); err != nil {
		return Plan{}, err
	}
	policy := formatPolicies[p.Target]
	if !p.Speed.valid() {
		return Plan{}, fmt.Errorf("invalid speed %d", int(p.Speed))
	}
	if p.GOOS == "" {
		p.GOOS = runtime.GOOS
	}

	var plan Plan
	if policy.animated {
		plan.Args = []string{"-filter_complex", paletteFilter(p.FrameRate)}
		return plan, nil
	}

	plan.VideoEncoder = resolveEncoder(p, policy)
	plan.Family = FamilyOf(plan.VideoEncoder)

	args := make([]string, 0, 16)
	args = append(args, policy.pre...)
	args = append(args, "-c:v", plan.VideoEncoder, "-c:a", policy.audio)
	args = append(args, policy.post...)

	switch policy.speed {
	case speedPreset:
		args = append(args, "-preset", p.Speed.preset(plan.Family))
	case speedEffort:
		args = append(args, "-speed", strconv.Itoa(effortLevels[p.Speed]))
	case speedTheora:
		args = append(args, "-speed", strconv.Itoa(theoraLevels[p.Speed]))
	default:
		plan.SpeedIgnored = true
	}

	plan.Bitrate = TargetBitrate(p.SourceBitrate, p.Speed)
	args = append(args, "-b:v", strconv.FormatUint(plan.Bitrate, 10))

	plan.Args = args
	return plan, nil
}

// TargetBitrate computes the -b:v value from a probed source bitrate.
func TargetBitrate(source uint64, speed Speed) uint64 {
	if source == 0 {
		source = DefaultBitrate
	}
	ceiling := uint64(float64(source) * SourceBitrateMultiplier)
	// Rounded so 1.18 style multipliers do not lose a bit to float error.
	return uint64(math.Round(float64(ceiling) * speed.BitrateMultiplier()))
}

func resolveEncoder(p Params, policy formatPolicy) string {
	if p.Accelerator == nil {
		return policy.video
	}
	for _, codec := range policy.accel {
		name, ok := AcceleratedName(p.Vendor, p.GOOS, codec)
		if ok && p.Accelerator.Available(name) {
			return name
		}
	}
	return policy.video
}

func paletteFilter(frameRate float64) string {
	fps := MaxAnimatedFrameRate
	if frameRate > 0 && !math.IsInf(frameRate, 0) && !math.IsNaN(frameRate) {
		fps = min(int(math.Round(frameRate)), MaxAnimatedFrameRate)
		fps = max(fps, 1)
	}
	return fmt.Sprintf(
		"fps=%d,scale=800:-1:flags=lanczos,split[s0][s1];[s0]palettegen=max_colors=64[p];[s1][p]paletteuse=dither=bayer",
		fps,
	)
}
