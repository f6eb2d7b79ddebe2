package converter

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Speed is the client-selected trade-off between encode time and quality.
type Speed int

const (
	SpeedUltraFast Speed = iota
	SpeedFast
	SpeedMedium
	SpeedSlow
	SpeedSlower
	SpeedVerySlow
)

var speedNames = [...]string{"ultraFast", "fast", "medium", "slow", "slower", "verySlow"}

var (
	bitrateMultipliers = [...]float64{0.88, 0.94, 1.0, 1.06, 1.12, 1.18}
	x264Presets        = [...]string{"ultrafast", "fast", "medium", "slow", "slower", "veryslow"}
	nvencPresets       = [...]string{"fast", "fast", "medium", "medium", "slow", "slow"}
	amfPresets         = [...]string{"speed", "speed", "balanced", "balanced", "quality", "quality"}
	effortLevels       = [...]int{4, 3, 2, 1, 0, -1}
	theoraLevels       = [...]int{2, 2, 1, 1, 0, 0}
)

// Speeds returns all tiers from fastest to slowest.
func Speeds() []Speed {
	return []Speed{SpeedUltraFast, SpeedFast, SpeedMedium, SpeedSlow, SpeedSlower, SpeedVerySlow}
}

// ParseSpeed parses the wire name of a speed tier.
func ParseSpeed(s string) (Speed, error) {
	for i, name := range speedNames {
		if name == s {
			return Speed(i), nil
		}
	}
	return 0, fmt.Errorf("unknown speed %q", s)
}

func (s Speed) valid() bool {
	return s >= SpeedUltraFast && s <= SpeedVerySlow
}

// String returns the wire name.
func (s Speed) String() string {
	if !s.valid() {
		return "speed(" + strconv.Itoa(int(s)) + ")"
	}
	return speedNames[s]
}

// BitrateMultiplier scales the target bitrate. It grows from the fastest to
// the slowest tier and stays within [0.88, 1.18].
func (s Speed) BitrateMultiplier() float64 {
	if !s.valid() {
		return 1.0
	}
	return bitrateMultipliers[s]
}

// MarshalJSON encodes the speed by name.
func (s Speed) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a speed name.
func (s *Speed) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, err := ParseSpeed(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// preset returns the encoder preset name for the tier. The vocabulary depends
// on which encoder family will actually run.
func (s Speed) preset(family EncoderFamily) string {
	switch family {
	case FamilyNVENC:
		return nvencPresets[s]
	case FamilyAMF:
		return amfPresets[s]
	default:
		return x264Presets[s]
	}
}
