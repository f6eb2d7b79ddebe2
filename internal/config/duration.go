package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// calendarUnits matches the day and week components that time.ParseDuration
// does not understand.
var calendarUnits = regexp.MustCompile(`(\d+)([dw])`)

// Duration is a time.Duration that additionally accepts d (days) and
// w (weeks), e.g. "1w2d12h" or "90m".
type Duration time.Duration

// ParseDuration parses a duration string with optional day and week units.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parsing duration: empty string")
	}
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var total time.Duration
	var convErr error
	rest := calendarUnits.ReplaceAllStringFunc(strings.ToLower(s), func(m string) string {
		parts := calendarUnits.FindStringSubmatch(m)
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			convErr = err
			return ""
		}
		unit := day
		if parts[2] == "w" {
			unit = week
		}
		total += time.Duration(n) * unit
		return ""
	})
	if convErr != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", s, convErr)
	}
	if rest != "" {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("parsing duration %q: %w", s, err)
		}
		total += d
	}
	if negative {
		total = -total
	}
	return Duration(total), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON accepts either a string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var ns int64
		if err := json.Unmarshal(data, &ns); err != nil {
			return err
		}
		*d = Duration(ns)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String prefers week and day units for long durations.
func (d Duration) String() string {
	dur := time.Duration(d)
	if dur == 0 {
		return "0s"
	}
	sign := ""
	if dur < 0 {
		sign = "-"
		dur = -dur
	}

	var b strings.Builder
	if w := dur / week; w > 0 {
		fmt.Fprintf(&b, "%dw", w)
		dur -= w * week
	}
	if dd := dur / day; dd > 0 {
		fmt.Fprintf(&b, "%dd", dd)
		dur -= dd * day
	}
	if dur > 0 {
		b.WriteString(dur.String())
	}
	return sign + b.String()
}
