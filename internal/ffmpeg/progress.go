package ffmpeg

import (
	"strconv"
	"strings"
)

// EventKind discriminates progress events.
type EventKind int

const (
	// EventFrame carries the number of frames encoded so far.
	EventFrame EventKind = iota
	// EventFPS carries the current encode speed in frames per second.
	EventFPS
	// EventError carries a diagnostic line from stderr.
	EventError
)

// Event is one sample from a running conversion.
type Event struct {
	Kind  EventKind
	Frame uint64
	FPS   float64
	Line  string
}

// FrameEvent builds an EventFrame.
func FrameEvent(n uint64) Event { return Event{Kind: EventFrame, Frame: n} }

// FPSEvent builds an EventFPS.
func FPSEvent(fps float64) Event { return Event{Kind: EventFPS, FPS: fps} }

// ErrorEvent builds an EventError.
func ErrorEvent(line string) Event { return Event{Kind: EventError, Line: line} }

// Keys emitted by "-progress" that are not relayed.
var ignoredProgressKeys = map[string]struct{}{
	"bitrate":     {},
	"total_size":  {},
	"out_time_us": {},
	"out_time_ms": {},
	"out_time":    {},
	"dup_frames":  {},
	"drop_frames": {},
	"speed":       {},
	"progress":    {},
}

// ParseLine classifies one line of "-progress pipe:2" output interleaved with
// ffmpeg's error log. It reports false for lines that produce no event.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	key, value, ok := strings.Cut(line, "=")
	if !ok || !isProgressKey(key) {
		return ErrorEvent(line), true
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return Event{}, false
		}
		return FrameEvent(n), true
	case "fps":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Event{}, false
		}
		return FPSEvent(f), true
	}

	if _, ignored := ignoredProgressKeys[key]; ignored || strings.HasPrefix(key, "stream_") {
		return Event{}, false
	}
	return ErrorEvent(line), true
}

// isProgressKey reports whether key looks like a "-progress" key rather than
// free-form log text that happens to contain '='.
func isProgressKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
