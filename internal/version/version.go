// Package version reports how the running vertd binary was built.
//
// Release builds set the variables with ldflags:
//
//	-X github.com/jmylchreest/vertd/internal/version.Version=x.y.z
//	-X github.com/jmylchreest/vertd/internal/version.Commit=<sha>
//	-X github.com/jmylchreest/vertd/internal/version.Date=<rfc3339>
//
// Plain go builds fall back to the VCS stamp in the embedded build info.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

const (
	Name    = "vertd"
	unknown = "unknown"
)

var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

// Info is the build description printed by `vertd version --json`.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var (
	stampOnce sync.Once
	stamp     vcsStamp
)

type vcsStamp struct {
	revision string
	time     string
	modified bool
}

func readStamp() vcsStamp {
	stampOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				stamp.revision = s.Value
			case "vcs.time":
				stamp.time = s.Value
			case "vcs.modified":
				stamp.modified = s.Value == "true"
			}
		}
	})
	return stamp
}

// GetInfo merges the ldflags values with the embedded VCS stamp.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	vcs := readStamp()
	if info.Commit == unknown && vcs.revision != "" {
		info.Commit = vcs.revision
		info.Modified = vcs.modified
	}
	if info.Date == unknown && vcs.time != "" {
		info.Date = vcs.time
	}
	return info
}

func (i Info) shortCommit() string {
	if i.Commit == unknown || len(i.Commit) < 8 {
		return ""
	}
	c := i.Commit[:8]
	if i.Modified {
		c += "-dirty"
	}
	return c
}

// String is the long form used by `vertd version`.
func String() string {
	info := GetInfo()
	if c := info.shortCommit(); c != "" {
		return fmt.Sprintf("%s %s (commit %s, built %s, %s %s)",
			Name, info.Version, c, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s %s (%s %s)", Name, info.Version, info.GoVersion, info.Platform)
}

// Short is the form shown by --version.
func Short() string {
	info := GetInfo()
	if c := info.shortCommit(); c != "" {
		return info.Version + " (" + c + ")"
	}
	return info.Version
}

// UserAgent is sent with outbound webhook requests.
func UserAgent() string {
	return Name + "/" + Version
}
