//go:build windows

package ffmpeg

import (
	"os"
	"os/exec"
)

func isolate(*exec.Cmd) {}

// killTree kills the direct child. Descendants that keep stderr open are
// cut off by the drain grace period instead.
func killTree(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}
