//go:build !windows

package ffmpeg

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// isolate puts the child in a new process group so killTree reaches any
// wrapper script's descendants.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killTree(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
