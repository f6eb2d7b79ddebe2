package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	maxStderrLine = 1 << 20
	// drainGrace bounds how long stderr may stay open after the encoder
	// exits. A descendant that inherited the pipe cannot delay Wait longer.
	drainGrace = 2 * time.Second
)

// Process is a running ffmpeg conversion. Its stderr is parsed into events
// that are delivered in order, with none dropped, until the process exits
// or is killed.
type Process struct {
	cmd       *exec.Cmd
	startedAt time.Time
	grace     time.Duration

	events   chan Event
	abandon  chan struct{}
	readDone chan struct{}
	done     chan struct{}

	killOnce sync.Once
	waitErr  error
}

// Start spawns the command in its own process group. Cancelling ctx kills
// the whole group.
func (c *Command) Start(ctx context.Context) (*Process, error) {
	return c.start(ctx, drainGrace)
}

func (c *Command) start(ctx context.Context, grace time.Duration) (*Process, error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	isolate(cmd)
	cmd.Cancel = func() error { return killTree(cmd.Process) }

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	w.Close()

	p := &Process{
		cmd:       cmd,
		startedAt: time.Now(),
		grace:     grace,
		events:    make(chan Event),
		abandon:   make(chan struct{}),
		readDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	go p.read(r)
	go p.wait(r)
	return p, nil
}

// Events returns the progress sequence. It is closed once the process has
// exited and all of its output has been consumed.
func (p *Process) Events() <-chan Event {
	return p.events
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// StartedAt returns when the process was spawned.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Done is closed after the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Kill terminates the process and everything it spawned. It is safe to call
// more than once and returns nil if the process had already exited. Event
// delivery stops once Kill has been called.
func (p *Process) Kill() error {
	p.killOnce.Do(func() { close(p.abandon) })

	select {
	case <-p.done:
		return nil
	default:
	}

	if err := killTree(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing ffmpeg: %w", err)
	}
	return nil
}

// Wait blocks until the process exits and returns its exit status.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

func (p *Process) read(stderr io.Reader) {
	defer close(p.readDone)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrLine)

	abandoned := false
	for scanner.Scan() {
		if abandoned {
			continue
		}
		ev, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		select {
		case p.events <- ev:
		case <-p.abandon:
			// Keep draining so the process never blocks on a full pipe.
			abandoned = true
		}
	}
	if scanner.Err() != nil {
		// Overlong line; drain the rest without parsing.
		_, _ = io.Copy(io.Discard, stderr)
	}
}

// wait reaps the process, then gives the reader the grace period to reach
// EOF before closing the pipe under it.
func (p *Process) wait(stderr *os.File) {
	err := p.cmd.Wait()

	timer := time.NewTimer(p.grace)
	select {
	case <-p.readDone:
	case <-timer.C:
		_ = stderr.Close()
		<-p.readDone
	}
	timer.Stop()
	_ = stderr.Close()

	p.waitErr = err
	close(p.events)
	close(p.done)
}
