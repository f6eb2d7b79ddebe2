package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vertd/internal/converter"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoFFprobe skips the test if ffprobe is not installed.
func skipIfNoFFprobe(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return path
}

// shellCommand runs script with /bin/sh in place of ffmpeg.
func shellCommand(script string) *Command {
	return &Command{Binary: "/bin/sh", Args: []string{"-c", script}}
}

func collect(t *testing.T, p *Process) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events to close")
		}
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name   string
		output string
		full   string
		major  int
		minor  int
	}{
		{"release", "ffmpeg version 7.1 Copyright (c) 2000-2024", "7.1", 7, 1},
		{"git build", "ffmpeg version n6.0-2-gabc Copyright", "n6.0-2-gabc", 6, 0},
		{"distro suffix", "ffmpeg version 4.4.2-0ubuntu0.22.04.1 Copyright", "4.4.2-0ubuntu0.22.04.1", 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full, major, minor, err := parseVersion(tt.output+"\nbuilt with gcc\n", "ffmpeg")
			require.NoError(t, err)
			assert.Equal(t, tt.full, full)
			assert.Equal(t, tt.major, major)
			assert.Equal(t, tt.minor, minor)
		})
	}

	_, _, _, err := parseVersion("garbage", "ffprobe")
	assert.ErrorContains(t, err, "ffprobe")
}

func TestBinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	detector := NewBinaryDetector("", "")
	info, err := detector.Detect(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.FFprobePath)
	assert.NotEmpty(t, info.Version)

	again, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.Same(t, info, again, "result is cached")
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want Event
		ok   bool
	}{
		{"frame=42", FrameEvent(42), true},
		{"fps=29.97", FPSEvent(29.97), true},
		{"fps=0.00", FPSEvent(0), true},
		{"  frame=7  ", FrameEvent(7), true},
		{"stream_0_0_q=28.0", Event{}, false},
		{"bitrate=1234.5kbits/s", Event{}, false},
		{"out_time_us=1000000", Event{}, false},
		{"progress=continue", Event{}, false},
		{"speed=1.5x", Event{}, false},
		{"frame=abc", Event{}, false},
		{"", Event{}, false},
		{"Error opening output file out.mp4.", ErrorEvent("Error opening output file out.mp4."), true},
		{"[libx264 @ 0x55] preset=bogus not found", ErrorEvent("[libx264 @ 0x55] preset=bogus not found"), true},
		{"unknown_key=1", ErrorEvent("unknown_key=1"), true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode_Command(t *testing.T) {
	tests := []struct {
		name   string
		encode Encode
		want   []string
	}{
		{
			name: "strips metadata by default",
			encode: Encode{
				Binary:     "/usr/bin/ffmpeg",
				Input:      "input/a.mp4",
				Output:     "output/a.mkv",
				OutputArgs: []string{"-c:v", "libx264"},
			},
			want: []string{
				"-hide_banner", "-progress", "pipe:2", "-nostats", "-loglevel", "error", "-y",
				"-i", "input/a.mp4", "-map_metadata", "-1",
				"-c:v", "libx264",
				"output/a.mkv",
			},
		},
		{
			name: "hardware input args and kept metadata",
			encode: Encode{
				Binary:       "ffmpeg",
				Input:        "in.mov",
				Output:       "out.mp4",
				InputArgs:    []string{"-vaapi_device", "/dev/dri/renderD128"},
				OutputArgs:   []string{"-vf", "format=nv12,hwupload", "-c:v", "h264_vaapi"},
				KeepMetadata: true,
				LogLevel:     "warning",
			},
			want: []string{
				"-hide_banner", "-progress", "pipe:2", "-nostats", "-loglevel", "warning", "-y",
				"-vaapi_device", "/dev/dri/renderD128",
				"-i", "in.mov", "-map_metadata", "0",
				"-vf", "format=nv12,hwupload", "-c:v", "h264_vaapi",
				"out.mp4",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.encode.Command()
			assert.Equal(t, tt.want, cmd.Args)
			assert.Equal(t, tt.encode.Input, cmd.Input)
			assert.Equal(t, tt.encode.Output, cmd.Output)
		})
	}

	cmd := Encode{Binary: "/usr/bin/ffmpeg", Input: "a.mp4", Output: "a.gif"}.Command()
	assert.Equal(t, "/usr/bin/ffmpeg -hide_banner -progress pipe:2 -nostats -loglevel error -y -i a.mp4 -map_metadata -1 a.gif", cmd.String())
}

func TestProcess_EventsInOrder(t *testing.T) {
	p, err := shellCommand(`printf 'frame=1\nfps=2.5\nstream_0_0_q=1\nframe=2\nsomething broke\nprogress=end\n' >&2`).Start(context.Background())
	require.NoError(t, err)

	events := collect(t, p)
	assert.Equal(t, []Event{
		FrameEvent(1),
		FPSEvent(2.5),
		FrameEvent(2),
		ErrorEvent("something broke"),
	}, events)
	assert.NoError(t, p.Wait())
}

func TestProcess_NonZeroExitStillEndsSequence(t *testing.T) {
	p, err := shellCommand(`echo 'fatal' >&2; exit 3`).Start(context.Background())
	require.NoError(t, err)

	events := collect(t, p)
	assert.Equal(t, []Event{ErrorEvent("fatal")}, events)

	var exitErr *exec.ExitError
	require.True(t, errors.As(p.Wait(), &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestProcess_Kill(t *testing.T) {
	t.Run("kills a running process", func(t *testing.T) {
		p, err := shellCommand(`echo frame=1 >&2; exec sleep 30`).Start(context.Background())
		require.NoError(t, err)

		ev := <-p.Events()
		assert.Equal(t, FrameEvent(1), ev)

		require.NoError(t, p.Kill())
		require.NoError(t, p.Kill(), "kill is idempotent")

		collect(t, p)
		assert.Error(t, p.Wait())
	})

	t.Run("already exited is not an error", func(t *testing.T) {
		p, err := shellCommand(`exit 0`).Start(context.Background())
		require.NoError(t, err)
		collect(t, p)
		require.NoError(t, p.Wait())

		assert.NoError(t, p.Kill())
	})

	t.Run("unread events do not block kill", func(t *testing.T) {
		p, err := shellCommand(`while true; do echo frame=1 >&2; done`).Start(context.Background())
		require.NoError(t, err)

		<-p.Events()
		require.NoError(t, p.Kill())

		select {
		case <-p.Done():
		case <-time.After(10 * time.Second):
			t.Fatal("process did not exit after kill")
		}
	})
}

func TestProcess_KillReachesDescendants(t *testing.T) {
	// The shell forks sleep instead of exec'ing it, so the grandchild
	// holds stderr open until the whole group is killed.
	p, err := shellCommand(`echo frame=1 >&2; sleep 30; true`).Start(context.Background())
	require.NoError(t, err)
	<-p.Events()

	start := time.Now()
	require.NoError(t, p.Kill())
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("wait blocked on a descendant holding stderr")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Error(t, p.Wait())
}

func TestProcess_ExitDoesNotWaitForStderrHolders(t *testing.T) {
	p, err := shellCommand(`sleep 30 & exit 0`).start(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = killTree(p.cmd.Process) })

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("wait blocked past the drain grace")
	}
	require.NoError(t, p.Wait())
	collect(t, p)
}

func TestProcess_ContextCancelKills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := shellCommand(`exec sleep 30`).Start(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit after cancel")
	}
}

func TestProcess_Integration(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	out := filepath.Join(t.TempDir(), "out.mp4")

	cmd := Encode{
		Binary:     ffmpegPath,
		Input:      "testsrc=duration=1:size=160x120:rate=10",
		Output:     out,
		InputArgs:  []string{"-f", "lavfi"},
		OutputArgs: []string{"-c:v", "mpeg4"},
	}.Command()

	p, err := cmd.Start(context.Background())
	require.NoError(t, err)

	events := collect(t, p)
	require.NoError(t, p.Wait())

	var sawFrame bool
	for _, ev := range events {
		if ev.Kind == EventFrame {
			sawFrame = true
		}
	}
	assert.True(t, sawFrame)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"bad", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseFramerate(tt.input), 0.0001)
		})
	}
}

func fakeProber(out string, err error) (*Prober, *[]string) {
	var args []string
	p := NewProber("ffprobe")
	p.output = func(_ context.Context, _ string, a ...string) ([]byte, error) {
		args = a
		return []byte(out), err
	}
	return p, &args
}

func TestProber_Bitrate(t *testing.T) {
	t.Run("parses value", func(t *testing.T) {
		p, args := fakeProber("1500000\n", nil)
		v, err := p.Bitrate(context.Background(), "input/a.mp4")
		require.NoError(t, err)
		assert.Equal(t, uint64(1_500_000), v)
		assert.Equal(t, []string{
			"-v", "error",
			"-select_streams", "v:0",
			"-show_entries", "stream=bit_rate",
			"-of", "default=nokey=1:noprint_wrappers=1",
			"input/a.mp4",
		}, *args)
	})

	t.Run("unparsable uses default", func(t *testing.T) {
		p, _ := fakeProber("N/A\n", nil)
		v, err := p.Bitrate(context.Background(), "a.webm")
		require.NoError(t, err)
		assert.Equal(t, converter.DefaultBitrate, v)
	})

	t.Run("non-zero exit uses default", func(t *testing.T) {
		exitErr := exec.Command("/bin/sh", "-c", "exit 1").Run()
		p, _ := fakeProber("", exitErr)
		v, err := p.Bitrate(context.Background(), "a.webm")
		require.NoError(t, err)
		assert.Equal(t, converter.DefaultBitrate, v)
	})

	t.Run("spawn failure is an error", func(t *testing.T) {
		p, _ := fakeProber("", exec.ErrNotFound)
		_, err := p.Bitrate(context.Background(), "a.webm")
		assert.Error(t, err)
	})
}

func TestProber_FrameCountAndRate(t *testing.T) {
	p, args := fakeProber("250\n", nil)
	n, err := p.FrameCount(context.Background(), "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), n)
	assert.Contains(t, *args, "-count_frames")
	assert.Contains(t, *args, "stream=nb_read_frames")

	p, _ = fakeProber("N/A", nil)
	_, err = p.FrameCount(context.Background(), "a.mp4")
	assert.Error(t, err)

	p, _ = fakeProber("30000/1001\n", nil)
	fps, err := p.FrameRate(context.Background(), "a.mp4")
	require.NoError(t, err)
	assert.InDelta(t, 29.97, fps, 0.01)
}

func TestAcceleratorProber(t *testing.T) {
	var calls atomic.Int32
	var lastArgs []string

	p := NewAcceleratorProber("ffmpeg")
	p.run = func(_ context.Context, _ string, args ...string) error {
		calls.Add(1)
		lastArgs = args
		if args[len(args)-6] == "h264_nvenc" {
			return nil
		}
		return errors.New("no device")
	}

	assert.True(t, p.Available("h264_nvenc"))
	assert.Equal(t, []string{
		"-hide_banner",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-c:v", "h264_nvenc", "-t", "0.01", "-f", "null", "-",
	}, lastArgs)

	assert.False(t, p.Available("av1_nvenc"), "probe failure means unavailable")
	assert.True(t, p.Available("h264_nvenc"))
	assert.False(t, p.Available("av1_nvenc"))
	assert.Equal(t, int32(2), calls.Load(), "answers are cached")

	assert.Equal(t, map[string]bool{"h264_nvenc": true, "av1_nvenc": false}, p.Probed())
}

func TestAcceleratorProber_DeviceArgs(t *testing.T) {
	p := NewAcceleratorProber("ffmpeg")

	vaapi := p.testArgs("vp9_vaapi")
	assert.Contains(t, vaapi, "-vaapi_device")
	assert.Contains(t, vaapi, "format=nv12,hwupload")

	qsv := p.testArgs("h264_qsv")
	assert.Contains(t, qsv, "qsv=hw")

	vt := p.testArgs("h264_videotoolbox")
	assert.NotContains(t, vt, "-vf")
}

func TestVendorDetector(t *testing.T) {
	missing := func(string) (string, error) { return "", exec.ErrNotFound }
	noFile := func(string) ([]byte, error) { return nil, os.ErrNotExist }
	noCPU := func(context.Context) (string, error) { return "", errors.New("no cpu") }

	tests := []struct {
		name    string
		forced  string
		d       *VendorDetector
		want    converter.Vendor
		wantErr bool
	}{
		{
			name:   "forced wins",
			forced: "Intel",
			d:      &VendorDetector{goos: "linux", lookPath: func(string) (string, error) { return "/usr/bin/nvidia-smi", nil }},
			want:   converter.VendorIntel,
		},
		{
			name:    "forced invalid",
			forced:  "voodoo",
			d:       &VendorDetector{},
			wantErr: true,
		},
		{
			name: "nvidia-smi present",
			d:    &VendorDetector{goos: "linux", lookPath: func(string) (string, error) { return "/usr/bin/nvidia-smi", nil }},
			want: converter.VendorNVIDIA,
		},
		{
			name: "darwin means apple",
			d:    &VendorDetector{goos: "darwin", lookPath: missing},
			want: converter.VendorApple,
		},
		{
			name: "render node vendor id",
			d: &VendorDetector{goos: "linux", lookPath: missing, readFile: func(string) ([]byte, error) {
				return []byte("0x1002\n"), nil
			}},
			want: converter.VendorAMD,
		},
		{
			name: "cpu vendor fallback",
			d: &VendorDetector{goos: "linux", lookPath: missing, readFile: noFile, cpuVendor: func(context.Context) (string, error) {
				return "GenuineIntel", nil
			}},
			want: converter.VendorIntel,
		},
		{
			name:    "nothing found",
			d:       &VendorDetector{goos: "linux", lookPath: missing, readFile: noFile, cpuVendor: noCPU},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.d.Detect(context.Background(), tt.forced)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProcessMonitor_Sample(t *testing.T) {
	p, err := shellCommand(`exec sleep 5`).Start(context.Background())
	require.NoError(t, err)
	defer p.Kill()

	stats, err := NewProcessMonitor(p.PID(), p.StartedAt()).Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p.PID(), stats.PID)
	assert.NotZero(t, stats.MemoryRSSBytes)
}
