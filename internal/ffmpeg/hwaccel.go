package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/jmylchreest/vertd/internal/converter"
)

const (
	defaultRenderNode     = "/dev/dri/renderD128"
	defaultRenderVendorID = "/sys/class/drm/renderD128/device/vendor"
	defaultTestTimeout    = 10 * time.Second
)

// PCI vendor ids exposed by DRM render nodes.
var pciVendors = map[string]converter.Vendor{
	"0x10de": converter.VendorNVIDIA,
	"0x8086": converter.VendorIntel,
	"0x1002": converter.VendorAMD,
}

// VendorDetector guesses which GPU vendor's encoders the host can use.
type VendorDetector struct {
	goos      string
	lookPath  func(string) (string, error)
	readFile  func(string) ([]byte, error)
	cpuVendor func(context.Context) (string, error)
}

// NewVendorDetector creates a detector bound to the running host.
func NewVendorDetector() *VendorDetector {
	return &VendorDetector{
		goos:      runtime.GOOS,
		lookPath:  exec.LookPath,
		readFile:  os.ReadFile,
		cpuVendor: hostCPUVendor,
	}
}

// Detect returns the forced vendor when set, otherwise checks for
// nvidia-smi, macOS, the DRM render node vendor id and finally the CPU vendor
// for integrated graphics.
func (d *VendorDetector) Detect(ctx context.Context, forced string) (converter.Vendor, error) {
	if forced != "" {
		return converter.ParseVendor(forced)
	}

	if _, err := d.lookPath("nvidia-smi"); err == nil {
		return converter.VendorNVIDIA, nil
	}
	if d.goos == "darwin" {
		return converter.VendorApple, nil
	}
	if data, err := d.readFile(defaultRenderVendorID); err == nil {
		if v, ok := pciVendors[strings.ToLower(strings.TrimSpace(string(data)))]; ok {
			return v, nil
		}
	}

	id, err := d.cpuVendor(ctx)
	if err != nil {
		return converter.VendorNone, fmt.Errorf("detecting cpu vendor: %w", err)
	}
	switch id {
	case "GenuineIntel":
		return converter.VendorIntel, nil
	case "AuthenticAMD":
		return converter.VendorAMD, nil
	}
	return converter.VendorNone, fmt.Errorf("no supported GPU vendor found (cpu vendor %q)", id)
}

func hostCPUVendor(ctx context.Context) (string, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", fmt.Errorf("no cpu info")
	}
	return infos[0].VendorID, nil
}

// AcceleratorProber checks hardware encoders with a tiny test encode.
// Answers are cached for the life of the prober and probe failures count as
// unavailable.
type AcceleratorProber struct {
	ffmpegPath string
	renderNode string
	timeout    time.Duration
	logger     *slog.Logger
	run        func(ctx context.Context, name string, args ...string) error

	mu    sync.Mutex
	cache map[string]bool
}

// NewAcceleratorProber creates a prober using the given ffmpeg binary.
func NewAcceleratorProber(ffmpegPath string) *AcceleratorProber {
	return &AcceleratorProber{
		ffmpegPath: ffmpegPath,
		renderNode: defaultRenderNode,
		timeout:    defaultTestTimeout,
		logger:     slog.Default(),
		run:        runQuiet,
		cache:      make(map[string]bool),
	}
}

// WithLogger sets the logger.
func (p *AcceleratorProber) WithLogger(logger *slog.Logger) *AcceleratorProber {
	p.logger = logger.With(slog.String("component", "accelerator_prober"))
	return p
}

// WithRenderNode sets the VAAPI device used by test encodes. Empty keeps
// the default node.
func (p *AcceleratorProber) WithRenderNode(node string) *AcceleratorProber {
	if node != "" {
		p.renderNode = node
	}
	return p
}

// WithTimeout bounds each test encode.
func (p *AcceleratorProber) WithTimeout(timeout time.Duration) *AcceleratorProber {
	p.timeout = timeout
	return p
}

// Available reports whether the encoder works on this host.
// The lock is not held while the test encode runs, so two concurrent first
// calls may both probe; the answers are identical.
func (p *AcceleratorProber) Available(encoder string) bool {
	p.mu.Lock()
	if ok, cached := p.cache[encoder]; cached {
		p.mu.Unlock()
		return ok
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.run(ctx, p.ffmpegPath, p.testArgs(encoder)...)
	ok := err == nil
	if err != nil {
		p.logger.Debug("hardware encoder unavailable",
			slog.String("encoder", encoder),
			slog.String("error", err.Error()),
		)
	} else {
		p.logger.Info("hardware encoder available", slog.String("encoder", encoder))
	}

	p.mu.Lock()
	p.cache[encoder] = ok
	p.mu.Unlock()
	return ok
}

// Probed returns a copy of every answer cached so far.
func (p *AcceleratorProber) Probed() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]bool, len(p.cache))
	for k, v := range p.cache {
		out[k] = v
	}
	return out
}

func (p *AcceleratorProber) testArgs(encoder string) []string {
	input, filter := HardwareArgs(converter.FamilyOf(encoder), p.renderNode)

	args := append([]string{"-hide_banner"}, input...)
	args = append(args, "-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1")
	args = append(args, filter...)
	return append(args, "-c:v", encoder, "-t", "0.01", "-f", "null", "-")
}

// HardwareArgs returns the device arguments placed before -i and the upload
// filter placed after it for encoders that run on a hardware surface. Other
// families need neither.
func HardwareArgs(family converter.EncoderFamily, renderNode string) (input, filter []string) {
	if renderNode == "" {
		renderNode = defaultRenderNode
	}
	switch family {
	case converter.FamilyVAAPI:
		return []string{"-vaapi_device", renderNode}, []string{"-vf", "format=nv12,hwupload"}
	case converter.FamilyQSV:
		return []string{"-init_hw_device", "qsv=hw"}, []string{"-vf", "hwupload=extra_hw_frames=64,format=qsv"}
	default:
		return nil, nil
	}
}

// RenderNode returns the DRM render node used for VAAPI.
func (p *AcceleratorProber) RenderNode() string {
	return p.renderNode
}

func runQuiet(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}
