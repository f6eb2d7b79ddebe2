package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage of an ffmpeg process.
type ProcessStats struct {
	PID            int           `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	MemoryRSSMB    float64       `json:"memory_rss_mb"`
	Duration       time.Duration `json:"duration"`
	SampledAt      time.Time     `json:"sampled_at"`
}

// ProcessMonitor samples the resource usage of a running encoder.
type ProcessMonitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration
	logger    *slog.Logger
	proc      *process.Process
}

// NewProcessMonitor creates a monitor for pid.
func NewProcessMonitor(pid int, startedAt time.Time) *ProcessMonitor {
	return &ProcessMonitor{
		pid:       pid,
		startedAt: startedAt,
		interval:  5 * time.Second,
		logger:    slog.Default(),
	}
}

// WithInterval sets how often Run samples.
func (pm *ProcessMonitor) WithInterval(d time.Duration) *ProcessMonitor {
	pm.interval = d
	return pm
}

// WithLogger sets the logger.
func (pm *ProcessMonitor) WithLogger(logger *slog.Logger) *ProcessMonitor {
	pm.logger = logger
	return pm
}

// Sample reads the current CPU and memory usage.
func (pm *ProcessMonitor) Sample(ctx context.Context) (ProcessStats, error) {
	if pm.proc == nil {
		proc, err := process.NewProcessWithContext(ctx, int32(pm.pid))
		if err != nil {
			return ProcessStats{}, fmt.Errorf("opening process %d: %w", pm.pid, err)
		}
		pm.proc = proc
	}

	now := time.Now()
	stats := ProcessStats{
		PID:       pm.pid,
		Duration:  now.Sub(pm.startedAt),
		SampledAt: now,
	}

	cpuPercent, err := pm.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("reading cpu usage: %w", err)
	}
	stats.CPUPercent = cpuPercent

	mem, err := pm.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("reading memory usage: %w", err)
	}
	stats.MemoryRSSBytes = mem.RSS
	stats.MemoryRSSMB = float64(mem.RSS) / (1024 * 1024)

	return stats, nil
}

// Run samples on the configured interval and logs at debug level until ctx
// is cancelled or sampling fails, which happens once the process has exited.
func (pm *ProcessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := pm.Sample(ctx)
			if err != nil {
				return
			}
			pm.logger.Debug("encoder resource usage",
				slog.Int("pid", stats.PID),
				slog.Float64("cpu_percent", stats.CPUPercent),
				slog.Float64("memory_rss_mb", stats.MemoryRSSMB),
				slog.Duration("duration", stats.Duration),
			)
		}
	}
}
