package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/vertd/internal/models"
)

// JobCounter reports registry occupancy.
type JobCounter interface {
	Snapshot() []*models.Job
	ActiveCount() int
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	jobs      JobCounter
	db        Pinger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, jobs JobCounter) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		jobs:      jobs,
	}
}

// WithDB sets the history database checked by the health endpoint.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body Envelope[HealthResponse]
}

// HealthResponse describes the service and its host.
type HealthResponse struct {
	Status        string     `json:"status" doc:"healthy or degraded"`
	Timestamp     string     `json:"timestamp"`
	Version       string     `json:"version"`
	Uptime        string     `json:"uptime"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	CPU           CPUInfo    `json:"cpu"`
	Memory        MemoryInfo `json:"memory"`
	Jobs          JobsInfo   `json:"jobs"`
	Database      string     `json:"database" doc:"ok, error or disabled"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system memory and the memory of vertd and its encoders.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMB         float64 `json:"process_mb"`
	EncoderCount      int     `json:"encoder_count"`
	EncodersMB        float64 `json:"encoders_mb"`
}

// JobsInfo holds registry occupancy.
type JobsInfo struct {
	Registered    int                     `json:"registered"`
	Converting    int                     `json:"converting"`
	ByState       map[models.JobState]int `json:"by_state"`
	OldestSeconds float64                 `json:"oldest_seconds" doc:"Age of the oldest registered job"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPU:           h.getCPUInfo(),
		Memory:        h.getMemoryInfo(),
		Database:      "disabled",
	}
	if h.jobs != nil {
		resp.Jobs = h.getJobsInfo(now)
	}
	if h.db != nil {
		resp.Database = "ok"
		if err := h.db.Ping(ctx); err != nil {
			resp.Database = "error"
			resp.Status = "degraded"
		}
	}

	return &HealthOutput{Body: success(resp)}, nil
}

func (h *HealthHandler) getJobsInfo(now time.Time) JobsInfo {
	jobs := h.jobs.Snapshot()
	info := JobsInfo{
		Registered: len(jobs),
		Converting: h.jobs.ActiveCount(),
		ByState:    make(map[models.JobState]int),
	}
	for _, job := range jobs {
		info.ByState[job.State]++
		if age := now.Sub(job.CreatedAt).Seconds(); age > info.OldestSeconds {
			info.OldestSeconds = age
		}
	}
	return info
}

func (h *HealthHandler) getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(info.Cores)) * 100
		}
	}
	return info
}

func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = toMB(vmStat.Total)
		info.UsedMemoryMB = toMB(vmStat.Used)
		info.AvailableMemoryMB = toMB(vmStat.Available)
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		info.ProcessMB = toMB(memInfo.RSS)
	}

	// Every child is an encoder.
	children, err := proc.Children()
	if err == nil {
		info.EncoderCount = len(children)
		for _, child := range children {
			if childMem, err := child.MemoryInfo(); err == nil && childMem != nil {
				info.EncodersMB += toMB(childMem.RSS)
			}
		}
	}
	return info
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
