package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/vertd/internal/converter"
	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/registry"
	"github.com/jmylchreest/vertd/internal/storage"
)

// SourceProber reads properties of an uploaded source.
type SourceProber interface {
	Bitrate(ctx context.Context, path string) (uint64, error)
	FrameCount(ctx context.Context, path string) (uint64, error)
	FrameRate(ctx context.Context, path string) (float64, error)
}

// Request is an accepted start command. Job must already carry its target
// format.
type Request struct {
	Job          *models.Job
	Target       converter.Format
	Speed        converter.Speed
	KeepMetadata bool
}

// Config configures the encoder invocation.
type Config struct {
	FFmpegPath string
	Vendor     converter.Vendor
	// RenderNode is the VAAPI device; empty uses the default node.
	RenderNode string
	// MonitorInterval is how often encoder resource usage is logged.
	// Zero disables monitoring.
	MonitorInterval time.Duration
}

// Service starts conversions.
type Service struct {
	registry  *registry.Registry
	workspace *storage.Workspace
	prober    SourceProber
	accel     converter.Accelerator
	config    Config
	logger    *slog.Logger

	start func(ctx context.Context, cmd *ffmpeg.Command) (process, error)
}

// NewService creates a conversion service. accel may be nil to disable
// hardware encoders.
func NewService(reg *registry.Registry, ws *storage.Workspace, prober SourceProber, accel converter.Accelerator, config Config) *Service {
	return &Service{
		registry:  reg,
		workspace: ws,
		prober:    prober,
		accel:     accel,
		config:    config,
		logger:    slog.Default().With(slog.String("component", "conversion")),
		start:     startFFmpeg,
	}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger.With(slog.String("component", "conversion"))
	return s
}

func startFFmpeg(ctx context.Context, cmd *ffmpeg.Command) (process, error) {
	return cmd.Start(ctx)
}

// Command resolves the encoder invocation for req without starting it.
// Probe results are memoized on the job in the registry.
func (s *Service) Command(ctx context.Context, req Request) (*ffmpeg.Command, converter.Plan, error) {
	job := req.Job
	if job == nil {
		return nil, converter.Plan{}, errors.New("conversion request has no job")
	}
	if job.To != req.Target.String() {
		return nil, converter.Plan{}, fmt.Errorf("job target %q does not match requested %q", job.To, req.Target)
	}

	inputPath, err := s.workspace.InputPath(job.InputName())
	if err != nil {
		return nil, converter.Plan{}, err
	}
	outputPath, err := s.workspace.OutputPath(job.OutputName())
	if err != nil {
		return nil, converter.Plan{}, err
	}

	params := converter.Params{
		Target:      req.Target,
		Speed:       req.Speed,
		Vendor:      s.config.Vendor,
		Accelerator: s.accel,
	}
	if req.Target.Animated() {
		params.FrameRate = s.frameRate(ctx, job, inputPath)
	} else if req.Target.Supported() {
		bitrate, err := s.bitrate(ctx, job, inputPath)
		if err != nil {
			return nil, converter.Plan{}, err
		}
		params.SourceBitrate = bitrate
	}

	plan, err := converter.BuildArgs(params)
	if err != nil {
		return nil, converter.Plan{}, err
	}

	hwInput, hwFilter := ffmpeg.HardwareArgs(plan.Family, s.config.RenderNode)
	cmd := ffmpeg.Encode{
		Binary:       s.config.FFmpegPath,
		Input:        inputPath,
		Output:       outputPath,
		InputArgs:    hwInput,
		OutputArgs:   append(hwFilter, plan.Args...),
		KeepMetadata: req.KeepMetadata,
	}.Command()
	return cmd, plan, nil
}

// Start spawns the encoder for req. The returned handle must be waited on.
func (s *Service) Start(ctx context.Context, req Request) (Handle, error) {
	cmd, plan, err := s.Command(ctx, req)
	if err != nil {
		return nil, err
	}
	job := req.Job

	proc, err := s.start(ctx, cmd)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(slog.String("job_id", job.ID.String()))
	logger.Info("conversion started",
		slog.String("from", job.From),
		slog.String("to", job.To),
		slog.String("speed", req.Speed.String()),
		slog.String("encoder", plan.VideoEncoder),
		slog.Uint64("bitrate", plan.Bitrate),
		slog.Int("pid", proc.PID()),
	)
	logger.Debug("encoder command", slog.String("command", cmd.String()))

	bgCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	c := &Conversion{
		jobID:          job.ID,
		proc:           proc,
		workspace:      s.workspace,
		outputName:     job.OutputName(),
		logger:         logger,
		stopBackground: stop,
	}

	if s.config.MonitorInterval > 0 {
		monitor := ffmpeg.NewProcessMonitor(proc.PID(), proc.StartedAt()).
			WithInterval(s.config.MonitorInterval).
			WithLogger(logger)
		go monitor.Run(bgCtx)
	}
	go s.countFrames(bgCtx, c, job, cmd.Input)

	return c, nil
}

func (s *Service) bitrate(ctx context.Context, job *models.Job, path string) (uint64, error) {
	if job.CachedBitrate != nil {
		return *job.CachedBitrate, nil
	}
	v, err := s.prober.Bitrate(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("probing bitrate: %w", err)
	}
	s.memoize(job.ID, func(j *models.Job) {
		if j.CachedBitrate == nil {
			j.CachedBitrate = &v
		}
	})
	return v, nil
}

func (s *Service) frameRate(ctx context.Context, job *models.Job, path string) float64 {
	if job.CachedFrameRate != nil {
		return *job.CachedFrameRate
	}
	v, err := s.prober.FrameRate(ctx, path)
	if err != nil {
		s.logger.Warn("frame rate probe failed, using the animated maximum",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()),
		)
		return 0
	}
	s.memoize(job.ID, func(j *models.Job) {
		if j.CachedFrameRate == nil {
			j.CachedFrameRate = &v
		}
	})
	return v
}

// countFrames probes the source frame count in the background. It decodes
// the whole stream, so it must not delay the start of the conversion.
func (s *Service) countFrames(ctx context.Context, c *Conversion, job *models.Job, path string) {
	if job.CachedFrameCount != nil {
		c.setTotalFrames(*job.CachedFrameCount)
		return
	}
	v, err := s.prober.FrameCount(ctx, path)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("frame count probe failed",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	c.setTotalFrames(v)
	s.memoize(job.ID, func(j *models.Job) {
		if j.CachedFrameCount == nil {
			j.CachedFrameCount = &v
		}
	})
}

func (s *Service) memoize(id models.JobID, fn func(j *models.Job)) {
	_, err := s.registry.Update(id, func(j *models.Job) error {
		fn(j)
		return nil
	})
	if err != nil && !errors.Is(err, models.ErrJobNotFound) {
		s.logger.Warn("failed to memoize probe result",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}
