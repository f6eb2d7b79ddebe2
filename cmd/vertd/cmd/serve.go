package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vertd/internal/config"
	"github.com/jmylchreest/vertd/internal/conversion"
	"github.com/jmylchreest/vertd/internal/converter"
	"github.com/jmylchreest/vertd/internal/database"
	"github.com/jmylchreest/vertd/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/vertd/internal/http"
	"github.com/jmylchreest/vertd/internal/http/handlers"
	"github.com/jmylchreest/vertd/internal/mirror"
	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/notify"
	"github.com/jmylchreest/vertd/internal/protocol"
	"github.com/jmylchreest/vertd/internal/registry"
	"github.com/jmylchreest/vertd/internal/repository"
	"github.com/jmylchreest/vertd/internal/retention"
	"github.com/jmylchreest/vertd/internal/service"
	"github.com/jmylchreest/vertd/internal/storage"
	"github.com/jmylchreest/vertd/internal/version"
	"github.com/jmylchreest/vertd/pkg/httpclient"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vertd server",
	Long: `Start the vertd HTTP server.

The server accepts uploads, runs conversions requested over the websocket
and serves each output once. Inputs and outputs left by a previous run are
discarded on start unless storage.reset_on_start is false.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "host to bind to")
	serveCmd.Flags().IntP("port", "p", 24153, "port to listen on")
	serveCmd.Flags().String("data-dir", "", "base directory for input, output and permanent files")
	serveCmd.Flags().String("gpu", "", "skip GPU detection and use this vendor (amd, intel, nvidia, apple)")
}

// applyServeFlags overrides config values with flags the user set.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("gpu") {
		cfg.FFmpeg.ForceGPU, _ = flags.GetString("gpu")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := version.GetInfo()
	logger.Info("starting vertd",
		slog.String("version", build.Version),
		slog.String("commit", build.Commit),
	)

	binaries, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath).Detect(ctx)
	if err != nil {
		logger.Error("failed to get ffmpeg version, vertd requires ffmpeg to be on the path or next to the executable",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Info("found encoder binaries",
		slog.String("ffmpeg", binaries.FFmpegPath),
		slog.String("ffmpeg_version", binaries.Version),
		slog.String("ffprobe", binaries.FFprobePath),
		slog.String("ffprobe_version", binaries.FFprobeVersion),
	)

	vendor, err := ffmpeg.NewVendorDetector().Detect(ctx, cfg.FFmpeg.ForceGPU)
	if err != nil {
		logger.Warn("failed to get GPU vendor, conversions will run on the CPU and be much slower",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info(fmt.Sprintf("detected %s %s GPU", vendor.Article(), vendor),
			slog.Bool("forced", cfg.FFmpeg.ForceGPU != ""),
		)
	}

	ws, err := storage.NewWorkspace(cfg.Storage.BaseDir, cfg.Storage.InputDir, cfg.Storage.OutputDir, cfg.Storage.Reset)
	if err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	permanent, err := openPermanentStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	logger.Info("storage ready",
		slog.String("base_dir", cfg.Storage.BaseDir),
		slog.String("permanent", permanent.Name()),
	)

	reg := registry.New(logger)

	prober := ffmpeg.NewProber(binaries.FFprobePath).WithTimeout(cfg.FFmpeg.ProbeTimeout)
	var accel converter.Accelerator
	if vendor != converter.VendorNone {
		accel = ffmpeg.NewAcceleratorProber(binaries.FFmpegPath).
			WithLogger(logger).
			WithTimeout(cfg.FFmpeg.ProbeTimeout).
			WithRenderNode(cfg.FFmpeg.RenderNode)
	}
	conv := conversion.NewService(reg, ws, prober, accel, conversion.Config{
		FFmpegPath:      binaries.FFmpegPath,
		Vendor:          vendor,
		RenderNode:      cfg.FFmpeg.RenderNode,
		MonitorInterval: cfg.FFmpeg.MonitorInterval,
	}).WithLogger(logger)

	dispatcher := newDispatcher(cfg.Webhook, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logger.Warn("pending notifications dropped", slog.String("error", err.Error()))
		}
	}()

	var jobMirror service.Mirror = mirror.Noop{}
	if cfg.Mirror.Enabled {
		client, err := mirror.Dial(ctx, cfg.Mirror)
		if err != nil {
			return fmt.Errorf("opening mirror: %w", err)
		}
		defer client.Close()
		jobMirror = mirror.NewRedis(client, cfg.Mirror.KeyPrefix, cfg.Retention.OutputLifetime.Duration()).WithLogger(logger)
		logger.Info("job mirror enabled", slog.String("addr", cfg.Mirror.Addr))
	}

	scheduler := retention.NewScheduler(reg, ws, retention.Config{
		InputDelay:     cfg.Retention.InputDelay.Duration(),
		OutputLifetime: cfg.Retention.OutputLifetime.Duration(),
		UploadLifetime: cfg.Retention.UploadLifetime.Duration(),
	}).WithLogger(logger).OnRemove(func(id models.JobID) {
		_ = jobMirror.Forget(context.Background(), id)
	})
	defer scheduler.Stop()

	sweeper := retention.NewSweeper(ws, reg, cfg.Retention.OutputLifetime.Duration(), cfg.Retention.SweepSchedule).WithLogger(logger)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("starting sweeper: %w", err)
	}
	defer sweeper.Stop()

	observers := protocol.Observers{mirror.NewObserver(jobMirror, logger)}
	var history handlers.SummarySource
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.New(cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating history database: %w", err)
		}
		h := service.NewHistory(repository.NewConversionRepository(db.DB)).WithLogger(logger)
		observers = append(observers, h)
		history = h
	}

	sessions := protocol.NewHandler(reg, conv, scheduler, ws, dispatcher).
		WithLogger(logger).
		WithObserver(observers).
		WithPings(cfg.Webhook.Pings)

	jobs := service.NewJobs(reg, ws, permanent, scheduler, service.JobsConfig{
		AdminPassword: cfg.Admin.Password,
		PublicURL:     cfg.Server.PublicURL,
		WebhookPings:  cfg.Webhook.Pings,
	}).WithLogger(logger).WithDispatcher(dispatcher).WithMirror(jobMirror)
	if !jobs.AdminEnabled() {
		logger.Info("admin downloads disabled, set admin.password to enable them")
	}

	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}, logger, version.Version)

	jobHandler := handlers.NewJobHandler(jobs, cfg.Server.MaxUploadSize.Bytes()).WithLogger(logger)
	jobHandler.Register(server.API())
	jobHandler.RegisterChiRoutes(server.Router())

	wsHandler := handlers.NewWSHandler(sessions).
		WithLogger(logger).
		WithContext(ctx)
	wsHandler.RegisterChiRoutes(server.Router())

	health := handlers.NewHealthHandler(version.Version, reg)
	if db != nil {
		health = health.WithDB(db)
	}
	health.Register(server.API())

	handlers.NewSystemHandler(history).WithLogger(logger).Register(server.API())

	serveErr := server.ListenAndServe(ctx)

	// Sessions still finishing must settle before the stores they write to
	// are closed by the deferred calls above.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := wsHandler.Wait(drainCtx); err != nil {
		logger.Warn("websocket sessions still running at shutdown", slog.String("error", err.Error()))
	}

	if serveErr != nil {
		return fmt.Errorf("serving: %w", serveErr)
	}
	logger.Info("vertd stopped")
	return nil
}

// openPermanentStore opens the store for kept files. A relative local
// directory is resolved against the base directory.
func openPermanentStore(ctx context.Context, cfg config.StorageConfig) (storage.PermanentStore, error) {
	p := cfg.Permanent
	switch p.Backend {
	case "s3":
		store, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  p.Endpoint,
			Bucket:    p.Bucket,
			AccessKey: p.AccessKey,
			SecretKey: p.SecretKey,
			UseSSL:    p.UseSSL,
			Prefix:    p.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("creating s3 store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("preparing s3 bucket: %w", err)
		}
		return store, nil
	default:
		dir := p.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(cfg.BaseDir, dir)
		}
		store, err := storage.NewLocalStore(dir)
		if err != nil {
			return nil, fmt.Errorf("creating permanent store: %w", err)
		}
		return store, nil
	}
}

// newDispatcher returns a webhook dispatcher, or one that drops every
// notification when no webhook is configured.
func newDispatcher(cfg config.WebhookConfig, logger *slog.Logger) *notify.Dispatcher {
	if cfg.URL == "" {
		return notify.NewDispatcher(nil).WithLogger(logger)
	}

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.Timeout
	clientCfg.RetryAttempts = cfg.RetryAttempts
	clientCfg.UserAgent = version.UserAgent()
	clientCfg.Logger = logger
	client := httpclient.New(clientCfg)

	return notify.NewDispatcher(notify.NewWebhook(cfg.URL, client)).
		WithLogger(logger).
		WithTimeout(cfg.Timeout)
}
