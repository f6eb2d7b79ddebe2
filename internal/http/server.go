// Package http assembles the vertd router and runs the listener.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/jmylchreest/vertd/internal/http/handlers"
	"github.com/jmylchreest/vertd/internal/http/middleware"
)

const compressionLevel = 5

// ServerConfig holds listener settings. Zero read and write timeouts leave
// uploads, downloads and websockets unbounded.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// CORSOrigins lists allowed origins. Empty or "*" allows any.
	CORSOrigins []string
}

// Server is the vertd HTTP front end: a chi router carrying the huma API
// plus raw routes for uploads and the websocket.
type Server struct {
	config ServerConfig
	router *chi.Mux
	api    huma.API
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the router and middleware stack. Handlers register
// themselves on API or Router afterwards.
func NewServer(config ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	logger = logger.With(slog.String("component", "http"))

	handlers.InstallErrorEnvelope()

	router := chi.NewRouter()
	router.Use(
		chimiddleware.RealIP,
		middleware.RequestID,
		middleware.NewLoggingMiddleware(logger),
		middleware.Recovery(logger),
		newCORS(config.CORSOrigins).Handler,
		middleware.Compress(compressionLevel),
	)

	humaConfig := handlers.APIConfig("vertd API", version)
	humaConfig.Info.Description = "Media conversion job server"
	humaConfig.OpenAPIPath = "/api/openapi"
	humaConfig.DocsPath = "/api/docs"
	humaConfig.SchemasPath = "/api/schemas"

	return &Server{
		config: config,
		router: router,
		api:    humachi.New(router, humaConfig),
		logger: logger,
		http: &http.Server{
			Addr:         net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
			ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
	}
}

func newCORS(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition", "Content-Length", middleware.RequestIDHeader},
		MaxAge:         int((24 * time.Hour).Seconds()),
	})
}

// API is where huma operations register.
func (s *Server) API() huma.API { return s.api }

// Router is where raw chi routes register.
func (s *Server) Router() *chi.Mux { return s.router }

// Handler is the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then drains in-flight
// requests for up to ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("http server listening", slog.String("address", ln.Addr().String()))

	served := make(chan error, 1)
	go func() { served <- s.http.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	if err := s.Shutdown(context.Background()); err != nil {
		return err
	}
	<-served
	return nil
}

// Shutdown stops accepting connections and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.logger.Info("shutting down http server", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
