// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobinfo-extractor/internal/api"
	"github.com/JakeFAU/jobinfo-extractor/internal/config"
	"github.com/JakeFAU/jobinfo-extractor/internal/decode"
	"github.com/JakeFAU/jobinfo-extractor/internal/diagnostics"
	gcsdiag "github.com/JakeFAU/jobinfo-extractor/internal/diagnostics/gcs"
	localdiag "github.com/JakeFAU/jobinfo-extractor/internal/diagnostics/local"
	memorydiag "github.com/JakeFAU/jobinfo-extractor/internal/diagnostics/memory"
	"github.com/JakeFAU/jobinfo-extractor/internal/logging"
	"github.com/JakeFAU/jobinfo-extractor/internal/pipeline"
	"github.com/JakeFAU/jobinfo-extractor/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	orchestrator *pipeline.Orchestrator
	storage      *storage.Client
	tracer       *sdktrace.TracerProvider
	closeOnce    sync.Once
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Log only non-sensitive fields.
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("execution_context", cfg.Browser.ExecutionContext),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("llm_credential_set", cfg.LLM.APIKey != ""),
		zap.String("diagnostics_backend", cfg.Diagnostics.Backend),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Extract runs one extraction outside the HTTP server.
func (a *App) Extract(ctx context.Context, req pipeline.Request) (decode.Record, error) {
	rec, err := a.orchestrator.Extract(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", req.URL, err)
	}
	return rec, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	// In-flight extractions hold a browser; give them time to tear down.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close flushes spans and releases clients held by the application. Only the
// first call does any work.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.close(ctx) })
	return nil
}

func (a *App) close(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	app.tracer, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry, nil)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	blobStore, err := setupDiagnostics(ctx, app)
	if err != nil {
		return nil, err
	}

	var recorder *diagnostics.Recorder
	if blobStore != nil {
		recorder = diagnostics.NewRecorder(blobStore, diagnostics.Options{
			Prefix:         cfg.Diagnostics.Prefix,
			CaptureSuccess: cfg.Diagnostics.CaptureSuccess,
		}, logger.Named("diagnostics"))
	}

	app.orchestrator = pipeline.New(cfg.PipelineOptions(), pipeline.Components{
		Recorder:       recorder,
		TracerProvider: app.tracer,
	}, logger.Named("pipeline"))

	app.apiServer = api.NewServer(app.orchestrator, *cfg, logger.Named("api"))
	return app, nil
}

// setupDiagnostics returns nil when artifact capture is disabled.
func setupDiagnostics(ctx context.Context, app *App) (diagnostics.BlobStore, error) {
	var err error
	switch strings.ToLower(app.cfg.Diagnostics.Backend) {
	case "gcs":
		app.logger.Info("using GCS diagnostics backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsdiag.New(app.storage, gcsdiag.Config{
			Bucket: app.cfg.Diagnostics.GCSBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS diagnostics backend", zap.String("bucket", app.cfg.Diagnostics.GCSBucket))
		return store, nil
	case "local":
		app.logger.Info("using local diagnostics backend")
		store, err := localdiag.New(app.cfg.Diagnostics.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local diagnostics backend", zap.String("path", app.cfg.Diagnostics.Local.BaseDir))
		return store, nil
	case "memory":
		app.logger.Info("using in-memory diagnostics backend")
		return memorydiag.NewBlobStore(), nil
	default:
		app.logger.Info("diagnostics capture disabled")
		return nil, nil
	}
}
