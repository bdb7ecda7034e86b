package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "modernc.org/sqlite"

	"github.com/shyim/perfaudit/internal/cleanup"
	"github.com/shyim/perfaudit/internal/config"
	"github.com/shyim/perfaudit/internal/flags"
	"github.com/shyim/perfaudit/internal/handler"
	"github.com/shyim/perfaudit/internal/lighthouse"
	"github.com/shyim/perfaudit/internal/logging"
	"github.com/shyim/perfaudit/internal/migration"
	"github.com/shyim/perfaudit/internal/results"
	"github.com/shyim/perfaudit/internal/scheduler"
	"github.com/shyim/perfaudit/internal/storage"
	"github.com/shyim/perfaudit/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	log.SetFlags(0)
	log.SetOutput(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
	logger.Info().Msg("Application terminated.")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      version,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SentryDSN:    cfg.Telemetry.SentryDSN,
		Environment:  cfg.Telemetry.Environment,
		SampleRate:   cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	if err := migration.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	flagStore, closeFlags, err := flags.Open(ctx, cfg.Flags, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeFlags()

	resultStore, err := openResultStore(ctx, cfg)
	if err != nil {
		return err
	}

	engine, closeEngine, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	runner := lighthouse.NewRunner(engine, lighthouse.Options{
		Binary:          cfg.Lighthouse.Binary,
		ChromePath:      cfg.Lighthouse.ChromePath,
		ChromeFlags:     cfg.Lighthouse.ChromeFlags,
		Timeout:         cfg.Lighthouse.Timeout,
		ExtendedTimeout: cfg.Lighthouse.ExtendedTimeout,
	}, logger)

	var opts []scheduler.Option
	if up, ok := resultStore.(results.Uploader); ok && cfg.Results.Archive {
		opts = append(opts, scheduler.WithUploader(up))
	}
	tasks := scheduler.New(flagStore, db, db, resultStore, runner, cfg, scheduler.Options{
		URLWindow:     cfg.Scheduler.URLWindow,
		JitterMin:     cfg.Scheduler.JitterMin,
		JitterMax:     cfg.Scheduler.JitterMax,
		Subdomain:     cfg.Lighthouse.StripSubdomain,
		Archive:       cfg.Results.Archive,
		Location:      cfg.Location(),
		AuditInterval: cfg.Scheduler.AuditInterval,
		FlagSweep:     cfg.Scheduler.FlagSweep,
	}, logger, opts...)

	if cfg.Scheduler.Enabled {
		go tasks.Start(ctx)
	}
	if cfg.Cleanup.Enabled {
		cleanup.Start(ctx, cleanup.Options{
			Dir:      cfg.Cleanup.Dir,
			Interval: cfg.Cleanup.Interval,
			MaxAge:   cfg.Cleanup.MaxAge,
		}, logger)
	}

	h := handler.NewHandler(tasks, db, cfg.Server.AuthToken, logger)
	mux := http.NewServeMux()
	h.Routes(mux)

	// Logger -> Recoverer -> Auth -> Mux
	var finalHandler http.Handler = h.AuthMiddleware(mux)
	finalHandler = recoverMiddleware(logger)(finalHandler)
	finalHandler = loggingMiddleware(logger)(finalHandler)
	finalHandler = otelhttp.NewHandler(finalHandler, "perfaudit")

	return serve(ctx, cfg.Server.Port, finalHandler, logger)
}

func openResultStore(ctx context.Context, cfg *config.Config) (results.Store, error) {
	if cfg.Results.Backend == "s3" {
		store, err := results.NewS3Store(ctx, results.S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	return results.NewFSStore(cfg.Results.Dir)
}

func openEngine(cfg *config.Config) (lighthouse.Engine, func(), error) {
	if cfg.Lighthouse.Engine == "docker" {
		engine, err := lighthouse.NewDockerEngine(cfg.Lighthouse.Container)
		if err != nil {
			return nil, nil, err
		}
		return engine, func() { engine.Close() }, nil
	}
	return lighthouse.ExecEngine{}, func() {}, nil
}

// serve runs the HTTP server until ctx is cancelled or the server fails.
func serve(ctx context.Context, port string, h http.Handler, logger zerolog.Logger) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down...")
	case err := <-serverErrCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info().Msg("HTTP server shutdown complete.")
	return nil
}

func loggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Dur("duration", time.Since(start)).
				Msg("Request completed")
		})
	}
}

func recoverMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error().Interface("panic", err).Str("path", r.URL.Path).Msg("Panic")
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
