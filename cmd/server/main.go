// Triage console server: per-tab chat and evaluation sessions over the
// classification service streams.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/triage-console/internal/api"
	"github.com/ashureev/triage-console/internal/backend"
	"github.com/ashureev/triage-console/internal/config"
	"github.com/ashureev/triage-console/internal/health"
	"github.com/ashureev/triage-console/internal/identity"
	"github.com/ashureev/triage-console/internal/middleware"
	"github.com/ashureev/triage-console/internal/store"
	"github.com/ashureev/triage-console/internal/workspace"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout     = 10 * time.Second
	healthCheckInterval = 30 * time.Second
)

func main() {
	var configPath, envFile string
	flagSet := pflag.NewFlagSet("triage-console", pflag.ExitOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file (environment variables take precedence)")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment before reading configuration")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if err := godotenv.Load(envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", envFile)
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "backend", cfg.BackendURL, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("History store ready", "path", cfg.DBPath)

	client := backend.NewClient(cfg.BackendURL, nil, logger)
	reg := workspace.NewRegistry(client, repo, logger, workspace.WithLiveBuffer(cfg.LiveBuffer))

	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Close()

	var originPatterns []string
	if !cfg.IsDevelopment() {
		originPatterns = cfg.AllowedOrigins()
	}
	handler := api.NewHandler(reg, limiter, logger,
		api.WithHistoryLimit(cfg.HistoryLimit),
		api.WithOriginPatterns(originPatterns),
	)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware)
	handler.RegisterRoutes(r)

	// Live views keep connections open, so there is no write timeout. They
	// end when baseCtx is cancelled at shutdown.
	baseCtx, cancelLive := context.WithCancel(context.Background())
	defer cancelLive()
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-workspace.StartTTLWorker(gctx, reg, repo, cfg.WorkspaceTTL)
		return nil
	})

	if cfg.GRPCHealthAddr != "" {
		hs := health.NewServer(logger)
		g.Go(func() error {
			return hs.ListenAndServe(gctx, cfg.GRPCHealthAddr)
		})
		g.Go(func() error {
			hs.Monitor(gctx, healthCheckInterval, repo.Ping)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if n := reg.CancelAll(); n > 0 {
			slog.Info("Cancelled active streams", "count", n)
		}
		cancelLive()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		if err := reg.Wait(shutdownCtx); err != nil {
			slog.Warn("Streams still draining at shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}
