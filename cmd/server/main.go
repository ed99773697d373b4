// researchdeck gateway: connects operator consoles to the browsing agent.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/researchdeck/internal/agent"
	"github.com/ashureev/researchdeck/internal/config"
	"github.com/ashureev/researchdeck/internal/files"
	"github.com/ashureev/researchdeck/internal/metrics"
	"github.com/ashureev/researchdeck/internal/middleware"
	"github.com/ashureev/researchdeck/internal/server"
	"github.com/ashureev/researchdeck/internal/store"
	"github.com/ashureev/researchdeck/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	recorder := store.NewRecorder(repo, cfg.RecorderQueue, logger)
	defer recorder.Close()

	exports, err := files.NewExports(cfg.FilesDir)
	if err != nil {
		slog.Error("Failed to initialize exports directory", "error", err)
		os.Exit(1)
	}

	processor, err := newProcessor(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize agent", "error", err)
		os.Exit(1)
	}
	agentCfg := agent.DefaultConfig()
	agentCfg.TaskTimeout = cfg.TaskTimeout
	svc := agent.NewService(processor, agentCfg, logger)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := server.New(server.Options{
		Service:         svc,
		Repo:            repo,
		Recorder:        recorder,
		Exports:         exports,
		Metrics:         metrics.NewGateway(),
		AllowedOrigins:  cfg.AllowedOrigins(),
		IsDev:           cfg.IsDevelopment(),
		MaxMessageBytes: cfg.MaxMessageBytes,
		RateLimiter:     middleware.NewRateLimiter(ctx, cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		SPA:             web.SPAHandler(),
	})
	gw.Start()

	retentionDone := store.StartRetentionWorker(ctx, repo, cfg.SessionRetention, 0)

	// No WriteTimeout: sockets and fallback tasks can run for the full task timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      gw.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Agent task interrupted by shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	<-retentionDone

	slog.Info("Server stopped successfully")
}

// newProcessor connects to the remote agent when AGENT_GRPC_ADDR is set, and
// otherwise replays the configured script.
func newProcessor(cfg *config.Config, logger *slog.Logger) (agent.Processor, error) {
	if cfg.AgentGRPCAddr != "" {
		slog.Info("Connecting to agent service via gRPC", "address", cfg.AgentGRPCAddr)
		grpcCfg := agent.DefaultGrpcClientConfig()
		grpcCfg.Address = cfg.AgentGRPCAddr
		return agent.NewGrpcProcessor(grpcCfg, logger)
	}

	script, err := agent.LoadScript(cfg.ScriptPath)
	if err != nil {
		return nil, err
	}
	slog.Info("Using scripted agent", "script", cfg.ScriptPath, "routes", len(script.Routes))
	return agent.NewScriptProcessor(script, agent.DefaultConfig(), logger), nil
}
