// researchdeck scripted agent: serves a replay script over the agent gRPC API so
// the gateway can be exercised against a remote processor.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/ashureev/researchdeck/internal/agent"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	addr := os.Getenv("AGENT_LISTEN_ADDR")
	if addr == "" {
		addr = ":50051"
	}

	script, err := agent.LoadScript(os.Getenv("SCRIPT_PATH"))
	if err != nil {
		slog.Error("Failed to load script", "error", err)
		os.Exit(1)
	}
	processor := agent.NewScriptProcessor(script, agent.DefaultConfig(), logger)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("Failed to listen", "addr", addr, "error", err)
		os.Exit(1)
	}

	srv := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             time.Minute,
			PermitWithoutStream: true,
		}),
	)
	health := agent.RegisterAgentServer(srv, agent.NewProcessorServer(processor))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Agent listening", "addr", lis.Addr().String(), "routes", len(script.Routes))
		if err := srv.Serve(lis); err != nil {
			slog.Error("Agent server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down agent...")
	health.Shutdown()
	srv.GracefulStop()
	slog.Info("Agent stopped")
}
