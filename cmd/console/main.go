// researchdeck-console: terminal operator console for the researchdeck gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ashureev/researchdeck/internal/config"
	"github.com/ashureev/researchdeck/internal/console"
	"github.com/ashureev/researchdeck/internal/metrics"
)

var (
	gatewayURL  string
	sessionID   string
	autoplay    time.Duration
	noFallback  bool
	style       string
	width       int
	verbose     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "researchdeck-console",
	Short: "Operator console for the researchdeck browsing agent",
	Long: `Connects to a researchdeck gateway over WebSocket, renders the agent's
transcript, browser frames, slideshow and question selection, and sends
typed commands back. Type /help once connected.`,
	SilenceUsage: true,
	RunE:         runConsole,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway and agent status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := console.NewClient(cfg.GatewayURL, nil).Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "gateway: %s\nagent initialized: %v\n", st.Status, st.AgentInitialized)
		return nil
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List exported files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		list, err := console.NewClient(cfg.GatewayURL, nil).Files(cmd.Context())
		if err != nil {
			return err
		}
		console.PrintFiles(cmd.OutOrStdout(), list)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "url", "", "gateway URL (default $RESEARCHDECK_URL or http://localhost:8000)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")

	rootCmd.Flags().StringVar(&sessionID, "session", "", "session id to resume")
	rootCmd.Flags().DurationVar(&autoplay, "autoplay", 0, "slideshow autoplay interval (default $AUTOPLAY_INTERVAL or 3s)")
	rootCmd.Flags().BoolVar(&noFallback, "no-fallback", false, "exit when the socket closes instead of falling back to HTTP")
	rootCmd.Flags().StringVar(&style, "style", "auto", "markdown style: auto, dark, light, notty or plain")
	rootCmd.Flags().IntVar(&width, "width", 100, "word wrap width for rendered markdown")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve console metrics on this address")

	rootCmd.AddCommand(statusCmd, filesCmd)
}

func loadConfig(cmd *cobra.Command) (*config.ConsoleConfig, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	cfg, err := config.LoadConsole()
	if err != nil {
		return nil, err
	}
	if gatewayURL != "" {
		cfg.GatewayURL = gatewayURL
	}
	if autoplay > 0 {
		cfg.AutoplayInterval = autoplay
	}
	if noFallback {
		cfg.HTTPFallback = false
	}
	return cfg, cfg.Validate()
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	observer := metrics.NewRouter(reg)
	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	return console.Run(cmd.Context(), console.Options{
		GatewayURL:       cfg.GatewayURL,
		SessionID:        sessionID,
		HTTPFallback:     cfg.HTTPFallback,
		AutoplayInterval: cfg.AutoplayInterval,
		Style:            style,
		Width:            width,
		In:               cmd.InOrStdin(),
		Out:              cmd.OutOrStdout(),
		Logger:           slog.Default(),
		Observer:         observer,
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
