package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/researchdeck/internal/protocol"
	"github.com/ashureev/researchdeck/internal/session"
	"github.com/ashureev/researchdeck/internal/transport"
)

// ErrConnectionLost is returned by Run when the socket closes and the HTTP
// fallback is disabled.
var ErrConnectionLost = errors.New("connection to gateway lost")

// Options configures an interactive console run.
type Options struct {
	GatewayURL       string
	SessionID        string
	HTTPFallback     bool
	AutoplayInterval time.Duration
	Style            string
	Width            int

	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
	// Observer receives router outcomes, typically metrics.Router.
	Observer session.Observer
}

// Run connects to the gateway and processes input lines until /quit, end of
// input, or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	renderer, err := NewRenderer(opts.Out, opts.Style, opts.Width)
	if err != nil {
		return err
	}

	lost := make(chan struct{})
	var lostOnce sync.Once

	var sess *session.Session
	sess = session.New(session.Options{
		Logger:           logger,
		Scheduler:        session.TickerScheduler{},
		AutoplayInterval: opts.AutoplayInterval,
		Observer:         opts.Observer,
		OnUpdate: func(u session.Update) {
			renderer.Render(sess.Snapshot(), u)
		},
	})
	defer sess.Close()

	ch, err := transport.New(transport.Options{
		BaseURL:   opts.GatewayURL,
		SessionID: opts.SessionID,
		Fallback:  opts.HTTPFallback,
		Logger:    logger,
		OnMessage: func(raw []byte) {
			if err := sess.Dispatch(raw); err != nil {
				logger.Debug("Dispatch failed", "error", err)
			}
		},
		OnState: func(state transport.State, err error) {
			if err != nil {
				logger.Debug("Transport state change", "state", state, "error", err)
			}
			sess.SetConnection(connectionState(state))
			if state == transport.StateClosed {
				lostOnce.Do(func() { close(lost) })
			}
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := ch.Close(); closeErr != nil {
			logger.Debug("Failed to close channel", "error", closeErr)
		}
	}()

	if err := ch.Connect(ctx); err != nil {
		if !opts.HTTPFallback {
			return fmt.Errorf("connect to gateway: %w", err)
		}
		logger.Warn("WebSocket unavailable, using HTTP fallback", "error", err)
	}

	d := session.NewDispatcher(sess, ch)
	fmt.Fprintln(opts.Out, "Type /help for commands.")

	// The scanner is not part of the group: a read blocked on a terminal cannot
	// be interrupted, so it is abandoned once the console exits.
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanErr <- scanLines(ctx, opts.In, lines)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return <-scanErr
				}
				if err := handleLine(gctx, d, opts.Out, line); err != nil {
					if errors.Is(err, ErrQuit) {
						return ErrQuit
					}
					logger.Debug("Command failed", "error", err)
				}
			}
		}
	})
	if !opts.HTTPFallback {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-lost:
				return ErrConnectionLost
			}
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, ErrQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// scanLines forwards input lines until EOF or ctx ends. A reader blocked on a
// terminal is abandoned on cancellation.
func scanLines(ctx context.Context, in io.Reader, out chan<- string) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

func handleLine(ctx context.Context, d *session.Dispatcher, out io.Writer, line string) error {
	cmd, err := Parse(line)
	if errors.Is(err, protocol.ErrEmptyCommand) {
		return nil
	}
	if err != nil {
		fmt.Fprintf(out, "! %v\n", err)
		return err
	}
	if cmd.Op == OpHelp {
		fmt.Fprintln(out, Help)
		return nil
	}
	return Execute(ctx, d, cmd)
}

func connectionState(s transport.State) session.ConnectionState {
	switch s {
	case transport.StateOpen:
		return session.StateOpen
	case transport.StateClosed:
		return session.StateClosed
	default:
		return session.StateConnecting
	}
}
