// Package server is the gateway between operator consoles and the browsing agent.
// It serves the duplex socket, the HTTP fallback endpoint, export downloads and
// metrics, and runs agent tasks one at a time.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/researchdeck/internal/agent"
	"github.com/ashureev/researchdeck/internal/files"
	"github.com/ashureev/researchdeck/internal/identity"
	"github.com/ashureev/researchdeck/internal/metrics"
	"github.com/ashureev/researchdeck/internal/middleware"
	"github.com/ashureev/researchdeck/internal/store"
)

const defaultQueueSize = 16

// ErrBusy is returned when the task queue is full.
var ErrBusy = errors.New("agent is busy, try again shortly")

// ErrStopped is returned for tasks submitted after shutdown started.
var ErrStopped = errors.New("server is shutting down")

// Options configures a Server.
type Options struct {
	Service  *agent.Service
	Repo     store.Repository
	Recorder *store.Recorder
	Exports  *files.Exports
	Metrics  *metrics.Gateway

	AllowedOrigins  []string
	IsDev           bool
	MaxMessageBytes int64
	QueueSize       int
	RateLimiter     *middleware.RateLimiter
	// SPA serves every path not claimed by the API. Nil disables it.
	SPA http.Handler
}

// Server owns the hub, the task queue and the HTTP routes.
type Server struct {
	opts Options
	hub  *Hub

	tasks chan *job

	// base parents every task; cancelled when Shutdown gives up waiting.
	base       context.Context
	cancelBase context.CancelFunc

	mu       sync.RWMutex
	started  bool
	stopped  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a server. Call Start before serving traffic.
func New(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewGateway()
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 32 << 20
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:       opts,
		hub:        NewHub(opts.Metrics),
		tasks:      make(chan *job, opts.QueueSize),
		base:       base,
		cancelBase: cancel,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Hub returns the socket registry.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the task worker until Shutdown.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.worker()
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(s.opts.AllowedOrigins))
	r.Use(identity.Middleware)

	r.Get("/ws", s.ServeWS)
	r.Handle("/metrics", s.opts.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Group(func(r chi.Router) {
			if s.opts.RateLimiter != nil {
				r.Use(s.opts.RateLimiter.Middleware)
			}
			r.Post("/message", s.handleMessage)
		})
		if s.opts.Exports != nil {
			r.Get("/files", s.handleListFiles)
			r.Get("/files/{name}", s.handleDownloadFile)
		}
		if s.opts.Repo != nil {
			r.Get("/sessions/{id}/events", s.handleSessionEvents)
		}
	})

	if s.opts.SPA != nil {
		r.Handle("/*", s.opts.SPA)
	}
	return r
}

// Shutdown stops accepting tasks, waits for the running task up to ctx, and
// closes every socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stop)
	})
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		s.drain()
		s.cancelBase()
		s.hub.CloseAll()
		return nil
	}

	var err error
	select {
	case <-s.done:
	case <-ctx.Done():
		err = ctx.Err()
		s.cancelBase()
		<-s.done
	}
	s.cancelBase()
	s.hub.CloseAll()
	return err
}

// taskContext returns a context for a new task. It is independent of the
// request that submitted the task.
func (s *Server) taskContext() context.Context {
	return s.base
}

func (s *Server) ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.opts.Service.Ready(ctx)
}

// recordSession runs fn against the repository with its own deadline so a
// disconnecting request does not abort the write.
func (s *Server) recordSession(sessionID string, fn func(ctx context.Context, repo store.Repository) error) {
	if s.opts.Repo == nil || sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx, s.opts.Repo); err != nil {
		slog.Warn("Failed to record session", "session_id", sessionID, "error", err)
	}
}
