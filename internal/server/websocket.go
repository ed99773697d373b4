package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/researchdeck/internal/agent"
	"github.com/ashureev/researchdeck/internal/domain"
	"github.com/ashureev/researchdeck/internal/identity"
	"github.com/ashureev/researchdeck/internal/protocol"
	"github.com/ashureev/researchdeck/internal/store"
)

const pingInterval = 30 * time.Second

// inboundFrame is what consoles send over the socket. Only content is read;
// frames without it are ignored.
type inboundFrame struct {
	Content *string `json:"content"`
}

// ServeWS upgrades the request and serves one console socket.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	remoteIP := identity.RemoteIPFromContext(r.Context())
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", remoteIP)

	if !s.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	ws.SetReadLimit(s.opts.MaxMessageBytes)

	c := s.hub.Register(sessionID, ws)
	defer func() {
		if s.hub.Unregister(c) {
			if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
				slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
			}
		}
	}()

	now := time.Now()
	s.recordSession(sessionID, func(ctx context.Context, repo store.Repository) error {
		return repo.UpsertSession(ctx, &domain.ConsoleSession{
			SessionID:   sessionID,
			RemoteAddr:  remoteIP,
			Transport:   domain.TransportWebSocket,
			ConnectedAt: now,
			LastSeenAt:  now,
		})
	})
	defer s.recordSession(sessionID, func(ctx context.Context, repo store.Repository) error {
		return repo.EndSession(ctx, sessionID, time.Now())
	})

	if err := s.hub.Send(r.Context(), c, protocol.Envelope{Type: protocol.TypeConnect, Status: protocol.StatusSuccess}); err != nil {
		slog.Debug("Failed to send connect frame", "error", err, "session_id", sessionID)
		return
	}
	slog.Info("Console connected via WebSocket", "session_id", sessionID)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return s.readLoop(ctx, c) })
	g.Go(func() error { return keepalive(ctx, ws) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("Console socket loop ended", "session_id", sessionID, "error", err)
	}
	slog.Info("Console disconnected", "session_id", sessionID)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", s.opts.AllowedOrigins)
	return false
}

func (s *Server) readLoop(ctx context.Context, c *client) error {
	for {
		_, message, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", c.sessionID)
				return context.Canceled
			}
			if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", c.sessionID)
			}
			return err
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Content == nil {
			slog.Debug("Ignoring frame without content", "session_id", c.sessionID, "bytes", len(message))
			continue
		}
		cmd := protocol.Command{Content: *frame.Content}
		if err := cmd.Validate(); err != nil {
			slog.Debug("Ignoring blank command", "session_id", c.sessionID)
			continue
		}

		s.accept(ctx, c, cmd)
	}
}

// accept records a command and queues it as a task. A full queue is reported to
// the issuing socket only.
func (s *Server) accept(ctx context.Context, c *client, cmd protocol.Command) {
	task := agent.Task{Content: cmd.Content, SessionID: c.sessionID}
	j := newJob(s.taskContext(), task, domain.TransportWebSocket)

	if s.opts.Recorder != nil {
		s.opts.Recorder.Command(c.sessionID, j.id, cmd)
	}
	s.recordSession(c.sessionID, func(ctx context.Context, repo store.Repository) error {
		return repo.TouchSession(ctx, c.sessionID, time.Now())
	})

	slog.Info("Processing message", "session_id", c.sessionID, "kind", cmd.Kind(), "length", len(cmd.Content))
	if err := s.submit(j); err != nil {
		slog.Warn("Task rejected", "session_id", c.sessionID, "error", err)
		if sendErr := s.hub.Send(ctx, c, protocol.Envelope{Type: protocol.TypeError, Message: err.Error()}); sendErr != nil {
			slog.Debug("Failed to report rejected task", "error", sendErr)
		}
	}
}

func keepalive(ctx context.Context, ws *websocket.Conn) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
