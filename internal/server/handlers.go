package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/researchdeck/internal/agent"
	"github.com/ashureev/researchdeck/internal/domain"
	"github.com/ashureev/researchdeck/internal/files"
	"github.com/ashureev/researchdeck/internal/identity"
	"github.com/ashureev/researchdeck/internal/protocol"
	"github.com/ashureev/researchdeck/internal/store"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, protocol.StatusResponse{
		Status:           "online",
		AgentInitialized: s.ready(r.Context()),
	})
	s.opts.Metrics.HTTPRequest("/api/status", http.StatusOK)
}

func (s *Server) messageError(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, protocol.MessageResponse{Response: msg, Status: protocol.StatusError})
	s.opts.Metrics.HTTPRequest("/api/message", status)
}

// handleMessage runs one task synchronously and answers with the envelopes
// folded into a single response.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxMessageBytes)

	var cmd protocol.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.messageError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.messageError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := cmd.Validate(); err != nil {
		s.messageError(w, http.StatusBadRequest, "content is required")
		return
	}
	if !s.ready(r.Context()) {
		s.messageError(w, http.StatusInternalServerError, "Agent not initialized")
		return
	}

	now := time.Now()
	s.recordSession(sessionID, func(ctx context.Context, repo store.Repository) error {
		if err := repo.UpsertSession(ctx, &domain.ConsoleSession{
			SessionID:   sessionID,
			RemoteAddr:  identity.RemoteIPFromContext(r.Context()),
			Transport:   domain.TransportHTTP,
			ConnectedAt: now,
			LastSeenAt:  now,
		}); err != nil {
			return err
		}
		return repo.TouchSession(ctx, sessionID, now)
	})

	ctx, cancel := context.WithCancel(s.taskContext())
	defer cancel()
	stopAfter := context.AfterFunc(r.Context(), cancel)
	defer stopAfter()

	var builder protocol.ResponseBuilder
	j := newJob(ctx, agent.Task{Content: cmd.Content, SessionID: sessionID}, domain.TransportHTTP)
	j.sink = func(env *protocol.Envelope) { builder.Add(*env) }

	if s.opts.Recorder != nil {
		s.opts.Recorder.Command(sessionID, j.id, cmd)
	}
	slog.Info("Agent message request",
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"kind", cmd.Kind(),
		"length", len(cmd.Content),
	)

	if err := s.submit(j); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ErrStopped) {
			status = http.StatusInternalServerError
		}
		s.messageError(w, status, err.Error())
		return
	}

	select {
	case <-j.done:
	case <-r.Context().Done():
		// The worker observes the cancelled task context; wait so the sink is
		// no longer called once this handler returns.
		<-j.done
		return
	}
	if j.err != nil {
		s.messageError(w, http.StatusInternalServerError, "Server error: "+j.err.Error())
		return
	}

	resp := builder.Build()
	status := http.StatusOK
	if resp.Status == protocol.StatusError {
		status = http.StatusInternalServerError
	}
	JSON(w, status, resp)
	s.opts.Metrics.HTTPRequest("/api/message", status)
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	list, err := s.opts.Exports.List()
	if err != nil {
		slog.Error("Failed to list exports", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list files")
		s.opts.Metrics.HTTPRequest("/api/files", http.StatusInternalServerError)
		return
	}
	JSON(w, http.StatusOK, protocol.FileListing{Files: list})
	s.opts.Metrics.HTTPRequest("/api/files", http.StatusOK)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, meta, err := s.opts.Exports.Open(name)
	switch {
	case errors.Is(err, files.ErrInvalidName):
		Error(w, http.StatusBadRequest, "invalid file name")
		s.opts.Metrics.HTTPRequest("/api/files/{name}", http.StatusBadRequest)
		return
	case errors.Is(err, files.ErrNotFound):
		Error(w, http.StatusNotFound, "file not found")
		s.opts.Metrics.HTTPRequest("/api/files/{name}", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Failed to open export", "name", name, "error", err)
		Error(w, http.StatusInternalServerError, "failed to open file")
		s.opts.Metrics.HTTPRequest("/api/files/{name}", http.StatusInternalServerError)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Debug("Failed to close export", "name", name, "error", closeErr)
		}
	}()

	w.Header().Set("Content-Disposition", `attachment; filename="`+meta.Filename+`"`)
	http.ServeContent(w, r, meta.Filename, meta.Created, f)
	s.opts.Metrics.HTTPRequest("/api/files/{name}", http.StatusOK)
}

// handleSessionEvents returns a session's recorded traffic, oldest first.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sess, err := s.opts.Repo.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load session", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	events, err := s.opts.Repo.ListEvents(r.Context(), id, limit)
	if err != nil {
		slog.Error("Failed to list events", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}
	JSON(w, http.StatusOK, map[string]any{"session": sess, "events": events})
}
