package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/researchdeck/internal/domain"
	"github.com/ashureev/researchdeck/internal/protocol"
)

// Recorder writes commands and envelopes to a Repository off the hot path.
// Envelopes are redacted before they are queued; when the queue is full the
// event is dropped and logged.
type Recorder struct {
	repo   Repository
	queue  chan *domain.Event
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts a recorder with a queue of queueSize events.
func NewRecorder(repo Repository, queueSize int, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		repo:   repo,
		queue:  make(chan *domain.Event, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.repo.AppendEvent(ctx, ev); err != nil {
			r.logger.Warn("Failed to record event", "type", ev.Type, "session_id", ev.SessionID, "error", err)
		}
		cancel()
	}
}

// Command records an inbound operator command.
func (r *Recorder) Command(sessionID, taskID string, cmd protocol.Command) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return
	}
	r.enqueue(&domain.Event{
		SessionID: sessionID,
		TaskID:    taskID,
		Direction: domain.DirectionInbound,
		Type:      string(cmd.Kind()),
		Payload:   payload,
		CreatedAt: time.Now(),
	})
}

// Envelope records an outbound envelope with screenshots redacted.
func (r *Recorder) Envelope(sessionID, taskID string, env protocol.Envelope) {
	payload, err := protocol.Encode(env.Redacted())
	if err != nil {
		return
	}
	r.enqueue(&domain.Event{
		SessionID: sessionID,
		TaskID:    taskID,
		Direction: domain.DirectionOutbound,
		Type:      env.Type,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
}

func (r *Recorder) enqueue(ev *domain.Event) {
	select {
	case <-r.done:
		return
	default:
	}
	defer func() {
		// Send on a closed queue after Close.
		_ = recover()
	}()
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("Recorder queue full, dropping event", "type", ev.Type, "session_id", ev.SessionID)
	}
}

// Close flushes queued events and stops the recorder.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	<-r.done
}
