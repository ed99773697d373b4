package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// ErrNotReady is reported when a task arrives before the processor is available.
var ErrNotReady = errors.New("agent not initialized")

// Service wraps a Processor with the task framing every consumer expects: a
// leading "Processing" action, a task deadline, and failures reported as error
// envelopes instead of terminating the sequence.
type Service struct {
	processor Processor
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates a new agent service around processor.
func NewService(processor Processor, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	return &Service{processor: processor, timeout: cfg.TaskTimeout, logger: logger}
}

// Ready reports whether the underlying processor can accept tasks.
func (s *Service) Ready(ctx context.Context) bool {
	if s == nil || s.processor == nil {
		return false
	}
	return s.processor.Ready(ctx) == nil
}

// Run executes task and yields its envelopes. The sequence never yields an error;
// failures become a final error envelope, or a partial agent_response when the
// deadline cut off a task that had already produced text.
func (s *Service) Run(ctx context.Context, task Task) iter.Seq[*protocol.Envelope] {
	return func(yield func(*protocol.Envelope) bool) {
		if s == nil || s.processor == nil {
			yield(errorEnvelope(ErrNotReady.Error()))
			return
		}

		if !yield(&protocol.Envelope{
			Type:    protocol.TypeAgentAction,
			Action:  "Processing",
			Details: "Starting to process: " + task.Content,
		}) {
			return
		}

		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		started := time.Now()
		var partial transcript
		for env, err := range s.processor.Run(ctx, task) {
			if err != nil {
				s.finish(ctx, task, err, &partial, yield)
				return
			}
			if env == nil {
				continue
			}
			partial.add(env)
			if !yield(env) {
				return
			}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.finish(ctx, task, ctx.Err(), &partial, yield)
			return
		}
		s.logger.Debug("Task completed", "kind", task.Kind(), "session_id", task.SessionID, "duration", time.Since(started))
	}
}

// finish reports a failed task. A timed-out task that already produced assistant
// text ends with that text as a partial response instead of an error.
func (s *Service) finish(ctx context.Context, task Task, err error, partial *transcript, yield func(*protocol.Envelope) bool) {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.logger.Error("Task failed", "session_id", task.SessionID, "error", err)
		yield(errorEnvelope("Error processing message: " + err.Error()))
		return
	}

	text := partial.text()
	if text == "" {
		s.logger.Warn("Task timed out", "session_id", task.SessionID, "timeout", s.timeout)
		yield(errorEnvelope(fmt.Sprintf("Agent timed out after %s and no partial response is available", s.timeout)))
		return
	}
	s.logger.Warn("Task timed out, returning partial response", "session_id", task.SessionID, "timeout", s.timeout)
	if partial.streaming {
		if !yield(&protocol.Envelope{Type: protocol.TypeStreamEnd}) {
			return
		}
	}
	yield(&protocol.Envelope{Type: protocol.TypeAgentResponse, Response: PartialResponsePrefix + text})
}

// PartialResponsePrefix marks the text of a task cut short by its deadline.
const PartialResponsePrefix = "PARTIAL RESPONSE (Timed out):\n"

// transcript collects the assistant text a task has produced so far.
type transcript struct {
	done      []string
	stream    strings.Builder
	streaming bool
}

func (t *transcript) add(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAgentMessage, protocol.TypeAgentResponse:
		if text := env.Text(); text != "" {
			t.done = append(t.done, text)
		}
	case protocol.TypeStreamStart:
		t.stream.Reset()
		t.streaming = true
	case protocol.TypeStreamChunk:
		t.stream.WriteString(env.Content)
	case protocol.TypeStreamEnd:
		if t.stream.Len() > 0 {
			t.done = append(t.done, t.stream.String())
		}
		t.stream.Reset()
		t.streaming = false
	}
}

func (t *transcript) text() string {
	parts := t.done
	if t.streaming && t.stream.Len() > 0 {
		parts = append(parts[:len(parts):len(parts)], t.stream.String())
	}
	return strings.Join(parts, "\n")
}

func errorEnvelope(msg string) *protocol.Envelope {
	return &protocol.Envelope{Type: protocol.TypeError, Message: msg}
}

// Close releases resources.
func (s *Service) Close() {
	if s.processor != nil {
		s.processor.Close()
	}
}
