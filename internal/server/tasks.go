package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/researchdeck/internal/agent"
	"github.com/ashureev/researchdeck/internal/domain"
	"github.com/ashureev/researchdeck/internal/protocol"
)

// job is one queued agent task. sink, when set, also receives every envelope;
// done closes after the last one.
type job struct {
	ctx       context.Context
	id        string
	task      agent.Task
	transport domain.Transport
	sink      func(*protocol.Envelope)
	done      chan struct{}
	err       error
}

func newJob(ctx context.Context, task agent.Task, transport domain.Transport) *job {
	return &job{
		ctx:       ctx,
		id:        uuid.NewString(),
		task:      task,
		transport: transport,
		done:      make(chan struct{}),
	}
}

// submit queues j without blocking.
func (s *Server) submit(j *job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}
	select {
	case s.tasks <- j:
		slog.Debug("Task queued", "task_id", j.id, "session_id", j.task.SessionID, "kind", j.task.Kind(), "depth", len(s.tasks))
		return nil
	default:
		return ErrBusy
	}
}

func (s *Server) worker() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			s.drain()
			return
		case j := <-s.tasks:
			s.run(j)
		}
	}
}

// drain fails every task still queued at shutdown.
func (s *Server) drain() {
	for {
		select {
		case j := <-s.tasks:
			j.err = ErrStopped
			close(j.done)
		default:
			return
		}
	}
}

func (s *Server) run(j *job) {
	defer close(j.done)

	if err := j.ctx.Err(); err != nil {
		j.err = err
		return
	}

	slog.Info("Task started", "task_id", j.id, "session_id", j.task.SessionID, "kind", j.task.Kind(), "transport", j.transport)
	start := time.Now()
	outcome := "success"
	count := 0

	for env := range s.opts.Service.Run(j.ctx, j.task) {
		count++
		if env.Type == protocol.TypeError {
			outcome = "error"
		}
		s.hub.Broadcast(context.Background(), env)
		if s.opts.Recorder != nil {
			s.opts.Recorder.Envelope(j.task.SessionID, j.id, *env)
		}
		if j.sink != nil {
			j.sink(env)
		}
	}

	elapsed := time.Since(start)
	s.opts.Metrics.TaskFinished(string(j.transport), outcome, elapsed)
	slog.Info("Task finished", "task_id", j.id, "session_id", j.task.SessionID, "outcome", outcome, "envelopes", count, "duration", elapsed)
}
