package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Supervisor owns detached background jobs: memory consolidation and
// subagent runs. Each job is tracked from start until its goroutine
// returns, and its completion is recorded exactly once even when the
// job panics.
type Supervisor struct {
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]Job
	wg   sync.WaitGroup
}

// Job describes one in-flight background job.
type Job struct {
	ID        string
	Name      string
	StartedAt time.Time
}

func NewSupervisor(logger *slog.Logger) *Supervisor {
	return &Supervisor{
		logger: logger,
		jobs:   make(map[string]Job),
	}
}

// Go starts fn detached and returns its job ID. The job runs under a
// background context so it survives the turn that spawned it.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) string {
	id := uuid.NewString()

	s.mu.Lock()
	s.jobs[id] = Job{ID: id, Name: name, StartedAt: time.Now()}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background job panicked", "job", name, "id", id, "panic", r)
			}
			s.mu.Lock()
			delete(s.jobs, id)
			s.mu.Unlock()
		}()

		s.logger.Debug("background job started", "job", name, "id", id)
		fn(context.Background())
	}()

	return id
}

// Active returns the jobs currently running.
func (s *Supervisor) Active() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Drain blocks until every running job finishes or ctx expires.
func (s *Supervisor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
