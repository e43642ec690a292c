package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
)

// Task is a scheduled reminder. Either CronExpr (standard five-field cron,
// minute granularity) or Interval must be set.
type Task struct {
	ID       string
	Name     string
	Message  string
	CronExpr string
	Interval time.Duration
	Channel  string // destination channel for the eventual reply
	ChatID   string // destination chat for the eventual reply
	Enabled  bool
	LastRun  time.Time
	NextRun  time.Time
}

// Service fires due tasks into the bus as system messages, so the agent
// processes them like any other inbound work and replies to the task's
// destination.
type Service struct {
	tasks    map[string]*Task
	bus      domain.MessageBus
	logger   *slog.Logger
	gron     *gronx.Gronx
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewService(bus domain.MessageBus, logger *slog.Logger) *Service {
	return &Service{
		tasks:  make(map[string]*Task),
		bus:    bus,
		logger: logger,
		gron:   gronx.New(),
		stopCh: make(chan struct{}),
	}
}

func (s *Service) Add(task Task) error {
	if task.CronExpr == "" && task.Interval <= 0 {
		return fmt.Errorf("task %s: cron expression or interval required", task.ID)
	}
	if task.CronExpr != "" && !s.gron.IsValid(task.CronExpr) {
		return fmt.Errorf("task %s: invalid cron expression %q", task.ID, task.CronExpr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.Interval > 0 {
		task.NextRun = time.Now().Add(task.Interval)
	}
	s.tasks[task.ID] = &task
	s.logger.Info("cron task added", "id", task.ID, "name", task.Name, "expr", task.CronExpr, "interval", task.Interval)
	return nil
}

func (s *Service) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	s.logger.Info("cron task removed", "id", id)
}

func (s *Service) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, *t)
	}
	return tasks
}

func (s *Service) Start(ctx context.Context) {
	s.logger.Info("cron service started")
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cron service stopping")
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// Stop halts the service. Safe to call multiple times.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Service) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		if !task.Enabled || !s.due(task, now) {
			continue
		}
		s.logger.Info("firing cron task", "id", task.ID, "name", task.Name)
		s.bus.Publish(domain.InboundMessage{
			Channel:   domain.SystemChannel,
			ChatID:    task.Channel + ":" + task.ChatID,
			SenderID:  "cron:" + task.ID,
			Content:   task.Message,
			Timestamp: now,
		})
		task.LastRun = now
		if task.Interval > 0 {
			task.NextRun = now.Add(task.Interval)
		}
	}
}

// due checks whether a task should fire at now. Cron expressions have
// minute granularity; the LastRun minute guard keeps a matching minute
// from firing once per tick.
func (s *Service) due(task *Task, now time.Time) bool {
	if task.Interval > 0 {
		return now.After(task.NextRun)
	}
	if !task.LastRun.IsZero() && task.LastRun.Truncate(time.Minute).Equal(now.Truncate(time.Minute)) {
		return false
	}
	ok, err := s.gron.IsDue(task.CronExpr, now)
	if err != nil {
		s.logger.Warn("cron expression check failed", "id", task.ID, "error", err)
		return false
	}
	return ok
}
