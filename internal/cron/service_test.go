package cron

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
)

// recordingBus captures published messages for assertions.
type recordingBus struct {
	published []domain.InboundMessage
}

func (b *recordingBus) Publish(msg domain.InboundMessage)             { b.published = append(b.published, msg) }
func (b *recordingBus) Subscribe() <-chan domain.InboundMessage       { return nil }
func (b *recordingBus) SendOutbound(msg domain.OutboundMessage)       {}
func (b *recordingBus) OnOutbound(string, func(domain.OutboundMessage)) {}
func (b *recordingBus) Close()                                        {}

func testService() (*Service, *recordingBus) {
	bus := &recordingBus{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewService(bus, logger), bus
}

func TestAdd_RequiresSchedule(t *testing.T) {
	svc, _ := testService()
	err := svc.Add(Task{ID: "t1", Message: "hi", Enabled: true})
	if err == nil {
		t.Fatal("expected error for task without schedule")
	}
}

func TestAdd_RejectsInvalidExpression(t *testing.T) {
	svc, _ := testService()
	err := svc.Add(Task{ID: "t1", Message: "hi", CronExpr: "not a cron", Enabled: true})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestIntervalTaskFiresAsSystemMessage(t *testing.T) {
	svc, bus := testService()
	if err := svc.Add(Task{
		ID: "t1", Name: "ping", Message: "check the build",
		Interval: time.Second, Channel: "telegram", ChatID: "42", Enabled: true,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	svc.tick(time.Now().Add(2 * time.Second))

	if len(bus.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(bus.published))
	}
	msg := bus.published[0]
	if msg.Channel != domain.SystemChannel {
		t.Errorf("expected system channel, got %q", msg.Channel)
	}
	if msg.ChatID != "telegram:42" {
		t.Errorf("expected composite chat id, got %q", msg.ChatID)
	}
	if msg.SenderID != "cron:t1" {
		t.Errorf("unexpected sender: %q", msg.SenderID)
	}
	if msg.Content != "check the build" {
		t.Errorf("unexpected content: %q", msg.Content)
	}
}

func TestIntervalTaskReschedules(t *testing.T) {
	svc, bus := testService()
	if err := svc.Add(Task{
		ID: "t1", Message: "go", Interval: 10 * time.Second,
		Channel: "cli", ChatID: "direct", Enabled: true,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	fireAt := time.Now().Add(11 * time.Second)
	svc.tick(fireAt)
	// One second later the task must not be due again.
	svc.tick(fireAt.Add(time.Second))

	if len(bus.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(bus.published))
	}
}

func TestDisabledTaskDoesNotFire(t *testing.T) {
	svc, bus := testService()
	if err := svc.Add(Task{
		ID: "t1", Message: "no", Interval: time.Second,
		Channel: "cli", ChatID: "direct", Enabled: false,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	svc.tick(time.Now().Add(time.Hour))
	if len(bus.published) != 0 {
		t.Fatalf("disabled task fired: %d messages", len(bus.published))
	}
}

func TestCronExprFiresOncePerMinute(t *testing.T) {
	svc, bus := testService()
	if err := svc.Add(Task{
		ID: "t1", Message: "every minute", CronExpr: "* * * * *",
		Channel: "cli", ChatID: "direct", Enabled: true,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	svc.tick(base)
	svc.tick(base.Add(time.Second))
	svc.tick(base.Add(2 * time.Second))

	if len(bus.published) != 1 {
		t.Fatalf("expected exactly 1 fire within the minute, got %d", len(bus.published))
	}

	svc.tick(base.Add(time.Minute))
	if len(bus.published) != 2 {
		t.Fatalf("expected fire in the next minute, got %d", len(bus.published))
	}
}

func TestRemove(t *testing.T) {
	svc, bus := testService()
	if err := svc.Add(Task{
		ID: "t1", Message: "x", Interval: time.Second,
		Channel: "cli", ChatID: "direct", Enabled: true,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	svc.Remove("t1")

	svc.tick(time.Now().Add(time.Hour))
	if len(bus.published) != 0 {
		t.Fatal("removed task fired")
	}
	if len(svc.List()) != 0 {
		t.Fatal("task still listed after remove")
	}
}
