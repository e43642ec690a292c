package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
	"github.com/ahmedgamalalzatary/nanobot/internal/tool"
)

// --- fakes shared by the agent package tests ---

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *memSessionStore) GetSession(ctx context.Context, key string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return sess.Snapshot(), nil
}

func (s *memSessionStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Key] = sess.Snapshot()
	return nil
}

func (s *memSessionStore) DeleteSession(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *memSessionStore) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *memSessionStore) Close() error { return nil }

type memMemoryStore struct {
	mu       sync.Mutex
	longTerm string
	history  []string
	writes   int
}

func (m *memMemoryStore) ReadLongTerm(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.longTerm, nil
}

func (m *memMemoryStore) WriteLongTerm(ctx context.Context, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.longTerm = content
	m.writes++
	return nil
}

func (m *memMemoryStore) AppendHistory(ctx context.Context, entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entry)
	return nil
}

func (m *memMemoryStore) RecentHistory(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) <= limit {
		return append([]string(nil), m.history...), nil
	}
	return append([]string(nil), m.history[len(m.history)-limit:]...), nil
}

type fakeProvider struct {
	mu       sync.Mutex
	respond  func(req domain.ChatRequest) (*domain.ChatResponse, error)
	requests []domain.ChatRequest
}

func (p *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	respond := p.respond
	p.mu.Unlock()
	return respond(req)
}

func (p *fakeProvider) Name() string                      { return "fake" }
func (p *fakeProvider) Healthy(ctx context.Context) error { return nil }

func (p *fakeProvider) recorded() []domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChatRequest(nil), p.requests...)
}

type captureBus struct {
	mu       sync.Mutex
	inbound  chan domain.InboundMessage
	outbound []domain.OutboundMessage
}

func newCaptureBus() *captureBus {
	return &captureBus{inbound: make(chan domain.InboundMessage, 8)}
}

func (b *captureBus) Publish(msg domain.InboundMessage)      { b.inbound <- msg }
func (b *captureBus) Subscribe() <-chan domain.InboundMessage { return b.inbound }

func (b *captureBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.Lock()
	b.outbound = append(b.outbound, msg)
	b.mu.Unlock()
}

func (b *captureBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {}
func (b *captureBus) Close()                                                              {}

func (b *captureBus) sent() []domain.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.OutboundMessage(nil), b.outbound...)
}

type echoTool struct {
	mu    sync.Mutex
	calls int
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echo the given text back." }
func (e *echoTool) Parameters() map[string]any {
	return tool.ToolParameters(map[string]tool.Param{
		"text": {Type: "string", Description: "text to echo"},
	}, []string{"text"})
}

func (e *echoTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return "echo: " + tool.ArgsString(args, "text"), nil
}

func (e *echoTool) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type loopFixture struct {
	loop     *Loop
	provider *fakeProvider
	store    *memSessionStore
	memory   *memMemoryStore
	bus      *captureBus
	sup      *Supervisor
	sessions *SessionManager
	echo     *echoTool
}

func newLoopFixture(t *testing.T, respond func(domain.ChatRequest) (*domain.ChatResponse, error)) *loopFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := newMemSessionStore()
	memory := &memMemoryStore{}
	provider := &fakeProvider{respond: respond}
	sessions := NewSessionManager(store, logger)
	sup := NewSupervisor(logger)
	bus := newCaptureBus()

	registry := tool.NewRegistry(logger)
	echo := &echoTool{}
	registry.Register(echo)

	cons := NewConsolidator(ConsolidatorConfig{
		Provider: provider,
		Memory:   memory,
		Sessions: sessions,
		Model:    "test-model",
		Window:   4,
		Logger:   logger,
	})

	loop := NewLoop(LoopConfig{
		Provider:      provider,
		Sessions:      sessions,
		Prompt:        NewPromptBuilder(t.TempDir(), memory, "", logger),
		Tools:         registry,
		Consolidator:  cons,
		Supervisor:    sup,
		Bus:           bus,
		Logger:        logger,
		Model:         "test-model",
		MaxTokens:     1024,
		MaxIterations: 3,
		MemoryWindow:  4,
	})

	return &loopFixture{
		loop: loop, provider: provider, store: store, memory: memory,
		bus: bus, sup: sup, sessions: sessions, echo: echo,
	}
}

func isConsolidationRequest(req domain.ChatRequest) bool {
	return len(req.Messages) > 0 &&
		strings.Contains(req.Messages[0].Content, "memory consolidation agent")
}

// --- tests ---

func TestLoop_DirectReply(t *testing.T) {
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "Hello there"}, nil
	})

	reply, err := fx.loop.ProcessDirect(t.Context(), "hi", "cli", "direct")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != "Hello there" {
		t.Errorf("reply: %q", reply)
	}

	sess, _ := fx.store.GetSession(t.Context(), "cli:direct")
	if sess == nil || len(sess.Messages) != 2 {
		t.Fatalf("expected persisted user+assistant turns, got %+v", sess)
	}
	if sess.Messages[0].Role != "user" || sess.Messages[0].Content != "hi" {
		t.Errorf("user turn: %+v", sess.Messages[0])
	}
	if sess.Messages[1].Role != "assistant" || sess.Messages[1].Content != "Hello there" {
		t.Errorf("assistant turn: %+v", sess.Messages[1])
	}
}

func TestLoop_ToolRoundTrip(t *testing.T) {
	call := 0
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		call++
		if call == 1 {
			return &domain.ChatResponse{
				ToolCalls: []domain.ToolCall{
					{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "ping"}},
				},
			}, nil
		}
		return &domain.ChatResponse{Content: "done"}, nil
	})

	reply, err := fx.loop.ProcessDirect(t.Context(), "echo ping", "cli", "direct")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != "done" {
		t.Errorf("reply: %q", reply)
	}
	if fx.echo.callCount() != 1 {
		t.Errorf("echo calls: %d", fx.echo.callCount())
	}

	// The second request must carry the tool result under the call's ID
	// and end with the steering turn.
	reqs := fx.provider.recorded()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(reqs))
	}
	msgs := reqs[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != "user" || last.Content != steeringTurn {
		t.Errorf("last message should be the steering turn, got %+v", last)
	}
	toolMsg := msgs[len(msgs)-2]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" || toolMsg.Content != "echo: ping" {
		t.Errorf("tool result message: %+v", toolMsg)
	}

	sess, _ := fx.store.GetSession(t.Context(), "cli:direct")
	if len(sess.Messages) != 2 {
		t.Fatalf("session messages: %d", len(sess.Messages))
	}
	if len(sess.Messages[1].ToolsUsed) != 1 || sess.Messages[1].ToolsUsed[0] != "echo" {
		t.Errorf("tools used: %v", sess.Messages[1].ToolsUsed)
	}
}

func TestLoop_AssistantTurnCarriesReasoning(t *testing.T) {
	call := 0
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		call++
		if call == 1 {
			return &domain.ChatResponse{
				Reasoning: "the user wants the text echoed",
				ToolCalls: []domain.ToolCall{
					{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "ping"}},
				},
			}, nil
		}
		return &domain.ChatResponse{Content: "done"}, nil
	})

	if _, err := fx.loop.ProcessDirect(t.Context(), "echo ping", "cli", "direct"); err != nil {
		t.Fatalf("process: %v", err)
	}

	// The assistant turn appended for the tool-call response must keep the
	// model's reasoning annotation when it goes back out.
	reqs := fx.provider.recorded()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(reqs))
	}
	var assistant *domain.Message
	for i := range reqs[1].Messages {
		if reqs[1].Messages[i].Role == "assistant" {
			assistant = &reqs[1].Messages[i]
		}
	}
	if assistant == nil {
		t.Fatal("no assistant turn in the follow-up request")
	}
	if assistant.Reasoning != "the user wants the text echoed" {
		t.Errorf("reasoning dropped from assistant turn: %+v", assistant)
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
		t.Errorf("tool calls: %+v", assistant.ToolCalls)
	}
}

func TestLoop_IterationBudgetFallback(t *testing.T) {
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{
			ToolCalls: []domain.ToolCall{
				{ID: "c", Name: "echo", Arguments: map[string]any{"text": "again"}},
			},
		}, nil
	})

	reply, err := fx.loop.ProcessDirect(t.Context(), "loop forever", "cli", "direct")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != "I've completed processing but have no response to give." {
		t.Errorf("fallback reply: %q", reply)
	}
	if fx.echo.callCount() != 3 {
		t.Errorf("tool should run once per iteration (3), got %d", fx.echo.callCount())
	}
}

func TestLoop_HelpCommand(t *testing.T) {
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, fmt.Errorf("provider must not be called for /help")
	})

	reply, err := fx.loop.ProcessDirect(t.Context(), "/help", "cli", "direct")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != helpReply {
		t.Errorf("reply: %q", reply)
	}
	if len(fx.provider.recorded()) != 0 {
		t.Error("provider should not have been called")
	}
}

func TestLoop_NewCommandArchivesSession(t *testing.T) {
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		if !isConsolidationRequest(req) {
			return nil, fmt.Errorf("only the consolidation call is expected")
		}
		return &domain.ChatResponse{
			Content: `{"history_entry": "[2026-08-24 10:00] Talked about Go.", "memory_update": "User likes Go"}`,
		}, nil
	})

	now := time.Now()
	fx.store.sessions["cli:direct"] = &domain.Session{
		Key: "cli:direct",
		Messages: []domain.SessionMessage{
			{Role: "user", Content: "tell me about Go", Timestamp: now},
			{Role: "assistant", Content: "Go is a language.", Timestamp: now},
		},
	}

	reply, err := fx.loop.ProcessDirect(t.Context(), "/new", "cli", "direct")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != "New session started. Memory consolidation in progress." {
		t.Errorf("reply: %q", reply)
	}

	if err := fx.sup.Drain(t.Context()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	sess, _ := fx.store.GetSession(t.Context(), "cli:direct")
	if sess == nil || len(sess.Messages) != 0 || sess.LastConsolidated != 0 {
		t.Errorf("session should be reset, got %+v", sess)
	}
	if len(fx.memory.history) != 1 || !strings.Contains(fx.memory.history[0], "Talked about Go") {
		t.Errorf("history: %v", fx.memory.history)
	}
	if fx.memory.longTerm != "User likes Go" {
		t.Errorf("long-term memory: %q", fx.memory.longTerm)
	}
}

func TestLoop_NewCommandThenImmediateMessage(t *testing.T) {
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		if isConsolidationRequest(req) {
			return &domain.ChatResponse{
				Content: `{"history_entry": "[2026-08-24 10:00] Talked about Go.", "memory_update": ""}`,
			}, nil
		}
		return &domain.ChatResponse{Content: "fresh reply"}, nil
	})

	now := time.Now()
	fx.store.sessions["cli:direct"] = &domain.Session{
		Key: "cli:direct",
		Messages: []domain.SessionMessage{
			{Role: "user", Content: "tell me about Go", Timestamp: now},
			{Role: "assistant", Content: "Go is a language.", Timestamp: now},
		},
	}

	if _, err := fx.loop.ProcessDirect(t.Context(), "/new", "cli", "direct"); err != nil {
		t.Fatalf("new: %v", err)
	}
	// A follow-up lands while the archive job may still be running; the
	// job works on its snapshot, so the new turn must neither leak into
	// the archive nor disturb it.
	reply, err := fx.loop.ProcessDirect(t.Context(), "what about Rust?", "cli", "direct")
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	if reply != "fresh reply" {
		t.Errorf("reply: %q", reply)
	}

	if err := fx.sup.Drain(t.Context()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	fx.memory.mu.Lock()
	history := append([]string(nil), fx.memory.history...)
	fx.memory.mu.Unlock()
	if len(history) != 1 || !strings.Contains(history[0], "Talked about Go") {
		t.Fatalf("archive lost or duplicated: %v", history)
	}

	// The archived transcript is exactly the pre-reset conversation.
	var consReq *domain.ChatRequest
	for _, r := range fx.provider.recorded() {
		if isConsolidationRequest(r) {
			r := r
			consReq = &r
		}
	}
	if consReq == nil {
		t.Fatal("no consolidation request recorded")
	}
	transcript := consReq.Messages[len(consReq.Messages)-1].Content
	if !strings.Contains(transcript, "tell me about Go") || !strings.Contains(transcript, "Go is a language.") {
		t.Errorf("pre-reset messages missing from archive: %q", transcript)
	}
	if strings.Contains(transcript, "what about Rust?") {
		t.Errorf("post-reset message leaked into archive: %q", transcript)
	}

	sess, _ := fx.store.GetSession(t.Context(), "cli:direct")
	if sess == nil || len(sess.Messages) != 2 || sess.LastConsolidated != 0 {
		t.Fatalf("session after follow-up: %+v", sess)
	}
	if sess.Messages[0].Content != "what about Rust?" || sess.Messages[1].Content != "fresh reply" {
		t.Errorf("session should hold only the new turn, got %+v", sess.Messages)
	}
}

func TestLoop_ConsolidationTriggeredPastWindow(t *testing.T) {
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		if isConsolidationRequest(req) {
			return &domain.ChatResponse{
				Content: `{"history_entry": "[2026-08-24 10:00] Long chat.", "memory_update": ""}`,
			}, nil
		}
		return &domain.ChatResponse{Content: "ok"}, nil
	})

	// Five messages with window 4: the next turn must kick off a
	// detached consolidation over a snapshot.
	now := time.Now()
	msgs := make([]domain.SessionMessage, 5)
	for i := range msgs {
		msgs[i] = domain.SessionMessage{Role: "user", Content: fmt.Sprintf("msg %d", i), Timestamp: now}
	}
	fx.store.sessions["cli:direct"] = &domain.Session{Key: "cli:direct", Messages: msgs}

	reply, err := fx.loop.ProcessDirect(t.Context(), "hello", "cli", "direct")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != "ok" {
		t.Errorf("reply: %q", reply)
	}
	if err := fx.sup.Drain(t.Context()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// Snapshot had 5 messages, keep = window/2 = 2, so the cursor lands
	// on 3 even though the live session kept growing.
	sess, _ := fx.store.GetSession(t.Context(), "cli:direct")
	if sess.LastConsolidated != 3 {
		t.Errorf("cursor: %d", sess.LastConsolidated)
	}
	if len(fx.memory.history) != 1 {
		t.Errorf("history entries: %d", len(fx.memory.history))
	}
}

func TestLoop_SystemMessageRouting(t *testing.T) {
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: ""}, nil
	})

	fx.loop.processMessage(t.Context(), domain.InboundMessage{
		Channel:   domain.SystemChannel,
		ChatID:    "telegram:42",
		SenderID:  "cron:job1",
		Content:   "Job finished",
		Timestamp: time.Now(),
	})

	sent := fx.bus.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one outbound message, got %d", len(sent))
	}
	if sent[0].Channel != "telegram" || sent[0].ChatID != "42" {
		t.Errorf("routed to %s:%s", sent[0].Channel, sent[0].ChatID)
	}
	if sent[0].Content != "Background task completed." {
		t.Errorf("content: %q", sent[0].Content)
	}

	sess, _ := fx.store.GetSession(t.Context(), "telegram:42")
	if sess == nil || len(sess.Messages) != 2 {
		t.Fatalf("origin session: %+v", sess)
	}
	if sess.Messages[0].Content != "[System: cron:job1] Job finished" {
		t.Errorf("system turn: %q", sess.Messages[0].Content)
	}
}

func TestLoop_SystemMessageBareChatIDFallsBackToCLI(t *testing.T) {
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "noted"}, nil
	})

	fx.loop.processMessage(t.Context(), domain.InboundMessage{
		Channel:  domain.SystemChannel,
		ChatID:   "direct",
		SenderID: "subagent:x",
		Content:  "done",
	})

	sent := fx.bus.sent()
	if len(sent) != 1 || sent[0].Channel != "cli" || sent[0].ChatID != "direct" {
		t.Fatalf("expected cli fallback, got %+v", sent)
	}
}

func TestLoop_ApologyOnProviderError(t *testing.T) {
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, fmt.Errorf("upstream exploded")
	})

	fx.loop.processMessage(t.Context(), domain.InboundMessage{
		Channel: "telegram", ChatID: "42", SenderID: "7", Content: "hi",
	})

	sent := fx.bus.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one outbound message, got %d", len(sent))
	}
	if sent[0].Content != apologyReply {
		t.Errorf("content: %q", sent[0].Content)
	}
	if sent[0].Channel != "telegram" || sent[0].ChatID != "42" {
		t.Errorf("routed to %s:%s", sent[0].Channel, sent[0].ChatID)
	}
}

func TestLoop_HistoryWindowFedToProvider(t *testing.T) {
	fx := newLoopFixture(t, func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		if isConsolidationRequest(req) {
			return &domain.ChatResponse{Content: "{}"}, nil
		}
		return &domain.ChatResponse{Content: "ok"}, nil
	})

	now := time.Now()
	msgs := make([]domain.SessionMessage, 6)
	for i := range msgs {
		msgs[i] = domain.SessionMessage{Role: "user", Content: fmt.Sprintf("old %d", i), Timestamp: now}
	}
	fx.store.sessions["cli:direct"] = &domain.Session{Key: "cli:direct", Messages: msgs}

	if _, err := fx.loop.ProcessDirect(t.Context(), "current", "cli", "direct"); err != nil {
		t.Fatalf("process: %v", err)
	}
	fx.sup.Drain(t.Context())

	var chatReq *domain.ChatRequest
	for _, r := range fx.provider.recorded() {
		if !isConsolidationRequest(r) {
			r := r
			chatReq = &r
		}
	}
	if chatReq == nil {
		t.Fatal("no chat request recorded")
	}
	// system + window(4) history + current user message
	if len(chatReq.Messages) != 6 {
		t.Fatalf("message count: %d", len(chatReq.Messages))
	}
	if chatReq.Messages[1].Content != "old 2" {
		t.Errorf("window should start at the 4 most recent, got %q", chatReq.Messages[1].Content)
	}
	if chatReq.Messages[5].Content != "current" {
		t.Errorf("last message: %q", chatReq.Messages[5].Content)
	}
}
