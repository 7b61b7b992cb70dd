package roundtable_test

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"agentops/internal/db"
	"agentops/internal/domain"
	"agentops/internal/llm"
	"agentops/internal/migrate"
	"agentops/internal/roundtable"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  hello  ", 0, "hello"},
		{"", 0, "..."},
		{"   ", 0, "..."},
		{"see https://example.com/page for details", 0, "see [link] for details"},
		{"abcdef", 3, "abc"},
		{strings.Repeat("x", 200), 0, strings.Repeat("x", 120)},
	}
	for _, c := range cases {
		if got := roundtable.Sanitize(c.in, c.max); got != c.want {
			t.Errorf("Sanitize(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
	}
}

// scriptedCompleter answers turn prompts with canned dialogue and the
// distillation prompt with canned JSON.
type scriptedCompleter struct {
	turnReply    string
	distillReply string
	turnErr      error
	turns        int
	distills     int
}

func (s *scriptedCompleter) Complete(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	if strings.Contains(msgs[len(msgs)-1].Content, "Extract up to") {
		s.distills++
		return s.distillReply, nil
	}
	if s.turnErr != nil {
		return "", s.turnErr
	}
	s.turns++
	return s.turnReply, nil
}

func newOrchestrator(t *testing.T, completer llm.Completer) *roundtable.Orchestrator {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	o := roundtable.New(conn, completer)
	o.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	o.Rand = rand.New(rand.NewSource(1))
	o.TurnDelay = func() time.Duration { return 0 }
	return o
}

func seedAgents(t *testing.T, o *roundtable.Orchestrator, ids ...string) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	for _, id := range ids {
		err := o.Repo.UpsertAgent(ctx, domain.Agent{
			ID:              id,
			DisplayName:     strings.ToUpper(id[:1]) + id[1:],
			SystemDirective: "You are " + id + ". Keep it short.",
			CreatedAt:       now,
		})
		if err != nil {
			t.Fatalf("seed agent %s: %v", id, err)
		}
	}
}

func TestEnqueueValidation(t *testing.T) {
	o := newOrchestrator(t, &scriptedCompleter{})
	ctx := context.Background()
	if _, err := o.Enqueue(ctx, "watercooler", "x", []string{"solo"}); err == nil {
		t.Fatalf("expected participant count error")
	}
	if _, err := o.Enqueue(ctx, "fireside", "x", []string{"a", "b"}); err == nil {
		t.Fatalf("expected unknown format error")
	}
	session, err := o.Enqueue(ctx, "watercooler", "coffee", []string{"a", "b"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if session.Status != "pending" {
		t.Fatalf("expected pending, got %s", session.Status)
	}
}

func TestRunOnceRunsConversationAndDistills(t *testing.T) {
	stub := &scriptedCompleter{
		turnReply: "Shipping looks on track, see https://status.example.com now.",
		distillReply: `{"memories":[
			{"agent_id":"ana","type":"insight","content":"Shipping is on track","confidence":0.8},
			{"agent_id":"ben","type":"pattern","content":"Too confident","confidence":1.4},
			{"agent_id":"ana","type":"lesson","content":"Too weak","confidence":0.3},
			{"agent_id":"","type":"insight","content":"No owner","confidence":0.7}
		]}`,
	}
	o := newOrchestrator(t, stub)
	seedAgents(t, o, "ana", "ben")
	ctx := context.Background()

	session, err := o.Enqueue(ctx, "watercooler", "the release", []string{"ana", "ben"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := o.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !claimed {
		t.Fatalf("expected a claimed session")
	}

	got, err := o.Repo.GetRoundtable(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != "succeeded" {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}
	if len(got.History) < 2 || len(got.History) > 5 {
		t.Fatalf("watercooler turn count out of range: %d", len(got.History))
	}
	for i, turn := range got.History {
		if turn.Turn != i {
			t.Fatalf("turn index mismatch at %d: %+v", i, turn)
		}
		if i > 0 && turn.Speaker == got.History[i-1].Speaker {
			t.Fatalf("consecutive speaker at turn %d", i)
		}
		if strings.Contains(turn.Dialogue, "https://") {
			t.Fatalf("URL survived sanitization: %q", turn.Dialogue)
		}
		if len([]rune(turn.Dialogue)) > 120 {
			t.Fatalf("dialogue too long: %d", len([]rune(turn.Dialogue)))
		}
	}

	memories, err := o.Repo.ListMemories(ctx, "", 20)
	if err != nil {
		t.Fatalf("list memories: %v", err)
	}
	if len(memories) != 2 {
		t.Fatalf("expected 2 memories (low confidence and missing agent dropped), got %d", len(memories))
	}
	for _, m := range memories {
		if m.Confidence > 0.95 {
			t.Fatalf("confidence not clamped: %f", m.Confidence)
		}
		if m.SourceTraceID == nil || !strings.HasPrefix(*m.SourceTraceID, "roundtable:"+session.ID+":") {
			t.Fatalf("unexpected trace: %+v", m.SourceTraceID)
		}
	}
}

func TestConversationFailureFailsSession(t *testing.T) {
	stub := &scriptedCompleter{turnErr: errors.New("backend unreachable")}
	o := newOrchestrator(t, stub)
	seedAgents(t, o, "ana", "ben")
	ctx := context.Background()

	session, err := o.Enqueue(ctx, "standup", "", []string{"ana", "ben"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := o.RunOnce(ctx)
	if err != nil || !claimed {
		t.Fatalf("run once: claimed=%v err=%v", claimed, err)
	}
	got, _ := o.Repo.GetRoundtable(ctx, session.ID)
	if got.Status != "failed" {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if len(got.History) != 0 {
		t.Fatalf("expected no partial history, got %d turns", len(got.History))
	}
	if stub.distills != 0 {
		t.Fatalf("failed session must not distill")
	}
}

func TestUnknownParticipantsFailSession(t *testing.T) {
	o := newOrchestrator(t, &scriptedCompleter{turnReply: "hi"})
	ctx := context.Background()
	// participants were never registered as agents
	session, err := o.Enqueue(ctx, "watercooler", "ghosts", []string{"nobody", "noone"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := o.RunOnce(ctx)
	if err != nil || !claimed {
		t.Fatalf("run once: claimed=%v err=%v", claimed, err)
	}
	got, _ := o.Repo.GetRoundtable(ctx, session.ID)
	if got.Status != "failed" {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}

func TestRunOnceEmptyQueue(t *testing.T) {
	o := newOrchestrator(t, &scriptedCompleter{})
	claimed, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if claimed {
		t.Fatalf("expected nothing to claim")
	}
}

func TestMemoryDedupByTrace(t *testing.T) {
	o := newOrchestrator(t, &scriptedCompleter{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	trace := "roundtable:s1:ana:insight:abc"
	first := domain.AgentMemory{
		ID: "m1", AgentID: "ana", Type: "insight", Content: "once",
		Confidence: 0.7, SourceTraceID: &trace, CreatedAt: now,
	}
	second := first
	second.ID = "m2"
	if err := o.Repo.InsertMemory(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := o.Repo.InsertMemory(ctx, second); err != nil {
		t.Fatalf("duplicate insert should be a no-op: %v", err)
	}
	memories, err := o.Repo.ListMemories(ctx, "ana", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("expected dedup to keep one row, got %d", len(memories))
	}
}
