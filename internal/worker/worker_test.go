package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentops/internal/db"
	"agentops/internal/domain"
	"agentops/internal/engine"
	"agentops/internal/llm"
	"agentops/internal/migrate"
	"agentops/internal/worker"
)

type stubCompleter struct {
	reply string
	err   error
	calls int
}

func (s *stubCompleter) Complete(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type testEnv struct {
	Engine engine.Engine
	Loop   *worker.Loop
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
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
	fixed := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	eng := engine.New(conn)
	eng.Now = fixed
	loop := worker.NewLoop(conn, "worker-test")
	loop.Now = fixed
	return testEnv{Engine: eng, Loop: loop, Ctx: context.Background()}
}

// queueMission creates an auto-approved mission and returns its id.
func (env testEnv) queueMission(t *testing.T, kinds ...string) string {
	t.Helper()
	allowed := make([]any, 0, len(kinds))
	for _, k := range kinds {
		allowed = append(allowed, k)
	}
	if _, err := env.Engine.SetPolicy(env.Ctx, "auto_approve", map[string]any{
		"enabled":            true,
		"allowed_step_kinds": allowed,
	}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	steps := make([]domain.ProposedStep, 0, len(kinds))
	for _, k := range kinds {
		steps = append(steps, domain.ProposedStep{Kind: k, Payload: map[string]any{"topic": "testing"}})
	}
	res, err := env.Engine.CreateProposal(env.Ctx, "scout", "worker test", steps)
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("expected auto-approval, got %+v", res)
	}
	return res.MissionID
}

func TestRunOnceEmptyQueue(t *testing.T) {
	env := newTestEnv(t)
	env.Loop.Register("analyze", worker.Analyze{LLM: &stubCompleter{reply: "nothing"}})
	claimed, err := env.Loop.RunOnce(env.Ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if claimed {
		t.Fatalf("expected no claim on empty queue")
	}
}

func TestRunOnceCompletesStepAndMission(t *testing.T) {
	env := newTestEnv(t)
	stub := &stubCompleter{reply: "The topic looks healthy."}
	env.Loop.Register("analyze", worker.Analyze{LLM: stub})
	missionID := env.queueMission(t, "analyze")

	claimed, err := env.Loop.RunOnce(env.Ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !claimed {
		t.Fatalf("expected a claimed step")
	}
	if stub.calls != 1 {
		t.Fatalf("expected one completion call, got %d", stub.calls)
	}

	steps, err := env.Loop.Repo.ListMissionSteps(env.Ctx, missionID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 1 || steps[0].Status != "succeeded" {
		t.Fatalf("unexpected steps: %+v", steps)
	}
	if steps[0].Result["analysis"] != "The topic looks healthy." {
		t.Fatalf("missing analysis result: %+v", steps[0].Result)
	}
	if steps[0].ReservedBy == nil || *steps[0].ReservedBy != "worker-test" {
		t.Fatalf("expected reservation by worker-test")
	}

	m, err := env.Loop.Repo.GetMission(env.Ctx, missionID)
	if err != nil {
		t.Fatalf("get mission: %v", err)
	}
	if m.Status != "succeeded" {
		t.Fatalf("expected succeeded mission, got %s", m.Status)
	}

	events, err := env.Loop.Repo.LatestEvents(env.Ctx, 10, "", "analyze_complete")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one analyze_complete event, got %d", len(events))
	}
}

func TestHandlerErrorFailsStepAndMission(t *testing.T) {
	env := newTestEnv(t)
	env.Loop.Register("analyze", worker.Analyze{LLM: &stubCompleter{err: errors.New("backend down")}})
	missionID := env.queueMission(t, "analyze")

	claimed, err := env.Loop.RunOnce(env.Ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !claimed {
		t.Fatalf("expected a claimed step")
	}

	steps, _ := env.Loop.Repo.ListMissionSteps(env.Ctx, missionID)
	if len(steps) != 1 || steps[0].Status != "failed" {
		t.Fatalf("expected failed step, got %+v", steps)
	}
	if steps[0].Error != "backend down" {
		t.Fatalf("unexpected step error: %q", steps[0].Error)
	}
	m, _ := env.Loop.Repo.GetMission(env.Ctx, missionID)
	if m.Status != "failed" {
		t.Fatalf("expected failed mission, got %s", m.Status)
	}
	events, _ := env.Loop.Repo.LatestEvents(env.Ctx, 10, "", "step_failed")
	if len(events) != 1 {
		t.Fatalf("expected step_failed event")
	}
}

func TestStepsExecuteInProposalOrder(t *testing.T) {
	env := newTestEnv(t)
	stub := &stubCompleter{reply: "ok"}
	env.Loop.Register("analyze", worker.Analyze{LLM: stub})
	missionID := env.queueMission(t, "analyze", "analyze", "analyze")

	steps, _ := env.Loop.Repo.ListMissionSteps(env.Ctx, missionID)
	for i := range steps {
		claimed, err := env.Loop.RunOnce(env.Ctx)
		if err != nil || !claimed {
			t.Fatalf("run %d: claimed=%v err=%v", i, claimed, err)
		}
		got, _ := env.Loop.Repo.GetStep(env.Ctx, steps[i].ID)
		if got.Status != "succeeded" {
			t.Fatalf("step %d executed out of order, status %s", i, got.Status)
		}
	}
	m, _ := env.Loop.Repo.GetMission(env.Ctx, missionID)
	if m.Status != "succeeded" {
		t.Fatalf("expected succeeded mission, got %s", m.Status)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	env := newTestEnv(t)
	env.Loop.Register("analyze", worker.Analyze{LLM: &stubCompleter{reply: "ok"}})
	missionID := env.queueMission(t, "analyze")

	steps, _ := env.Loop.Repo.ListMissionSteps(env.Ctx, missionID)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	ok, err := env.Loop.Repo.ClaimStep(env.Ctx, steps[0].ID, "first", now)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = env.Loop.Repo.ClaimStep(env.Ctx, steps[0].ID, "second", now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("expected second claim to lose")
	}
	// the loop sees no queued work once the step is claimed
	claimed, err := env.Loop.RunOnce(env.Ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if claimed {
		t.Fatalf("expected nothing to claim")
	}
}

func TestWriteContentUsesMemories(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	trace := "seed-trace"
	err := env.Loop.Repo.InsertMemory(env.Ctx, domain.AgentMemory{
		ID: "m1", AgentID: "scout", Type: "lesson",
		Content: "short posts perform better", Confidence: 0.8,
		SourceTraceID: &trace, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	stub := &stubCompleter{reply: "A short draft."}
	env.Loop.Register("write_content", worker.WriteContent{Repo: env.Loop.Repo, LLM: stub, Now: env.Loop.Now})
	missionID := env.queueMission(t, "write_content")

	claimed, err := env.Loop.RunOnce(env.Ctx)
	if err != nil || !claimed {
		t.Fatalf("run once: claimed=%v err=%v", claimed, err)
	}
	steps, _ := env.Loop.Repo.ListMissionSteps(env.Ctx, missionID)
	if steps[0].Status != "succeeded" {
		t.Fatalf("expected success, got %s (%s)", steps[0].Status, steps[0].Error)
	}
	artifactID, _ := steps[0].Result["artifact_id"].(string)
	if artifactID == "" {
		t.Fatalf("expected artifact id in result")
	}
	a, err := env.Loop.Repo.GetArtifact(env.Ctx, artifactID)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if a.Content != "A short draft." {
		t.Fatalf("unexpected artifact content: %q", a.Content)
	}
}
