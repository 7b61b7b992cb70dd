package heartbeat_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"agentops/internal/db"
	"agentops/internal/domain"
	"agentops/internal/heartbeat"
	"agentops/internal/migrate"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHeartbeat(t *testing.T) *heartbeat.Heartbeat {
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
	hb := heartbeat.New(conn)
	hb.Now = func() time.Time { return t0 }
	hb.Rand = rand.New(rand.NewSource(1))
	hb.Engine.Now = hb.Now
	return hb
}

func TestTriggerFiresProposal(t *testing.T) {
	hb := newHeartbeat(t)
	ctx := context.Background()
	err := hb.Repo.InsertTriggerRule(ctx, domain.TriggerRule{
		ID:              "rule-1",
		Name:            "morning-scan",
		TriggerEvent:    "schedule_morning",
		Enabled:         true,
		CooldownMinutes: 60,
		ActionConfig: map[string]any{
			"target_agent": "analyst",
			"steps": []any{
				map[string]any{"kind": "analyze", "payload": map[string]any{"topic": "overnight"}},
			},
		},
	})
	if err != nil {
		t.Fatalf("insert rule: %v", err)
	}

	results := hb.RunOnce(ctx)
	triggers, _ := results["triggers"].(map[string]any)
	if triggers["fired"] != 1 {
		t.Fatalf("expected one fired trigger, got %+v", triggers)
	}

	proposals, err := hb.Repo.ListProposals(ctx, "", 10)
	if err != nil {
		t.Fatalf("list proposals: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected one proposal, got %d", len(proposals))
	}
	p := proposals[0]
	if p.AgentID != "analyst" || p.Title != "[trigger] morning-scan" {
		t.Fatalf("unexpected proposal: %+v", p)
	}
	if len(p.ProposedSteps) != 1 || p.ProposedSteps[0].Kind != "analyze" {
		t.Fatalf("configured steps not used: %+v", p.ProposedSteps)
	}

	rules, _ := hb.Repo.ListEnabledTriggerRules(ctx)
	if rules[0].LastFiredAt == nil || rules[0].FireCount != 1 {
		t.Fatalf("expected fire bookkeeping, got %+v", rules[0])
	}
}

func TestTriggerCooldownSkips(t *testing.T) {
	hb := newHeartbeat(t)
	ctx := context.Background()
	lastFired := t0.Add(-10 * time.Minute).Format(time.RFC3339)
	err := hb.Repo.InsertTriggerRule(ctx, domain.TriggerRule{
		ID:              "rule-1",
		Name:            "hourly",
		TriggerEvent:    "schedule_hourly",
		Enabled:         true,
		CooldownMinutes: 60,
		LastFiredAt:     &lastFired,
		ActionConfig:    map[string]any{"target_agent": "analyst"},
	})
	if err != nil {
		t.Fatalf("insert rule: %v", err)
	}
	results := hb.RunOnce(ctx)
	triggers, _ := results["triggers"].(map[string]any)
	if triggers["fired"] != 0 {
		t.Fatalf("expected cooldown skip, got %+v", triggers)
	}
	proposals, _ := hb.Repo.ListProposals(ctx, "", 10)
	if len(proposals) != 0 {
		t.Fatalf("expected no proposals during cooldown")
	}
}

func TestTriggerWithoutTargetIsIgnored(t *testing.T) {
	hb := newHeartbeat(t)
	ctx := context.Background()
	err := hb.Repo.InsertTriggerRule(ctx, domain.TriggerRule{
		ID:           "rule-1",
		Name:         "broken",
		TriggerEvent: "schedule_broken",
		Enabled:      true,
		ActionConfig: map[string]any{},
	})
	if err != nil {
		t.Fatalf("insert rule: %v", err)
	}
	results := hb.RunOnce(ctx)
	triggers, _ := results["triggers"].(map[string]any)
	if triggers["evaluated"] != 1 || triggers["fired"] != 0 {
		t.Fatalf("expected evaluated but not fired, got %+v", triggers)
	}
}

func TestReactionDrainEndsTerminal(t *testing.T) {
	hb := newHeartbeat(t)
	ctx := context.Background()
	now := t0.Format(time.RFC3339)
	good := domain.Reaction{
		ID: "re-1", SourceAgent: "scout", TargetAgent: "analyst",
		ReactionType: "analyze", Status: "pending", CreatedAt: now,
		Metadata: map[string]any{"topic": "mention"},
	}
	bad := domain.Reaction{
		ID: "re-2", SourceAgent: "scout", TargetAgent: "",
		ReactionType: "analyze", Status: "pending", CreatedAt: now,
	}
	for _, re := range []domain.Reaction{good, bad} {
		if err := hb.Repo.InsertReaction(ctx, re); err != nil {
			t.Fatalf("insert reaction: %v", err)
		}
	}

	results := hb.RunOnce(ctx)
	reactions, _ := results["reactions"].(map[string]any)
	if reactions["processed"] != 1 {
		t.Fatalf("expected one processed reaction, got %+v", reactions)
	}

	first, err := hb.Repo.GetReaction(ctx, "re-1")
	if err != nil {
		t.Fatalf("get reaction: %v", err)
	}
	if first.Status != "completed" {
		t.Fatalf("expected completed, got %s", first.Status)
	}
	second, _ := hb.Repo.GetReaction(ctx, "re-2")
	if second.Status != "failed" {
		t.Fatalf("expected failed, got %s", second.Status)
	}

	proposals, _ := hb.Repo.ListProposals(ctx, "", 10)
	if len(proposals) != 1 {
		t.Fatalf("expected one proposal, got %d", len(proposals))
	}
	if proposals[0].Title != "[reaction] analyze from scout" {
		t.Fatalf("unexpected title: %q", proposals[0].Title)
	}
	payload := proposals[0].ProposedSteps[0].Payload
	if payload["source_agent"] != "scout" || payload["topic"] != "mention" {
		t.Fatalf("metadata not merged into payload: %+v", payload)
	}
}

func TestStaleStepRecovery(t *testing.T) {
	hb := newHeartbeat(t)
	ctx := context.Background()

	if _, err := hb.Engine.SetPolicy(ctx, "auto_approve", map[string]any{
		"enabled":            true,
		"allowed_step_kinds": []any{"analyze"},
	}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	res, err := hb.Engine.CreateProposal(ctx, "scout", "stuck work", []domain.ProposedStep{{Kind: "analyze"}})
	if err != nil || !res.Accepted {
		t.Fatalf("create mission: %+v %v", res, err)
	}
	steps, _ := hb.Repo.ListMissionSteps(ctx, res.MissionID)
	claimedAt := t0.Add(-45 * time.Minute).Format(time.RFC3339)
	if ok, err := hb.Repo.ClaimStep(ctx, steps[0].ID, "dead-worker", claimedAt); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	results := hb.RunOnce(ctx)
	stale, _ := results["stale_steps"].(map[string]any)
	if stale["recovered"] != 1 {
		t.Fatalf("expected one recovered step, got %+v", stale)
	}

	got, _ := hb.Repo.GetStep(ctx, steps[0].ID)
	if got.Status != "failed" {
		t.Fatalf("expected failed step, got %s", got.Status)
	}
	if got.Error != "Stale: running for >30min with no progress" {
		t.Fatalf("unexpected error: %q", got.Error)
	}
	m, _ := hb.Repo.GetMission(ctx, res.MissionID)
	if m.Status != "failed" {
		t.Fatalf("expected failed mission, got %s", m.Status)
	}
}

func TestFreshRunningStepIsLeftAlone(t *testing.T) {
	hb := newHeartbeat(t)
	ctx := context.Background()
	if _, err := hb.Engine.SetPolicy(ctx, "auto_approve", map[string]any{
		"enabled":            true,
		"allowed_step_kinds": []any{"analyze"},
	}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	res, _ := hb.Engine.CreateProposal(ctx, "scout", "live work", []domain.ProposedStep{{Kind: "analyze"}})
	steps, _ := hb.Repo.ListMissionSteps(ctx, res.MissionID)
	recent := t0.Add(-5 * time.Minute).Format(time.RFC3339)
	hb.Repo.ClaimStep(ctx, steps[0].ID, "live-worker", recent)

	results := hb.RunOnce(ctx)
	stale, _ := results["stale_steps"].(map[string]any)
	if stale["recovered"] != 0 {
		t.Fatalf("fresh step recovered: %+v", stale)
	}
	got, _ := hb.Repo.GetStep(ctx, steps[0].ID)
	if got.Status != "running" {
		t.Fatalf("expected still running, got %s", got.Status)
	}
}

func TestStaleRoundtableRecovery(t *testing.T) {
	hb := newHeartbeat(t)
	ctx := context.Background()
	session := domain.RoundtableSession{
		ID: "rt-1", Format: "watercooler", Topic: "anything",
		Participants: []string{"a", "b"}, Status: "pending",
		CreatedAt: t0.Format(time.RFC3339),
	}
	if err := hb.Repo.InsertRoundtable(ctx, session); err != nil {
		t.Fatalf("insert roundtable: %v", err)
	}
	startedAt := t0.Add(-45 * time.Minute).Format(time.RFC3339)
	if ok, err := hb.Repo.ClaimRoundtable(ctx, session.ID, startedAt); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	results := hb.RunOnce(ctx)
	stale, _ := results["stale_roundtables"].(map[string]any)
	if stale["recovered"] != 1 {
		t.Fatalf("expected one recovered roundtable, got %+v", stale)
	}
	got, _ := hb.Repo.GetRoundtable(ctx, session.ID)
	if got.Status != "failed" {
		t.Fatalf("expected failed roundtable, got %s", got.Status)
	}
}

func TestRunOnceRecordsActionRun(t *testing.T) {
	hb := newHeartbeat(t)
	ctx := context.Background()
	hb.RunOnce(ctx)
	runs, err := hb.Repo.LatestActionRuns(ctx, 5)
	if err != nil {
		t.Fatalf("latest runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Action != "heartbeat" || runs[0].Status != "succeeded" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestSeedDemoTrigger(t *testing.T) {
	hb := newHeartbeat(t)
	ctx := context.Background()
	if err := heartbeat.SeedDemoTrigger(ctx, hb.Repo); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// disabled rules never fire
	results := hb.RunOnce(ctx)
	triggers, _ := results["triggers"].(map[string]any)
	if triggers["evaluated"] != 0 {
		t.Fatalf("disabled rule should not be evaluated: %+v", triggers)
	}
}
