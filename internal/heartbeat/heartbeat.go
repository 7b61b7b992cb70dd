// Package heartbeat is the system's pulse: a periodic sweep that fires
// trigger rules, drains the reaction queue and recovers work abandoned by
// crashed workers. Each sweep writes one audit row.
package heartbeat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentops/internal/domain"
	"agentops/internal/engine"
	"agentops/internal/events"
	"agentops/internal/repo"
)

const (
	staleAfter        = 30 * time.Minute
	proactiveSkipRate = 0.12
)

type Heartbeat struct {
	Repo          repo.Repo
	Engine        engine.Engine
	Events        events.Writer
	Interval      time.Duration
	ReactionBatch int
	StaleAfter    time.Duration
	Now           func() time.Time
	Rand          *rand.Rand
}

func New(db *sql.DB) *Heartbeat {
	return &Heartbeat{
		Repo:          repo.Repo{DB: db},
		Engine:        engine.New(db),
		Events:        events.Writer{DB: db},
		Interval:      5 * time.Minute,
		ReactionBatch: 5,
		StaleAfter:    staleAfter,
	}
}

func (h *Heartbeat) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Heartbeat) nowStr() string {
	return h.now().UTC().Format(time.RFC3339)
}

func (h *Heartbeat) random() float64 {
	if h.Rand != nil {
		return h.Rand.Float64()
	}
	return rand.Float64()
}

// Run sweeps immediately, then on every interval tick until cancelled.
func (h *Heartbeat) Run(ctx context.Context) error {
	log.Printf("heartbeat: starting (interval %s)", h.Interval)
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		h.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes all four jobs, each inside its own failure boundary, and
// records the sweep in action_runs. A failing job never blocks the others.
func (h *Heartbeat) RunOnce(ctx context.Context) map[string]any {
	start := time.Now()
	results := map[string]any{}

	jobs := []struct {
		name string
		fn   func(context.Context) (map[string]any, error)
	}{
		{"triggers", h.evaluateTriggers},
		{"reactions", h.processReactions},
		{"stale_steps", h.recoverStaleSteps},
		{"stale_roundtables", h.recoverStaleRoundtables},
	}
	for _, job := range jobs {
		out, err := job.fn(ctx)
		if err != nil {
			log.Printf("heartbeat: job %s failed: %v", job.name, err)
			results[job.name] = map[string]any{"error": err.Error()}
			continue
		}
		results[job.name] = out
	}

	duration := time.Since(start)
	payload, _ := json.Marshal(results)
	run := domain.ActionRun{
		Action:     "heartbeat",
		Status:     "succeeded",
		ResultJSON: string(payload),
		DurationMS: duration.Milliseconds(),
		CreatedAt:  h.nowStr(),
	}
	if err := h.Repo.InsertActionRun(ctx, run); err != nil {
		log.Printf("heartbeat: record run: %v", err)
	}
	log.Printf("heartbeat: %s %s", duration.Round(time.Millisecond), payload)
	return results
}

// evaluateTriggers fires every enabled rule that is off cooldown. Rules
// whose trigger event carries the proactive_ prefix are randomly skipped so
// proactive behavior stays irregular.
func (h *Heartbeat) evaluateTriggers(ctx context.Context) (map[string]any, error) {
	rules, err := h.Repo.ListEnabledTriggerRules(ctx)
	if err != nil {
		return nil, err
	}
	fired := 0
	for _, rule := range rules {
		if rule.LastFiredAt != nil {
			lastFired, err := time.Parse(time.RFC3339, *rule.LastFiredAt)
			if err == nil && h.now().Sub(lastFired) < time.Duration(rule.CooldownMinutes)*time.Minute {
				continue
			}
		}
		if strings.HasPrefix(rule.TriggerEvent, "proactive_") && h.random() < proactiveSkipRate {
			continue
		}
		target, _ := rule.ActionConfig["target_agent"].(string)
		if target == "" {
			continue
		}
		steps := configuredSteps(rule.ActionConfig)
		if len(steps) == 0 {
			steps = []domain.ProposedStep{{Kind: "analyze", Payload: map[string]any{"source": rule.TriggerEvent}}}
		}
		if _, err := h.Engine.CreateProposal(ctx, target, "[trigger] "+rule.Name, steps); err != nil {
			log.Printf("heartbeat: trigger %s failed: %v", rule.Name, err)
			continue
		}
		if err := h.Repo.MarkTriggerFired(ctx, rule.ID, h.nowStr()); err != nil {
			log.Printf("heartbeat: mark trigger %s fired: %v", rule.Name, err)
			continue
		}
		fired++
	}
	return map[string]any{"evaluated": len(rules), "fired": fired}, nil
}

// configuredSteps decodes the optional steps list in a rule's action config.
func configuredSteps(config map[string]any) []domain.ProposedStep {
	raw, ok := config["steps"].([]any)
	if !ok {
		return nil
	}
	var steps []domain.ProposedStep
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := m["kind"].(string)
		if kind == "" {
			continue
		}
		payload, _ := m["payload"].(map[string]any)
		steps = append(steps, domain.ProposedStep{Kind: kind, Payload: payload})
	}
	return steps
}

// processReactions converts a batch of pending reactions into proposals.
// Every drained reaction ends terminal: completed or failed, never back to
// pending.
func (h *Heartbeat) processReactions(ctx context.Context) (map[string]any, error) {
	batch := h.ReactionBatch
	if batch <= 0 {
		batch = 5
	}
	reactions, err := h.Repo.PendingReactions(ctx, batch)
	if err != nil {
		return nil, err
	}
	processed := 0
	for _, reaction := range reactions {
		if err := h.Repo.SetReactionStatus(ctx, reaction.ID, "processing"); err != nil {
			log.Printf("heartbeat: reaction %s: %v", reaction.ID, err)
			continue
		}
		payload := map[string]any{
			"source_agent":    reaction.SourceAgent,
			"source_event_id": reaction.SourceEventID,
		}
		for k, v := range reaction.Metadata {
			payload[k] = v
		}
		title := fmt.Sprintf("[reaction] %s from %s", reaction.ReactionType, reaction.SourceAgent)
		steps := []domain.ProposedStep{{Kind: reaction.ReactionType, Payload: payload}}
		if _, err := h.Engine.CreateProposal(ctx, reaction.TargetAgent, title, steps); err != nil {
			log.Printf("heartbeat: reaction %s failed: %v", reaction.ID, err)
			if err := h.Repo.SetReactionStatus(ctx, reaction.ID, "failed"); err != nil {
				log.Printf("heartbeat: reaction %s: %v", reaction.ID, err)
			}
			continue
		}
		if err := h.Repo.SetReactionStatus(ctx, reaction.ID, "completed"); err != nil {
			log.Printf("heartbeat: reaction %s: %v", reaction.ID, err)
			continue
		}
		processed++
	}
	return map[string]any{"processed": processed}, nil
}

// recoverStaleSteps fails running steps that have shown no progress past
// the stale window, then re-runs mission fan-in so their missions reach a
// terminal status too.
func (h *Heartbeat) recoverStaleSteps(ctx context.Context) (map[string]any, error) {
	window := h.StaleAfter
	if window <= 0 {
		window = staleAfter
	}
	cutoff := h.now().UTC().Add(-window).Format(time.RFC3339)
	stale, err := h.Repo.StaleRunningSteps(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	reason := fmt.Sprintf("Stale: running for >%dmin with no progress", int(window.Minutes()))
	for _, step := range stale {
		if err := h.Repo.FailStep(ctx, step.ID, reason, h.nowStr()); err != nil {
			log.Printf("heartbeat: fail stale step %s: %v", step.ID, err)
			continue
		}
		if err := h.Engine.FinalizeMission(ctx, step.MissionID); err != nil {
			log.Printf("heartbeat: finalize mission %s: %v", step.MissionID, err)
		}
	}
	return map[string]any{"recovered": len(stale)}, nil
}

func (h *Heartbeat) recoverStaleRoundtables(ctx context.Context) (map[string]any, error) {
	window := h.StaleAfter
	if window <= 0 {
		window = staleAfter
	}
	cutoff := h.now().UTC().Add(-window).Format(time.RFC3339)
	stale, err := h.Repo.StaleRunningRoundtables(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, session := range stale {
		if err := h.Repo.FailRoundtable(ctx, session.ID, h.nowStr()); err != nil {
			log.Printf("heartbeat: fail stale roundtable %s: %v", session.ID, err)
		}
	}
	return map[string]any{"recovered": len(stale)}, nil
}

// SeedDemoTrigger inserts a disabled example rule; useful for first-run
// workspaces.
func SeedDemoTrigger(ctx context.Context, r repo.Repo) error {
	return r.InsertTriggerRule(ctx, domain.TriggerRule{
		ID:              uuid.New().String(),
		Name:            "daily-analysis",
		TriggerEvent:    "proactive_daily_analysis",
		Enabled:         false,
		CooldownMinutes: 1440,
		ActionConfig:    map[string]any{"target_agent": "analyst"},
	})
}
