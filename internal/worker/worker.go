// Package worker runs mission steps. A Loop polls the queue for the kinds
// it has handlers for, claims one step at a time and drives it to a
// terminal status. Several loops may poll the same queue concurrently; the
// conditional claim update keeps them from executing the same step twice.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"agentops/internal/domain"
	"agentops/internal/engine"
	"agentops/internal/events"
	"agentops/internal/repo"
)

// Outcome is what a handler produces on success: the step result plus the
// activity event to emit.
type Outcome struct {
	Result       map[string]any
	EventKind    string
	EventTitle   string
	EventSummary string
}

type Handler interface {
	Execute(ctx context.Context, step domain.Step, mission domain.Mission) (Outcome, error)
}

type Loop struct {
	Repo     repo.Repo
	Engine   engine.Engine
	Events   events.Writer
	Handlers map[string]Handler
	WorkerID string
	Interval time.Duration
	Now      func() time.Time
}

func NewLoop(db *sql.DB, workerID string) *Loop {
	return &Loop{
		Repo:     repo.Repo{DB: db},
		Engine:   engine.New(db),
		Events:   events.Writer{DB: db},
		Handlers: map[string]Handler{},
		WorkerID: workerID,
		Interval: 15 * time.Second,
		Now:      time.Now,
	}
}

func (l *Loop) Register(kind string, h Handler) {
	l.Handlers[kind] = h
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loop) nowStr() string {
	return l.now().UTC().Format(time.RFC3339)
}

func (l *Loop) kinds() []string {
	kinds := make([]string, 0, len(l.Handlers))
	for k := range l.Handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Run polls until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	log.Printf("worker %s: starting (kinds %v, poll %s)", l.WorkerID, l.kinds(), l.Interval)
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		if _, err := l.RunOnce(ctx); err != nil {
			log.Printf("worker %s: %v", l.WorkerID, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims and executes at most one step. It reports whether a step
// was claimed. Handler failures fail the step, not the loop; the returned
// error covers infrastructure problems only.
func (l *Loop) RunOnce(ctx context.Context) (bool, error) {
	step, err := l.Repo.NextQueuedStep(ctx, l.kinds())
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("poll queue: %w", err)
	}

	ok, err := l.Repo.ClaimStep(ctx, step.ID, l.WorkerID, l.nowStr())
	if err != nil {
		return false, fmt.Errorf("claim step %s: %w", step.ID, err)
	}
	if !ok {
		// Another worker won the claim.
		return false, nil
	}

	mission, err := l.Repo.GetMission(ctx, step.MissionID)
	if err != nil {
		return true, fmt.Errorf("load mission %s: %w", step.MissionID, err)
	}

	handler, exists := l.Handlers[step.Kind]
	if !exists {
		l.failStep(ctx, step, mission, fmt.Errorf("unknown step kind: %s", step.Kind))
		return true, nil
	}

	outcome, err := handler.Execute(ctx, step, mission)
	if err != nil {
		log.Printf("worker %s: %s failed: %v", l.WorkerID, step.Kind, err)
		l.failStep(ctx, step, mission, err)
		return true, nil
	}

	if err := l.Repo.CompleteStep(ctx, step.ID, outcome.Result, l.nowStr()); err != nil {
		return true, fmt.Errorf("complete step %s: %w", step.ID, err)
	}
	l.Events.Emit(ctx, mission.CreatedBy, outcome.EventKind, outcome.EventTitle, outcome.EventSummary)
	if err := l.Engine.FinalizeMission(ctx, step.MissionID); err != nil {
		return true, fmt.Errorf("finalize mission %s: %w", step.MissionID, err)
	}
	log.Printf("worker %s: %s succeeded: %s", l.WorkerID, step.Kind, step.ID)
	return true, nil
}

func (l *Loop) failStep(ctx context.Context, step domain.Step, mission domain.Mission, cause error) {
	if err := l.Repo.FailStep(ctx, step.ID, cause.Error(), l.nowStr()); err != nil {
		log.Printf("worker %s: fail step %s: %v", l.WorkerID, step.ID, err)
		return
	}
	l.Events.Emit(ctx, mission.CreatedBy, "step_failed", "Step failed: "+step.Kind, cause.Error())
	if err := l.Engine.FinalizeMission(ctx, step.MissionID); err != nil {
		log.Printf("worker %s: finalize mission %s: %v", l.WorkerID, step.MissionID, err)
	}
}

// stringField returns the first non-empty string payload field.
func stringField(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// cut trims a string to at most max runes.
func cut(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
