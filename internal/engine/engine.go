package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentops/internal/domain"
	"agentops/internal/events"
	"agentops/internal/repo"
)

// ErrInvalidState marks an operation attempted against an entity not in the
// required state, e.g. accepting a non-pending proposal.
var ErrInvalidState = errors.New("invalid state")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ProposalResult is the outcome of a proposal entry point.
type ProposalResult struct {
	Accepted   bool   `json:"accepted"`
	ProposalID string `json:"proposal_id,omitempty"`
	MissionID  string `json:"mission_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func validateProposedSteps(agentID string, steps []domain.ProposedStep) error {
	if agentID == "" {
		return errors.New("agent_id is required")
	}
	if len(steps) == 0 {
		return errors.New("at least one proposed step is required")
	}
	for i, s := range steps {
		if s.Kind == "" {
			return fmt.Errorf("proposed step %d missing kind", i)
		}
	}
	return nil
}

// CreateProposal runs the gate engine and auto-approval policy over the
// proposed steps and persists the outcome. A gate rejection is a normal
// result, not an error; no mission exists for a rejected proposal.
func (e Engine) CreateProposal(ctx context.Context, agentID, title string, steps []domain.ProposedStep) (ProposalResult, error) {
	if err := validateProposedSteps(agentID, steps); err != nil {
		return ProposalResult{}, err
	}
	now := e.nowStr()
	p := domain.Proposal{
		ID:            uuid.New().String(),
		AgentID:       agentID,
		Title:         title,
		ProposedSteps: steps,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if gate := e.checkGates(ctx, steps); !gate.OK {
		p.Status = "rejected"
		p.RejectionReason = gate.Reason
		if err := e.Repo.InsertProposal(ctx, p); err != nil {
			return ProposalResult{}, fmt.Errorf("insert proposal: %w", err)
		}
		e.Events.Emit(ctx, agentID, "proposal_rejected", title, gate.Reason)
		return ProposalResult{Accepted: false, ProposalID: p.ID, Reason: gate.Reason}, nil
	}

	p.Status = "pending"
	if err := e.Repo.InsertProposal(ctx, p); err != nil {
		return ProposalResult{}, fmt.Errorf("insert proposal: %w", err)
	}

	if e.shouldAutoApprove(ctx, steps) {
		if _, err := e.Repo.UpdateProposalStatus(ctx, p.ID, "pending", "accepted", "", e.nowStr()); err != nil {
			return ProposalResult{}, err
		}
		mission, err := e.createMissionFromProposal(ctx, p.ID, agentID, title, steps)
		if err != nil {
			return ProposalResult{}, err
		}
		e.Events.Emit(ctx, agentID, "proposal_accepted", title, fmt.Sprintf("Auto-approved → mission %s", mission.ID))
		return ProposalResult{Accepted: true, ProposalID: p.ID, MissionID: mission.ID}, nil
	}

	e.Events.Emit(ctx, agentID, "proposal_pending", title, "Awaiting manual approval")
	return ProposalResult{Accepted: false, ProposalID: p.ID, Reason: "pending_review"}, nil
}

// AcceptProposal approves a pending proposal. Quotas may have moved since
// creation, so the gates run again; a gate failure rejects the proposal.
func (e Engine) AcceptProposal(ctx context.Context, proposalID string) (ProposalResult, error) {
	p, err := e.Repo.GetProposal(ctx, proposalID)
	if err != nil {
		return ProposalResult{}, err
	}
	if p.Status != "pending" {
		return ProposalResult{}, fmt.Errorf("proposal %s: %w (status: %s)", proposalID, ErrInvalidState, p.Status)
	}

	if gate := e.checkGates(ctx, p.ProposedSteps); !gate.OK {
		if _, err := e.Repo.UpdateProposalStatus(ctx, p.ID, "pending", "rejected", gate.Reason, e.nowStr()); err != nil {
			return ProposalResult{}, err
		}
		e.Events.Emit(ctx, p.AgentID, "proposal_rejected", p.Title, gate.Reason)
		return ProposalResult{Accepted: false, ProposalID: p.ID, Reason: gate.Reason}, nil
	}

	ok, err := e.Repo.UpdateProposalStatus(ctx, p.ID, "pending", "accepted", "", e.nowStr())
	if err != nil {
		return ProposalResult{}, err
	}
	if !ok {
		return ProposalResult{}, fmt.Errorf("proposal %s: %w", proposalID, ErrInvalidState)
	}
	mission, err := e.createMissionFromProposal(ctx, p.ID, p.AgentID, p.Title, p.ProposedSteps)
	if err != nil {
		return ProposalResult{}, err
	}
	e.Events.Emit(ctx, p.AgentID, "proposal_accepted", p.Title, fmt.Sprintf("Manual approval → mission %s", mission.ID))
	return ProposalResult{Accepted: true, ProposalID: p.ID, MissionID: mission.ID}, nil
}

// RejectProposal rejects a pending proposal with the given (or default)
// reason.
func (e Engine) RejectProposal(ctx context.Context, proposalID, reason string) (ProposalResult, error) {
	p, err := e.Repo.GetProposal(ctx, proposalID)
	if err != nil {
		return ProposalResult{}, err
	}
	if p.Status != "pending" {
		return ProposalResult{}, fmt.Errorf("proposal %s: %w (status: %s)", proposalID, ErrInvalidState, p.Status)
	}
	if reason == "" {
		reason = "Rejected by operator"
	}
	if _, err := e.Repo.UpdateProposalStatus(ctx, p.ID, "pending", "rejected", reason, e.nowStr()); err != nil {
		return ProposalResult{}, err
	}
	e.Events.Emit(ctx, p.AgentID, "proposal_rejected", p.Title, reason)
	return ProposalResult{Accepted: false, ProposalID: p.ID, Reason: reason}, nil
}

// createMissionFromProposal materializes the mission and its queued steps
// in one transaction, preserving step order and payloads.
func (e Engine) createMissionFromProposal(ctx context.Context, proposalID, agentID, title string, steps []domain.ProposedStep) (domain.Mission, error) {
	now := e.nowStr()
	m := domain.Mission{
		ID:         uuid.New().String(),
		ProposalID: &proposalID,
		Title:      title,
		Status:     "approved",
		CreatedBy:  agentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertMissionTx(ctx, tx, m); err != nil {
		return domain.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	for i, s := range steps {
		// Step rows share the mission timestamp; the loop index keeps
		// insertion order stable under the created_at ASC, id ASC queue scan.
		step := domain.Step{
			ID:        fmt.Sprintf("%s-%03d-%s", m.ID[:8], i, uuid.New().String()[:8]),
			MissionID: m.ID,
			Kind:      s.Kind,
			Payload:   s.Payload,
			Status:    "queued",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertStepTx(ctx, tx, step); err != nil {
			return domain.Mission{}, fmt.Errorf("insert step %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return m, nil
}

// FinalizeMission recomputes a mission's terminal status from its steps:
// terminal only when every step is terminal, failed when any step failed.
// Idempotent and safe to invoke after every step transition.
func (e Engine) FinalizeMission(ctx context.Context, missionID string) error {
	steps, err := e.Repo.ListMissionSteps(ctx, missionID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return nil
	}
	hasFailed := false
	for _, s := range steps {
		switch s.Status {
		case "failed":
			hasFailed = true
		case "succeeded":
		default:
			return nil
		}
	}
	status := "succeeded"
	if hasFailed {
		status = "failed"
	}
	return e.Repo.UpdateMissionStatus(ctx, missionID, status, e.nowStr())
}
