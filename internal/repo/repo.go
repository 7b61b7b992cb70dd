package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"agentops/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMap(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}

// --- agents ---

func (r Repo) UpsertAgent(ctx context.Context, a domain.Agent) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agents(id,display_name,system_directive,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, system_directive=excluded.system_directive`,
		a.ID, a.DisplayName, nullable(a.SystemDirective), a.CreatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	var a domain.Agent
	var directive sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,display_name,system_directive,created_at FROM agents WHERE id=?`, id).
		Scan(&a.ID, &a.DisplayName, &directive, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if directive.Valid {
		a.SystemDirective = directive.String
	}
	return a, err
}

func (r Repo) ListAgents(ctx context.Context, ids []string) ([]domain.Agent, error) {
	query := `SELECT id,display_name,system_directive,created_at FROM agents`
	var args []any
	if len(ids) > 0 {
		query += ` WHERE id IN (?` + repeat(",?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		var a domain.Agent
		var directive sql.NullString
		if err := rows.Scan(&a.ID, &a.DisplayName, &directive, &a.CreatedAt); err != nil {
			return nil, err
		}
		if directive.Valid {
			a.SystemDirective = directive.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

// --- policies ---

func (r Repo) GetPolicy(ctx context.Context, key string) (domain.Policy, error) {
	var p domain.Policy
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT key,value_json,updated_at FROM policies WHERE key=?`, key).
		Scan(&p.Key, &value, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(value), &p.Value); err != nil {
		return p, fmt.Errorf("policy %s: %w", key, err)
	}
	return p, nil
}

// UpsertPolicy merges the given options into an existing policy: new keys
// overwrite, others are retained.
func (r Repo) UpsertPolicy(ctx context.Context, key string, value map[string]any, now string) (domain.Policy, error) {
	existing, err := r.GetPolicy(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return domain.Policy{}, err
	}
	merged := map[string]any{}
	for k, v := range existing.Value {
		merged[k] = v
	}
	for k, v := range value {
		merged[k] = v
	}
	payload, err := marshalMap(merged)
	if err != nil {
		return domain.Policy{}, err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO policies(key,value_json,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`, key, payload, now)
	if err != nil {
		return domain.Policy{}, err
	}
	return domain.Policy{Key: key, Value: merged, UpdatedAt: now}, nil
}

func (r Repo) ListPolicies(ctx context.Context) ([]domain.Policy, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key,value_json,updated_at FROM policies ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Policy
	for rows.Next() {
		var p domain.Policy
		var value string
		if err := rows.Scan(&p.Key, &value, &p.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(value), &p.Value)
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- proposals ---

func (r Repo) InsertProposal(ctx context.Context, p domain.Proposal) error {
	steps, err := json.Marshal(p.ProposedSteps)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO proposals(id,agent_id,title,status,proposed_steps_json,rejection_reason,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.AgentID, p.Title, p.Status, string(steps), nullable(p.RejectionReason), p.CreatedAt, p.UpdatedAt)
	return err
}

func scanProposal(scan func(...any) error) (domain.Proposal, error) {
	var p domain.Proposal
	var steps string
	var reason sql.NullString
	err := scan(&p.ID, &p.AgentID, &p.Title, &p.Status, &steps, &reason, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if reason.Valid {
		p.RejectionReason = reason.String
	}
	if err := json.Unmarshal([]byte(steps), &p.ProposedSteps); err != nil {
		return p, fmt.Errorf("proposal %s steps: %w", p.ID, err)
	}
	return p, nil
}

const proposalCols = `id,agent_id,title,status,proposed_steps_json,rejection_reason,created_at,updated_at`

func (r Repo) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalCols+` FROM proposals WHERE id=?`, id)
	return scanProposal(row.Scan)
}

// UpdateProposalStatus transitions a proposal conditioned on its current
// status; zero rows affected means the proposal was not in fromStatus.
func (r Repo) UpdateProposalStatus(ctx context.Context, id, fromStatus, toStatus, reason, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE proposals SET status=?, rejection_reason=?, updated_at=? WHERE id=? AND status=?`,
		toStatus, nullable(reason), now, id, fromStatus)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) ListProposals(ctx context.Context, status string, limit int) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalCols + ` FROM proposals`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- missions ---

func (r Repo) InsertMissionTx(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO missions(id,proposal_id,title,status,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, nullableStringPtr(m.ProposalID), m.Title, m.Status, m.CreatedBy, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	var m domain.Mission
	var proposalID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,proposal_id,title,status,created_by,created_at,updated_at FROM missions WHERE id=?`, id).
		Scan(&m.ID, &proposalID, &m.Title, &m.Status, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if proposalID.Valid {
		m.ProposalID = &proposalID.String
	}
	return m, err
}

func (r Repo) UpdateMissionStatus(ctx context.Context, id, status, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE missions SET status=?, updated_at=? WHERE id=?`, status, now, id)
	return err
}

func (r Repo) ListMissions(ctx context.Context, status string, limit int) ([]domain.Mission, error) {
	query := `SELECT id,proposal_id,title,status,created_by,created_at,updated_at FROM missions`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		var m domain.Mission
		var proposalID sql.NullString
		if err := rows.Scan(&m.ID, &proposalID, &m.Title, &m.Status, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if proposalID.Valid {
			m.ProposalID = &proposalID.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
