package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"agentops/internal/domain"
)

const stepCols = `id,mission_id,kind,payload_json,status,reserved_by,result_json,error,created_at,updated_at`

func scanStep(scan func(...any) error) (domain.Step, error) {
	var s domain.Step
	var payload string
	var reservedBy, result, stepErr sql.NullString
	err := scan(&s.ID, &s.MissionID, &s.Kind, &payload, &s.Status, &reservedBy, &result, &stepErr, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(payload), &s.Payload); err != nil {
		return s, fmt.Errorf("step %s payload: %w", s.ID, err)
	}
	if reservedBy.Valid {
		s.ReservedBy = &reservedBy.String
	}
	s.Result = unmarshalMap(result)
	if stepErr.Valid {
		s.Error = stepErr.String
	}
	return s, nil
}

func (r Repo) InsertStepTx(ctx context.Context, tx *sql.Tx, s domain.Step) error {
	payload, err := marshalMap(s.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO mission_steps(id,mission_id,kind,payload_json,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.MissionID, s.Kind, payload, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetStep(ctx context.Context, id string) (domain.Step, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stepCols+` FROM mission_steps WHERE id=?`, id)
	return scanStep(row.Scan)
}

// NextQueuedStep returns the oldest queued step matching any of the kinds.
func (r Repo) NextQueuedStep(ctx context.Context, kinds []string) (domain.Step, error) {
	if len(kinds) == 0 {
		return domain.Step{}, ErrNotFound
	}
	args := []any{}
	for _, k := range kinds {
		args = append(args, k)
	}
	query := `SELECT ` + stepCols + ` FROM mission_steps WHERE status='queued' AND kind IN (?` +
		strings.Repeat(",?", len(kinds)-1) + `) ORDER BY created_at ASC, id ASC LIMIT 1`
	row := r.DB.QueryRowContext(ctx, query, args...)
	return scanStep(row.Scan)
}

// ClaimStep performs the atomic conditional transition queued -> running.
// Returns false when another worker won the race.
func (r Repo) ClaimStep(ctx context.Context, id, workerID, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE mission_steps SET status='running', reserved_by=?, updated_at=? WHERE id=? AND status='queued'`,
		workerID, now, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) CompleteStep(ctx context.Context, id string, result map[string]any, now string) error {
	payload, err := marshalMap(result)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `UPDATE mission_steps SET status='succeeded', result_json=?, updated_at=? WHERE id=?`, payload, now, id)
	return err
}

func (r Repo) FailStep(ctx context.Context, id, errMsg, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE mission_steps SET status='failed', error=?, updated_at=? WHERE id=?`, errMsg, now, id)
	return err
}

func (r Repo) ListMissionSteps(ctx context.Context, missionID string) ([]domain.Step, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepCols+` FROM mission_steps WHERE mission_id=? ORDER BY created_at ASC, id ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		s, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

type StepFilters struct {
	Status string
	Kind   string
	Limit  int
}

func (r Repo) ListSteps(ctx context.Context, f StepFilters) ([]domain.Step, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + stepCols + ` FROM mission_steps ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		s, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountStepsByKindSince counts steps of a kind created at or after the cutoff.
func (r Repo) CountStepsByKindSince(ctx context.Context, kind, since string) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM mission_steps WHERE kind=? AND created_at>=?`, kind, since).Scan(&count)
	return count, err
}

// StaleRunningSteps returns running steps whose updated_at is older than cutoff.
func (r Repo) StaleRunningSteps(ctx context.Context, cutoff string) ([]domain.Step, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepCols+` FROM mission_steps WHERE status='running' AND updated_at<?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		s, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
