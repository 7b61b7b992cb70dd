package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"agentops/internal/domain"
)

const sessionCols = `id,format,topic,participants_json,status,history_json,started_at,completed_at,created_at`

func scanSession(scan func(...any) error) (domain.RoundtableSession, error) {
	var s domain.RoundtableSession
	var participants string
	var topic, history, startedAt, completedAt sql.NullString
	err := scan(&s.ID, &s.Format, &topic, &participants, &s.Status, &history, &startedAt, &completedAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if topic.Valid {
		s.Topic = topic.String
	}
	if err := json.Unmarshal([]byte(participants), &s.Participants); err != nil {
		return s, fmt.Errorf("session %s participants: %w", s.ID, err)
	}
	if history.Valid && history.String != "" {
		_ = json.Unmarshal([]byte(history.String), &s.History)
	}
	if startedAt.Valid {
		s.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.String
	}
	return s, nil
}

func (r Repo) InsertRoundtable(ctx context.Context, s domain.RoundtableSession) error {
	participants, err := json.Marshal(s.Participants)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO roundtable_queue(id,format,topic,participants_json,status,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Format, nullable(s.Topic), string(participants), s.Status, s.CreatedAt)
	return err
}

func (r Repo) GetRoundtable(ctx context.Context, id string) (domain.RoundtableSession, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM roundtable_queue WHERE id=?`, id)
	return scanSession(row.Scan)
}

func (r Repo) NextPendingRoundtable(ctx context.Context) (domain.RoundtableSession, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM roundtable_queue WHERE status='pending' ORDER BY created_at ASC, id ASC LIMIT 1`)
	return scanSession(row.Scan)
}

// ClaimRoundtable performs the conditional transition pending -> running.
func (r Repo) ClaimRoundtable(ctx context.Context, id, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE roundtable_queue SET status='running', started_at=? WHERE id=? AND status='pending'`, now, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) CompleteRoundtable(ctx context.Context, id string, history []domain.RoundtableTurn, now string) error {
	payload, err := json.Marshal(history)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `UPDATE roundtable_queue SET status='succeeded', history_json=?, completed_at=? WHERE id=?`,
		string(payload), now, id)
	return err
}

func (r Repo) FailRoundtable(ctx context.Context, id, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE roundtable_queue SET status='failed', completed_at=? WHERE id=?`, now, id)
	return err
}

func (r Repo) ListRoundtables(ctx context.Context, status string, limit int) ([]domain.RoundtableSession, error) {
	query := `SELECT ` + sessionCols + ` FROM roundtable_queue`
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
	var res []domain.RoundtableSession
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// StaleRunningRoundtables returns running sessions started before cutoff.
func (r Repo) StaleRunningRoundtables(ctx context.Context, cutoff string) ([]domain.RoundtableSession, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sessionCols+` FROM roundtable_queue WHERE status='running' AND started_at<?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoundtableSession
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
