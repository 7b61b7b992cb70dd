package repo

import (
	"context"
	"database/sql"

	"agentops/internal/domain"
)

func (r Repo) InsertArtifact(ctx context.Context, a domain.Artifact) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO artifacts(id,title,content,mission_id,step_id,updated_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, a.Content, nullableStringPtr(a.MissionID), nullableStringPtr(a.StepID), a.UpdatedBy, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) UpdateArtifactContent(ctx context.Context, id, content, updatedBy, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE artifacts SET content=?, updated_by=?, updated_at=? WHERE id=?`, content, updatedBy, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	var a domain.Artifact
	var missionID, stepID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,content,mission_id,step_id,updated_by,created_at,updated_at FROM artifacts WHERE id=?`, id).
		Scan(&a.ID, &a.Title, &a.Content, &missionID, &stepID, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if missionID.Valid {
		a.MissionID = &missionID.String
	}
	if stepID.Valid {
		a.StepID = &stepID.String
	}
	return a, err
}

func (r Repo) ListArtifacts(ctx context.Context, missionID string, limit int) ([]domain.Artifact, error) {
	query := `SELECT id,title,content,mission_id,step_id,updated_by,created_at,updated_at FROM artifacts`
	var args []any
	if missionID != "" {
		query += ` WHERE mission_id=?`
		args = append(args, missionID)
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var mID, sID sql.NullString
		if err := rows.Scan(&a.ID, &a.Title, &a.Content, &mID, &sID, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if mID.Valid {
			a.MissionID = &mID.String
		}
		if sID.Valid {
			a.StepID = &sID.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- social post ledger ---

func (r Repo) InsertSocialPost(ctx context.Context, p domain.SocialPost) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO social_posts(id,step_id,agent_id,post_uri,post_cid,content,posted_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.StepID, p.AgentID, p.PostURI, nullable(p.PostCID), p.Content, p.PostedAt)
	return err
}

// CountSocialPostsSince counts ledger rows posted at or after the cutoff.
func (r Repo) CountSocialPostsSince(ctx context.Context, since string) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM social_posts WHERE posted_at>=?`, since).Scan(&count)
	return count, err
}

// --- heartbeat audit log ---

func (r Repo) InsertActionRun(ctx context.Context, a domain.ActionRun) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO action_runs(action,status,result_json,duration_ms,created_at) VALUES (?,?,?,?,?)`,
		a.Action, a.Status, nullable(a.ResultJSON), a.DurationMS, a.CreatedAt)
	return err
}

func (r Repo) LatestActionRuns(ctx context.Context, limit int) ([]domain.ActionRun, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,action,status,result_json,duration_ms,created_at FROM action_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionRun
	for rows.Next() {
		var a domain.ActionRun
		var result sql.NullString
		if err := rows.Scan(&a.ID, &a.Action, &a.Status, &result, &a.DurationMS, &a.CreatedAt); err != nil {
			return nil, err
		}
		if result.Valid {
			a.ResultJSON = result.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- agent events (read side; writes go through events.Writer) ---

func (r Repo) LatestEvents(ctx context.Context, limit int, agentID, kind string) ([]domain.AgentEvent, error) {
	query := `SELECT id,ts,agent_id,kind,title,summary FROM agent_events`
	var clauses []string
	var args []any
	if agentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, agentID)
	}
	if kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, kind)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentEvent
	for rows.Next() {
		var e domain.AgentEvent
		var summary sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.AgentID, &e.Kind, &e.Title, &summary); err != nil {
			return nil, err
		}
		if summary.Valid {
			e.Summary = summary.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
