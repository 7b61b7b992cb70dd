package repo

import (
	"context"
	"database/sql"

	"agentops/internal/domain"
)

func (r Repo) InsertTriggerRule(ctx context.Context, t domain.TriggerRule) error {
	action, err := marshalMap(t.ActionConfig)
	if err != nil {
		return err
	}
	enabled := 0
	if t.Enabled {
		enabled = 1
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO trigger_rules(id,name,trigger_event,enabled,cooldown_minutes,last_fired_at,fire_count,action_json)
VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.TriggerEvent, enabled, t.CooldownMinutes, nullableStringPtr(t.LastFiredAt), t.FireCount, action)
	return err
}

func (r Repo) ListEnabledTriggerRules(ctx context.Context) ([]domain.TriggerRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,trigger_event,enabled,cooldown_minutes,last_fired_at,fire_count,action_json FROM trigger_rules WHERE enabled=1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TriggerRule
	for rows.Next() {
		var t domain.TriggerRule
		var enabled int
		var lastFired, action sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.TriggerEvent, &enabled, &t.CooldownMinutes, &lastFired, &t.FireCount, &action); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		if lastFired.Valid {
			t.LastFiredAt = &lastFired.String
		}
		t.ActionConfig = unmarshalMap(action)
		res = append(res, t)
	}
	return res, rows.Err()
}

// MarkTriggerFired bumps fire_count and stamps last_fired_at.
func (r Repo) MarkTriggerFired(ctx context.Context, id, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE trigger_rules SET fire_count=fire_count+1, last_fired_at=? WHERE id=?`, now, id)
	return err
}

// --- reactions ---

func (r Repo) InsertReaction(ctx context.Context, re domain.Reaction) error {
	metadata, err := marshalMap(re.Metadata)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO reactions(id,source_agent,target_agent,reaction_type,source_event_id,metadata_json,status,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		re.ID, re.SourceAgent, re.TargetAgent, re.ReactionType, nullable(re.SourceEventID), metadata, re.Status, re.CreatedAt)
	return err
}

// PendingReactions returns up to limit oldest pending reactions.
func (r Repo) PendingReactions(ctx context.Context, limit int) ([]domain.Reaction, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,source_agent,target_agent,reaction_type,source_event_id,metadata_json,status,created_at
FROM reactions WHERE status='pending' ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reaction
	for rows.Next() {
		var re domain.Reaction
		var sourceEvent, metadata sql.NullString
		if err := rows.Scan(&re.ID, &re.SourceAgent, &re.TargetAgent, &re.ReactionType, &sourceEvent, &metadata, &re.Status, &re.CreatedAt); err != nil {
			return nil, err
		}
		if sourceEvent.Valid {
			re.SourceEventID = sourceEvent.String
		}
		re.Metadata = unmarshalMap(metadata)
		res = append(res, re)
	}
	return res, rows.Err()
}

func (r Repo) SetReactionStatus(ctx context.Context, id, status string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE reactions SET status=? WHERE id=?`, status, id)
	return err
}

func (r Repo) GetReaction(ctx context.Context, id string) (domain.Reaction, error) {
	var re domain.Reaction
	var sourceEvent, metadata sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,source_agent,target_agent,reaction_type,source_event_id,metadata_json,status,created_at FROM reactions WHERE id=?`, id).
		Scan(&re.ID, &re.SourceAgent, &re.TargetAgent, &re.ReactionType, &sourceEvent, &metadata, &re.Status, &re.CreatedAt)
	if err == sql.ErrNoRows {
		return re, ErrNotFound
	}
	if sourceEvent.Valid {
		re.SourceEventID = sourceEvent.String
	}
	re.Metadata = unmarshalMap(metadata)
	return re, err
}
