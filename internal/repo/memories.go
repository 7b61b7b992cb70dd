package repo

import (
	"context"
	"database/sql"

	"agentops/internal/domain"
)

// InsertMemory writes a memory idempotently: an insert conflicting on
// source_trace_id is silently ignored, not an error.
func (r Repo) InsertMemory(ctx context.Context, m domain.AgentMemory) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agent_memory(id,agent_id,type,content,confidence,source_trace_id,created_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(source_trace_id) WHERE source_trace_id IS NOT NULL DO NOTHING`,
		m.ID, m.AgentID, m.Type, m.Content, m.Confidence, nullableStringPtr(m.SourceTraceID), m.CreatedAt)
	return err
}

// RecentMemories returns the newest memories for an agent at or above the
// confidence floor.
func (r Repo) RecentMemories(ctx context.Context, agentID string, minConfidence float64, limit int) ([]domain.AgentMemory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,agent_id,type,content,confidence,source_trace_id,created_at
FROM agent_memory WHERE agent_id=? AND confidence>=? ORDER BY created_at DESC, id DESC LIMIT ?`,
		agentID, minConfidence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows)
}

func (r Repo) ListMemories(ctx context.Context, agentID string, limit int) ([]domain.AgentMemory, error) {
	query := `SELECT id,agent_id,type,content,confidence,source_trace_id,created_at FROM agent_memory`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id=?`
		args = append(args, agentID)
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
	return collectMemories(rows)
}

func collectMemories(rows *sql.Rows) ([]domain.AgentMemory, error) {
	var res []domain.AgentMemory
	for rows.Next() {
		var m domain.AgentMemory
		var trace sql.NullString
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Type, &m.Content, &m.Confidence, &trace, &m.CreatedAt); err != nil {
			return nil, err
		}
		if trace.Valid {
			m.SourceTraceID = &trace.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
