package events

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// Writer appends agent events. Emission is best-effort: a failed write is
// logged and swallowed so it never fails the calling operation.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Emit(ctx context.Context, agentID, kind, title, summary string) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	_, err := w.DB.ExecContext(ctx, `INSERT INTO agent_events(ts,agent_id,kind,title,summary) VALUES (?,?,?,?,?)`,
		ts, agentID, kind, title, nullable(summary))
	if err != nil {
		log.Printf("events: emit %s for %s failed: %v", kind, agentID, err)
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
