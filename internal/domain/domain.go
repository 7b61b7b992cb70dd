package domain

type Agent struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	SystemDirective string `json:"system_directive,omitempty"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// Policy is a key -> options mapping mutated only by operator updates.
type Policy struct {
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type ProposedStep struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Proposal struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	Title           string         `json:"title"`
	Status          string         `json:"status" enum:"pending,accepted,rejected"`
	ProposedSteps   []ProposedStep `json:"proposed_steps"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

type Mission struct {
	ID         string  `json:"id"`
	ProposalID *string `json:"proposal_id,omitempty"`
	Title      string  `json:"title"`
	Status     string  `json:"status" enum:"approved,running,succeeded,failed"`
	CreatedBy  string  `json:"created_by"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type Step struct {
	ID         string         `json:"id"`
	MissionID  string         `json:"mission_id"`
	Kind       string         `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	Status     string         `json:"status" enum:"queued,running,succeeded,failed"`
	ReservedBy *string        `json:"reserved_by,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
	UpdatedAt  string         `json:"updated_at" format:"date-time"`
}

type TriggerRule struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	TriggerEvent    string         `json:"trigger_event"`
	Enabled         bool           `json:"enabled"`
	CooldownMinutes int            `json:"cooldown_minutes"`
	LastFiredAt     *string        `json:"last_fired_at,omitempty" format:"date-time"`
	FireCount       int            `json:"fire_count"`
	ActionConfig    map[string]any `json:"action_config,omitempty"`
}

type Reaction struct {
	ID            string         `json:"id"`
	SourceAgent   string         `json:"source_agent"`
	TargetAgent   string         `json:"target_agent"`
	ReactionType  string         `json:"reaction_type"`
	SourceEventID string         `json:"source_event_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Status        string         `json:"status" enum:"pending,processing,completed,failed"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
}

type RoundtableTurn struct {
	Speaker   string `json:"speaker"`
	Dialogue  string `json:"dialogue"`
	Turn      int    `json:"turn"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type RoundtableSession struct {
	ID           string           `json:"id"`
	Format       string           `json:"format" enum:"watercooler,standup,debate"`
	Topic        string           `json:"topic,omitempty"`
	Participants []string         `json:"participants"`
	Status       string           `json:"status" enum:"pending,running,succeeded,failed"`
	History      []RoundtableTurn `json:"history,omitempty"`
	StartedAt    *string          `json:"started_at,omitempty" format:"date-time"`
	CompletedAt  *string          `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt    string           `json:"created_at" format:"date-time"`
}

// AgentMemory is a distilled, confidence-scored insight. SourceTraceID is
/// the dedup key: re-running distillation must not duplicate rows.
type AgentMemory struct {
	ID            string  `json:"id"`
	AgentID       string  `json:"agent_id"`
	Type          string  `json:"type" enum:"insight,pattern,lesson"`
	Content       string  `json:"content"`
	Confidence    float64 `json:"confidence"`
	SourceTraceID *string `json:"source_trace_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Artifact struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	MissionID *string `json:"mission_id,omitempty"`
	StepID    *string `json:"step_id,omitempty"`
	UpdatedBy string  `json:"updated_by"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type AgentEvent struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
}

// ActionRun is one audit row per heartbeat sweep.
type ActionRun struct {
	ID         int64  `json:"id"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	ResultJSON string `json:"result_json,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// SocialPost is the ledger row behind the daily posting quota.
type SocialPost struct {
	ID       string `json:"id"`
	StepID   string `json:"step_id"`
	AgentID  string `json:"agent_id"`
	PostURI  string `json:"post_uri"`
	PostCID  string `json:"post_cid"`
	Content  string `json:"content"`
	PostedAt string `json:"posted_at" format:"date-time"`
}
