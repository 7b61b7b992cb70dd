// Package roundtable orchestrates queued agent conversations: it claims a
// pending session, runs turn-by-turn dialogue through the completion
// backend, then distills the transcript into agent memories.
package roundtable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentops/internal/domain"
	"agentops/internal/events"
	"agentops/internal/llm"
	"agentops/internal/repo"
)

const (
	maxTurnChars       = 120
	maxMemoriesPerConv = 6
	minConfidence      = 0.55
	maxConfidence      = 0.95
	maxMemoryChars     = 500
)

type formatConfig struct {
	minTurns    int
	maxTurns    int
	temperature float64
}

var formats = map[string]formatConfig{
	"watercooler": {minTurns: 2, maxTurns: 5, temperature: 0.9},
	"standup":     {minTurns: 4, maxTurns: 8, temperature: 0.6},
	"debate":      {minTurns: 4, maxTurns: 8, temperature: 0.8},
}

// formatFor returns the format's turn and temperature settings; unknown
// formats get the watercooler settings.
func formatFor(format string) formatConfig {
	if cfg, ok := formats[format]; ok {
		return cfg
	}
	return formats["watercooler"]
}

var linkRe = regexp.MustCompile(`https?://\S+`)

// Sanitize normalizes dialogue for storage: trims, caps the length,
// replaces URLs and never returns an empty string.
func Sanitize(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = maxTurnChars
	}
	s := strings.TrimSpace(text)
	runes := []rune(s)
	if len(runes) > maxChars {
		s = string(runes[:maxChars])
	}
	s = linkRe.ReplaceAllString(s, "[link]")
	if s == "" {
		return "..."
	}
	return s
}

// contentHash produces a short stable digest for memory dedup keys.
func contentHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}

type Orchestrator struct {
	Repo      repo.Repo
	Events    events.Writer
	LLM       llm.Completer
	Interval  time.Duration
	Now       func() time.Time
	Rand      *rand.Rand
	TurnDelay func() time.Duration
}

func New(db *sql.DB, completer llm.Completer) *Orchestrator {
	return &Orchestrator{
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		LLM:      completer,
		Interval: 30 * time.Second,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) nowStr() string {
	return o.now().UTC().Format(time.RFC3339)
}

func (o *Orchestrator) intn(n int) int {
	if o.Rand != nil {
		return o.Rand.Intn(n)
	}
	return rand.Intn(n)
}

func (o *Orchestrator) delay() time.Duration {
	if o.TurnDelay != nil {
		return o.TurnDelay()
	}
	return time.Second + time.Duration(o.intn(2000))*time.Millisecond
}

// Enqueue adds a pending session.
func (o *Orchestrator) Enqueue(ctx context.Context, format, topic string, participants []string) (domain.RoundtableSession, error) {
	if len(participants) < 2 {
		return domain.RoundtableSession{}, errors.New("need at least 2 participants")
	}
	if _, ok := formats[format]; !ok {
		return domain.RoundtableSession{}, fmt.Errorf("unknown format: %s", format)
	}
	session := domain.RoundtableSession{
		ID:           uuid.New().String(),
		Format:       format,
		Topic:        topic,
		Participants: participants,
		Status:       "pending",
		CreatedAt:    o.nowStr(),
	}
	if err := o.Repo.InsertRoundtable(ctx, session); err != nil {
		return domain.RoundtableSession{}, err
	}
	return session, nil
}

// Run polls for pending sessions until cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Printf("roundtable: starting (poll %s)", o.Interval)
	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	for {
		if _, err := o.RunOnce(ctx); err != nil {
			log.Printf("roundtable: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims and runs at most one session, reporting whether one was
// claimed. A conversation error fails the whole session; no partial
// history is stored.
func (o *Orchestrator) RunOnce(ctx context.Context) (bool, error) {
	session, err := o.Repo.NextPendingRoundtable(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("poll roundtable queue: %w", err)
	}

	ok, err := o.Repo.ClaimRoundtable(ctx, session.ID, o.nowStr())
	if err != nil {
		return false, fmt.Errorf("claim roundtable %s: %w", session.ID, err)
	}
	if !ok {
		return false, nil
	}

	history, err := o.runConversation(ctx, session)
	if err != nil {
		log.Printf("roundtable: session %s failed: %v", session.ID, err)
		if failErr := o.Repo.FailRoundtable(ctx, session.ID, o.nowStr()); failErr != nil {
			return true, fmt.Errorf("fail roundtable %s: %w", session.ID, failErr)
		}
		return true, nil
	}

	if err := o.Repo.CompleteRoundtable(ctx, session.ID, history, o.nowStr()); err != nil {
		return true, fmt.Errorf("complete roundtable %s: %w", session.ID, err)
	}

	memories := o.distillMemories(ctx, history, session.ID)
	o.writeMemories(ctx, memories)
	log.Printf("roundtable: session %s done, %d memories", session.ID, len(memories))
	return true, nil
}

func (o *Orchestrator) runConversation(ctx context.Context, session domain.RoundtableSession) ([]domain.RoundtableTurn, error) {
	if len(session.Participants) < 2 {
		return nil, errors.New("need at least 2 participants")
	}

	agents, err := o.Repo.ListAgents(ctx, session.Participants)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	agentMap := map[string]domain.Agent{}
	for _, a := range agents {
		agentMap[a.ID] = a
	}
	var available []string
	for _, id := range session.Participants {
		if _, ok := agentMap[id]; ok {
			available = append(available, id)
		}
	}
	if len(available) < 2 {
		return nil, errors.New("need at least 2 known participants")
	}

	cfg := formatFor(session.Format)
	turnCount := cfg.minTurns + o.intn(cfg.maxTurns-cfg.minTurns+1)
	topic := session.Topic
	if topic == "" {
		topic = "how things are going"
	}

	var history []domain.RoundtableTurn
	lastSpeaker := ""

	for turn := 0; turn < turnCount; turn++ {
		var speaker string
		if turn == 0 {
			speaker = available[o.intn(len(available))]
		} else {
			var others []string
			for _, id := range available {
				if id != lastSpeaker {
					others = append(others, id)
				}
			}
			speaker = others[o.intn(len(others))]
		}

		agent := agentMap[speaker]
		directive := agent.SystemDirective
		if directive == "" {
			directive = fmt.Sprintf("You are %s. Speak briefly.", displayName(agent, speaker))
		}

		var lines []string
		for _, h := range history {
			lines = append(lines, fmt.Sprintf("%s: %s", displayName(agentMap[h.Speaker], h.Speaker), h.Dialogue))
		}
		transcript := strings.Join(lines, "\n")
		if transcript == "" {
			transcript = "(none)"
		}

		var userPrompt string
		if turn == 0 {
			userPrompt = fmt.Sprintf("Quick %s chat. Topic: %s. Say one short thing (max %d chars).", session.Format, topic, maxTurnChars)
		} else {
			userPrompt = fmt.Sprintf("Topic: %s. Respond briefly to the conversation (max %d chars).", topic, maxTurnChars)
		}

		temperature := cfg.temperature
		reply, err := o.LLM.Complete(ctx, []llm.Message{
			{Role: "system", Content: directive + "\n\nPrevious:\n" + transcript},
			{Role: "user", Content: userPrompt},
		}, llm.Options{Temperature: &temperature})
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn, err)
		}

		dialogue := Sanitize(reply, maxTurnChars)
		history = append(history, domain.RoundtableTurn{
			Speaker:   speaker,
			Dialogue:  dialogue,
			Turn:      turn,
			CreatedAt: o.nowStr(),
		})
		lastSpeaker = speaker

		o.Events.Emit(ctx, speaker, "roundtable_turn",
			fmt.Sprintf("%s: %s", displayName(agent, speaker), dialogue), dialogue)

		if d := o.delay(); d > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
		}
	}
	return history, nil
}

func displayName(agent domain.Agent, fallback string) string {
	if agent.DisplayName != "" {
		return agent.DisplayName
	}
	return fallback
}

type distilledMemory struct {
	AgentID    string   `json:"agent_id"`
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence"`
}

// distillMemories asks the backend to extract insights from the transcript.
// Unparseable output yields no memories, never an error.
func (o *Orchestrator) distillMemories(ctx context.Context, history []domain.RoundtableTurn, sessionID string) []domain.AgentMemory {
	if len(history) == 0 {
		return nil
	}

	var speakerIDs []string
	seen := map[string]bool{}
	for _, h := range history {
		if !seen[h.Speaker] {
			seen[h.Speaker] = true
			speakerIDs = append(speakerIDs, h.Speaker)
		}
	}
	agents, err := o.Repo.ListAgents(ctx, speakerIDs)
	if err != nil {
		agents = nil
	}
	agentMap := map[string]domain.Agent{}
	for _, a := range agents {
		agentMap[a.ID] = a
	}

	var lines []string
	for _, h := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", displayName(agentMap[h.Speaker], h.Speaker), h.Dialogue))
	}

	prompt := fmt.Sprintf(`Extract up to %d insights, patterns, or lessons from this conversation.
Return JSON only: {"memories":[{"agent_id":"...","type":"insight|pattern|lesson","content":"...","confidence":0.7}]}
Types: insight (discovery), pattern (observation), lesson (learned).
Confidence %.2f-%.2f. Only include what's clearly supported.

Conversation:
%s`, maxMemoriesPerConv, minConfidence, maxConfidence, strings.Join(lines, "\n"))

	reply, err := o.LLM.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}}, llm.Options{})
	if err != nil {
		log.Printf("roundtable: distillation failed: %v", err)
		return nil
	}

	raw := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(reply, "```json", ""), "```", ""))
	var parsed struct {
		Memories []distilledMemory `json:"memories"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}

	var out []domain.AgentMemory
	for _, m := range parsed.Memories {
		if len(out) >= maxMemoriesPerConv {
			break
		}
		confidence := 0.6
		if m.Confidence != nil {
			confidence = *m.Confidence
		}
		if m.AgentID == "" || m.Type == "" || m.Content == "" || confidence < minConfidence {
			continue
		}
		if confidence > maxConfidence {
			confidence = maxConfidence
		}
		content := m.Content
		if runes := []rune(content); len(runes) > maxMemoryChars {
			content = string(runes[:maxMemoryChars])
		}
		trace := fmt.Sprintf("roundtable:%s:%s:%s:%s", sessionID, m.AgentID, m.Type, contentHash(m.Content))
		out = append(out, domain.AgentMemory{
			ID:            uuid.New().String(),
			AgentID:       m.AgentID,
			Type:          m.Type,
			Content:       content,
			Confidence:    confidence,
			SourceTraceID: &trace,
			CreatedAt:     o.nowStr(),
		})
	}
	return out
}

// writeMemories persists distilled memories best-effort; the conflict rule
// on source_trace_id makes retries idempotent.
func (o *Orchestrator) writeMemories(ctx context.Context, memories []domain.AgentMemory) {
	for _, m := range memories {
		if err := o.Repo.InsertMemory(ctx, m); err != nil {
			log.Printf("roundtable: memory write failed: %v", err)
		}
	}
}
