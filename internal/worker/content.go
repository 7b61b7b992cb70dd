package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentops/internal/domain"
	"agentops/internal/llm"
	"agentops/internal/repo"
)

// WriteContent drafts or revises a content artifact. Recent high-confidence
// memories of the mission's agent are injected into the prompt.
type WriteContent struct {
	Repo repo.Repo
	LLM  llm.Completer
	Now  func() time.Time
}

const (
	memoryLimit           = 5
	memoryConfidenceFloor = 0.6
)

func (h WriteContent) nowStr() string {
	if h.Now != nil {
		return h.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (h WriteContent) Execute(ctx context.Context, step domain.Step, mission domain.Mission) (Outcome, error) {
	agentID := mission.CreatedBy
	topic := stringField(step.Payload, "topic", "brief")
	if topic == "" {
		topic = "company update"
	}

	memories, err := h.Repo.RecentMemories(ctx, agentID, memoryConfidenceFloor, memoryLimit)
	if err != nil {
		memories = nil
	}
	memoryContext := ""
	if len(memories) > 0 {
		var lines []string
		for _, m := range memories {
			lines = append(lines, fmt.Sprintf("- [%s] %s", m.Type, m.Content))
		}
		memoryContext = "\n\nRelevant context from experience:\n" + strings.Join(lines, "\n") + "\n"
	}

	prompt := "You are the content writer for the team." + memoryContext + "\n"
	artifactID := stringField(step.Payload, "artifact_id")
	existing := ""
	if artifactID != "" {
		art, err := h.Repo.GetArtifact(ctx, artifactID)
		if err == nil && art.Content != "" {
			existing = art.Content
			prompt += fmt.Sprintf("Revise this draft (keep it 2-4 sentences, engaging, on-brand):\n\n---\n%s\n---\n\nTopic: %q. Write the improved version:", existing, topic)
		}
	}
	if existing == "" {
		prompt += fmt.Sprintf("Write a short draft (2-4 sentences) for: %q. Tone: engaging, clear, on-brand.", topic)
	}

	reply, err := h.LLM.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}}, llm.Options{})
	if err != nil {
		return Outcome{}, err
	}

	now := h.nowStr()
	if artifactID != "" && existing != "" {
		if err := h.Repo.UpdateArtifactContent(ctx, artifactID, reply, agentID, now); err != nil {
			return Outcome{}, fmt.Errorf("update artifact %s: %w", artifactID, err)
		}
	} else {
		title := mission.Title
		if title == "" {
			title = topic
		}
		artifactID = uuid.New().String()
		missionID := step.MissionID
		stepID := step.ID
		art := domain.Artifact{
			ID:        artifactID,
			Title:     cut(title, 200),
			Content:   reply,
			MissionID: &missionID,
			StepID:    &stepID,
			UpdatedBy: agentID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.Repo.InsertArtifact(ctx, art); err != nil {
			return Outcome{}, fmt.Errorf("insert artifact: %w", err)
		}
	}

	return Outcome{
		Result:       map[string]any{"draft": reply, "artifact_id": artifactID},
		EventKind:    "write_content_complete",
		EventTitle:   "Draft: " + topic,
		EventSummary: cut(reply, 200),
	}, nil
}
