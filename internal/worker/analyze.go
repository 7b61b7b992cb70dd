package worker

import (
	"context"
	"fmt"

	"agentops/internal/domain"
	"agentops/internal/llm"
)

// Analyze asks the completion backend for a short written analysis of the
// payload topic.
type Analyze struct {
	LLM llm.Completer
}

func (h Analyze) Execute(ctx context.Context, step domain.Step, mission domain.Mission) (Outcome, error) {
	topic := stringField(step.Payload, "topic", "source")
	if topic == "" {
		topic = "general"
	}
	reply, err := h.LLM.Complete(ctx, []llm.Message{{
		Role:    "user",
		Content: fmt.Sprintf("You are a research analyst. In 2-3 sentences, analyze: %q. Be concise.", topic),
	}}, llm.Options{})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Result:       map[string]any{"analysis": reply},
		EventKind:    "analyze_complete",
		EventTitle:   "Analyzed: " + topic,
		EventSummary: cut(reply, 200),
	}, nil
}
