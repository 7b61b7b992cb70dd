package engine

import (
	"context"
	"fmt"
	"time"

	"agentops/internal/domain"
)

// GateResult is a structured pass/reject, not an error: quota rejection is
// an expected outcome.
type GateResult struct {
	OK     bool
	Reason string
}

func pass() GateResult                { return GateResult{OK: true} }
func reject(reason string) GateResult { return GateResult{OK: false, Reason: reason} }

// getPolicy reads a policy value, failing open: a missing or unreadable
// policy gates nothing.
func (e Engine) getPolicy(ctx context.Context, key string) map[string]any {
	p, err := e.Repo.GetPolicy(ctx, key)
	if err != nil {
		return map[string]any{}
	}
	return p.Value
}

func (e Engine) startOfDay() string {
	now := e.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
}

// intOption reads a numeric policy option; JSON numbers decode as float64.
func intOption(policy map[string]any, key string, fallback int) int {
	switch v := policy[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func boolOption(policy map[string]any, key string) bool {
	b, _ := policy[key].(bool)
	return b
}

func stringSliceOption(policy map[string]any, key string) []string {
	raw, ok := policy[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e Engine) gatePostSocial(ctx context.Context) GateResult {
	quota := e.getPolicy(ctx, "x_daily_quota")
	limit := intOption(quota, "limit", 8)
	posted, err := e.Repo.CountSocialPostsSince(ctx, e.startOfDay())
	if err != nil {
		posted = 0
	}
	if posted >= limit {
		return reject(fmt.Sprintf("Tweet quota full (%d/%d)", posted, limit))
	}
	return pass()
}

func (e Engine) gateWriteContent(ctx context.Context) GateResult {
	policy := e.getPolicy(ctx, "content_policy")
	if !boolOption(policy, "enabled") {
		return pass()
	}
	limit := intOption(policy, "max_drafts_per_day", 8)
	drafts, err := e.Repo.CountStepsByKindSince(ctx, "write_content", e.startOfDay())
	if err != nil {
		drafts = 0
	}
	if drafts >= limit {
		return reject("Content draft quota full")
	}
	return pass()
}

func (e Engine) gateCrawl(ctx context.Context) GateResult {
	policy := e.getPolicy(ctx, "crawl_policy")
	if !boolOption(policy, "enabled") {
		return pass()
	}
	limit := intOption(policy, "max_crawls_per_day", 20)
	crawled, err := e.Repo.CountStepsByKindSince(ctx, "crawl", e.startOfDay())
	if err != nil {
		crawled = 0
	}
	if crawled >= limit {
		return reject(fmt.Sprintf("Crawl quota full (%d/%d)", crawled, limit))
	}
	return pass()
}

// checkGates evaluates each proposed step's kind-specific quota predicate
// and returns the first rejection. Kinds without a gate pass.
func (e Engine) checkGates(ctx context.Context, steps []domain.ProposedStep) GateResult {
	for _, s := range steps {
		var result GateResult
		switch s.Kind {
		case "post_social":
			result = e.gatePostSocial(ctx)
		case "write_content":
			result = e.gateWriteContent(ctx)
		case "crawl":
			result = e.gateCrawl(ctx)
		default:
			continue
		}
		if !result.OK {
			return result
		}
	}
	return pass()
}

// shouldAutoApprove returns true iff the auto_approve policy is enabled and
// every proposed step kind is on its allow-list. Pure read; no side effects.
func (e Engine) shouldAutoApprove(ctx context.Context, steps []domain.ProposedStep) bool {
	policy := e.getPolicy(ctx, "auto_approve")
	if !boolOption(policy, "enabled") {
		return false
	}
	allowed := stringSliceOption(policy, "allowed_step_kinds")
	for _, s := range steps {
		found := false
		for _, kind := range allowed {
			if s.Kind == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
