package engine

import (
	"context"
	"errors"

	"agentops/internal/domain"
	"agentops/internal/repo"
)

// UpsertAgent creates or updates an agent record, keeping the original
// created_at on update.
func (e Engine) UpsertAgent(ctx context.Context, id, displayName, directive string) (domain.Agent, error) {
	if id == "" {
		return domain.Agent{}, errors.New("agent id is required")
	}
	a := domain.Agent{
		ID:              id,
		DisplayName:     displayName,
		SystemDirective: directive,
		CreatedAt:       e.nowStr(),
	}
	if existing, err := e.Repo.GetAgent(ctx, id); err == nil {
		a.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Agent{}, err
	}
	if err := e.Repo.UpsertAgent(ctx, a); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// SetPolicy merges options into a policy. Partial updates never clear
// options the caller did not name.
func (e Engine) SetPolicy(ctx context.Context, key string, value map[string]any) (domain.Policy, error) {
	if key == "" {
		return domain.Policy{}, errors.New("policy key is required")
	}
	return e.Repo.UpsertPolicy(ctx, key, value, e.nowStr())
}
