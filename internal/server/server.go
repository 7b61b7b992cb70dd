// Package server exposes the HTTP API used by the dashboard and the SDK.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"agentops/internal/engine"
	"agentops/internal/repo"
	"agentops/internal/roundtable"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	Roundtables *roundtable.Orchestrator
	BasePath    string
	Auth        AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"proposal not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the agent operations API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("AgentOps API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerAgents(group, cfg.Engine)
	registerPolicies(group, cfg.Engine)
	registerProposals(group, cfg.Engine)
	registerMissions(group, cfg.Engine)
	registerSteps(group, cfg.Engine)
	registerRoundtables(group, cfg.Engine, cfg.Roundtables)
	registerMemories(group, cfg.Engine)
	registerArtifacts(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerActionRuns(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInvalidState) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "required") || strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "unknown format") || strings.Contains(lowered, "at least") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AgentResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAgents(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AgentResponse `json:"body"`
		}{Body: mapAgents(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "upsert-agent",
		Method:        http.MethodPut,
		Path:          "/agents/{id}",
		Summary:       "Create or update agent",
		DefaultStatus: http.StatusOK,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpsertAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if input.Body.DisplayName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "display_name is required", nil)
		}
		a, err := e.UpsertAgent(ctx, input.ID, input.Body.DisplayName, input.Body.SystemDirective)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})
}

func registerPolicies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-policies",
		Method:      http.MethodGet,
		Path:        "/policies",
		Summary:     "List policies",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PolicyResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPolicies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PolicyResponse `json:"body"`
		}{Body: mapPolicies(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-policy",
		Method:      http.MethodGet,
		Path:        "/policies/{key}",
		Summary:     "Get policy",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct {
		Body PolicyResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPolicy(ctx, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PolicyResponse `json:"body"`
		}{Body: policyResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-policy",
		Method:      http.MethodPut,
		Path:        "/policies/{key}",
		Summary:     "Merge policy options",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Key  string         `path:"key"`
		Body map[string]any `json:"body"`
	}) (*struct {
		Body PolicyResponse `json:"body"`
	}, error) {
		if len(input.Body) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := e.SetPolicy(ctx, input.Key, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PolicyResponse `json:"body"`
		}{Body: policyResponse(p)}, nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-proposal",
		Method:        http.MethodPost,
		Path:          "/proposals",
		Summary:       "Submit proposal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateProposalRequest `json:"body"`
	}) (*struct {
		Body ProposalResultResponse `json:"body"`
	}, error) {
		res, err := e.CreateProposal(ctx, input.Body.AgentID, input.Body.Title, input.Body.ProposedSteps)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResultResponse `json:"body"`
		}{Body: ProposalResultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/proposals",
		Summary:     "List proposals",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,accepted,rejected"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ProposalResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProposals(ctx, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProposalResponse `json:"body"`
		}{Body: mapProposals(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/proposals/{id}",
		Summary:     "Get proposal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProposal(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{id}/accept",
		Summary:     "Approve pending proposal",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProposalResultResponse `json:"body"`
	}, error) {
		res, err := e.AcceptProposal(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResultResponse `json:"body"`
		}{Body: ProposalResultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{id}/reject",
		Summary:     "Reject pending proposal",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body RejectProposalRequest `json:"body"`
	}) (*struct {
		Body ProposalResultResponse `json:"body"`
	}, error) {
		res, err := e.RejectProposal(ctx, input.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResultResponse `json:"body"`
		}{Body: ProposalResultResponse(res)}, nil
	})
}

func registerMissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"approved,running,succeeded,failed"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []MissionResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListMissions(ctx, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MissionResponse `json:"body"`
		}{Body: mapMissions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/missions/{id}",
		Summary:     "Get mission with steps",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MissionDetailResponse `json:"body"`
	}, error) {
		m, err := e.Repo.GetMission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		steps, err := e.Repo.ListMissionSteps(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionDetailResponse `json:"body"`
		}{Body: MissionDetailResponse{
			Mission: missionResponse(m),
			Steps:   mapSteps(steps),
		}}, nil
	})
}

func registerSteps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-steps",
		Method:      http.MethodGet,
		Path:        "/steps",
		Summary:     "List mission steps",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"queued,running,succeeded,failed"`
		Kind   string `query:"kind"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []StepResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSteps(ctx, repo.StepFilters{Status: input.Status, Kind: input.Kind, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StepResponse `json:"body"`
		}{Body: mapSteps(items)}, nil
	})
}

func registerRoundtables(api huma.API, e engine.Engine, orchestrator *roundtable.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID:   "queue-roundtable",
		Method:        http.MethodPost,
		Path:          "/roundtables",
		Summary:       "Queue roundtable session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body QueueRoundtableRequest `json:"body"`
	}) (*struct {
		Body RoundtableResponse `json:"body"`
	}, error) {
		if orchestrator == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "roundtables not configured", nil)
		}
		session, err := orchestrator.Enqueue(ctx, input.Body.Format, input.Body.Topic, input.Body.Participants)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RoundtableResponse `json:"body"`
		}{Body: roundtableResponse(session)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roundtables",
		Method:      http.MethodGet,
		Path:        "/roundtables",
		Summary:     "List roundtable sessions",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,running,succeeded,failed"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []RoundtableResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRoundtables(ctx, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RoundtableResponse `json:"body"`
		}{Body: mapRoundtables(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-roundtable",
		Method:      http.MethodGet,
		Path:        "/roundtables/{id}",
		Summary:     "Get roundtable session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RoundtableResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetRoundtable(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RoundtableResponse `json:"body"`
		}{Body: roundtableResponse(s)}, nil
	})
}

func registerMemories(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-memories",
		Method:      http.MethodGet,
		Path:        "/memories",
		Summary:     "List agent memories",
	}, func(ctx context.Context, input *struct {
		AgentID string `query:"agent_id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []MemoryResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListMemories(ctx, input.AgentID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MemoryResponse `json:"body"`
		}{Body: mapMemories(items)}, nil
	})
}

func registerArtifacts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/artifacts",
		Summary:     "List artifacts",
	}, func(ctx context.Context, input *struct {
		MissionID string `query:"mission_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ArtifactResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListArtifacts(ctx, input.MissionID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ArtifactResponse `json:"body"`
		}{Body: mapArtifacts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact",
		Method:      http.MethodGet,
		Path:        "/artifacts/{id}",
		Summary:     "Get artifact",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ArtifactResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetArtifact(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArtifactResponse `json:"body"`
		}{Body: artifactResponse(a)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent agent events",
	}, func(ctx context.Context, input *struct {
		AgentID string `query:"agent_id"`
		Kind    string `query:"kind"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.AgentID, input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerActionRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-action-runs",
		Method:      http.MethodGet,
		Path:        "/action-runs",
		Summary:     "List recent heartbeat runs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body []ActionRunResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		items, err := e.Repo.LatestActionRuns(ctx, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActionRunResponse `json:"body"`
		}{Body: mapActionRuns(items)}, nil
	})
}
