package agentopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal AgentOps HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// ProposedStep is a step submitted as part of a proposal.
type ProposedStep struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ProposalResult reports the outcome of creating or deciding a proposal.
type ProposalResult struct {
	Accepted   bool   `json:"accepted"`
	ProposalID string `json:"proposal_id,omitempty"`
	MissionID  string `json:"mission_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Proposal represents the API proposal model (partial).
type Proposal struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	Title           string         `json:"title"`
	Status          string         `json:"status"`
	ProposedSteps   []ProposedStep `json:"proposed_steps"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	CreatedAt       string         `json:"created_at"`
}

// Mission represents the API mission model (partial).
type Mission struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

// Step represents a mission step.
type Step struct {
	ID        string         `json:"id"`
	MissionID string         `json:"mission_id"`
	Kind      string         `json:"kind"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// MissionDetail bundles a mission with its steps.
type MissionDetail struct {
	Mission Mission `json:"mission"`
	Steps   []Step  `json:"steps"`
}

// Policy is a named bag of gate or approval options.
type Policy struct {
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	UpdatedAt string         `json:"updated_at"`
}

// Agent represents a registered agent.
type Agent struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	SystemDirective string `json:"system_directive,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// RoundtableSession represents a queued or finished conversation.
type RoundtableSession struct {
	ID           string   `json:"id"`
	Format       string   `json:"format"`
	Topic        string   `json:"topic,omitempty"`
	Participants []string `json:"participants"`
	Status       string   `json:"status"`
	CreatedAt    string   `json:"created_at"`
}

// Memory is a distilled agent memory.
type Memory struct {
	ID         string  `json:"id"`
	AgentID    string  `json:"agent_id"`
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

// Event represents an activity log entry.
type Event struct {
	ID      int64  `json:"id"`
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	TS      string `json:"ts"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProposal submits a proposal on behalf of an agent.
func (c *Client) CreateProposal(ctx context.Context, agentID, title string, steps []ProposedStep) (ProposalResult, error) {
	body := map[string]any{
		"agent_id":       agentID,
		"title":          title,
		"proposed_steps": steps,
	}
	var resp ProposalResult
	err := c.do(ctx, http.MethodPost, "v0/proposals", body, &resp)
	return resp, err
}

// AcceptProposal approves a pending proposal.
func (c *Client) AcceptProposal(ctx context.Context, id string) (ProposalResult, error) {
	var resp ProposalResult
	endpoint := fmt.Sprintf("v0/proposals/%s/accept", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RejectProposal rejects a pending proposal.
func (c *Client) RejectProposal(ctx context.Context, id, reason string) (ProposalResult, error) {
	body := map[string]any{"reason": reason}
	var resp ProposalResult
	endpoint := fmt.Sprintf("v0/proposals/%s/reject", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListProposals returns proposals, optionally filtered by status.
func (c *Client) ListProposals(ctx context.Context, status string, limit int) ([]Proposal, error) {
	var resp []Proposal
	err := c.do(ctx, http.MethodGet, listEndpoint("v0/proposals", status, limit), nil, &resp)
	return resp, err
}

// ListMissions returns missions, optionally filtered by status.
func (c *Client) ListMissions(ctx context.Context, status string, limit int) ([]Mission, error) {
	var resp []Mission
	err := c.do(ctx, http.MethodGet, listEndpoint("v0/missions", status, limit), nil, &resp)
	return resp, err
}

// GetMission fetches a mission together with its steps.
func (c *Client) GetMission(ctx context.Context, id string) (MissionDetail, error) {
	var resp MissionDetail
	endpoint := fmt.Sprintf("v0/missions/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpsertAgent creates or updates an agent.
func (c *Client) UpsertAgent(ctx context.Context, id, displayName, directive string) (Agent, error) {
	body := map[string]any{
		"display_name":     displayName,
		"system_directive": directive,
	}
	var resp Agent
	endpoint := fmt.Sprintf("v0/agents/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// SetPolicy merges options into a policy.
func (c *Client) SetPolicy(ctx context.Context, key string, value map[string]any) (Policy, error) {
	var resp Policy
	endpoint := fmt.Sprintf("v0/policies/%s", url.PathEscape(key))
	err := c.do(ctx, http.MethodPut, endpoint, value, &resp)
	return resp, err
}

// QueueRoundtable enqueues a conversation session.
func (c *Client) QueueRoundtable(ctx context.Context, format, topic string, participants []string) (RoundtableSession, error) {
	body := map[string]any{
		"format":       format,
		"topic":        topic,
		"participants": participants,
	}
	var resp RoundtableSession
	err := c.do(ctx, http.MethodPost, "v0/roundtables", body, &resp)
	return resp, err
}

// ListMemories returns distilled memories, optionally filtered by agent.
func (c *Client) ListMemories(ctx context.Context, agentID string, limit int) ([]Memory, error) {
	endpoint := "v0/memories"
	sep := "?"
	if agentID != "" {
		endpoint += sep + "agent_id=" + url.QueryEscape(agentID)
		sep = "&"
	}
	if limit > 0 {
		endpoint += fmt.Sprintf("%slimit=%d", sep, limit)
	}
	var resp []Memory
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent activity events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func listEndpoint(base, status string, limit int) string {
	sep := "?"
	if status != "" {
		base += sep + "status=" + url.QueryEscape(status)
		sep = "&"
	}
	if limit > 0 {
		base += fmt.Sprintf("%slimit=%d", sep, limit)
	}
	return base
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
