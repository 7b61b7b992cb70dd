package server

import (
	"agentops/internal/domain"
)

// Request payloads

type CreateProposalRequest struct {
	AgentID       string                `json:"agent_id"`
	Title         string                `json:"title,omitempty"`
	ProposedSteps []domain.ProposedStep `json:"proposed_steps"`
}

type RejectProposalRequest struct {
	Reason string `json:"reason,omitempty"`
}

type UpsertAgentRequest struct {
	DisplayName     string `json:"display_name"`
	SystemDirective string `json:"system_directive,omitempty"`
}

type QueueRoundtableRequest struct {
	Format       string   `json:"format" enum:"watercooler,standup,debate"`
	Topic        string   `json:"topic,omitempty"`
	Participants []string `json:"participants"`
}

// Response payloads

type ProposalResultResponse struct {
	Accepted   bool   `json:"accepted"`
	ProposalID string `json:"proposal_id,omitempty"`
	MissionID  string `json:"mission_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type AgentResponse domain.Agent

type PolicyResponse domain.Policy

type ProposalResponse domain.Proposal

type MissionResponse domain.Mission

type StepResponse domain.Step

type MissionDetailResponse struct {
	Mission MissionResponse `json:"mission"`
	Steps   []StepResponse  `json:"steps"`
}

type RoundtableResponse domain.RoundtableSession

type MemoryResponse domain.AgentMemory

type ArtifactResponse domain.Artifact

type EventResponse domain.AgentEvent

type ActionRunResponse domain.ActionRun

func agentResponse(a domain.Agent) AgentResponse { return AgentResponse(a) }

func mapAgents(items []domain.Agent) []AgentResponse {
	res := make([]AgentResponse, 0, len(items))
	for _, a := range items {
		res = append(res, agentResponse(a))
	}
	return res
}

func policyResponse(p domain.Policy) PolicyResponse { return PolicyResponse(p) }

func mapPolicies(items []domain.Policy) []PolicyResponse {
	res := make([]PolicyResponse, 0, len(items))
	for _, p := range items {
		res = append(res, policyResponse(p))
	}
	return res
}

func proposalResponse(p domain.Proposal) ProposalResponse { return ProposalResponse(p) }

func mapProposals(items []domain.Proposal) []ProposalResponse {
	res := make([]ProposalResponse, 0, len(items))
	for _, p := range items {
		res = append(res, proposalResponse(p))
	}
	return res
}

func missionResponse(m domain.Mission) MissionResponse { return MissionResponse(m) }

func mapMissions(items []domain.Mission) []MissionResponse {
	res := make([]MissionResponse, 0, len(items))
	for _, m := range items {
		res = append(res, missionResponse(m))
	}
	return res
}

func mapSteps(items []domain.Step) []StepResponse {
	res := make([]StepResponse, 0, len(items))
	for _, s := range items {
		res = append(res, StepResponse(s))
	}
	return res
}

func roundtableResponse(s domain.RoundtableSession) RoundtableResponse { return RoundtableResponse(s) }

func mapRoundtables(items []domain.RoundtableSession) []RoundtableResponse {
	res := make([]RoundtableResponse, 0, len(items))
	for _, s := range items {
		res = append(res, roundtableResponse(s))
	}
	return res
}

func mapMemories(items []domain.AgentMemory) []MemoryResponse {
	res := make([]MemoryResponse, 0, len(items))
	for _, m := range items {
		res = append(res, MemoryResponse(m))
	}
	return res
}

func artifactResponse(a domain.Artifact) ArtifactResponse { return ArtifactResponse(a) }

func mapArtifacts(items []domain.Artifact) []ArtifactResponse {
	res := make([]ArtifactResponse, 0, len(items))
	for _, a := range items {
		res = append(res, artifactResponse(a))
	}
	return res
}

func mapEvents(items []domain.AgentEvent) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse(e))
	}
	return res
}

func mapActionRuns(items []domain.ActionRun) []ActionRunResponse {
	res := make([]ActionRunResponse, 0, len(items))
	for _, a := range items {
		res = append(res, ActionRunResponse(a))
	}
	return res
}
