package server

import (
	"bugarena/internal/domain"
	"bugarena/internal/engine"
)

// Request payloads

type CreateGameRequest struct {
	ID          *string `json:"id,omitempty"`
	Artifact    string  `json:"artifact"`
	Category    *string `json:"category,omitempty"`
	Focus       *string `json:"focus,omitempty"`
	TargetScore *int    `json:"target_score,omitempty"`
	MaxRounds   *int    `json:"max_rounds,omitempty"`
	AgentCount  *int    `json:"agent_count,omitempty"`
}

type SubmitFindingRequest struct {
	ID          *string `json:"id,omitempty"`
	AgentID     string  `json:"agent_id"`
	Description string  `json:"description"`
	FilePath    string  `json:"file_path"`
	LineStart   int     `json:"line_start"`
	LineEnd     int     `json:"line_end"`
	CodeExcerpt *string `json:"code_excerpt,omitempty"`
}

type ValidateFindingRequest struct {
	Verdict           string  `json:"verdict,omitempty"`
	Confidence        string  `json:"confidence,omitempty" enum:",low,medium,high"`
	ConfidenceScore   float64 `json:"confidence_score,omitempty" minimum:"0" maximum:"1"`
	IssueType         string  `json:"issue_type,omitempty"`
	ImpactTier        string  `json:"impact_tier,omitempty"`
	NeedsVerification bool    `json:"needs_verification,omitempty"`
}

type FalseFlagRequest struct {
	Verdict         string `json:"verdict,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

type MarkDuplicateRequest struct {
	DuplicateOf string `json:"duplicate_of"`
	Verdict     string `json:"verdict,omitempty"`
}

type VerificationRequest struct {
	Comment    string `json:"comment,omitempty"`
	IssueType  string `json:"issue_type,omitempty"`
	ImpactTier string `json:"impact_tier,omitempty"`
}

type SubmitDisputeRequest struct {
	ID      *string `json:"id,omitempty"`
	AgentID string  `json:"agent_id"`
	Reason  string  `json:"reason"`
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome" enum:"successful,failed"`
	Verdict string `json:"verdict,omitempty"`
}

// Response payloads. Domain entities carry their own JSON shape; the
// composites below add operation results on top.

type PhaseCheckResponse struct {
	Game     domain.Game `json:"game"`
	Advanced bool        `json:"advanced"`
}

type ScoreboardEntry struct {
	Rank  int          `json:"rank"`
	Agent domain.Agent `json:"agent"`
}

type ScoreboardResponse struct {
	GameID  string            `json:"game_id"`
	Phase   string            `json:"phase"`
	Round   int               `json:"round"`
	Entries []ScoreboardEntry `json:"entries"`
}

func scoreboardResponse(g domain.Game, agents []domain.Agent) ScoreboardResponse {
	res := ScoreboardResponse{GameID: g.ID, Phase: g.Phase, Round: g.Round}
	for i, a := range agents {
		res.Entries = append(res.Entries, ScoreboardEntry{Rank: i + 1, Agent: a})
	}
	return res
}

type CandidatesResponse struct {
	FindingID  string             `json:"finding_id"`
	Candidates []engine.Candidate `json:"candidates"`
}

func optString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func optInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
