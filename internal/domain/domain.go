package domain

// Game phases, in order. A game's phase never moves backward.
const (
	PhaseSetup         = "setup"
	PhaseHunt          = "hunt"
	PhaseHuntScoring   = "hunt_scoring"
	PhaseReview        = "review"
	PhaseReviewScoring = "review_scoring"
	PhaseComplete      = "complete"
)

// Finding statuses. Pending is the only non-terminal status; Valid may
// still revert to FalseFlag through dispute revocation.
const (
	FindingPending   = "pending"
	FindingValid     = "valid"
	FindingFalseFlag = "false_flag"
	FindingDuplicate = "duplicate"
)

// Verification statuses for findings flagged for a secondary pass.
const (
	VerificationNone      = "none"
	VerificationPending   = "pending"
	VerificationConfirmed = "confirmed"
	VerificationRejected  = "rejected"
)

// Dispute statuses.
const (
	DisputePending    = "pending"
	DisputeSuccessful = "successful"
	DisputeFailed     = "failed"
)

// Agent statuses.
const (
	AgentActive     = "active"
	AgentEliminated = "eliminated"
	AgentWinner     = "winner"
)

type Game struct {
	ID          string  `json:"id"`
	Artifact    string  `json:"artifact"`
	Category    string  `json:"category,omitempty"`
	Focus       string  `json:"focus,omitempty"`
	TargetScore int     `json:"target_score"`
	MaxRounds   int     `json:"max_rounds"`
	AgentCount  int     `json:"agent_count"`
	Phase       string  `json:"phase" enum:"setup,hunt,hunt_scoring,review,review_scoring,complete"`
	Round       int     `json:"round"`
	PhaseEndsAt *string `json:"phase_ends_at,omitempty" format:"date-time"`
	WinnerID    *string `json:"winner_id,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Agent struct {
	ID                string  `json:"id"`
	GameID            string  `json:"game_id"`
	Score             int     `json:"score"`
	FindingsSubmitted int     `json:"findings_submitted"`
	FindingsValid     int     `json:"findings_valid"`
	FindingsFalse     int     `json:"findings_false"`
	FindingsDuplicate int     `json:"findings_duplicate"`
	DisputesWon       int     `json:"disputes_won"`
	DisputesLost      int     `json:"disputes_lost"`
	HuntDoneRound     int     `json:"hunt_done_round"`
	ReviewDoneRound   int     `json:"review_done_round"`
	Status            string  `json:"status" enum:"active,eliminated,winner"`
	LastHeartbeat     *string `json:"last_heartbeat,omitempty" format:"date-time"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

type Finding struct {
	ID                  string  `json:"id"`
	GameID              string  `json:"game_id"`
	Round               int     `json:"round"`
	AgentID             string  `json:"agent_id"`
	Description         string  `json:"description"`
	FilePath            string  `json:"file_path"`
	LineStart           int     `json:"line_start"`
	LineEnd             int     `json:"line_end"`
	CodeExcerpt         string  `json:"code_excerpt,omitempty"`
	PatternHash         string  `json:"pattern_hash"`
	Status              string  `json:"status" enum:"pending,valid,false_flag,duplicate"`
	DuplicateOf         *string `json:"duplicate_of,omitempty"`
	Verdict             string  `json:"verdict,omitempty"`
	Confidence          string  `json:"confidence,omitempty"`
	ConfidenceScore     float64 `json:"confidence_score,omitempty"`
	IssueType           string  `json:"issue_type,omitempty"`
	ImpactTier          string  `json:"impact_tier,omitempty"`
	RejectionReason     string  `json:"rejection_reason,omitempty"`
	PointsAwarded       int     `json:"points_awarded"`
	VerificationStatus  string  `json:"verification_status" enum:"none,pending,confirmed,rejected"`
	VerificationComment string  `json:"verification_comment,omitempty"`
	SubmittedAt         string  `json:"submitted_at" format:"date-time"`
	ValidatedAt         *string `json:"validated_at,omitempty" format:"date-time"`
}

type Dispute struct {
	ID            string  `json:"id"`
	GameID        string  `json:"game_id"`
	Round         int     `json:"round"`
	FindingID     string  `json:"finding_id"`
	AgentID       string  `json:"agent_id"`
	Reason        string  `json:"reason"`
	Status        string  `json:"status" enum:"pending,successful,failed"`
	Verdict       string  `json:"verdict,omitempty"`
	PointsAwarded int     `json:"points_awarded"`
	ResolvedAt    *string `json:"resolved_at,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	GameID     string `json:"game_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// IsPending reports whether the finding is still awaiting adjudication.
func (f Finding) IsPending() bool { return f.Status == FindingPending }

func (f Finding) IsValid() bool     { return f.Status == FindingValid }
func (f Finding) IsFalseFlag() bool { return f.Status == FindingFalseFlag }
func (f Finding) IsDuplicate() bool { return f.Status == FindingDuplicate }

// IsTerminal reports whether the game has reached its final phase.
func (g Game) IsTerminal() bool { return g.Phase == PhaseComplete }
