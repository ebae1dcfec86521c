package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"bugarena/internal/config"
	"bugarena/internal/dedup"
	"bugarena/internal/domain"
	"bugarena/internal/events"
	"bugarena/internal/lifecycle"
	"bugarena/internal/repo"
)

var (
	// ErrDisputeExists guards the one-dispute-per-finding-per-agent rule.
	ErrDisputeExists = errors.New("dispute already filed for this finding by this agent")
	// ErrSelfDispute rejects an agent disputing its own finding.
	ErrSelfDispute = errors.New("cannot dispute your own finding")
)

// FindingSubmitOptions are parameters for submitting a finding.
type FindingSubmitOptions struct {
	ID          string
	GameID      string
	AgentID     string
	Description string
	FilePath    string
	LineStart   int
	LineEnd     int
	CodeExcerpt string
}

// SubmitFinding records a finding during the hunt phase. An exact pattern
// hash match against a live finding short-circuits straight to duplicate
// inside the same transaction, penalty applied immediately.
func (e Engine) SubmitFinding(ctx context.Context, opts FindingSubmitOptions) (domain.Finding, error) {
	if opts.Description == "" {
		return domain.Finding{}, errors.New("description is required")
	}
	if opts.FilePath == "" {
		return domain.Finding{}, errors.New("file path is required")
	}
	if opts.LineStart <= 0 || opts.LineEnd < opts.LineStart {
		return domain.Finding{}, fmt.Errorf("invalid line range %d-%d", opts.LineStart, opts.LineEnd)
	}
	cfg, err := e.gameConfig(ctx, opts.GameID)
	if err != nil {
		return domain.Finding{}, err
	}
	policy := dedup.Policy{LineBucketWidth: cfg.Dedup.LineBucketWidth, SimilarityThreshold: cfg.Dedup.SimilarityThreshold}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Finding{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGameTx(ctx, tx, opts.GameID)
	if err != nil {
		return domain.Finding{}, err
	}
	if g.Phase != domain.PhaseHunt {
		return domain.Finding{}, lifecycle.TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "submit finding"}
	}
	a, err := e.Repo.GetAgentTx(ctx, tx, opts.AgentID)
	if err != nil {
		return domain.Finding{}, err
	}
	if a.GameID != g.ID {
		return domain.Finding{}, fmt.Errorf("agent %s not in game %s", opts.AgentID, g.ID)
	}
	if a.Status != domain.AgentActive {
		return domain.Finding{}, lifecycle.TransitionError{Entity: "agent", ID: a.ID, Current: a.Status, Requested: "submit finding"}
	}

	id := opts.ID
	if id == "" {
		id = "f-" + uuid.NewString()[:12]
	}
	f := domain.Finding{
		ID:                 id,
		GameID:             g.ID,
		Round:              g.Round,
		AgentID:            a.ID,
		Description:        opts.Description,
		FilePath:           opts.FilePath,
		LineStart:          opts.LineStart,
		LineEnd:            opts.LineEnd,
		CodeExcerpt:        opts.CodeExcerpt,
		PatternHash:        policy.Hash(opts.FilePath, opts.LineStart, opts.LineEnd, opts.Description),
		Status:             domain.FindingPending,
		VerificationStatus: domain.VerificationNone,
		SubmittedAt:        e.timestamp(),
	}

	a.FindingsSubmitted++
	evtType := "finding.submit"
	original, err := e.Repo.FindByPatternHash(ctx, tx, g.ID, f.PatternHash)
	switch {
	case err == nil:
		f.Status = domain.FindingDuplicate
		orig := original.ID
		f.DuplicateOf = &orig
		f.Verdict = fmt.Sprintf("exact pattern match with %s", original.ID)
		f.PointsAwarded = cfg.Scoring.DuplicatePenalty
		a.FindingsDuplicate++
		a.Score += f.PointsAwarded
		evtType = "finding.duplicate"
	case errors.Is(err, repo.ErrNotFound):
		// first sighting of this pattern
	default:
		return domain.Finding{}, err
	}

	ts := e.timestamp()
	a.LastHeartbeat = &ts
	if err := e.Repo.InsertFinding(ctx, tx, f); err != nil {
		return domain.Finding{}, fmt.Errorf("insert finding: %w", err)
	}
	if err := e.Repo.UpdateAgent(ctx, tx, a); err != nil {
		return domain.Finding{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, g.ID, "finding", f.ID, a.ID, events.EventPayload{
		"round": g.Round, "file": f.FilePath, "hash": f.PatternHash, "duplicate_of": deref(f.DuplicateOf),
	}); err != nil {
		return domain.Finding{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Finding{}, err
	}
	return f, nil
}

// Candidate pairs a live finding with its similarity to the reference
// finding.
type Candidate struct {
	Finding    domain.Finding `json:"finding"`
	Similarity float64        `json:"similarity"`
}

// DuplicateCandidates ranks live findings in the same file by similarity
// to the given finding. Advisory only: adjudicators decide, the ranking
// just points them at likely duplicates.
func (e Engine) DuplicateCandidates(ctx context.Context, findingID string) ([]Candidate, error) {
	f, err := e.Repo.GetFinding(ctx, findingID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.gameConfig(ctx, f.GameID)
	if err != nil {
		return nil, err
	}
	policy := dedup.Policy{LineBucketWidth: cfg.Dedup.LineBucketWidth, SimilarityThreshold: cfg.Dedup.SimilarityThreshold}
	pool, err := e.Repo.ListFileCandidates(ctx, f.GameID, f.FilePath, f.ID)
	if err != nil {
		return nil, err
	}
	ref := dedup.Location{FilePath: f.FilePath, LineStart: f.LineStart, LineEnd: f.LineEnd, Description: f.Description}
	var out []Candidate
	for _, c := range pool {
		score := policy.Similarity(ref, dedup.Location{FilePath: c.FilePath, LineStart: c.LineStart, LineEnd: c.LineEnd, Description: c.Description})
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{Finding: c, Similarity: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// adjudicationTx loads a finding and its game for a scoring-phase mutation.
func (e Engine) adjudicationTx(ctx context.Context, tx *sql.Tx, findingID, requested string) (domain.Finding, domain.Game, error) {
	f, err := e.Repo.GetFindingTx(ctx, tx, findingID)
	if err != nil {
		return domain.Finding{}, domain.Game{}, err
	}
	g, err := e.Repo.GetGameTx(ctx, tx, f.GameID)
	if err != nil {
		return domain.Finding{}, domain.Game{}, err
	}
	if g.Phase != domain.PhaseHuntScoring {
		return domain.Finding{}, domain.Game{}, lifecycle.TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: requested}
	}
	return f, g, nil
}

// applyFindingDelta moves the submitter's tallies and score after an
// adjudication. oldPoints is what the finding was worth before.
func (e Engine) applyFindingDelta(ctx context.Context, tx *sql.Tx, f domain.Finding, oldStatus string, oldPoints int) error {
	a, err := e.Repo.GetAgentTx(ctx, tx, f.AgentID)
	if err != nil {
		return err
	}
	switch oldStatus {
	case domain.FindingValid:
		a.FindingsValid--
	case domain.FindingFalseFlag:
		a.FindingsFalse--
	case domain.FindingDuplicate:
		a.FindingsDuplicate--
	}
	switch f.Status {
	case domain.FindingValid:
		a.FindingsValid++
	case domain.FindingFalseFlag:
		a.FindingsFalse++
	case domain.FindingDuplicate:
		a.FindingsDuplicate++
	}
	a.Score += f.PointsAwarded - oldPoints
	return e.Repo.UpdateAgent(ctx, tx, a)
}

// ValidateFinding rules a pending finding valid during hunt scoring.
func (e Engine) ValidateFinding(ctx context.Context, findingID string, opts lifecycle.ValidateOptions, actorID string) (domain.Finding, error) {
	cfg, tx, err := e.beginAdjudication(ctx, findingID)
	if err != nil {
		return domain.Finding{}, err
	}
	defer tx.Rollback()

	f, g, err := e.adjudicationTx(ctx, tx, findingID, "validate finding")
	if err != nil {
		return domain.Finding{}, err
	}
	next, points, err := lifecycle.ValidateFinding(f, opts, cfg.Scoring, e.now())
	if err != nil {
		return domain.Finding{}, err
	}
	if err := e.Repo.UpdateFindingAdjudication(ctx, tx, next, f.Status); err != nil {
		return domain.Finding{}, err
	}
	if err := e.applyFindingDelta(ctx, tx, next, f.Status, f.PointsAwarded); err != nil {
		return domain.Finding{}, err
	}
	if err := e.Events.Append(ctx, tx, "finding.valid", g.ID, "finding", next.ID, actorID, events.EventPayload{
		"points": points, "verdict": next.Verdict, "needs_verification": next.VerificationStatus == domain.VerificationPending,
	}); err != nil {
		return domain.Finding{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Finding{}, err
	}
	return next, nil
}

// MarkFalseFlag rules a pending finding a false flag during hunt scoring.
func (e Engine) MarkFalseFlag(ctx context.Context, findingID, verdict, rejectionReason, actorID string) (domain.Finding, error) {
	cfg, tx, err := e.beginAdjudication(ctx, findingID)
	if err != nil {
		return domain.Finding{}, err
	}
	defer tx.Rollback()

	f, g, err := e.adjudicationTx(ctx, tx, findingID, "mark false flag")
	if err != nil {
		return domain.Finding{}, err
	}
	next, points, err := lifecycle.MarkFalseFlag(f, verdict, rejectionReason, cfg.Scoring)
	if err != nil {
		return domain.Finding{}, err
	}
	if err := e.Repo.UpdateFindingAdjudication(ctx, tx, next, f.Status); err != nil {
		return domain.Finding{}, err
	}
	if err := e.applyFindingDelta(ctx, tx, next, f.Status, f.PointsAwarded); err != nil {
		return domain.Finding{}, err
	}
	if err := e.Events.Append(ctx, tx, "finding.false_flag", g.ID, "finding", next.ID, actorID, events.EventPayload{
		"points": points, "reason": rejectionReason,
	}); err != nil {
		return domain.Finding{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Finding{}, err
	}
	return next, nil
}

// MarkDuplicate rules a pending finding a duplicate of an earlier one
// during hunt scoring. The original must be a live finding in the same
// game; a duplicate of a duplicate chains to the original instead.
func (e Engine) MarkDuplicate(ctx context.Context, findingID, duplicateOfID, verdict, actorID string) (domain.Finding, error) {
	cfg, tx, err := e.beginAdjudication(ctx, findingID)
	if err != nil {
		return domain.Finding{}, err
	}
	defer tx.Rollback()

	f, g, err := e.adjudicationTx(ctx, tx, findingID, "mark duplicate")
	if err != nil {
		return domain.Finding{}, err
	}
	if duplicateOfID == f.ID {
		return domain.Finding{}, errors.New("finding cannot be a duplicate of itself")
	}
	original, err := e.Repo.GetFindingTx(ctx, tx, duplicateOfID)
	if err != nil {
		return domain.Finding{}, err
	}
	if original.GameID != f.GameID {
		return domain.Finding{}, fmt.Errorf("finding %s not in game %s", duplicateOfID, f.GameID)
	}
	if original.IsDuplicate() && original.DuplicateOf != nil {
		duplicateOfID = *original.DuplicateOf
	}
	next, points, err := lifecycle.MarkDuplicate(f, duplicateOfID, verdict, cfg.Scoring)
	if err != nil {
		return domain.Finding{}, err
	}
	if err := e.Repo.UpdateFindingAdjudication(ctx, tx, next, f.Status); err != nil {
		return domain.Finding{}, err
	}
	if err := e.applyFindingDelta(ctx, tx, next, f.Status, f.PointsAwarded); err != nil {
		return domain.Finding{}, err
	}
	if err := e.Events.Append(ctx, tx, "finding.duplicate", g.ID, "finding", next.ID, actorID, events.EventPayload{
		"points": points, "duplicate_of": duplicateOfID,
	}); err != nil {
		return domain.Finding{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Finding{}, err
	}
	return next, nil
}

// ConfirmVerification passes the secondary check on a valid finding. No
// points move.
func (e Engine) ConfirmVerification(ctx context.Context, findingID, comment, issueType, impactTier, actorID string) (domain.Finding, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Finding{}, err
	}
	defer tx.Rollback()

	f, err := e.Repo.GetFindingTx(ctx, tx, findingID)
	if err != nil {
		return domain.Finding{}, err
	}
	next, err := lifecycle.ConfirmVerification(f, comment, issueType, impactTier)
	if err != nil {
		return domain.Finding{}, err
	}
	if err := e.Repo.UpdateFindingAdjudication(ctx, tx, next, f.Status); err != nil {
		return domain.Finding{}, err
	}
	if err := e.Events.Append(ctx, tx, "finding.verify_confirmed", f.GameID, "finding", f.ID, actorID, events.EventPayload{
		"comment": comment,
	}); err != nil {
		return domain.Finding{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Finding{}, err
	}
	return next, nil
}

// RejectVerification fails the secondary check. The finding downgrades to
// false flag and the submitter's score recomputes to the new worth.
func (e Engine) RejectVerification(ctx context.Context, findingID, reason, actorID string) (domain.Finding, error) {
	cfg, tx, err := e.beginAdjudication(ctx, findingID)
	if err != nil {
		return domain.Finding{}, err
	}
	defer tx.Rollback()

	f, err := e.Repo.GetFindingTx(ctx, tx, findingID)
	if err != nil {
		return domain.Finding{}, err
	}
	next, _, err := lifecycle.RejectVerification(f, reason, cfg.Scoring)
	if err != nil {
		return domain.Finding{}, err
	}
	if err := e.Repo.UpdateFindingAdjudication(ctx, tx, next, f.Status); err != nil {
		return domain.Finding{}, err
	}
	if err := e.applyFindingDelta(ctx, tx, next, f.Status, f.PointsAwarded); err != nil {
		return domain.Finding{}, err
	}
	if err := e.Events.Append(ctx, tx, "finding.verify_rejected", f.GameID, "finding", f.ID, actorID, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return domain.Finding{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Finding{}, err
	}
	return next, nil
}

// beginAdjudication resolves the game config for a finding, then opens the
// mutation transaction. Config lives outside the tx; only entity rows are
// re-read under it.
func (e Engine) beginAdjudication(ctx context.Context, findingID string) (*config.Config, *sql.Tx, error) {
	f, err := e.Repo.GetFinding(ctx, findingID)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := e.gameConfig(ctx, f.GameID)
	if err != nil {
		return nil, nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	return cfg, tx, nil
}
