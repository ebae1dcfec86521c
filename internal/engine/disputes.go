package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bugarena/internal/domain"
	"bugarena/internal/events"
	"bugarena/internal/lifecycle"
)

// DisputeSubmitOptions are parameters for filing a dispute.
type DisputeSubmitOptions struct {
	ID        string
	FindingID string
	AgentID   string
	Reason    string
}

// SubmitDispute files a challenge against another agent's valid finding
// during the review phase. One dispute per finding per agent; no
// self-disputes.
func (e Engine) SubmitDispute(ctx context.Context, opts DisputeSubmitOptions) (domain.Dispute, error) {
	if opts.Reason == "" {
		return domain.Dispute{}, fmt.Errorf("reason is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()

	f, err := e.Repo.GetFindingTx(ctx, tx, opts.FindingID)
	if err != nil {
		return domain.Dispute{}, err
	}
	g, err := e.Repo.GetGameTx(ctx, tx, f.GameID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if g.Phase != domain.PhaseReview {
		return domain.Dispute{}, lifecycle.TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "submit dispute"}
	}
	if !f.IsValid() {
		return domain.Dispute{}, lifecycle.TransitionError{Entity: "finding", ID: f.ID, Current: f.Status, Requested: "dispute"}
	}
	if f.AgentID == opts.AgentID {
		return domain.Dispute{}, ErrSelfDispute
	}
	a, err := e.Repo.GetAgentTx(ctx, tx, opts.AgentID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if a.GameID != g.ID {
		return domain.Dispute{}, fmt.Errorf("agent %s not in game %s", opts.AgentID, g.ID)
	}
	if a.Status != domain.AgentActive {
		return domain.Dispute{}, lifecycle.TransitionError{Entity: "agent", ID: a.ID, Current: a.Status, Requested: "submit dispute"}
	}
	exists, err := e.Repo.DisputeExists(ctx, tx, f.ID, a.ID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if exists {
		return domain.Dispute{}, ErrDisputeExists
	}

	id := opts.ID
	if id == "" {
		id = "d-" + uuid.NewString()[:12]
	}
	d := domain.Dispute{
		ID:        id,
		GameID:    g.ID,
		Round:     g.Round,
		FindingID: f.ID,
		AgentID:   a.ID,
		Reason:    opts.Reason,
		Status:    domain.DisputePending,
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertDispute(ctx, tx, d); err != nil {
		return domain.Dispute{}, fmt.Errorf("insert dispute: %w", err)
	}
	ts := e.timestamp()
	a.LastHeartbeat = &ts
	if err := e.Repo.UpdateAgent(ctx, tx, a); err != nil {
		return domain.Dispute{}, err
	}
	if err := e.Events.Append(ctx, tx, "dispute.submit", g.ID, "dispute", d.ID, a.ID, events.EventPayload{
		"finding": f.ID, "round": g.Round,
	}); err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	return d, nil
}

// ResolveDispute settles a pending dispute during review scoring. A
// successful dispute reverts the target finding in the same transaction
// and recomputes the submitter's score; the disputer gains or loses the
// dispute stake. A dispute whose target was already reverted by an earlier
// resolution settles failed with no points either way.
func (e Engine) ResolveDispute(ctx context.Context, disputeID, outcome, verdict, actorID string) (domain.Dispute, error) {
	pre, err := e.Repo.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	cfg, err := e.gameConfig(ctx, pre.GameID)
	if err != nil {
		return domain.Dispute{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDisputeTx(ctx, tx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	g, err := e.Repo.GetGameTx(ctx, tx, d.GameID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if g.Phase != domain.PhaseReviewScoring {
		return domain.Dispute{}, lifecycle.TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "resolve dispute"}
	}
	f, err := e.Repo.GetFindingTx(ctx, tx, d.FindingID)
	if err != nil {
		return domain.Dispute{}, err
	}

	var next domain.Dispute
	moot := !f.IsValid()
	if moot {
		next, err = lifecycle.ResolveMoot(d, e.now())
	} else {
		next, _, err = lifecycle.ResolveDispute(d, outcome, verdict, cfg.Scoring, e.now())
	}
	if err != nil {
		return domain.Dispute{}, err
	}
	if err := e.Repo.UpdateDisputeResolution(ctx, tx, next); err != nil {
		return domain.Dispute{}, err
	}

	if !moot && next.Status == domain.DisputeSuccessful {
		reverted, _, err := lifecycle.RevokeValidation(f, fmt.Sprintf("reverted by dispute %s", next.ID), cfg.Scoring)
		if err != nil {
			return domain.Dispute{}, err
		}
		if err := e.Repo.UpdateFindingAdjudication(ctx, tx, reverted, f.Status); err != nil {
			return domain.Dispute{}, err
		}
		if err := e.applyFindingDelta(ctx, tx, reverted, f.Status, f.PointsAwarded); err != nil {
			return domain.Dispute{}, err
		}
		if err := e.Events.Append(ctx, tx, "finding.reverted", g.ID, "finding", f.ID, actorID, events.EventPayload{
			"dispute": next.ID,
		}); err != nil {
			return domain.Dispute{}, err
		}
	}

	disputer, err := e.Repo.GetAgentTx(ctx, tx, next.AgentID)
	if err != nil {
		return domain.Dispute{}, err
	}
	switch next.Status {
	case domain.DisputeSuccessful:
		disputer.DisputesWon++
	case domain.DisputeFailed:
		disputer.DisputesLost++
	}
	disputer.Score += next.PointsAwarded
	if err := e.Repo.UpdateAgent(ctx, tx, disputer); err != nil {
		return domain.Dispute{}, err
	}
	if err := e.Events.Append(ctx, tx, "dispute.resolved", g.ID, "dispute", next.ID, actorID, events.EventPayload{
		"status": next.Status, "points": next.PointsAwarded, "moot": moot,
	}); err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	return next, nil
}
