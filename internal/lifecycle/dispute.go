package lifecycle

import (
	"fmt"
	"time"

	"bugarena/internal/config"
	"bugarena/internal/domain"
)

// ResolveDispute settles a pending dispute. Successful disputes earn the
// disputer the win bonus; failed disputes cost the lost penalty. Reverting
// the target finding is the caller's job via RevokeValidation, so the two
// writes land in one transaction.
func ResolveDispute(d domain.Dispute, outcome, verdict string, sc config.Scoring, now time.Time) (domain.Dispute, int, error) {
	if d.Status != domain.DisputePending {
		return d, 0, TransitionError{Entity: "dispute", ID: d.ID, Current: d.Status, Requested: "resolve"}
	}
	switch outcome {
	case domain.DisputeSuccessful:
		d.PointsAwarded = sc.DisputeWon
	case domain.DisputeFailed:
		d.PointsAwarded = sc.DisputeLost
	default:
		return d, 0, fmt.Errorf("unknown dispute outcome %q", outcome)
	}
	d.Status = outcome
	d.Verdict = verdict
	ts := now.UTC().Format(time.RFC3339)
	d.ResolvedAt = &ts
	return d, d.PointsAwarded, nil
}

// ResolveMoot settles a pending dispute whose target finding was already
// reverted by an earlier successful dispute. The dispute fails for record
// keeping but awards no points either way.
func ResolveMoot(d domain.Dispute, now time.Time) (domain.Dispute, error) {
	if d.Status != domain.DisputePending {
		return d, TransitionError{Entity: "dispute", ID: d.ID, Current: d.Status, Requested: "resolve"}
	}
	d.Status = domain.DisputeFailed
	d.Verdict = "target finding already reverted by an earlier dispute"
	d.PointsAwarded = 0
	ts := now.UTC().Format(time.RFC3339)
	d.ResolvedAt = &ts
	return d, nil
}
