// Package lifecycle holds the pure state-transition rules for findings,
// disputes, and the game phase machine. Every transition takes the current
// entity value and returns the next value plus the points it awards; callers
// persist the result atomically. No function here touches storage.
package lifecycle

import (
	"fmt"
	"time"

	"bugarena/internal/config"
	"bugarena/internal/domain"
)

// TransitionError reports an operation invoked against an entity that is
// not in the required source status.
type TransitionError struct {
	Entity    string
	ID        string
	Current   string
	Requested string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("%s %s is %s; cannot %s", e.Entity, e.ID, e.Current, e.Requested)
}

// ValidateOptions carries the adjudication record for a validated finding.
type ValidateOptions struct {
	Verdict           string
	Confidence        string
	ConfidenceScore   float64
	IssueType         string
	ImpactTier        string
	NeedsVerification bool
}

// ValidateFinding transitions a pending finding to valid and returns the
// valid-finding reward.
func ValidateFinding(f domain.Finding, opts ValidateOptions, sc config.Scoring, now time.Time) (domain.Finding, int, error) {
	if f.Status != domain.FindingPending {
		return f, 0, TransitionError{Entity: "finding", ID: f.ID, Current: f.Status, Requested: "validate"}
	}
	f.Status = domain.FindingValid
	f.Verdict = opts.Verdict
	f.Confidence = opts.Confidence
	f.ConfidenceScore = opts.ConfidenceScore
	f.IssueType = opts.IssueType
	f.ImpactTier = opts.ImpactTier
	if opts.NeedsVerification {
		f.VerificationStatus = domain.VerificationPending
	} else {
		f.VerificationStatus = domain.VerificationNone
	}
	ts := now.UTC().Format(time.RFC3339)
	f.ValidatedAt = &ts
	f.PointsAwarded = sc.ValidFinding
	return f, f.PointsAwarded, nil
}

// MarkFalseFlag transitions a pending finding to false_flag and returns the
// (negative) false-flag penalty.
func MarkFalseFlag(f domain.Finding, verdict, rejectionReason string, sc config.Scoring) (domain.Finding, int, error) {
	if f.Status != domain.FindingPending {
		return f, 0, TransitionError{Entity: "finding", ID: f.ID, Current: f.Status, Requested: "mark false flag"}
	}
	f.Status = domain.FindingFalseFlag
	f.Verdict = verdict
	f.RejectionReason = rejectionReason
	f.PointsAwarded = sc.FalseFlagPenalty
	return f, f.PointsAwarded, nil
}

// MarkDuplicate transitions a pending finding to duplicate of an earlier
// finding. The duplicate penalty is strictly more severe than the
// false-flag penalty; config validation enforces the ordering.
func MarkDuplicate(f domain.Finding, duplicateOfID, verdict string, sc config.Scoring) (domain.Finding, int, error) {
	if f.Status != domain.FindingPending {
		return f, 0, TransitionError{Entity: "finding", ID: f.ID, Current: f.Status, Requested: "mark duplicate"}
	}
	if duplicateOfID == "" {
		return f, 0, fmt.Errorf("duplicate-of finding id is required")
	}
	f.Status = domain.FindingDuplicate
	f.DuplicateOf = &duplicateOfID
	f.Verdict = verdict
	f.PointsAwarded = sc.DuplicatePenalty
	return f, f.PointsAwarded, nil
}

// RevokeValidation reverts a valid finding to false_flag after a successful
// dispute. Points are recomputed to the false-flag penalty, never adjusted
// incrementally; the caller applies the delta to the submitter's score.
func RevokeValidation(f domain.Finding, verdict string, sc config.Scoring) (domain.Finding, int, error) {
	if f.Status != domain.FindingValid {
		return f, 0, TransitionError{Entity: "finding", ID: f.ID, Current: f.Status, Requested: "revoke validation"}
	}
	f.Status = domain.FindingFalseFlag
	f.Verdict = verdict
	if f.VerificationStatus == domain.VerificationPending {
		f.VerificationStatus = domain.VerificationNone
	}
	f.PointsAwarded = sc.FalseFlagPenalty
	return f, f.PointsAwarded, nil
}

// ConfirmVerification records a passed secondary check on a valid finding.
// The finding keeps its status and points.
func ConfirmVerification(f domain.Finding, comment, issueType, impactTier string) (domain.Finding, error) {
	if f.VerificationStatus != domain.VerificationPending {
		return f, TransitionError{Entity: "finding", ID: f.ID, Current: "verification " + f.VerificationStatus, Requested: "confirm verification"}
	}
	f.VerificationStatus = domain.VerificationConfirmed
	f.VerificationComment = comment
	if issueType != "" {
		f.IssueType = issueType
	}
	if impactTier != "" {
		f.ImpactTier = impactTier
	}
	return f, nil
}

// RejectVerification fails the secondary check, downgrading the finding the
// same way a revocation does.
func RejectVerification(f domain.Finding, reason string, sc config.Scoring) (domain.Finding, int, error) {
	if f.VerificationStatus != domain.VerificationPending {
		return f, 0, TransitionError{Entity: "finding", ID: f.ID, Current: "verification " + f.VerificationStatus, Requested: "reject verification"}
	}
	if f.Status != domain.FindingValid {
		return f, 0, TransitionError{Entity: "finding", ID: f.ID, Current: f.Status, Requested: "reject verification"}
	}
	f.Status = domain.FindingFalseFlag
	f.VerificationStatus = domain.VerificationRejected
	f.VerificationComment = reason
	f.RejectionReason = reason
	f.PointsAwarded = sc.FalseFlagPenalty
	return f, f.PointsAwarded, nil
}
