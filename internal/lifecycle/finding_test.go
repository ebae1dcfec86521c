package lifecycle_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"bugarena/internal/config"
	"bugarena/internal/domain"
	"bugarena/internal/lifecycle"
)

var now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func scoring() config.Scoring {
	return config.Default().Scoring
}

func pendingFinding() domain.Finding {
	return domain.Finding{
		ID:                 "f-1",
		GameID:             "g-1",
		AgentID:            "agent-1",
		Status:             domain.FindingPending,
		VerificationStatus: domain.VerificationNone,
	}
}

func TestValidateFinding(t *testing.T) {
	f, points, err := lifecycle.ValidateFinding(pendingFinding(), lifecycle.ValidateOptions{
		Verdict:    "confirmed crash",
		Confidence: "high",
	}, scoring(), now)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if f.Status != domain.FindingValid {
		t.Fatalf("status = %s", f.Status)
	}
	if points != scoring().ValidFinding || f.PointsAwarded != points {
		t.Fatalf("points = %d", points)
	}
	if f.ValidatedAt == nil {
		t.Fatalf("expected validation timestamp")
	}
	if f.VerificationStatus != domain.VerificationNone {
		t.Fatalf("verification = %s", f.VerificationStatus)
	}
}

func TestValidateFlagsVerification(t *testing.T) {
	f, _, err := lifecycle.ValidateFinding(pendingFinding(), lifecycle.ValidateOptions{
		Verdict:           "plausible, needs runtime check",
		NeedsVerification: true,
	}, scoring(), now)
	if err != nil {
		t.Fatal(err)
	}
	if f.VerificationStatus != domain.VerificationPending {
		t.Fatalf("verification = %s", f.VerificationStatus)
	}
}

func TestTerminalTransitionsSingleUse(t *testing.T) {
	valid, _, err := lifecycle.ValidateFinding(pendingFinding(), lifecycle.ValidateOptions{}, scoring(), now)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name string
		run  func(domain.Finding) error
	}{
		{"validate", func(f domain.Finding) error {
			_, _, err := lifecycle.ValidateFinding(f, lifecycle.ValidateOptions{}, scoring(), now)
			return err
		}},
		{"false flag", func(f domain.Finding) error {
			_, _, err := lifecycle.MarkFalseFlag(f, "v", "", scoring())
			return err
		}},
		{"duplicate", func(f domain.Finding) error {
			_, _, err := lifecycle.MarkDuplicate(f, "f-0", "v", scoring())
			return err
		}},
	}
	for _, tc := range cases {
		err := tc.run(valid)
		if err == nil {
			t.Fatalf("%s on non-pending finding should fail", tc.name)
		}
		var te lifecycle.TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("%s: expected TransitionError, got %v", tc.name, err)
		}
		if !strings.Contains(err.Error(), domain.FindingValid) {
			t.Fatalf("%s: error should name current status: %v", tc.name, err)
		}
	}
}

func TestDuplicatePenaltyMoreSevere(t *testing.T) {
	sc := scoring()
	_, dupPoints, err := lifecycle.MarkDuplicate(pendingFinding(), "f-0", "same defect", sc)
	if err != nil {
		t.Fatal(err)
	}
	_, ffPoints, err := lifecycle.MarkFalseFlag(pendingFinding(), "not a bug", "intended behavior", sc)
	if err != nil {
		t.Fatal(err)
	}
	if dupPoints >= ffPoints {
		t.Fatalf("duplicate penalty %d must be more negative than false-flag %d", dupPoints, ffPoints)
	}
}

func TestMarkDuplicateRecordsOriginal(t *testing.T) {
	f, _, err := lifecycle.MarkDuplicate(pendingFinding(), "f-0", "same defect", scoring())
	if err != nil {
		t.Fatal(err)
	}
	if f.DuplicateOf == nil || *f.DuplicateOf != "f-0" {
		t.Fatalf("duplicate_of not recorded")
	}
}

func TestRevokeValidation(t *testing.T) {
	sc := scoring()
	valid, _, err := lifecycle.ValidateFinding(pendingFinding(), lifecycle.ValidateOptions{}, sc, now)
	if err != nil {
		t.Fatal(err)
	}
	reverted, points, err := lifecycle.RevokeValidation(valid, "dispute upheld", sc)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if reverted.Status != domain.FindingFalseFlag {
		t.Fatalf("status = %s", reverted.Status)
	}
	if points != sc.FalseFlagPenalty {
		t.Fatalf("points = %d, want false-flag penalty %d", points, sc.FalseFlagPenalty)
	}
	// revocation is only legal from valid
	if _, _, err := lifecycle.RevokeValidation(pendingFinding(), "v", sc); err == nil {
		t.Fatalf("revoke from pending should fail")
	}
	if _, _, err := lifecycle.RevokeValidation(reverted, "v", sc); err == nil {
		t.Fatalf("second revoke should fail")
	}
}

func TestVerificationConfirm(t *testing.T) {
	valid, _, _ := lifecycle.ValidateFinding(pendingFinding(), lifecycle.ValidateOptions{NeedsVerification: true}, scoring(), now)
	confirmed, err := lifecycle.ConfirmVerification(valid, "reproduced", "logic", "high")
	if err != nil {
		t.Fatal(err)
	}
	if confirmed.Status != domain.FindingValid {
		t.Fatalf("confirm must keep finding valid, got %s", confirmed.Status)
	}
	if confirmed.VerificationStatus != domain.VerificationConfirmed {
		t.Fatalf("verification = %s", confirmed.VerificationStatus)
	}
	if _, err := lifecycle.ConfirmVerification(confirmed, "again", "", ""); err == nil {
		t.Fatalf("second confirm should fail")
	}
}

func TestVerificationReject(t *testing.T) {
	sc := scoring()
	valid, _, _ := lifecycle.ValidateFinding(pendingFinding(), lifecycle.ValidateOptions{NeedsVerification: true}, sc, now)
	rejected, points, err := lifecycle.RejectVerification(valid, "could not reproduce", sc)
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != domain.FindingFalseFlag {
		t.Fatalf("reject must downgrade finding, got %s", rejected.Status)
	}
	if points != sc.FalseFlagPenalty {
		t.Fatalf("points = %d", points)
	}
	if rejected.VerificationStatus != domain.VerificationRejected {
		t.Fatalf("verification = %s", rejected.VerificationStatus)
	}
	if _, _, err := lifecycle.RejectVerification(pendingFinding(), "r", sc); err == nil {
		t.Fatalf("reject without pending verification should fail")
	}
}

func TestPredicates(t *testing.T) {
	f := pendingFinding()
	if !f.IsPending() || f.IsValid() || f.IsFalseFlag() || f.IsDuplicate() {
		t.Fatalf("pending predicates wrong")
	}
	valid, _, _ := lifecycle.ValidateFinding(f, lifecycle.ValidateOptions{}, scoring(), now)
	if !valid.IsValid() || valid.IsPending() {
		t.Fatalf("valid predicates wrong")
	}
}
