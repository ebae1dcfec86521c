package lifecycle_test

import (
	"errors"
	"testing"

	"bugarena/internal/domain"
	"bugarena/internal/lifecycle"
)

func pendingDispute() domain.Dispute {
	return domain.Dispute{
		ID:        "d-1",
		GameID:    "g-1",
		Round:     1,
		FindingID: "f-1",
		AgentID:   "agent-2",
		Reason:    "excerpt shows the nil check two lines above",
		Status:    domain.DisputePending,
	}
}

func TestResolveDisputeSuccessful(t *testing.T) {
	sc := scoring()
	d, points, err := lifecycle.ResolveDispute(pendingDispute(), domain.DisputeSuccessful, "validator misread the guard", sc, now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.DisputeSuccessful {
		t.Fatalf("status = %s", d.Status)
	}
	if points != sc.DisputeWon || d.PointsAwarded != points {
		t.Fatalf("points = %d, want %d", points, sc.DisputeWon)
	}
	if d.ResolvedAt == nil {
		t.Fatalf("expected resolution timestamp")
	}
}

func TestResolveDisputeFailed(t *testing.T) {
	sc := scoring()
	d, points, err := lifecycle.ResolveDispute(pendingDispute(), domain.DisputeFailed, "original ruling stands", sc, now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.DisputeFailed {
		t.Fatalf("status = %s", d.Status)
	}
	if points != sc.DisputeLost {
		t.Fatalf("points = %d, want %d", points, sc.DisputeLost)
	}
}

func TestResolveDisputeUnknownOutcome(t *testing.T) {
	if _, _, err := lifecycle.ResolveDispute(pendingDispute(), "withdrawn", "", scoring(), now); err == nil {
		t.Fatalf("unknown outcome should fail")
	}
}

func TestResolveDisputeSingleUse(t *testing.T) {
	resolved, _, err := lifecycle.ResolveDispute(pendingDispute(), domain.DisputeFailed, "", scoring(), now)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = lifecycle.ResolveDispute(resolved, domain.DisputeSuccessful, "", scoring(), now)
	var te lifecycle.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestResolveMoot(t *testing.T) {
	d, err := lifecycle.ResolveMoot(pendingDispute(), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.DisputeFailed {
		t.Fatalf("status = %s", d.Status)
	}
	if d.PointsAwarded != 0 {
		t.Fatalf("moot resolution must not move points, got %d", d.PointsAwarded)
	}
	if d.ResolvedAt == nil {
		t.Fatalf("expected resolution timestamp")
	}
	if _, err := lifecycle.ResolveMoot(d, now); err == nil {
		t.Fatalf("second resolution should fail")
	}
}
