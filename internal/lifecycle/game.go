package lifecycle

import (
	"sort"
	"time"

	"bugarena/internal/domain"
)

// Standing is one agent's position for winner evaluation.
type Standing struct {
	AgentID       string
	Score         int
	ValidFindings int
}

// BeginHunt starts the first hunt phase of a game in setup.
func BeginHunt(g domain.Game, now time.Time, huntDuration time.Duration) (domain.Game, error) {
	if g.Phase != domain.PhaseSetup {
		return g, TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "start hunt"}
	}
	g.Phase = domain.PhaseHunt
	g.Round = 1
	g.PhaseEndsAt = deadline(now, huntDuration)
	return g, nil
}

// CheckHunt advances hunt to hunt_scoring once every active agent has
// signaled done for the round or the deadline has elapsed. A premature
// check is a no-op, not an error: external callers poll.
func CheckHunt(g domain.Game, now time.Time, allAgentsDone bool) (domain.Game, bool, error) {
	if g.Phase != domain.PhaseHunt {
		return g, false, TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "check hunt"}
	}
	if !allAgentsDone && !deadlineElapsed(g, now) {
		return g, false, nil
	}
	g.Phase = domain.PhaseHuntScoring
	g.PhaseEndsAt = nil
	return g, true, nil
}

// BeginReview advances hunt_scoring to review once every pending finding
// and pending verification for the round has been resolved.
func BeginReview(g domain.Game, now time.Time, reviewDuration time.Duration, pendingFindings, pendingVerifications int) (domain.Game, bool, error) {
	if g.Phase != domain.PhaseHuntScoring {
		return g, false, TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "start review"}
	}
	if pendingFindings > 0 || pendingVerifications > 0 {
		return g, false, nil
	}
	g.Phase = domain.PhaseReview
	g.PhaseEndsAt = deadline(now, reviewDuration)
	return g, true, nil
}

// CheckReview advances review to review_scoring, symmetric to CheckHunt.
func CheckReview(g domain.Game, now time.Time, allAgentsDone bool) (domain.Game, bool, error) {
	if g.Phase != domain.PhaseReview {
		return g, false, TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "check review"}
	}
	if !allAgentsDone && !deadlineElapsed(g, now) {
		return g, false, nil
	}
	g.Phase = domain.PhaseReviewScoring
	g.PhaseEndsAt = nil
	return g, true, nil
}

// FinishRound closes review_scoring once all the round's disputes are
// resolved. If any agent reached the target score, or the round cap is hit,
// the game completes and the winner is stamped; otherwise the round
// increments and the next hunt begins.
func FinishRound(g domain.Game, now time.Time, huntDuration time.Duration, pendingDisputes int, standings []Standing) (domain.Game, bool, error) {
	if g.Phase != domain.PhaseReviewScoring {
		return g, false, TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "finish round"}
	}
	if pendingDisputes > 0 {
		return g, false, nil
	}
	if shouldComplete(g, standings) {
		winner := PickWinner(standings)
		g.Phase = domain.PhaseComplete
		g.PhaseEndsAt = nil
		ts := now.UTC().Format(time.RFC3339)
		g.CompletedAt = &ts
		if winner.AgentID != "" {
			id := winner.AgentID
			g.WinnerID = &id
		}
		return g, true, nil
	}
	g.Round++
	g.Phase = domain.PhaseHunt
	g.PhaseEndsAt = deadline(now, huntDuration)
	return g, true, nil
}

func shouldComplete(g domain.Game, standings []Standing) bool {
	if g.MaxRounds > 0 && g.Round >= g.MaxRounds {
		return true
	}
	for _, s := range standings {
		if s.Score >= g.TargetScore {
			return true
		}
	}
	return false
}

// PickWinner ranks standings by score, then valid-finding count, then
// lexical agent id, and returns the leader.
func PickWinner(standings []Standing) Standing {
	if len(standings) == 0 {
		return Standing{}
	}
	ranked := append([]Standing{}, standings...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].ValidFindings != ranked[j].ValidFindings {
			return ranked[i].ValidFindings > ranked[j].ValidFindings
		}
		return ranked[i].AgentID < ranked[j].AgentID
	})
	return ranked[0]
}

// EliminateAgent marks an active agent eliminated.
func EliminateAgent(a domain.Agent) (domain.Agent, error) {
	if a.Status != domain.AgentActive {
		return a, TransitionError{Entity: "agent", ID: a.ID, Current: a.Status, Requested: "eliminate"}
	}
	a.Status = domain.AgentEliminated
	return a, nil
}

func deadline(now time.Time, d time.Duration) *string {
	ts := now.Add(d).UTC().Format(time.RFC3339)
	return &ts
}

func deadlineElapsed(g domain.Game, now time.Time) bool {
	if g.PhaseEndsAt == nil {
		return false
	}
	ends, err := time.Parse(time.RFC3339, *g.PhaseEndsAt)
	if err != nil {
		return false
	}
	return !now.Before(ends)
}
