package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bugarena/internal/config"
	"bugarena/internal/db"
	"bugarena/internal/domain"
	"bugarena/internal/engine"
	"bugarena/internal/lifecycle"
	"bugarena/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Game   domain.Game
	Agents []domain.Agent
}

func newTestEnv(t *testing.T, agentCount, targetScore int) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	g, err := eng.CreateGame(ctx, engine.GameCreateOptions{
		Artifact:    "payments-svc",
		Category:    "backend",
		TargetScore: targetScore,
		AgentCount:  agentCount,
		ActorID:     "orchestrator",
	})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	agents, err := eng.Repo.ListAgents(ctx, g.ID)
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != agentCount {
		t.Fatalf("agents = %d, want %d", len(agents), agentCount)
	}
	return testEnv{Engine: eng, Ctx: ctx, Game: g, Agents: agents}
}

func (env *testEnv) startHunt(t *testing.T) {
	t.Helper()
	g, err := env.Engine.StartHunt(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil {
		t.Fatalf("start hunt: %v", err)
	}
	env.Game = g
}

func (env *testEnv) submit(t *testing.T, agentID, desc, file string, start, end int) domain.Finding {
	t.Helper()
	f, err := env.Engine.SubmitFinding(env.Ctx, engine.FindingSubmitOptions{
		GameID:      env.Game.ID,
		AgentID:     agentID,
		Description: desc,
		FilePath:    file,
		LineStart:   start,
		LineEnd:     end,
	})
	if err != nil {
		t.Fatalf("submit finding: %v", err)
	}
	return f
}

// allHuntDone signals hunt done for every agent and advances to hunt scoring.
func (env *testEnv) allHuntDone(t *testing.T) {
	t.Helper()
	for _, a := range env.Agents {
		if a.Status != domain.AgentActive {
			continue
		}
		if _, err := env.Engine.SignalHuntDone(env.Ctx, env.Game.ID, a.ID); err != nil {
			t.Fatalf("signal hunt done %s: %v", a.ID, err)
		}
	}
	g, advanced, err := env.Engine.CheckHunt(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil || !advanced {
		t.Fatalf("check hunt: advanced=%v err=%v", advanced, err)
	}
	env.Game = g
}

func (env *testEnv) startReview(t *testing.T) {
	t.Helper()
	g, started, err := env.Engine.StartReview(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil || !started {
		t.Fatalf("start review: started=%v err=%v", started, err)
	}
	env.Game = g
}

func (env *testEnv) allReviewDone(t *testing.T) {
	t.Helper()
	for _, a := range env.Agents {
		if a.Status != domain.AgentActive {
			continue
		}
		if _, err := env.Engine.SignalReviewDone(env.Ctx, env.Game.ID, a.ID); err != nil {
			t.Fatalf("signal review done %s: %v", a.ID, err)
		}
	}
	g, advanced, err := env.Engine.CheckReview(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil || !advanced {
		t.Fatalf("check review: advanced=%v err=%v", advanced, err)
	}
	env.Game = g
}

func TestGameRunsToCompletion(t *testing.T) {
	env := newTestEnv(t, 2, 10)
	a := env.Agents[0]

	env.startHunt(t)
	if env.Game.Round != 1 || env.Game.Phase != domain.PhaseHunt {
		t.Fatalf("phase=%s round=%d", env.Game.Phase, env.Game.Round)
	}
	f := env.submit(t, a.ID, "nil pointer dereference when the retry queue drains", "billing/retry.go", 42, 45)
	if !f.IsPending() {
		t.Fatalf("fresh finding status = %s", f.Status)
	}
	env.allHuntDone(t)

	validated, err := env.Engine.ValidateFinding(env.Ctx, f.ID, lifecycle.ValidateOptions{
		Verdict: "confirmed", Confidence: "high",
	}, "adjudicator")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.PointsAwarded != 10 {
		t.Fatalf("points = %d", validated.PointsAwarded)
	}

	env.startReview(t)
	env.allReviewDone(t)

	g, advanced, err := env.Engine.FinishRound(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil || !advanced {
		t.Fatalf("finish round: advanced=%v err=%v", advanced, err)
	}
	if !g.IsTerminal() {
		t.Fatalf("phase = %s", g.Phase)
	}
	if g.WinnerID == nil || g.CompletedAt == nil {
		t.Fatalf("winner and completion must be stamped together")
	}
	if *g.WinnerID != a.ID {
		t.Fatalf("winner = %s, want %s", *g.WinnerID, a.ID)
	}
	winner, err := env.Engine.Repo.GetAgent(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if winner.Status != domain.AgentWinner || winner.Score != 10 {
		t.Fatalf("winner status=%s score=%d", winner.Status, winner.Score)
	}

	// no further transitions on a completed game
	if _, _, err := env.Engine.FinishRound(env.Ctx, env.Game.ID, "orchestrator"); err == nil {
		t.Fatalf("completed game accepts no transitions")
	}
}

func TestExactDuplicateShortCircuit(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	a, b := env.Agents[0], env.Agents[1]
	env.startHunt(t)

	first := env.submit(t, a.ID, "null pointer crash in session handler", "auth/session.ts", 42, 45)
	// shifted lines in the same bucket, same terms reordered and recased
	second := env.submit(t, b.ID, "Crash from NULL pointer in the session handler", "auth/session.ts", 43, 46)

	if !second.IsDuplicate() {
		t.Fatalf("second status = %s", second.Status)
	}
	if second.DuplicateOf == nil || *second.DuplicateOf != first.ID {
		t.Fatalf("duplicate_of = %v", second.DuplicateOf)
	}
	submitter, err := env.Engine.Repo.GetAgent(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if submitter.Score != -5 || submitter.FindingsDuplicate != 1 {
		t.Fatalf("score=%d duplicates=%d", submitter.Score, submitter.FindingsDuplicate)
	}

	// distant location with a different description is a fresh finding
	third := env.submit(t, b.ID, "integer overflow computing invoice totals", "auth/session.ts", 400, 410)
	if !third.IsPending() {
		t.Fatalf("third status = %s", third.Status)
	}
}

func TestDuplicateCandidatesRanking(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	a, b := env.Agents[0], env.Agents[1]
	env.startHunt(t)

	ref := env.submit(t, a.ID, "race condition updating the session cache", "auth/cache.go", 100, 110)
	near := env.submit(t, b.ID, "session cache race when updating concurrently", "auth/cache.go", 105, 112)
	far := env.submit(t, b.ID, "typo in log message", "auth/cache.go", 900, 900)

	candidates, err := env.Engine.DuplicateCandidates(env.Ctx, ref.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) == 0 {
		t.Fatalf("expected at least the overlapping finding")
	}
	if candidates[0].Finding.ID != near.ID {
		t.Fatalf("top candidate = %s, want %s", candidates[0].Finding.ID, near.ID)
	}
	if candidates[0].Similarity <= 0.5 {
		t.Fatalf("overlapping similar finding scored %f", candidates[0].Similarity)
	}
	for _, c := range candidates {
		if c.Finding.ID == far.ID && c.Similarity > 0.5 {
			t.Fatalf("distant unrelated finding scored %f", c.Similarity)
		}
	}
}

func TestPrematureCheckIsNoop(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	env.startHunt(t)

	g, advanced, err := env.Engine.CheckHunt(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil {
		t.Fatalf("premature check must not error: %v", err)
	}
	if advanced || g.Phase != domain.PhaseHunt {
		t.Fatalf("advanced=%v phase=%s", advanced, g.Phase)
	}
}

func TestStartReviewGatedOnPendingFindings(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	a := env.Agents[0]
	env.startHunt(t)
	f := env.submit(t, a.ID, "unchecked error on flush", "store/wal.go", 10, 12)
	env.allHuntDone(t)

	_, started, err := env.Engine.StartReview(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil {
		t.Fatal(err)
	}
	if started {
		t.Fatalf("pending finding must block review")
	}
	if _, err := env.Engine.MarkFalseFlag(env.Ctx, f.ID, "intended behavior", "flush errors handled upstream", "adjudicator"); err != nil {
		t.Fatal(err)
	}
	_, started, err = env.Engine.StartReview(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil || !started {
		t.Fatalf("started=%v err=%v", started, err)
	}
}

func TestSubmitOutsideHuntRejected(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	_, err := env.Engine.SubmitFinding(env.Ctx, engine.FindingSubmitOptions{
		GameID:      env.Game.ID,
		AgentID:     env.Agents[0].ID,
		Description: "too early",
		FilePath:    "main.go",
		LineStart:   1,
		LineEnd:     1,
	})
	var te lifecycle.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestAdjudicationOutsideScoringRejected(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	env.startHunt(t)
	f := env.submit(t, env.Agents[0].ID, "off by one in pagination", "api/list.go", 30, 31)

	_, err := env.Engine.ValidateFinding(env.Ctx, f.ID, lifecycle.ValidateOptions{}, "adjudicator")
	var te lifecycle.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

// runs a round up to review with one validated finding from agents[0]
func reviewWithValidFinding(t *testing.T, env *testEnv) domain.Finding {
	t.Helper()
	env.startHunt(t)
	f := env.submit(t, env.Agents[0].ID, "use after free in connection pool", "net/pool.go", 77, 82)
	env.allHuntDone(t)
	validated, err := env.Engine.ValidateFinding(env.Ctx, f.ID, lifecycle.ValidateOptions{Verdict: "confirmed"}, "adjudicator")
	if err != nil {
		t.Fatal(err)
	}
	env.startReview(t)
	return validated
}

func TestDisputeSuccessRevertsFinding(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	a, b := env.Agents[0], env.Agents[1]
	f := reviewWithValidFinding(t, &env)

	d, err := env.Engine.SubmitDispute(env.Ctx, engine.DisputeSubmitOptions{
		FindingID: f.ID, AgentID: b.ID, Reason: "the pool pins the connection before reuse",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.allReviewDone(t)

	// pending dispute blocks the round
	_, advanced, err := env.Engine.FinishRound(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil {
		t.Fatal(err)
	}
	if advanced {
		t.Fatalf("pending dispute must block round finish")
	}

	resolved, err := env.Engine.ResolveDispute(env.Ctx, d.ID, domain.DisputeSuccessful, "disputer is right", "adjudicator")
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != domain.DisputeSuccessful || resolved.PointsAwarded != 3 {
		t.Fatalf("status=%s points=%d", resolved.Status, resolved.PointsAwarded)
	}

	reverted, err := env.Engine.Repo.GetFinding(env.Ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reverted.IsFalseFlag() {
		t.Fatalf("finding status = %s", reverted.Status)
	}
	submitter, _ := env.Engine.Repo.GetAgent(env.Ctx, a.ID)
	if submitter.Score != -2 || submitter.FindingsValid != 0 || submitter.FindingsFalse != 1 {
		t.Fatalf("submitter score=%d valid=%d false=%d", submitter.Score, submitter.FindingsValid, submitter.FindingsFalse)
	}
	disputer, _ := env.Engine.Repo.GetAgent(env.Ctx, b.ID)
	if disputer.Score != 3 || disputer.DisputesWon != 1 {
		t.Fatalf("disputer score=%d won=%d", disputer.Score, disputer.DisputesWon)
	}
}

func TestDisputeFailedCostsDisputer(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	b := env.Agents[1]
	f := reviewWithValidFinding(t, &env)

	d, err := env.Engine.SubmitDispute(env.Ctx, engine.DisputeSubmitOptions{
		FindingID: f.ID, AgentID: b.ID, Reason: "looks fine to me",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.allReviewDone(t)
	if _, err := env.Engine.ResolveDispute(env.Ctx, d.ID, domain.DisputeFailed, "original ruling stands", "adjudicator"); err != nil {
		t.Fatal(err)
	}
	disputer, _ := env.Engine.Repo.GetAgent(env.Ctx, b.ID)
	if disputer.Score != -2 || disputer.DisputesLost != 1 {
		t.Fatalf("disputer score=%d lost=%d", disputer.Score, disputer.DisputesLost)
	}
	still, _ := env.Engine.Repo.GetFinding(env.Ctx, f.ID)
	if !still.IsValid() {
		t.Fatalf("failed dispute must not touch the finding, status = %s", still.Status)
	}
}

func TestSecondDisputeOnRevertedFindingIsMoot(t *testing.T) {
	env := newTestEnv(t, 3, 50)
	b, c := env.Agents[1], env.Agents[2]
	f := reviewWithValidFinding(t, &env)

	d1, err := env.Engine.SubmitDispute(env.Ctx, engine.DisputeSubmitOptions{FindingID: f.ID, AgentID: b.ID, Reason: "guard two lines above"})
	if err != nil {
		t.Fatal(err)
	}
	d2, err := env.Engine.SubmitDispute(env.Ctx, engine.DisputeSubmitOptions{FindingID: f.ID, AgentID: c.ID, Reason: "same objection"})
	if err != nil {
		t.Fatal(err)
	}
	env.allReviewDone(t)
	if _, err := env.Engine.ResolveDispute(env.Ctx, d1.ID, domain.DisputeSuccessful, "upheld", "adjudicator"); err != nil {
		t.Fatal(err)
	}
	moot, err := env.Engine.ResolveDispute(env.Ctx, d2.ID, domain.DisputeSuccessful, "upheld", "adjudicator")
	if err != nil {
		t.Fatal(err)
	}
	if moot.Status != domain.DisputeFailed || moot.PointsAwarded != 0 {
		t.Fatalf("moot dispute status=%s points=%d", moot.Status, moot.PointsAwarded)
	}
	// the finding reverted exactly once
	submitter, _ := env.Engine.Repo.GetAgent(env.Ctx, env.Agents[0].ID)
	if submitter.Score != -2 {
		t.Fatalf("submitter score = %d", submitter.Score)
	}
}

func TestDisputeGuards(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	a, b := env.Agents[0], env.Agents[1]
	f := reviewWithValidFinding(t, &env)

	if _, err := env.Engine.SubmitDispute(env.Ctx, engine.DisputeSubmitOptions{FindingID: f.ID, AgentID: a.ID, Reason: "my own"}); !errors.Is(err, engine.ErrSelfDispute) {
		t.Fatalf("self dispute: %v", err)
	}
	if _, err := env.Engine.SubmitDispute(env.Ctx, engine.DisputeSubmitOptions{FindingID: f.ID, AgentID: b.ID, Reason: "first"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitDispute(env.Ctx, engine.DisputeSubmitOptions{FindingID: f.ID, AgentID: b.ID, Reason: "second"}); !errors.Is(err, engine.ErrDisputeExists) {
		t.Fatalf("repeat dispute: %v", err)
	}
}

func TestVerificationGatesReview(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	a := env.Agents[0]
	env.startHunt(t)
	f := env.submit(t, a.ID, "possible deadlock between flush and compaction", "store/compact.go", 200, 240)
	env.allHuntDone(t)

	if _, err := env.Engine.ValidateFinding(env.Ctx, f.ID, lifecycle.ValidateOptions{
		Verdict: "plausible", NeedsVerification: true,
	}, "adjudicator"); err != nil {
		t.Fatal(err)
	}
	_, started, err := env.Engine.StartReview(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil {
		t.Fatal(err)
	}
	if started {
		t.Fatalf("pending verification must block review")
	}
	if _, err := env.Engine.RejectVerification(env.Ctx, f.ID, "could not reproduce under load", "verifier"); err != nil {
		t.Fatal(err)
	}
	downgraded, _ := env.Engine.Repo.GetFinding(env.Ctx, f.ID)
	if !downgraded.IsFalseFlag() {
		t.Fatalf("finding status = %s", downgraded.Status)
	}
	submitter, _ := env.Engine.Repo.GetAgent(env.Ctx, a.ID)
	if submitter.Score != -2 {
		t.Fatalf("score after rejected verification = %d", submitter.Score)
	}
	_, started, err = env.Engine.StartReview(env.Ctx, env.Game.ID, "orchestrator")
	if err != nil || !started {
		t.Fatalf("started=%v err=%v", started, err)
	}
}

func TestEliminatedAgentDoesNotGatePhases(t *testing.T) {
	env := newTestEnv(t, 3, 50)
	env.startHunt(t)
	gone, err := env.Engine.EliminateAgent(env.Ctx, env.Agents[2].ID, "orchestrator")
	if err != nil {
		t.Fatal(err)
	}
	if gone.Status != domain.AgentEliminated {
		t.Fatalf("status = %s", gone.Status)
	}
	env.Agents[2] = gone
	// only the two remaining agents need to signal
	env.allHuntDone(t)
	if env.Game.Phase != domain.PhaseHuntScoring {
		t.Fatalf("phase = %s", env.Game.Phase)
	}
}

func TestScoreboardOrdering(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	a, b := env.Agents[0], env.Agents[1]
	env.startHunt(t)
	fa := env.submit(t, a.ID, "sql injection via order parameter", "api/orders.go", 15, 18)
	fb := env.submit(t, b.ID, "missing auth check on admin route", "api/admin.go", 50, 55)
	env.allHuntDone(t)
	if _, err := env.Engine.ValidateFinding(env.Ctx, fa.ID, lifecycle.ValidateOptions{Verdict: "confirmed"}, "adjudicator"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.MarkFalseFlag(env.Ctx, fb.ID, "route is gated by middleware", "", "adjudicator"); err != nil {
		t.Fatal(err)
	}
	board, err := env.Engine.Scoreboard(env.Ctx, env.Game.ID)
	if err != nil {
		t.Fatal(err)
	}
	if board[0].ID != a.ID || board[1].ID != b.ID {
		t.Fatalf("order = %s, %s", board[0].ID, board[1].ID)
	}
	if board[0].Score != 10 || board[1].Score != -2 {
		t.Fatalf("scores = %d, %d", board[0].Score, board[1].Score)
	}
}

func TestExportBundle(t *testing.T) {
	env := newTestEnv(t, 2, 50)
	env.startHunt(t)
	env.submit(t, env.Agents[0].ID, "leak in ticker teardown", "worker/loop.go", 12, 20)

	bundle, err := env.Engine.Export(env.Ctx, env.Game.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bundle.Game.ID != env.Game.ID {
		t.Fatalf("game = %s", bundle.Game.ID)
	}
	if len(bundle.Agents) != 2 || len(bundle.Findings) != 1 {
		t.Fatalf("agents=%d findings=%d", len(bundle.Agents), len(bundle.Findings))
	}
	if bundle.Config == nil || bundle.Config.Game.TargetScore != 50 {
		t.Fatalf("config snapshot missing")
	}
	if len(bundle.Events) == 0 {
		t.Fatalf("expected events in export")
	}
}
