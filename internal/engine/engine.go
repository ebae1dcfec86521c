package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"bugarena/internal/config"
	"bugarena/internal/domain"
	"bugarena/internal/events"
	"bugarena/internal/lifecycle"
	"bugarena/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// GameCreateOptions are parameters for creating a game. Zero values fall
// back to the loaded config.
type GameCreateOptions struct {
	ID          string
	Artifact    string
	Category    string
	Focus       string
	TargetScore int
	MaxRounds   int
	AgentCount  int
	ActorID     string
}

// CreateGame registers a game in setup with its agent roster and a config
// snapshot, so later config edits cannot change a running game's rules.
func (e Engine) CreateGame(ctx context.Context, opts GameCreateOptions) (domain.Game, error) {
	if e.Config == nil {
		return domain.Game{}, errors.New("config not loaded")
	}
	if opts.Artifact == "" {
		return domain.Game{}, errors.New("artifact is required")
	}
	if opts.TargetScore == 0 {
		opts.TargetScore = e.Config.Game.TargetScore
	}
	if opts.MaxRounds == 0 {
		opts.MaxRounds = e.Config.Game.MaxRounds
	}
	if opts.AgentCount == 0 {
		opts.AgentCount = e.Config.Game.AgentCount
	}
	if opts.TargetScore <= 0 {
		return domain.Game{}, errors.New("target score must be positive")
	}
	if opts.AgentCount <= 0 {
		return domain.Game{}, errors.New("agent count must be positive")
	}
	now := e.timestamp()
	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("%s-%s", slug(opts.Artifact), uuid.NewString()[:8])
	}
	g := domain.Game{
		ID:          id,
		Artifact:    opts.Artifact,
		Category:    opts.Category,
		Focus:       opts.Focus,
		TargetScore: opts.TargetScore,
		MaxRounds:   opts.MaxRounds,
		AgentCount:  opts.AgentCount,
		Phase:       domain.PhaseSetup,
		Round:       0,
		CreatedAt:   now,
	}
	snapshot := *e.Config
	snapshot.Game.TargetScore = opts.TargetScore
	snapshot.Game.MaxRounds = opts.MaxRounds
	snapshot.Game.AgentCount = opts.AgentCount

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Game{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertGame(ctx, tx, g); err != nil {
		return domain.Game{}, fmt.Errorf("insert game: %w", err)
	}
	for i := 1; i <= opts.AgentCount; i++ {
		a := domain.Agent{
			ID:        fmt.Sprintf("%s-agent-%02d", g.ID, i),
			GameID:    g.ID,
			Status:    domain.AgentActive,
			CreatedAt: now,
		}
		if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
			return domain.Game{}, fmt.Errorf("insert agent: %w", err)
		}
	}
	if err := e.Repo.UpsertGameConfigTx(ctx, tx, g.ID, &snapshot); err != nil {
		return domain.Game{}, fmt.Errorf("insert game config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "game.create", g.ID, "game", g.ID, opts.ActorID, events.EventPayload{
		"artifact": g.Artifact, "agents": opts.AgentCount, "target_score": opts.TargetScore,
	}); err != nil {
		return domain.Game{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Game{}, err
	}
	return g, nil
}

// gameConfig loads the per-game snapshot, falling back to the engine config
// for games created before snapshots existed.
func (e Engine) gameConfig(ctx context.Context, gameID string) (*config.Config, error) {
	cfg, err := e.Repo.GetGameConfig(ctx, gameID)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, repo.ErrNotFound) && e.Config != nil {
		return e.Config, nil
	}
	return nil, err
}

// StartHunt moves a setup game into its first hunt round.
func (e Engine) StartHunt(ctx context.Context, gameID, actorID string) (domain.Game, error) {
	cfg, err := e.gameConfig(ctx, gameID)
	if err != nil {
		return domain.Game{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Game{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGameTx(ctx, tx, gameID)
	if err != nil {
		return domain.Game{}, err
	}
	next, err := lifecycle.BeginHunt(g, e.now(), cfg.HuntDuration())
	if err != nil {
		return domain.Game{}, err
	}
	if err := e.Repo.UpdateGamePhase(ctx, tx, next, g.Phase); err != nil {
		return domain.Game{}, err
	}
	if err := e.Events.Append(ctx, tx, "game.hunt_started", g.ID, "game", g.ID, actorID, events.EventPayload{
		"round": next.Round, "ends_at": deref(next.PhaseEndsAt),
	}); err != nil {
		return domain.Game{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Game{}, err
	}
	return next, nil
}

// CheckHunt polls the hunt phase. It advances to hunt_scoring when every
// active agent signaled done or the deadline passed, and reports whether
// it advanced. A premature check commits nothing.
func (e Engine) CheckHunt(ctx context.Context, gameID, actorID string) (domain.Game, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Game{}, false, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGameTx(ctx, tx, gameID)
	if err != nil {
		return domain.Game{}, false, err
	}
	if g.Phase != domain.PhaseHunt {
		return g, false, lifecycle.TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "check hunt"}
	}
	allDone, err := e.Repo.AllAgentsHuntDone(ctx, tx, g.ID, g.Round)
	if err != nil {
		return domain.Game{}, false, err
	}
	next, advanced, err := lifecycle.CheckHunt(g, e.now(), allDone)
	if err != nil || !advanced {
		return g, false, err
	}
	if err := e.Repo.UpdateGamePhase(ctx, tx, next, g.Phase); err != nil {
		return domain.Game{}, false, err
	}
	if err := e.Events.Append(ctx, tx, "game.hunt_scoring", g.ID, "game", g.ID, actorID, events.EventPayload{
		"round": g.Round, "all_agents_done": allDone,
	}); err != nil {
		return domain.Game{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Game{}, false, err
	}
	return next, true, nil
}

// StartReview moves hunt_scoring to review once the round's findings and
// verifications are all settled. An unsettled round reports advanced=false.
func (e Engine) StartReview(ctx context.Context, gameID, actorID string) (domain.Game, bool, error) {
	cfg, err := e.gameConfig(ctx, gameID)
	if err != nil {
		return domain.Game{}, false, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Game{}, false, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGameTx(ctx, tx, gameID)
	if err != nil {
		return domain.Game{}, false, err
	}
	if g.Phase != domain.PhaseHuntScoring {
		return g, false, lifecycle.TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "start review"}
	}
	pendingFindings, err := e.Repo.CountPendingFindings(ctx, tx, g.ID, g.Round)
	if err != nil {
		return domain.Game{}, false, err
	}
	pendingVerifications, err := e.Repo.CountPendingVerifications(ctx, tx, g.ID, g.Round)
	if err != nil {
		return domain.Game{}, false, err
	}
	next, started, err := lifecycle.BeginReview(g, e.now(), cfg.ReviewDuration(), pendingFindings, pendingVerifications)
	if err != nil || !started {
		return g, false, err
	}
	if err := e.Repo.UpdateGamePhase(ctx, tx, next, g.Phase); err != nil {
		return domain.Game{}, false, err
	}
	if err := e.Events.Append(ctx, tx, "game.review_started", g.ID, "game", g.ID, actorID, events.EventPayload{
		"round": g.Round, "ends_at": deref(next.PhaseEndsAt),
	}); err != nil {
		return domain.Game{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Game{}, false, err
	}
	return next, true, nil
}

// CheckReview polls the review phase, symmetric to CheckHunt.
func (e Engine) CheckReview(ctx context.Context, gameID, actorID string) (domain.Game, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Game{}, false, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGameTx(ctx, tx, gameID)
	if err != nil {
		return domain.Game{}, false, err
	}
	if g.Phase != domain.PhaseReview {
		return g, false, lifecycle.TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "check review"}
	}
	allDone, err := e.Repo.AllAgentsReviewDone(ctx, tx, g.ID, g.Round)
	if err != nil {
		return domain.Game{}, false, err
	}
	next, advanced, err := lifecycle.CheckReview(g, e.now(), allDone)
	if err != nil || !advanced {
		return g, false, err
	}
	if err := e.Repo.UpdateGamePhase(ctx, tx, next, g.Phase); err != nil {
		return domain.Game{}, false, err
	}
	if err := e.Events.Append(ctx, tx, "game.review_scoring", g.ID, "game", g.ID, actorID, events.EventPayload{
		"round": g.Round, "all_agents_done": allDone,
	}); err != nil {
		return domain.Game{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Game{}, false, err
	}
	return next, true, nil
}

// FinishRound closes review_scoring. With pending disputes it reports
// advanced=false. Otherwise the game either completes, stamping winner and
// completion time in the same write, or rolls into the next hunt round.
func (e Engine) FinishRound(ctx context.Context, gameID, actorID string) (domain.Game, bool, error) {
	cfg, err := e.gameConfig(ctx, gameID)
	if err != nil {
		return domain.Game{}, false, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Game{}, false, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGameTx(ctx, tx, gameID)
	if err != nil {
		return domain.Game{}, false, err
	}
	if g.Phase != domain.PhaseReviewScoring {
		return g, false, lifecycle.TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "finish round"}
	}
	pendingDisputes, err := e.Repo.CountPendingDisputes(ctx, tx, g.ID, g.Round)
	if err != nil {
		return domain.Game{}, false, err
	}
	agents, err := e.Repo.ListAgentsTx(ctx, tx, g.ID)
	if err != nil {
		return domain.Game{}, false, err
	}
	var standings []lifecycle.Standing
	for _, a := range agents {
		if a.Status == domain.AgentEliminated {
			continue
		}
		standings = append(standings, lifecycle.Standing{AgentID: a.ID, Score: a.Score, ValidFindings: a.FindingsValid})
	}
	next, advanced, err := lifecycle.FinishRound(g, e.now(), cfg.HuntDuration(), pendingDisputes, standings)
	if err != nil || !advanced {
		return g, false, err
	}
	if err := e.Repo.UpdateGamePhase(ctx, tx, next, g.Phase); err != nil {
		return domain.Game{}, false, err
	}
	evtType := "game.round_finished"
	if next.IsTerminal() {
		evtType = "game.complete"
		if next.WinnerID != nil {
			for _, a := range agents {
				if a.ID != *next.WinnerID {
					continue
				}
				a.Status = domain.AgentWinner
				if err := e.Repo.UpdateAgent(ctx, tx, a); err != nil {
					return domain.Game{}, false, err
				}
			}
		}
	}
	if err := e.Events.Append(ctx, tx, evtType, g.ID, "game", g.ID, actorID, events.EventPayload{
		"round": g.Round, "phase": next.Phase, "winner": deref(next.WinnerID),
	}); err != nil {
		return domain.Game{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Game{}, false, err
	}
	return next, true, nil
}

// SignalHuntDone records that an agent finished hunting for the current
// round. Idempotent within a round.
func (e Engine) SignalHuntDone(ctx context.Context, gameID, agentID string) (domain.Agent, error) {
	return e.signalDone(ctx, gameID, agentID, domain.PhaseHunt)
}

// SignalReviewDone records that an agent finished reviewing for the
// current round.
func (e Engine) SignalReviewDone(ctx context.Context, gameID, agentID string) (domain.Agent, error) {
	return e.signalDone(ctx, gameID, agentID, domain.PhaseReview)
}

func (e Engine) signalDone(ctx context.Context, gameID, agentID, phase string) (domain.Agent, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGameTx(ctx, tx, gameID)
	if err != nil {
		return domain.Agent{}, err
	}
	if g.Phase != phase {
		return domain.Agent{}, lifecycle.TransitionError{Entity: "game", ID: g.ID, Current: g.Phase, Requested: "signal done"}
	}
	a, err := e.Repo.GetAgentTx(ctx, tx, agentID)
	if err != nil {
		return domain.Agent{}, err
	}
	if a.GameID != g.ID {
		return domain.Agent{}, fmt.Errorf("agent %s not in game %s", agentID, g.ID)
	}
	if a.Status != domain.AgentActive {
		return domain.Agent{}, lifecycle.TransitionError{Entity: "agent", ID: a.ID, Current: a.Status, Requested: "signal done"}
	}
	evtType := "agent.hunt_done"
	if phase == domain.PhaseHunt {
		a.HuntDoneRound = g.Round
	} else {
		a.ReviewDoneRound = g.Round
		evtType = "agent.review_done"
	}
	ts := e.timestamp()
	a.LastHeartbeat = &ts
	if err := e.Repo.UpdateAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, g.ID, "agent", a.ID, agentID, events.EventPayload{
		"round": g.Round,
	}); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// EliminateAgent removes an agent from play. Its submitted findings keep
// their status; the agent just stops counting for phase gates and winner
// selection.
func (e Engine) EliminateAgent(ctx context.Context, agentID, actorID string) (domain.Agent, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAgentTx(ctx, tx, agentID)
	if err != nil {
		return domain.Agent{}, err
	}
	next, err := lifecycle.EliminateAgent(a)
	if err != nil {
		return domain.Agent{}, err
	}
	if err := e.Repo.UpdateAgent(ctx, tx, next); err != nil {
		return domain.Agent{}, err
	}
	if err := e.Events.Append(ctx, tx, "agent.eliminated", a.GameID, "agent", a.ID, actorID, nil); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return next, nil
}

// Scoreboard returns the game's agents in ranking order.
func (e Engine) Scoreboard(ctx context.Context, gameID string) ([]domain.Agent, error) {
	agents, err := e.Repo.ListAgents(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(agents, func(i, j int) bool {
		if agents[i].Score != agents[j].Score {
			return agents[i].Score > agents[j].Score
		}
		if agents[i].FindingsValid != agents[j].FindingsValid {
			return agents[i].FindingsValid > agents[j].FindingsValid
		}
		return agents[i].ID < agents[j].ID
	})
	return agents, nil
}

// ExportBundle is the full state of one game, suitable for archiving.
type ExportBundle struct {
	Game     domain.Game      `json:"game"`
	Config   *config.Config   `json:"config,omitempty"`
	Agents   []domain.Agent   `json:"agents"`
	Findings []domain.Finding `json:"findings"`
	Disputes []domain.Dispute `json:"disputes"`
	Events   []domain.Event   `json:"events"`
}

// Export collects everything recorded for a game.
func (e Engine) Export(ctx context.Context, gameID string) (ExportBundle, error) {
	g, err := e.Repo.GetGame(ctx, gameID)
	if err != nil {
		return ExportBundle{}, err
	}
	bundle := ExportBundle{Game: g}
	if cfg, err := e.Repo.GetGameConfig(ctx, gameID); err == nil {
		bundle.Config = cfg
	} else if !errors.Is(err, repo.ErrNotFound) {
		return ExportBundle{}, err
	}
	if bundle.Agents, err = e.Repo.ListAgents(ctx, gameID); err != nil {
		return ExportBundle{}, err
	}
	if bundle.Findings, err = e.Repo.ListFindings(ctx, repo.FindingFilters{GameID: gameID}); err != nil {
		return ExportBundle{}, err
	}
	if bundle.Disputes, err = e.Repo.ListDisputes(ctx, repo.DisputeFilters{GameID: gameID}); err != nil {
		return ExportBundle{}, err
	}
	if bundle.Events, err = e.Repo.LatestEvents(ctx, repo.EventFilters{GameID: gameID}); err != nil {
		return ExportBundle{}, err
	}
	return bundle, nil
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
