package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bugarena/internal/config"
	"bugarena/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const gameColumns = `id,artifact,COALESCE(category,'') AS category,COALESCE(focus,'') AS focus,target_score,max_rounds,agent_count,phase,round,phase_ends_at,winner_id,completed_at,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (domain.Game, error) {
	var g domain.Game
	var phaseEndsAt, winnerID, completedAt sql.NullString
	err := row.Scan(&g.ID, &g.Artifact, &g.Category, &g.Focus, &g.TargetScore, &g.MaxRounds,
		&g.AgentCount, &g.Phase, &g.Round, &phaseEndsAt, &winnerID, &completedAt, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if phaseEndsAt.Valid {
		g.PhaseEndsAt = &phaseEndsAt.String
	}
	if winnerID.Valid {
		g.WinnerID = &winnerID.String
	}
	if completedAt.Valid {
		g.CompletedAt = &completedAt.String
	}
	return g, nil
}

func (r Repo) InsertGame(ctx context.Context, tx *sql.Tx, g domain.Game) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO games(id,artifact,category,focus,target_score,max_rounds,agent_count,phase,round,phase_ends_at,winner_id,completed_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Artifact, nullable(g.Category), nullable(g.Focus), g.TargetScore, g.MaxRounds, g.AgentCount,
		g.Phase, g.Round, nullableStringPtr(g.PhaseEndsAt), nullableStringPtr(g.WinnerID), nullableStringPtr(g.CompletedAt), g.CreatedAt)
	return err
}

func (r Repo) GetGame(ctx context.Context, id string) (domain.Game, error) {
	return scanGame(r.DB.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id=?`, id))
}

func (r Repo) GetGameTx(ctx context.Context, tx *sql.Tx, id string) (domain.Game, error) {
	return scanGame(tx.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id=?`, id))
}

// SingleGame resolves the implicit game for commands that omit --game.
func (r Repo) SingleGame(ctx context.Context) (domain.Game, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+gameColumns+` FROM games ORDER BY created_at DESC`)
	if err != nil {
		return domain.Game{}, err
	}
	defer rows.Close()
	var games []domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return domain.Game{}, err
		}
		games = append(games, g)
	}
	if len(games) == 0 {
		return domain.Game{}, ErrNotFound
	}
	if len(games) > 1 {
		return domain.Game{}, errors.New("multiple games exist; specify --game")
	}
	return games[0], nil
}

func (r Repo) ListGames(ctx context.Context) ([]domain.Game, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+gameColumns+` FROM games ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, nil
}

// UpdateGamePhase replaces the full phase block of a game, guarded by the
// phase the caller read. A stale read loses the race and gets ErrNotFound.
func (r Repo) UpdateGamePhase(ctx context.Context, tx *sql.Tx, g domain.Game, fromPhase string) error {
	res, err := tx.ExecContext(ctx, `UPDATE games SET phase=?, round=?, phase_ends_at=?, winner_id=?, completed_at=? WHERE id=? AND phase=?`,
		g.Phase, g.Round, nullableStringPtr(g.PhaseEndsAt), nullableStringPtr(g.WinnerID), nullableStringPtr(g.CompletedAt), g.ID, fromPhase)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteGame(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM games WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertGameConfig(ctx context.Context, gameID string, cfg *config.Config) error {
	return upsertGameConfig(ctx, r.DB, nil, gameID, cfg)
}

func (r Repo) UpsertGameConfigTx(ctx context.Context, tx *sql.Tx, gameID string, cfg *config.Config) error {
	return upsertGameConfig(ctx, nil, tx, gameID, cfg)
}

func upsertGameConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, gameID string, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO game_configs(game_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(game_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, gameID, string(payload), now, now)
	return err
}

func (r Repo) GetGameConfig(ctx context.Context, gameID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM game_configs WHERE game_id=?`, gameID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

type EventFilters struct {
	GameID string
	Type   string
	Limit  int
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if f.GameID != "" {
		clauses = append(clauses, "game_id=?")
		args = append(args, f.GameID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	query := `SELECT id,ts,type,COALESCE(game_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.GameID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
