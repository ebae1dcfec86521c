package repo

import (
	"context"
	"database/sql"

	"bugarena/internal/domain"
)

const agentColumns = `id,game_id,score,findings_submitted,findings_valid,findings_false,findings_duplicate,disputes_won,disputes_lost,hunt_done_round,review_done_round,status,last_heartbeat,created_at`

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var heartbeat sql.NullString
	err := row.Scan(&a.ID, &a.GameID, &a.Score, &a.FindingsSubmitted, &a.FindingsValid, &a.FindingsFalse,
		&a.FindingsDuplicate, &a.DisputesWon, &a.DisputesLost, &a.HuntDoneRound, &a.ReviewDoneRound,
		&a.Status, &heartbeat, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if heartbeat.Valid {
		a.LastHeartbeat = &heartbeat.String
	}
	return a, nil
}

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agents(id,game_id,score,findings_submitted,findings_valid,findings_false,findings_duplicate,disputes_won,disputes_lost,hunt_done_round,review_done_round,status,last_heartbeat,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.GameID, a.Score, a.FindingsSubmitted, a.FindingsValid, a.FindingsFalse, a.FindingsDuplicate,
		a.DisputesWon, a.DisputesLost, a.HuntDoneRound, a.ReviewDoneRound, a.Status, nullableStringPtr(a.LastHeartbeat), a.CreatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return scanAgent(r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

func (r Repo) GetAgentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agent, error) {
	return scanAgent(tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

func (r Repo) ListAgents(ctx context.Context, gameID string) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE game_id=? ORDER BY id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

func (r Repo) ListAgentsTx(ctx context.Context, tx *sql.Tx, gameID string) ([]domain.Agent, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE game_id=? ORDER BY id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

// UpdateAgent writes back all mutable counters. Tallies and score always
// move together with the finding or dispute row that changed them.
func (r Repo) UpdateAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET score=?, findings_submitted=?, findings_valid=?, findings_false=?, findings_duplicate=?, disputes_won=?, disputes_lost=?, hunt_done_round=?, review_done_round=?, status=?, last_heartbeat=? WHERE id=?`,
		a.Score, a.FindingsSubmitted, a.FindingsValid, a.FindingsFalse, a.FindingsDuplicate,
		a.DisputesWon, a.DisputesLost, a.HuntDoneRound, a.ReviewDoneRound, a.Status, nullableStringPtr(a.LastHeartbeat), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AllAgentsDone reports whether every active agent has marked the given
// round done in the named column (hunt_done_round or review_done_round).
func allAgentsDone(ctx context.Context, tx *sql.Tx, gameID, column string, round int) (bool, error) {
	var remaining int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE game_id=? AND status=? AND `+column+` < ?`,
		gameID, domain.AgentActive, round).Scan(&remaining)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

func (r Repo) AllAgentsHuntDone(ctx context.Context, tx *sql.Tx, gameID string, round int) (bool, error) {
	return allAgentsDone(ctx, tx, gameID, "hunt_done_round", round)
}

func (r Repo) AllAgentsReviewDone(ctx context.Context, tx *sql.Tx, gameID string, round int) (bool, error) {
	return allAgentsDone(ctx, tx, gameID, "review_done_round", round)
}
