package repo

import (
	"context"
	"database/sql"
	"strings"

	"bugarena/internal/domain"
)

const disputeColumns = `id,game_id,round,finding_id,agent_id,reason,status,COALESCE(verdict,'') AS verdict,points_awarded,resolved_at,created_at`

func scanDispute(row rowScanner) (domain.Dispute, error) {
	var d domain.Dispute
	var resolvedAt sql.NullString
	err := row.Scan(&d.ID, &d.GameID, &d.Round, &d.FindingID, &d.AgentID, &d.Reason, &d.Status,
		&d.Verdict, &d.PointsAwarded, &resolvedAt, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.String
	}
	return d, nil
}

func (r Repo) InsertDispute(ctx context.Context, tx *sql.Tx, d domain.Dispute) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO disputes(id,game_id,round,finding_id,agent_id,reason,status,verdict,points_awarded,resolved_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.GameID, d.Round, d.FindingID, d.AgentID, d.Reason, d.Status, nullable(d.Verdict),
		d.PointsAwarded, nullableStringPtr(d.ResolvedAt), d.CreatedAt)
	return err
}

func (r Repo) GetDispute(ctx context.Context, id string) (domain.Dispute, error) {
	return scanDispute(r.DB.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id=?`, id))
}

func (r Repo) GetDisputeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Dispute, error) {
	return scanDispute(tx.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id=?`, id))
}

// DisputeExists reports whether an agent already disputed a finding. The
// disputes table also carries a UNIQUE(finding_id, agent_id) constraint;
// the read lets callers return a clean conflict instead of a driver error.
func (r Repo) DisputeExists(ctx context.Context, tx *sql.Tx, findingID, agentID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM disputes WHERE finding_id=? AND agent_id=?`, findingID, agentID).Scan(&n)
	return n > 0, err
}

// UpdateDisputeResolution writes back a resolved dispute, guarded on the
// pending status so a dispute settles exactly once.
func (r Repo) UpdateDisputeResolution(ctx context.Context, tx *sql.Tx, d domain.Dispute) error {
	res, err := tx.ExecContext(ctx, `UPDATE disputes SET status=?, verdict=?, points_awarded=?, resolved_at=? WHERE id=? AND status=?`,
		d.Status, nullable(d.Verdict), d.PointsAwarded, nullableStringPtr(d.ResolvedAt), d.ID, domain.DisputePending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type DisputeFilters struct {
	GameID  string
	Round   int
	AgentID string
	Status  string
}

func (r Repo) ListDisputes(ctx context.Context, f DisputeFilters) ([]domain.Dispute, error) {
	var clauses []string
	var args []any
	if f.GameID != "" {
		clauses = append(clauses, "game_id=?")
		args = append(args, f.GameID)
	}
	if f.Round > 0 {
		clauses = append(clauses, "round=?")
		args = append(args, f.Round)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

func (r Repo) CountPendingDisputes(ctx context.Context, tx *sql.Tx, gameID string, round int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM disputes WHERE game_id=? AND round=? AND status=?`,
		gameID, round, domain.DisputePending).Scan(&n)
	return n, err
}
