package repo

import (
	"context"
	"database/sql"
	"strings"

	"bugarena/internal/domain"
)

const findingColumns = `id,game_id,round,agent_id,description,file_path,line_start,line_end,COALESCE(code_excerpt,'') AS code_excerpt,pattern_hash,status,duplicate_of,COALESCE(verdict,'') AS verdict,COALESCE(confidence,'') AS confidence,confidence_score,COALESCE(issue_type,'') AS issue_type,COALESCE(impact_tier,'') AS impact_tier,COALESCE(rejection_reason,'') AS rejection_reason,points_awarded,verification_status,COALESCE(verification_comment,'') AS verification_comment,submitted_at,validated_at`

func scanFinding(row rowScanner) (domain.Finding, error) {
	var f domain.Finding
	var duplicateOf, validatedAt sql.NullString
	err := row.Scan(&f.ID, &f.GameID, &f.Round, &f.AgentID, &f.Description, &f.FilePath, &f.LineStart, &f.LineEnd,
		&f.CodeExcerpt, &f.PatternHash, &f.Status, &duplicateOf, &f.Verdict, &f.Confidence, &f.ConfidenceScore,
		&f.IssueType, &f.ImpactTier, &f.RejectionReason, &f.PointsAwarded, &f.VerificationStatus,
		&f.VerificationComment, &f.SubmittedAt, &validatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	if duplicateOf.Valid {
		f.DuplicateOf = &duplicateOf.String
	}
	if validatedAt.Valid {
		f.ValidatedAt = &validatedAt.String
	}
	return f, nil
}

func (r Repo) InsertFinding(ctx context.Context, tx *sql.Tx, f domain.Finding) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO findings(id,game_id,round,agent_id,description,file_path,line_start,line_end,code_excerpt,pattern_hash,status,duplicate_of,verdict,confidence,confidence_score,issue_type,impact_tier,rejection_reason,points_awarded,verification_status,verification_comment,submitted_at,validated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.GameID, f.Round, f.AgentID, f.Description, f.FilePath, f.LineStart, f.LineEnd,
		nullable(f.CodeExcerpt), f.PatternHash, f.Status, nullableStringPtr(f.DuplicateOf), nullable(f.Verdict),
		nullable(f.Confidence), f.ConfidenceScore, nullable(f.IssueType), nullable(f.ImpactTier),
		nullable(f.RejectionReason), f.PointsAwarded, f.VerificationStatus, nullable(f.VerificationComment),
		f.SubmittedAt, nullableStringPtr(f.ValidatedAt))
	return err
}

func (r Repo) GetFinding(ctx context.Context, id string) (domain.Finding, error) {
	return scanFinding(r.DB.QueryRowContext(ctx, `SELECT `+findingColumns+` FROM findings WHERE id=?`, id))
}

func (r Repo) GetFindingTx(ctx context.Context, tx *sql.Tx, id string) (domain.Finding, error) {
	return scanFinding(tx.QueryRowContext(ctx, `SELECT `+findingColumns+` FROM findings WHERE id=?`, id))
}

// UpdateFindingAdjudication writes back a finding after a lifecycle
// transition, guarded by the status the transition started from. Losing
// the guard means another adjudicator got there first.
func (r Repo) UpdateFindingAdjudication(ctx context.Context, tx *sql.Tx, f domain.Finding, fromStatus string) error {
	res, err := tx.ExecContext(ctx, `UPDATE findings SET status=?, duplicate_of=?, verdict=?, confidence=?, confidence_score=?, issue_type=?, impact_tier=?, rejection_reason=?, points_awarded=?, verification_status=?, verification_comment=?, validated_at=? WHERE id=? AND status=?`,
		f.Status, nullableStringPtr(f.DuplicateOf), nullable(f.Verdict), nullable(f.Confidence), f.ConfidenceScore,
		nullable(f.IssueType), nullable(f.ImpactTier), nullable(f.RejectionReason), f.PointsAwarded,
		f.VerificationStatus, nullable(f.VerificationComment), nullableStringPtr(f.ValidatedAt), f.ID, fromStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type FindingFilters struct {
	GameID  string
	Round   int
	AgentID string
	Status  string
	Limit   int
}

func (r Repo) ListFindings(ctx context.Context, f FindingFilters) ([]domain.Finding, error) {
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
	query := `SELECT ` + findingColumns + ` FROM findings`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY submitted_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Finding
	for rows.Next() {
		fi, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, fi)
	}
	return res, nil
}

// FindByPatternHash returns the oldest live finding sharing a pattern hash.
// Only pending and valid findings can anchor a duplicate; duplicates of
// duplicates chain to the original instead.
func (r Repo) FindByPatternHash(ctx context.Context, tx *sql.Tx, gameID, hash string) (domain.Finding, error) {
	return scanFinding(tx.QueryRowContext(ctx, `SELECT `+findingColumns+` FROM findings WHERE game_id=? AND pattern_hash=? AND status IN (?,?) ORDER BY submitted_at ASC, id ASC LIMIT 1`,
		gameID, hash, domain.FindingPending, domain.FindingValid))
}

// ListFileCandidates returns live findings in the same file, the pool a
// similarity pass ranks against.
func (r Repo) ListFileCandidates(ctx context.Context, gameID, filePath, excludeID string) ([]domain.Finding, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+findingColumns+` FROM findings WHERE game_id=? AND file_path=? AND id<>? AND status IN (?,?) ORDER BY submitted_at ASC, id ASC`,
		gameID, filePath, excludeID, domain.FindingPending, domain.FindingValid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, nil
}

func (r Repo) CountPendingFindings(ctx context.Context, tx *sql.Tx, gameID string, round int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM findings WHERE game_id=? AND round=? AND status=?`,
		gameID, round, domain.FindingPending).Scan(&n)
	return n, err
}

func (r Repo) CountPendingVerifications(ctx context.Context, tx *sql.Tx, gameID string, round int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM findings WHERE game_id=? AND round=? AND verification_status=?`,
		gameID, round, domain.VerificationPending).Scan(&n)
	return n, err
}
