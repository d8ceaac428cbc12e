package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qzman/qzman/internal/domain"
)

// PostgresStore keeps the ledger in a score_log table. Appends rely on the
// table being insert-only; totals are always recomputed with SUM so no
// denormalized counter can drift.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, e domain.ScoreEntry) (int64, error) {
	const stmt = `
WITH inserted AS (
	INSERT INTO score_log (entry_id, quiz_id, team_id, round_id, question_id, points, reason, awarded_by, create_time)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
)
SELECT COALESCE(SUM(points), 0) AS total FROM score_log WHERE quiz_id = $2 AND team_id = $3;`

	var prior int64
	err := s.db.QueryRow(ctx, stmt,
		e.EntryID, e.QuizID, e.TeamID,
		nullable(e.RoundID), nullable(e.QuestionID),
		e.Points, e.Reason, e.AwardedBy, e.CreateTime,
	).Scan(&prior)
	if err != nil {
		return 0, err
	}

	// The CTE's insert is not visible to the SELECT in the same statement,
	// so the sum is the total before this entry.
	return prior + e.Points, nil
}

func (s *PostgresStore) Total(ctx context.Context, quizID, teamID string, asOf time.Time) (int64, error) {
	const stmt = `
SELECT COALESCE(SUM(points), 0) AS total
FROM score_log
WHERE quiz_id = $1 AND team_id = $2 AND ($3::timestamptz IS NULL OR create_time <= $3);`

	var bound *time.Time
	if !asOf.IsZero() {
		bound = &asOf
	}

	var total int64
	if err := s.db.QueryRow(ctx, stmt, quizID, teamID, bound).Scan(&total); err != nil {
		return 0, err
	}

	return total, nil
}

func (s *PostgresStore) List(ctx context.Context, quizID, teamID string) ([]domain.ScoreEntry, error) {
	const stmt = `
SELECT entry_id, quiz_id, team_id, COALESCE(round_id, ''), COALESCE(question_id, ''), points, reason, awarded_by, create_time
FROM score_log
WHERE quiz_id = $1 AND ($2 = '' OR team_id = $2)
ORDER BY create_time, entry_id;`

	rows, err := s.db.Query(ctx, stmt, quizID, teamID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ScoreEntry, error) {
		var e domain.ScoreEntry
		err := r.Scan(&e.EntryID, &e.QuizID, &e.TeamID, &e.RoundID, &e.QuestionID, &e.Points, &e.Reason, &e.AwardedBy, &e.CreateTime)
		return e, err
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
