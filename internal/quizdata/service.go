package quizdata

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qzman/qzman/internal/domain"
	"github.com/qzman/qzman/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

// Service resolves a quiz id into the durable state the live layer needs:
// whether the quiz exists and which team identities may join it. Quiz,
// round and question management belong to the surrounding CRUD application,
// not to this service.
type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{db: c.DB}
}

// Resolve returns the quiz and its eligible teams, or CodeNotFound when the
// quiz id is unknown. Callers decide how to treat a miss; the live layer
// still admits unknown ids as ephemeral rooms.
func (s *Service) Resolve(ctx context.Context, quizID string) (*domain.Quiz, error) {
	const quizStmt = `SELECT quiz_id, title, is_active FROM quizzes WHERE quiz_id = $1;`

	q := domain.Quiz{}
	err := s.db.QueryRow(ctx, quizStmt, quizID).Scan(&q.QuizID, &q.Title, &q.Active)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: %s", quizID))
	}
	if err != nil {
		return nil, err
	}

	const teamStmt = `SELECT name FROM teams WHERE quiz_id = $1 AND is_approved ORDER BY name;`

	rows, err := s.db.Query(ctx, teamStmt, quizID)
	if err != nil {
		return nil, err
	}

	q.Teams, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (string, error) {
		var name string
		err := r.Scan(&name)
		return name, err
	})
	if err != nil {
		return nil, err
	}

	return &q, nil
}
