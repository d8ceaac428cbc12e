package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qzman/qzman/internal/domain"
	"github.com/qzman/qzman/internal/errors"
	"github.com/qzman/qzman/internal/event"
	"github.com/qzman/qzman/internal/telemetry"
)

// Store is the durable append-only sink behind the ledger. Implementations
// must never mutate or remove committed entries, and Insert must be safe for
// concurrent writers across quizzes and teams.
type Store interface {
	// Insert commits the entry and returns the team's new total, including
	// the entry just written.
	Insert(ctx context.Context, e domain.ScoreEntry) (int64, error)
	// Total returns the sum of all entries for the team. A zero asOf means
	// "now"; otherwise only entries created at or before asOf are counted.
	Total(ctx context.Context, quizID, teamID string, asOf time.Time) (int64, error)
	// List returns the team's entries in append order. An empty teamID
	// returns every entry of the quiz.
	List(ctx context.Context, quizID, teamID string) ([]domain.ScoreEntry, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
}

// Service enforces the ledger-write contract in front of the store: every
// entry carries a non-empty reason, and a team's displayed score is always
// the ledger sum.
type Service struct {
	eb    *event.Bus
	store Store
}

func NewService(c Config) *Service {
	return &Service{
		eb:    c.EventBus,
		store: c.Store,
	}
}

type AppendRequest struct {
	QuizID     string
	TeamID     string
	RoundID    string
	QuestionID string
	Points     int64
	Reason     string
	AwardedBy  string
}

// Append validates and commits a point adjustment, returning the entry and
// the team's new total. Corrections are made by appending a compensating
// entry, never by rewriting history.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*domain.ScoreEntry, int64, error) {
	if err := validate(req); err != nil {
		return nil, 0, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, 0, fmt.Errorf("generate entry ID: %w", err)
	}

	e := domain.ScoreEntry{
		EntryID:    id.String(),
		QuizID:     req.QuizID,
		TeamID:     req.TeamID,
		RoundID:    req.RoundID,
		QuestionID: req.QuestionID,
		Points:     req.Points,
		Reason:     strings.TrimSpace(req.Reason),
		AwardedBy:  req.AwardedBy,
		CreateTime: time.Now().UTC(),
	}

	total, err := s.store.Insert(ctx, e)
	if err != nil {
		return nil, 0, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("ledger append failed: quiz=%s team=%s", e.QuizID, e.TeamID),
			errors.WithCause(err),
		)
	}

	telemetry.LedgerAppends.Inc()

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventScoreAppended{
			Entry:    e,
			NewTotal: total,
		})
	}

	return &e, total, nil
}

// TotalFor returns the team's score as the sum of its ledger entries,
// optionally bounded by asOf for audit replay.
func (s *Service) TotalFor(ctx context.Context, quizID, teamID string, asOf time.Time) (int64, error) {
	return s.store.Total(ctx, quizID, teamID, asOf)
}

// Entries returns the audit log for a team, or for the whole quiz when
// teamID is empty.
func (s *Service) Entries(ctx context.Context, quizID, teamID string) ([]domain.ScoreEntry, error) {
	return s.store.List(ctx, quizID, teamID)
}

func validate(req AppendRequest) error {
	if req.QuizID == "" || req.TeamID == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz_id and team_id are required"))
	}

	if strings.TrimSpace(req.Reason) == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("reason must not be empty: quiz=%s team=%s", req.QuizID, req.TeamID))
	}

	return nil
}
