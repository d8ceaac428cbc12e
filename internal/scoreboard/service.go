package scoreboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/qzman/qzman/internal/domain"
	"github.com/qzman/qzman/internal/errors"
	"github.com/qzman/qzman/internal/event"
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service keeps a read-through projection of team totals in a Redis sorted
// set per quiz. The ledger is the source of truth: the projection is
// overwritten with the ledger-derived total after every append and is never
// adjusted independently.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreAppended, func(ctx context.Context, e event.Event) error {
		return s.Apply(ctx, e.(domain.EventScoreAppended))
	})

	return s
}

// Apply overwrites the team's projected total with the ledger sum carried
// by the event.
func (s *Service) Apply(ctx context.Context, e domain.EventScoreAppended) error {
	entry := e.Entry

	if err := s.redis.ZAdd(ctx, s.key(entry.QuizID), redis.Z{
		Score:  float64(e.NewTotal),
		Member: entry.TeamID,
	}).Err(); err != nil {
		return fmt.Errorf("scoreboard: apply total: quiz=%s team=%s: %w", entry.QuizID, entry.TeamID, err)
	}

	return nil
}

type GetRequest struct {
	QuizID string
}

// Get returns the quiz's scoreboard, teams ordered by total descending.
// Late joiners and the projector read this instead of replaying broadcasts.
func (s *Service) Get(ctx context.Context, req GetRequest) (*domain.Scoreboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.key(req.QuizID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scoreboard: get: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("scoreboard not found: quiz=%s", req.QuizID))
	}

	entries := make([]domain.ScoreboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.ScoreboardEntry{
			TeamID: z.Member.(string),
			Total:  int64(z.Score),
		})
	}

	return &domain.Scoreboard{
		QuizID:  req.QuizID,
		Entries: entries,
	}, nil
}

func (s *Service) key(quizID string) string {
	return fmt.Sprintf("%s:%s:scoreboard", s.prefix, quizID)
}
