package scoreboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzman/qzman/internal/domain"
	"github.com/qzman/qzman/internal/errors"
	"github.com/qzman/qzman/internal/event"
	"github.com/qzman/qzman/internal/scoreboard"
)

func TestService_Apply(t *testing.T) {
	type (
		inputs struct {
			events []domain.EventScoreAppended
		}

		outputs struct {
			board *domain.Scoreboard
		}
	)

	entry := func(quiz, team string, points int64) domain.ScoreEntry {
		return domain.ScoreEntry{
			QuizID:     quiz,
			TeamID:     team,
			Points:     points,
			Reason:     "adjustment",
			CreateTime: time.Now().UTC(),
		}
	}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a single append projects the team total": {
			arrange: func() inputs {
				return inputs{
					events: []domain.EventScoreAppended{
						{Entry: entry("Q1", "A", 10), NewTotal: 10},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, &domain.Scoreboard{
					QuizID: "Q1",
					Entries: []domain.ScoreboardEntry{
						{TeamID: "A", Total: 10},
					},
				}, out.board)
			},
		},

		"later appends overwrite with the ledger total, never accumulate": {
			arrange: func() inputs {
				return inputs{
					events: []domain.EventScoreAppended{
						{Entry: entry("Q1", "A", 10), NewTotal: 10},
						{Entry: entry("Q1", "A", -5), NewTotal: 5},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, []domain.ScoreboardEntry{
					{TeamID: "A", Total: 5},
				}, out.board.Entries)
			},
		},

		"teams are ordered by total descending": {
			arrange: func() inputs {
				return inputs{
					events: []domain.EventScoreAppended{
						{Entry: entry("Q1", "A", 5), NewTotal: 5},
						{Entry: entry("Q1", "B", 15), NewTotal: 15},
						{Entry: entry("Q1", "C", 10), NewTotal: 10},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, []domain.ScoreboardEntry{
					{TeamID: "B", Total: 15},
					{TeamID: "C", Total: 10},
					{TeamID: "A", Total: 5},
				}, out.board.Entries)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()

			s := makeService(t)
			for _, e := range in.events {
				require.NoError(t, s.Apply(context.Background(), e))
			}

			board, err := s.Get(context.Background(), scoreboard.GetRequest{QuizID: "Q1"})
			require.NoError(t, err)

			tt.assert(t, outputs{board: board})
		})
	}
}

func TestService_Get_NotFound(t *testing.T) {
	s := makeService(t)

	_, err := s.Get(context.Background(), scoreboard.GetRequest{QuizID: "missing"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func TestService_AppliesBusEvents(t *testing.T) {
	eb := event.NewBus()
	s := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), domain.EventScoreAppended{
		Entry: domain.ScoreEntry{
			QuizID: "Q1",
			TeamID: "A",
			Points: 10,
			Reason: "correct answer",
		},
		NewTotal: 10,
	})
	eb.Stop()

	board, err := s.Get(context.Background(), scoreboard.GetRequest{QuizID: "Q1"})
	require.NoError(t, err)
	require.Equal(t, []domain.ScoreboardEntry{{TeamID: "A", Total: 10}}, board.Entries)
}

func makeService(t *testing.T, opts ...options) *scoreboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := scoreboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return scoreboard.NewService(c)
}

type options func(c *scoreboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *scoreboard.Config) {
		c.EventBus = eb
	}
}
