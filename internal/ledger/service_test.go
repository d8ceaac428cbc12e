package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzman/qzman/internal/domain"
	"github.com/qzman/qzman/internal/errors"
	"github.com/qzman/qzman/internal/event"
	"github.com/qzman/qzman/internal/ledger"
)

func TestService_Append_Validation(t *testing.T) {
	tests := map[string]struct {
		req ledger.AppendRequest
	}{
		"empty reason": {
			req: ledger.AppendRequest{QuizID: "Q1", TeamID: "A", Points: 10, Reason: ""},
		},
		"whitespace reason": {
			req: ledger.AppendRequest{QuizID: "Q1", TeamID: "A", Points: 10, Reason: "   "},
		},
		"missing team": {
			req: ledger.AppendRequest{QuizID: "Q1", Points: 10, Reason: "correct answer"},
		},
		"missing quiz": {
			req: ledger.AppendRequest{TeamID: "A", Points: 10, Reason: "correct answer"},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := ledger.NewMemoryStore()
			s := ledger.NewService(ledger.Config{Store: store})

			_, _, err := s.Append(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument), "want invalid argument, got %v", err)

			entries, err := store.List(context.Background(), "Q1", "")
			require.NoError(t, err)
			assert.Empty(t, entries, "a rejected append must not touch the ledger")
		})
	}
}

func TestService_Append_TotalMatchesEntrySum(t *testing.T) {
	s := ledger.NewService(ledger.Config{Store: ledger.NewMemoryStore()})
	ctx := context.Background()

	_, total, err := s.Append(ctx, ledger.AppendRequest{
		QuizID: "Q1", TeamID: "B", Points: 10, Reason: "correct answer", AwardedBy: "scoremgr",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)

	_, total, err = s.Append(ctx, ledger.AppendRequest{
		QuizID: "Q1", TeamID: "B", Points: -5, Reason: "penalty", AwardedBy: "scoremgr",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)

	got, err := s.TotalFor(ctx, "Q1", "B", time.Time{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, got)

	entries, err := s.Entries(ctx, "Q1", "B")
	require.NoError(t, err)
	require.Len(t, entries, 2, "corrections append, they never overwrite")
	assert.EqualValues(t, 10, entries[0].Points)
	assert.EqualValues(t, -5, entries[1].Points)
	assert.NotEqual(t, entries[0].EntryID, entries[1].EntryID)
}

func TestService_TotalFor_AsOf(t *testing.T) {
	s := ledger.NewService(ledger.Config{Store: ledger.NewMemoryStore()})
	ctx := context.Background()

	_, _, err := s.Append(ctx, ledger.AppendRequest{
		QuizID: "Q1", TeamID: "A", Points: 10, Reason: "round one",
	})
	require.NoError(t, err)

	cut := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)

	_, _, err = s.Append(ctx, ledger.AppendRequest{
		QuizID: "Q1", TeamID: "A", Points: 7, Reason: "round two",
	})
	require.NoError(t, err)

	total, err := s.TotalFor(ctx, "Q1", "A", cut)
	require.NoError(t, err)
	assert.EqualValues(t, 10, total, "as-of total reconstructs historical state")

	total, err = s.TotalFor(ctx, "Q1", "A", time.Time{})
	require.NoError(t, err)
	assert.EqualValues(t, 17, total)
}

func TestService_Append_PublishesEvent(t *testing.T) {
	eb := event.NewBus()

	var (
		mu     sync.Mutex
		events []domain.EventScoreAppended
	)
	eb.Subscribe(domain.EventNameScoreAppended, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e.(domain.EventScoreAppended))
		mu.Unlock()
		return nil
	})

	s := ledger.NewService(ledger.Config{EventBus: eb, Store: ledger.NewMemoryStore()})

	_, total, err := s.Append(context.Background(), ledger.AppendRequest{
		QuizID: "Q1", TeamID: "A", Points: 3, Reason: "bonus",
	})
	require.NoError(t, err)

	eb.Stop()

	require.Len(t, events, 1)
	assert.Equal(t, "A", events[0].Entry.TeamID)
	assert.Equal(t, total, events[0].NewTotal)
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	store := ledger.NewMemoryStore()
	s := ledger.NewService(ledger.Config{Store: store})
	ctx := context.Background()

	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Append(ctx, ledger.AppendRequest{
				QuizID: "Q1", TeamID: "A", Points: 1, Reason: "correct answer",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total, err := s.TotalFor(ctx, "Q1", "A", time.Time{})
	require.NoError(t, err)
	assert.EqualValues(t, n, total, "no append may be lost")

	entries, err := s.Entries(ctx, "Q1", "A")
	require.NoError(t, err)
	assert.Len(t, entries, n)
}
