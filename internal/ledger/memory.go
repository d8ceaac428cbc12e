package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/qzman/qzman/internal/domain"
)

// MemoryStore is an in-process ledger sink for tests and for running
// without Postgres (single-host events on a LAN). Entries are lost on
// restart, but the append-only contract is identical.
type MemoryStore struct {
	mu      sync.Mutex
	entries []domain.ScoreEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, e domain.ScoreEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)

	var total int64
	for _, x := range s.entries {
		if x.QuizID == e.QuizID && x.TeamID == e.TeamID {
			total += x.Points
		}
	}

	return total, nil
}

func (s *MemoryStore) Total(_ context.Context, quizID, teamID string, asOf time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, e := range s.entries {
		if e.QuizID != quizID || e.TeamID != teamID {
			continue
		}
		if !asOf.IsZero() && e.CreateTime.After(asOf) {
			continue
		}
		total += e.Points
	}

	return total, nil
}

func (s *MemoryStore) List(_ context.Context, quizID, teamID string) ([]domain.ScoreEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ScoreEntry
	for _, e := range s.entries {
		if e.QuizID == quizID && (teamID == "" || e.TeamID == teamID) {
			out = append(out, e)
		}
	}

	return out, nil
}
