package domain

const (
	EventNameScoreAppended = "score.appended"
)

// EventScoreAppended is published after a score entry is durably appended.
// NewTotal is the team's ledger sum including the new entry.
type EventScoreAppended struct {
	Entry    ScoreEntry
	NewTotal int64
}

func (EventScoreAppended) Name() string { return EventNameScoreAppended }
