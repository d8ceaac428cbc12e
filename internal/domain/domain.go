package domain

import (
	"encoding/json"
	"time"
)

// Role is the permission class of a connected identity, resolved by the
// fronting auth layer before the connection reaches this service.
type Role string

const (
	RoleQuizMaster   Role = "QUIZ_MASTER"
	RoleTeam         Role = "TEAM"
	RoleScoreManager Role = "SCORE_MANAGER"
	RoleSpectator    Role = "SPECTATOR"
)

// Admin reports whether the role may see admin-only broadcasts.
func (r Role) Admin() bool {
	return r == RoleQuizMaster || r == RoleScoreManager
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleQuizMaster, RoleTeam, RoleScoreManager, RoleSpectator:
		return true
	}
	return false
}

// Visibility determines which roles receive a broadcast.
type Visibility int

const (
	VisibilityAll Visibility = iota
	VisibilityAdmin
)

// Allows reports whether a connection with the given role receives a
// broadcast with this visibility.
func (v Visibility) Allows(r Role) bool {
	return v == VisibilityAll || r.Admin()
}

// ScoreEntry is one append-only point adjustment. Entries are never updated
// or deleted; corrections are new compensating entries.
type ScoreEntry struct {
	EntryID    string
	QuizID     string
	TeamID     string
	RoundID    string // optional
	QuestionID string // optional
	Points     int64
	Reason     string
	AwardedBy  string
	CreateTime time.Time
}

// Quiz is the slice of durable quiz state the live session layer needs:
// identity plus the teams eligible to join.
type Quiz struct {
	QuizID string
	Title  string
	Active bool
	Teams  []string
}

// Scoreboard lists team totals for one quiz, sorted by total descending.
type Scoreboard struct {
	QuizID  string
	Entries []ScoreboardEntry
}

type ScoreboardEntry struct {
	TeamID string
	Total  int64
}

// Envelope is the wire format in both directions: a type tag and an
// opaque payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
