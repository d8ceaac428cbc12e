package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qzman/qzman/internal/domain"
	"github.com/qzman/qzman/internal/errors"
	"github.com/qzman/qzman/internal/ledger"
	"github.com/qzman/qzman/internal/room"
	"github.com/qzman/qzman/internal/router"
	"github.com/qzman/qzman/internal/scoreboard"
)

// Resolver confirms a quiz exists and lists the team identities eligible to
// join it. A nil Resolver admits every quiz id as an ephemeral room.
type Resolver interface {
	Resolve(ctx context.Context, quizID string) (*domain.Quiz, error)
}

type Config struct {
	Engine     *gin.Engine
	Registry   *room.Registry
	Router     *router.Router
	Ledger     *ledger.Service
	Scoreboard *scoreboard.Service
	Quizzes    Resolver
}

type API struct {
	registry *room.Registry
	router   *router.Router
	ledger   *ledger.Service
	sb       *scoreboard.Service
	quizzes  Resolver
}

func New(c Config) *API {
	a := &API{
		registry: c.Registry,
		router:   c.Router,
		ledger:   c.Ledger,
		sb:       c.Scoreboard,
		quizzes:  c.Quizzes,
	}

	e := c.Engine
	e.GET("/healthz", a.handleHealth)
	e.GET("/ws/quiz/:quiz_id", a.handleQuizSocket)

	g := e.Group("/api")
	g.GET("/quiz/:quiz_id/scoreboard", a.handleScoreboard)
	g.GET("/quiz/:quiz_id/scores/log", a.handleScoreLog)

	return a
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) handleScoreboard(c *gin.Context) {
	sb, err := a.sb.Get(c.Request.Context(), scoreboard.GetRequest{
		QuizID: c.Param("quiz_id"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	entries := make([]gin.H, 0, len(sb.Entries))
	for _, e := range sb.Entries {
		entries = append(entries, gin.H{
			"team_id": e.TeamID,
			"total":   e.Total,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"quiz_id": sb.QuizID,
		"entries": entries,
	})
}

// handleScoreLog serves the append-only audit trail behind a team's score.
func (a *API) handleScoreLog(c *gin.Context) {
	entries, err := a.ledger.Entries(c.Request.Context(), c.Param("quiz_id"), c.Query("team_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"entry_id":    e.EntryID,
			"team_id":     e.TeamID,
			"round_id":    e.RoundID,
			"question_id": e.QuestionID,
			"points":      e.Points,
			"reason":      e.Reason,
			"awarded_by":  e.AwardedBy,
			"timestamp":   e.CreateTime,
		})
	}

	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"code":    int(e.Code),
		"message": e.Message,
	})
}
