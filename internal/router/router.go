package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/qzman/qzman/internal/domain"
	"github.com/qzman/qzman/internal/errors"
	"github.com/qzman/qzman/internal/ledger"
	"github.com/qzman/qzman/internal/room"
)

type Config struct {
	Registry *room.Registry
	Ledger   *ledger.Service
}

// Router validates inbound events against the issuer's role, applies their
// effects and fans the results out through the registry. It keeps no state
// of its own: phase lives on the room, scores in the ledger.
type Router struct {
	reg    *room.Registry
	ledger *ledger.Service
}

func New(c Config) *Router {
	return &Router{
		reg:    c.Registry,
		ledger: c.Ledger,
	}
}

// Handle processes one inbound event from a connection. Events for the same
// room are serialized in arrival order; errors are reported to the issuer
// only and never broadcast.
func (rt *Router) Handle(ctx context.Context, c *room.Conn, env domain.Envelope) {
	r := c.Room()
	if r == nil {
		return
	}

	r.Dispatch(func() {
		if err := rt.handle(ctx, r, c, env); err != nil {
			rt.reply(c, err)
		}
	})
}

func (rt *Router) handle(ctx context.Context, r *room.Room, c *room.Conn, env domain.Envelope) error {
	switch env.Type {
	case domain.MsgSubmitAnswer:
		return rt.handleSubmitAnswer(r, c, env.Data)

	case domain.MsgPhaseChange:
		return rt.handlePhaseChange(r, c, env.Data)

	case domain.MsgScoreAdjust:
		return rt.handleScoreAdjust(ctx, r, c, env.Data)

	default:
		// Forward-compatible passthrough: unknown types are rebroadcast
		// verbatim with no authorization or ledger side effects.
		_, err := rt.reg.Broadcast(r.QuizID(), env.Type, env.Data, domain.VisibilityAll)
		return err
	}
}

type submitAnswer struct {
	TeamID string `json:"team_id"`
	Answer string `json:"answer"`
}

// handleSubmitAnswer broadcasts a masked submission status to the room and
// the full answer to admin roles only. Teams and spectators never receive
// another team's answer over the wire.
func (rt *Router) handleSubmitAnswer(r *room.Room, c *room.Conn, data json.RawMessage) error {
	if c.Role() != domain.RoleTeam {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("role %s cannot submit answers", c.Role()))
	}

	var req submitAnswer
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed %s payload", domain.MsgSubmitAnswer),
			errors.WithCause(err))
	}

	if req.TeamID == "" {
		req.TeamID = c.TeamID()
	}

	if _, err := rt.reg.Broadcast(r.QuizID(), domain.MsgAnswerSubmission, map[string]any{
		"team_id": req.TeamID,
		"status":  "submitted",
	}, domain.VisibilityAll); err != nil {
		return err
	}

	_, err := rt.reg.Broadcast(r.QuizID(), domain.MsgAdminAnswerReveal, map[string]any{
		"team_id": req.TeamID,
		"answer":  req.Answer,
	}, domain.VisibilityAdmin)
	return err
}

func (rt *Router) handlePhaseChange(r *room.Room, c *room.Conn, data json.RawMessage) error {
	if c.Role() != domain.RoleQuizMaster {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("role %s cannot change phase", c.Role()))
	}

	r.SetPhase(data)

	_, err := rt.reg.Broadcast(r.QuizID(), domain.MsgPhaseChange, data, domain.VisibilityAll)
	return err
}

type scoreAdjust struct {
	TeamID     string      `json:"team_id"`
	RoundID    string      `json:"round_id"`
	QuestionID string      `json:"question_id"`
	Points     json.Number `json:"points"`
	Reason     string      `json:"reason"`
}

// handleScoreAdjust appends to the ledger and, only once the append is
// durable, broadcasts the team's new total. A failed append leaves the
// total untouched and is reported to the issuer alone.
func (rt *Router) handleScoreAdjust(ctx context.Context, r *room.Room, c *room.Conn, data json.RawMessage) error {
	if !c.Role().Admin() {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("role %s cannot adjust scores", c.Role()))
	}

	var req scoreAdjust
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed %s payload", domain.MsgScoreAdjust),
			errors.WithCause(err))
	}

	points, err := req.Points.Int64()
	if err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("points must be an integer, got %q", req.Points.String()),
			errors.WithCause(err))
	}

	_, total, err := rt.ledger.Append(ctx, ledger.AppendRequest{
		QuizID:     r.QuizID(),
		TeamID:     req.TeamID,
		RoundID:    req.RoundID,
		QuestionID: req.QuestionID,
		Points:     points,
		Reason:     req.Reason,
		AwardedBy:  awardedBy(c),
	})
	if err != nil {
		return err
	}

	_, err = rt.reg.Broadcast(r.QuizID(), domain.MsgScoreUpdate, map[string]any{
		"team_id":   req.TeamID,
		"new_total": total,
	}, domain.VisibilityAll)
	return err
}

func awardedBy(c *room.Conn) string {
	if c.User() != "" {
		return c.User()
	}
	return c.ID()
}

// reply delivers an error to the issuing connection only.
func (rt *Router) reply(c *room.Conn, err error) {
	e := errors.Convert(err)

	typ := domain.MsgError
	if e.Code == errors.CodePermissionDenied {
		typ = domain.MsgForbidden
	}

	slog.Info("router: rejected event", "conn", c.ID(), "code", int(e.Code), "message", e.Message)

	c.Send(typ, map[string]any{
		"code":    int(e.Code),
		"message": e.Message,
	})
}
