package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qzman/qzman/internal/domain"
	"github.com/qzman/qzman/internal/errors"
	"github.com/qzman/qzman/internal/room"
)

// Role and identity headers, set by the fronting auth layer. This service
// never authenticates; it trusts what the proxy resolved.
const (
	headerRole = "X-Quiz-Role"
	headerTeam = "X-Team-ID"
	headerUser = "X-User"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleQuizSocket is the per-session join endpoint: it registers the
// connection under the quiz's room and pumps inbound events into the
// router until the client goes away.
func (a *API) handleQuizSocket(c *gin.Context) {
	quizID := c.Param("quiz_id")

	role := domain.Role(c.GetHeader(headerRole))
	if role == "" {
		role = domain.RoleSpectator
	}
	if !role.Valid() {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown role %q", role)))
		return
	}

	teamID := c.GetHeader(headerTeam)
	if role == domain.RoleTeam && teamID == "" {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("role %s requires %s", domain.RoleTeam, headerTeam)))
		return
	}

	if err := a.checkEligibility(c, quizID, role, teamID); err != nil {
		abortWithError(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("api: websocket upgrade failed", "quiz", quizID, "error", err)
		return
	}

	conn := room.NewConn(role, teamID, c.GetHeader(headerUser), newWSTransport(ws))
	a.registry.Join(quizID, conn)
	defer conn.Close()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			conn.Send(domain.MsgError, gin.H{
				"code":    int(errors.CodeInvalidArgument),
				"message": "malformed event envelope",
			})
			continue
		}

		a.router.Handle(c.Request.Context(), conn, env)
	}
}

// checkEligibility consults the quiz-data collaborator when one is wired.
// Unknown quiz ids stay joinable as ephemeral rooms; a known quiz rejects
// teams that are not on its roster.
func (a *API) checkEligibility(c *gin.Context, quizID string, role domain.Role, teamID string) error {
	if a.quizzes == nil {
		return nil
	}

	q, err := a.quizzes.Resolve(c.Request.Context(), quizID)
	if errors.IsCode(err, errors.CodeNotFound) {
		slog.Info("api: unknown quiz, joining ephemeral room", "quiz", quizID)
		return nil
	}
	if err != nil {
		return err
	}

	if role == domain.RoleTeam && len(q.Teams) > 0 && !slices.Contains(q.Teams, teamID) {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("team %q is not registered for quiz %s", teamID, quizID))
	}

	return nil
}

// wsTransport adapts a gorilla connection to the room transport: writes are
// mutex-guarded with a deadline so a wedged client fails fast instead of
// parking the write pump forever.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) WriteText(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
	return t.conn.Close()
}
