package room

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/qzman/qzman/internal/domain"
	"github.com/qzman/qzman/internal/telemetry"
)

// Registry groups live connections into rooms keyed by quiz id. Rooms are
// created on first join and reclaimed when the last member leaves; durable
// quiz state lives elsewhere, so nothing here survives an empty room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// Room holds one quiz's live membership, the latest phase snapshot and the
// broadcast sequence counter. Event handling for a room is serialized
// through Dispatch so broadcast order matches arrival order.
type Room struct {
	quizID   string
	registry *Registry

	// procMu serializes inbound event handling for this room. Held across
	// ledger writes, so one room's I/O never stalls another room.
	procMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	phase   json.RawMessage
	members map[*Conn]struct{}
}

func (r *Room) QuizID() string { return r.quizID }

// Dispatch runs fn as the room's next serialized event.
func (r *Room) Dispatch(fn func()) {
	r.procMu.Lock()
	defer r.procMu.Unlock()
	fn()
}

// SetPhase stores the phase payload sent to late joiners for initial sync.
func (r *Room) SetPhase(data json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = data
}

func (r *Room) Phase() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Seq returns the last assigned broadcast sequence number.
func (r *Room) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *Room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Join registers the connection under the quiz's room, creating the room if
// absent. The connection immediately receives the room's current phase
// snapshot, and its write pump is started. Unknown quiz ids are valid:
// rooms are logical groupings, not pre-provisioned resources.
func (reg *Registry) Join(quizID string, c *Conn) *Room {
	reg.mu.Lock()
	r, ok := reg.rooms[quizID]
	if !ok {
		r = &Room{
			quizID:   quizID,
			registry: reg,
			members:  make(map[*Conn]struct{}),
		}
		reg.rooms[quizID] = r
		slog.Info("room: created", "quiz", quizID)
	}

	r.mu.Lock()
	r.members[c] = struct{}{}
	phase := r.phase
	r.mu.Unlock()
	reg.mu.Unlock()

	c.room = r

	if phase != nil {
		c.Send(domain.MsgPhaseChange, phase)
	}

	go c.writePump()

	telemetry.LiveConnections.Inc()
	slog.Info("room: client joined", "quiz", quizID, "conn", c.ID(), "role", c.Role())
	return r
}

// Leave removes the connection from its room. Once Leave returns, no
// subsequent broadcast can target the connection. The room is reclaimed,
// phase snapshot included, when its last member leaves.
func (reg *Registry) Leave(c *Conn) {
	r := c.room
	if r == nil {
		return
	}

	reg.mu.Lock()
	r.mu.Lock()
	_, wasMember := r.members[c]
	delete(r.members, c)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		if cur, ok := reg.rooms[r.quizID]; ok && cur == r {
			delete(reg.rooms, r.quizID)
			slog.Info("room: reclaimed", "quiz", r.quizID)
		}
	}
	reg.mu.Unlock()

	if wasMember {
		telemetry.LiveConnections.Dec()
		slog.Info("room: client left", "quiz", r.quizID, "conn", c.ID())
	}
}

// Broadcast assigns the room's next sequence number and enqueues the
// message to every registered connection whose role satisfies the
// visibility filter. Returns the assigned sequence, or 0 when no room
// exists for the quiz.
func (reg *Registry) Broadcast(quizID, typ string, data any, vis domain.Visibility) (uint64, error) {
	reg.mu.RLock()
	r, ok := reg.rooms[quizID]
	reg.mu.RUnlock()
	if !ok {
		return 0, nil
	}

	b, err := marshalEnvelope(typ, data)
	if err != nil {
		return 0, err
	}

	critical := typ == domain.MsgPhaseChange || typ == domain.MsgScoreUpdate

	r.mu.Lock()
	r.seq++
	seq := r.seq
	for c := range r.members {
		if vis.Allows(c.Role()) {
			c.enqueue(outbound{data: b, critical: critical})
		}
	}
	r.mu.Unlock()

	telemetry.Broadcasts.WithLabelValues(typ).Inc()
	return seq, nil
}
