package room

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/qzman/qzman/internal/domain"
	"github.com/qzman/qzman/internal/telemetry"
)

// Outbox bound. A client further behind than this is either shedding
// droppable traffic or, if it is behind on critical traffic, disconnected.
const maxOutbox = 64

// Transport is the write side of a client connection. The websocket layer
// adapts *websocket.Conn to it; tests use in-memory fakes.
type Transport interface {
	WriteText(data []byte) error
	Close() error
}

type outbound struct {
	data     []byte
	critical bool
}

// Conn is the actor owning one client connection's outbound delivery. All
// enqueues are non-blocking; a single write pump drains the queue in FIFO
// order. On transport failure the actor unregisters itself from its room
// before the transport is reclaimed.
type Conn struct {
	id     string
	role   domain.Role
	teamID string
	user   string
	tr     Transport

	mu    sync.Mutex
	queue []outbound
	wake  chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	room *Room
}

func NewConn(role domain.Role, teamID, user string, tr Transport) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		role:   role,
		teamID: teamID,
		user:   user,
		tr:     tr,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *Conn) ID() string        { return c.id }
func (c *Conn) Role() domain.Role { return c.role }
func (c *Conn) TeamID() string    { return c.teamID }

// User is the display identity of the connected client, resolved upstream.
func (c *Conn) User() string { return c.user }

// Room returns the room the connection is registered in, or nil.
func (c *Conn) Room() *Room { return c.room }

// Closed is closed once the actor is shutting down.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Send delivers a message to this connection only, outside any broadcast.
// Used for error replies and the phase snapshot on join; never dropped.
func (c *Conn) Send(typ string, data any) {
	b, err := marshalEnvelope(typ, data)
	if err != nil {
		slog.Error("room: marshal direct message", "type", typ, "error", err)
		return
	}
	c.enqueue(outbound{data: b, critical: true})
}

func (c *Conn) enqueue(m outbound) {
	select {
	case <-c.closed:
		return
	default:
	}

	c.mu.Lock()
	if len(c.queue) >= maxOutbox {
		if !shedOldest(&c.queue) {
			// Queue is all critical traffic.
			if m.critical {
				c.mu.Unlock()
				telemetry.EvictedConnections.Inc()
				slog.Warn("room: disconnecting slow client", "conn", c.id, "role", c.role)
				go c.teardown()
				return
			}
			c.mu.Unlock()
			telemetry.DroppedMessages.Inc()
			return
		}
		telemetry.DroppedMessages.Inc()
	}
	c.queue = append(c.queue, m)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// shedOldest removes the oldest droppable message, reporting whether one
// was found. Critical messages are never shed.
func shedOldest(queue *[]outbound) bool {
	q := *queue
	for i, m := range q {
		if !m.critical {
			*queue = append(q[:i], q[i+1:]...)
			return true
		}
	}
	return false
}

// writePump drains the queue to the transport until the actor closes or the
// transport fails.
func (c *Conn) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			m := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if err := c.tr.WriteText(m.data); err != nil {
				slog.Info("room: transport write failed", "conn", c.id, "error", err)
				c.teardown()
				return
			}
		}
	}
}

// teardown unregisters from the room before closing the transport, so a
// broadcast in progress when the transport died is the last that can
// observe this connection.
func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.room != nil {
			c.room.registry.Leave(c)
		}
		_ = c.tr.Close()
	})
}

// Close tears the actor down from the outside (read loop ended, server
// shutdown). Safe to call multiple times.
func (c *Conn) Close() {
	c.teardown()
}

func marshalEnvelope(typ string, data any) ([]byte, error) {
	raw, err := toRaw(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(domain.Envelope{Type: typ, Data: raw})
}

func toRaw(data any) (json.RawMessage, error) {
	switch d := data.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(d) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return d, nil
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}
