package room

import (
	"sync"

	"github.com/slatehq/slate-server/internal/access"
)

// Sink is the outbound half of a transport connection. Send reports
// false when the peer cannot keep up and the message was dropped.
type Sink interface {
	Send(message []byte) bool
	Close()
}

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Connection is one active transport session inside a room. Identity
// fields are fixed at join time; only the cursor mutates afterwards.
type Connection struct {
	TransportID string
	BoardID     string
	UserID      string // "" means anonymous
	DisplayName string
	Email       string
	Color       string
	Role        access.Role

	sink   Sink
	cursor *Cursor
	mu     sync.Mutex
}

func NewConnection(transportID, boardID string, sink Sink) *Connection {
	return &Connection{
		TransportID: transportID,
		BoardID:     boardID,
		sink:        sink,
	}
}

func (c *Connection) SetCursor(x, y float64) {
	c.mu.Lock()
	c.cursor = &Cursor{X: x, Y: y}
	c.mu.Unlock()
}

func (c *Connection) Cursor() *Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor == nil {
		return nil
	}
	cursor := *c.cursor
	return &cursor
}

// Send delivers one message to this connection's transport.
func (c *Connection) Send(message []byte) bool {
	return c.sink.Send(message)
}

// Shuts the transport down. The read side observes the close and drives
// the normal disconnect path.
func (c *Connection) Close() {
	c.sink.Close()
}

// RosterEntry is the live presence projection of one connection.
type RosterEntry struct {
	UserID      string  `json:"userId,omitempty"`
	DisplayName string  `json:"displayName"`
	Email       string  `json:"email,omitempty"`
	Color       string  `json:"color"`
	Cursor      *Cursor `json:"cursor,omitempty"`
	TransportID string  `json:"transportId"`
	Role        string  `json:"role"`
}

// JoinFrames are the encoded messages a join delivers while the
// membership lock is still held, so every observer sees rosters in the
// order they were computed.
type JoinFrames struct {
	ToJoiner [][]byte
	ToOthers [][]byte
}

// JoinAnnouncer composes the frames for an admit. Runs under the room
// lock; it must not block.
type JoinAnnouncer func(roster []RosterEntry, evicted *Connection) JoinFrames

// LeaveAnnouncer composes the frames for a departure, delivered to the
// remaining members under the room lock.
type LeaveAnnouncer func(roster []RosterEntry) [][]byte

// presence colors cycle per room in join order
var palette = []string{
	"#e06c75", "#61afef", "#98c379", "#e5c07b",
	"#c678dd", "#56b6c2", "#d19a66", "#abb2bf",
}

type room struct {
	boardID     string
	connections map[*Connection]bool
	joined      int // total admits, drives color assignment
	closed      bool
	mu          sync.Mutex
}

func newRoom(boardID string) *room {
	return &room{
		boardID:     boardID,
		connections: make(map[*Connection]bool),
	}
}

// admit inserts conn, evicting any stale connection for the same
// identity first, and delivers the announcer's frames before the lock
// is released. Reports ok=false when the room was torn down before the
// insert; the caller retries against a fresh room.
func (r *room) admit(conn *Connection, announce JoinAnnouncer) (roster []RosterEntry, evicted *Connection, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, false
	}

	for existing := range r.connections {
		if sameIdentity(existing, conn) {
			evicted = existing
			delete(r.connections, existing)
			break
		}
	}

	if conn.Color == "" {
		conn.Color = palette[r.joined%len(palette)]
	}
	r.joined++
	r.connections[conn] = true

	roster = r.rosterLocked()

	if announce != nil {
		frames := announce(roster, evicted)
		for _, frame := range frames.ToJoiner {
			conn.Send(frame)
		}
		for member := range r.connections {
			if member == conn {
				continue
			}
			for _, frame := range frames.ToOthers {
				member.Send(frame)
			}
		}
	}

	return roster, evicted, true
}

// Two connections collide when they carry the same resolved user, or
// the same email for connections without one.
func sameIdentity(a, b *Connection) bool {
	if b.UserID != "" && a.UserID == b.UserID {
		return true
	}
	if b.UserID == "" && a.UserID == "" && b.Email != "" && a.Email == b.Email {
		return true
	}
	return false
}

func (r *room) remove(conn *Connection, announce LeaveAnnouncer) (roster []RosterEntry, found, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connections[conn] {
		return nil, false, false
	}
	delete(r.connections, conn)

	if len(r.connections) == 0 {
		r.closed = true
		return nil, true, true
	}

	roster = r.rosterLocked()

	if announce != nil {
		for _, frame := range announce(roster) {
			for member := range r.connections {
				member.Send(frame)
			}
		}
	}

	return roster, true, false
}

func (r *room) rosterLocked() []RosterEntry {
	roster := make([]RosterEntry, 0, len(r.connections))
	for conn := range r.connections {
		roster = append(roster, RosterEntry{
			UserID:      conn.UserID,
			DisplayName: conn.DisplayName,
			Email:       conn.Email,
			Color:       conn.Color,
			Cursor:      conn.Cursor(),
			TransportID: conn.TransportID,
			Role:        string(conn.Role),
		})
	}
	return roster
}

// Sends are non-blocking (buffered transport channels), so holding the
// room lock keeps per-room delivery order consistent with membership
// changes.
func (r *room) broadcast(message []byte, exclude *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.connections {
		if conn != exclude {
			conn.Send(message)
		}
	}
}
