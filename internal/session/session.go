package session

import (
	"encoding/json"
	"log"
	"math"

	"github.com/slatehq/slate-server/internal/access"
	"github.com/slatehq/slate-server/internal/db"
	"github.com/slatehq/slate-server/internal/doc"
	"github.com/slatehq/slate-server/internal/docstore"
	"github.com/slatehq/slate-server/internal/persist"
	"github.com/slatehq/slate-server/internal/room"
)

// Dispatcher ties the resolver, room manager, document store and
// persister together behind the wire protocol. One Dispatcher serves
// every connection; per-connection state lives in Peer.
type Dispatcher struct {
	manager   *room.Manager
	resolver  *access.Resolver
	docs      *docstore.Store
	persister *persist.Coordinator
	database  *db.Database
}

func NewDispatcher(manager *room.Manager, resolver *access.Resolver, docs *docstore.Store, persister *persist.Coordinator, database *db.Database) *Dispatcher {
	return &Dispatcher{
		manager:   manager,
		resolver:  resolver,
		docs:      docs,
		persister: persister,
		database:  database,
	}
}

type peerState int

const (
	stateUnjoined peerState = iota
	stateJoined
	stateClosed
)

// Peer is the per-connection protocol state machine. All handlers for
// one peer run on its transport's read goroutine, so no locking is
// needed around the state transitions.
type Peer struct {
	dispatcher  *Dispatcher
	transportID string
	sink        room.Sink
	state       peerState
	conn        *room.Connection
	handle      doc.Handle // reference held from join until disconnect
}

func (d *Dispatcher) NewPeer(transportID string, sink room.Sink) *Peer {
	return &Peer{
		dispatcher:  d,
		transportID: transportID,
		sink:        sink,
	}
}

// HandleMessage processes one inbound frame.
func (p *Peer) HandleMessage(data []byte) {
	if p.state == stateClosed {
		return
	}

	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		p.sendError("invalid message")
		return
	}

	if p.state == stateUnjoined {
		if msg.Type == MsgJoin {
			p.handleJoin(&msg)
		} else {
			p.sendError("join required")
		}
		return
	}

	switch msg.Type {
	case MsgJoin:
		p.sendError("already joined")
	case MsgSync:
		p.handleSync(&msg)
	case MsgUpdate:
		p.handleUpdate(&msg)
	case MsgCursor:
		p.handleCursor(&msg)
	case MsgAwareness:
		p.handleAwareness(&msg)
	default:
		p.sendError("unknown message type")
	}
}

func (p *Peer) handleJoin(msg *Inbound) {
	if msg.BoardID == "" {
		p.sendError("boardId required")
		return
	}

	d := p.dispatcher

	permitted, role := d.resolver.Resolve(msg.BoardID, msg.UserID)
	if !permitted {
		// Missing boards and denied callers look identical
		p.sendError("access denied")
		return
	}

	conn := room.NewConnection(p.transportID, msg.BoardID, p.sink)
	conn.UserID = msg.UserID
	conn.DisplayName = msg.DisplayName
	conn.Email = msg.Email
	conn.Role = role

	// Fill display metadata from the user record when the client
	// did not supply any
	if msg.UserID != "" && (conn.DisplayName == "" || conn.Email == "") {
		if user, err := d.database.GetUser(msg.UserID); err == nil && user != nil {
			if conn.DisplayName == "" {
				conn.DisplayName = user.DisplayName
			}
			if conn.Email == "" {
				conn.Email = user.Email
			}
		}
	}
	if conn.DisplayName == "" {
		conn.DisplayName = "Anonymous"
	}

	// The document reference is taken before the connection becomes a
	// member, so a racing teardown of the previous room can only
	// decrement, never drop, the handle this member will use
	handle := d.docs.Acquire(msg.BoardID)

	_, evicted := d.manager.Admit(conn, func(roster []room.RosterEntry, evicted *room.Connection) room.JoinFrames {
		frames := room.JoinFrames{
			ToJoiner: [][]byte{
				encode(SyncBoard{Type: MsgSyncBoard, State: handle.Encode()}),
				encode(UserRole{Type: MsgUserRole, Role: string(role)}),
				encode(ActiveUsers{Type: MsgActiveUsers, Users: roster}),
			},
		}

		// The rest of the room hears the stale connection leave
		// before the new one joins
		if evicted != nil {
			frames.ToOthers = append(frames.ToOthers, encode(UserLeft{
				Type:        MsgUserLeft,
				UserID:      evicted.UserID,
				DisplayName: evicted.DisplayName,
				TransportID: evicted.TransportID,
			}))
		}
		frames.ToOthers = append(frames.ToOthers,
			encode(UserJoined{
				Type:        MsgUserJoined,
				UserID:      conn.UserID,
				DisplayName: conn.DisplayName,
				Email:       conn.Email,
				Color:       conn.Color,
				Role:        string(role),
				TransportID: conn.TransportID,
			}),
			encode(ActiveUsers{Type: MsgActiveUsers, Users: roster}),
		)
		return frames
	})

	if evicted != nil {
		// The evicted connection's disconnect will find itself gone
		// from the room, so its document reference is returned here
		d.docs.Release(msg.BoardID)
	}

	p.conn = conn
	p.handle = handle
	p.state = stateJoined
}

// handleSync folds a client-supplied full state in and answers with the
// server's current encoding. Used for recovery after a reconnect.
func (p *Peer) handleSync(msg *Inbound) {
	if len(msg.State) > 0 {
		if err := p.handle.Merge(msg.State); err != nil {
			log.Printf("Sync merge failed for board %s: %v", p.conn.BoardID, err)
		} else {
			p.dispatcher.persister.Schedule(p.conn.BoardID)
		}
	}

	p.send(SyncBoard{Type: MsgSyncBoard, State: p.handle.Encode()})
}

func (p *Peer) handleUpdate(msg *Inbound) {
	if len(msg.Update) == 0 {
		// Malformed payloads are dropped without a reply
		return
	}

	produced, err := p.handle.ApplyUpdate(msg.Update)
	if err != nil {
		// The document state is untouched; nothing propagates
		log.Printf("Update rejected for board %s: %v", p.conn.BoardID, err)
		return
	}

	p.dispatcher.persister.Schedule(p.conn.BoardID)

	// Echoed to the sender as well: reapplying its own update is a
	// no-op and doubles as delivery confirmation
	p.dispatcher.broadcast(p.conn.BoardID, BoardUpdate{Type: MsgBoardUpdate, Update: produced}, nil)
}

func (p *Peer) handleCursor(msg *Inbound) {
	x, okX := finiteNumber(msg.X)
	y, okY := finiteNumber(msg.Y)
	if !okX || !okY {
		// Dropped silently
		return
	}

	p.conn.SetCursor(x, y)

	p.dispatcher.broadcast(p.conn.BoardID, CursorUpdate{
		Type:        MsgCursorUpdate,
		UserID:      p.conn.UserID,
		TransportID: p.conn.TransportID,
		Color:       p.conn.Color,
		Cursor:      &room.Cursor{X: x, Y: y},
	}, p.conn)
}

// Awareness state is relayed verbatim: no validation, no persistence.
func (p *Peer) handleAwareness(msg *Inbound) {
	p.dispatcher.broadcast(p.conn.BoardID, AwarenessUpdate{
		Type:        MsgAwarenessUpdate,
		UserID:      p.conn.UserID,
		TransportID: p.conn.TransportID,
		Color:       p.conn.Color,
		Awareness:   msg.Awareness,
	}, p.conn)
}

// HandleDisconnect runs when the transport drops, whether cleanly or by
// eviction.
func (p *Peer) HandleDisconnect() {
	if p.state != stateJoined {
		p.state = stateClosed
		return
	}
	p.state = stateClosed

	d := p.dispatcher
	conn := p.conn

	_, found, closed := d.manager.Remove(conn, func(roster []room.RosterEntry) [][]byte {
		return [][]byte{
			encode(UserLeft{
				Type:        MsgUserLeft,
				UserID:      conn.UserID,
				DisplayName: conn.DisplayName,
				TransportID: conn.TransportID,
			}),
			encode(ActiveUsers{Type: MsgActiveUsers, Users: roster}),
		}
	})
	if !found {
		// Already evicted; the admitting peer announced the leave and
		// returned this connection's document reference
		return
	}

	if closed {
		// Last one out: flush the document before the reference drops
		d.persister.Flush(conn.BoardID)
	}
	d.docs.Release(conn.BoardID)
}

func (p *Peer) send(v interface{}) {
	p.sink.Send(encode(v))
}

func (p *Peer) sendError(message string) {
	p.send(ErrorMessage{Type: MsgError, Message: message})
}

func (d *Dispatcher) broadcast(boardID string, v interface{}, exclude *room.Connection) {
	d.manager.Broadcast(boardID, encode(v), exclude)
}

func encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to encode message: %v", err)
		return nil
	}
	return data
}

// finiteNumber accepts only plain finite JSON numbers.
func finiteNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
