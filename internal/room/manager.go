package room

import (
	"log"
	"sync"
)

// Manager owns every live room. Rooms exist only while at least one
// connection is present; membership changes are linearized per room
// while distinct boards stay fully independent.
type Manager struct {
	rooms map[string]*room
	mu    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*room),
	}
}

// Admit inserts a connection into its board's room, creating the room on
// first join. When a stale connection for the same identity exists it is
// evicted first and returned; the announcer's frames (synthetic leave
// included) go out before the membership lock is released.
func (m *Manager) Admit(conn *Connection, announce JoinAnnouncer) (roster []RosterEntry, evicted *Connection) {
	for {
		r := m.getOrCreate(conn.BoardID)
		roster, evicted, ok := r.admit(conn, announce)
		if !ok {
			// Lost the race against this room's teardown; a fresh
			// room replaces it on the next pass
			continue
		}
		if evicted != nil {
			log.Printf("Evicted stale connection %s from board %s", evicted.TransportID, conn.BoardID)
			evicted.Close()
		}
		log.Printf("Client joined board %s (total: %d)", conn.BoardID, len(roster))
		return roster, evicted
	}
}

// Remove takes a connection out of its room, delivering the announcer's
// frames to the remaining members before the membership lock is
// released. closed reports that the room emptied and was torn down; the
// caller releases document state. Removing a connection that was
// already evicted is a no-op.
func (m *Manager) Remove(conn *Connection, announce LeaveAnnouncer) (roster []RosterEntry, found, closed bool) {
	m.mu.RLock()
	r, ok := m.rooms[conn.BoardID]
	m.mu.RUnlock()
	if !ok {
		return nil, false, false
	}

	roster, found, empty := r.remove(conn, announce)
	if !found {
		return nil, false, false
	}

	if empty {
		m.mu.Lock()
		// Another first join may have replaced the instance already
		if m.rooms[conn.BoardID] == r {
			delete(m.rooms, conn.BoardID)
		}
		m.mu.Unlock()
		log.Printf("Board %s closed (empty)", conn.BoardID)
		return nil, true, true
	}

	log.Printf("Client left board %s (remaining: %d)", conn.BoardID, len(roster))
	return roster, true, false
}

// Broadcast delivers a message to every connection in a board's room,
// minus exclude when it is non-nil.
func (m *Manager) Broadcast(boardID string, message []byte, exclude *Connection) {
	m.mu.RLock()
	r, ok := m.rooms[boardID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	r.broadcast(message, exclude)
}

// Roster returns the current presence projection for a board.
func (m *Manager) Roster(boardID string) []RosterEntry {
	m.mu.RLock()
	r, ok := m.rooms[boardID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

func (m *Manager) getOrCreate(boardID string) *room {
	m.mu.RLock()
	r, ok := m.rooms[boardID]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[boardID]; ok {
		return r
	}
	r = newRoom(boardID)
	m.rooms[boardID] = r
	return r
}

// Stats accessors for the HTTP surface

func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, r := range m.rooms {
		r.mu.Lock()
		total += len(r.connections)
		r.mu.Unlock()
	}
	return total
}

// ActiveRooms maps boardID to its current connection count.
func (m *Manager) ActiveRooms() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make(map[string]int, len(m.rooms))
	for boardID, r := range m.rooms {
		r.mu.Lock()
		active[boardID] = len(r.connections)
		r.mu.Unlock()
	}
	return active
}
