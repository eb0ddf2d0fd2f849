package docstore

import (
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/slatehq/slate-server/internal/db"
	"github.com/slatehq/slate-server/internal/doc"
)

// Store owns the in-memory document handle for every open board. Each
// admitted connection holds one reference; the handle is dropped when
// the last reference is released, so a join racing a room teardown can
// never observe a live room whose document has been discarded. The
// durable snapshot lives in the database independently.
type Store struct {
	engine   doc.Engine
	database *db.Database

	docs map[string]*entry
	mu   sync.Mutex

	// Collapses concurrent first joins into a single snapshot load
	loads singleflight.Group
}

type entry struct {
	handle doc.Handle
	refs   int
}

func New(engine doc.Engine, database *db.Database) *Store {
	return &Store{
		engine:   engine,
		database: database,
		docs:     make(map[string]*entry),
	}
}

// Acquire returns the live handle for a board and takes a reference on
// it, constructing the handle when the board is not resident.
// Construction starts from an empty document and folds in the persisted
// snapshot when one exists; a missing or malformed snapshot never fails
// the join.
func (s *Store) Acquire(boardID string) doc.Handle {
	s.mu.Lock()
	if e, ok := s.docs[boardID]; ok {
		e.refs++
		s.mu.Unlock()
		return e.handle
	}
	s.mu.Unlock()

	// The snapshot read happens outside the store lock so slow loads
	// on one board do not stall the others
	v, _, _ := s.loads.Do(boardID, func() (interface{}, error) {
		return s.load(boardID), nil
	})
	loaded := v.(doc.Handle)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller of the shared load may have registered it first
	if e, ok := s.docs[boardID]; ok {
		e.refs++
		return e.handle
	}
	s.docs[boardID] = &entry{handle: loaded, refs: 1}
	return loaded
}

func (s *Store) load(boardID string) doc.Handle {
	handle := s.engine.NewDocument()

	if s.database == nil {
		return handle
	}

	snapshot, _, err := s.database.GetSnapshot(boardID)
	if err != nil {
		log.Printf("Snapshot load failed for board %s, starting empty: %v", boardID, err)
		return handle
	}
	if len(snapshot) == 0 {
		return handle
	}

	if err := handle.Merge(snapshot); err != nil {
		log.Printf("Malformed snapshot for board %s, starting empty: %v", boardID, err)
		return s.engine.NewDocument()
	}

	log.Printf("Loaded snapshot for board %s (%d bytes)", boardID, len(snapshot))
	return handle
}

// Get returns the handle only if the board is currently resident. Does
// not take a reference; used by the persister.
func (s *Store) Get(boardID string) (doc.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[boardID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Release drops one reference. The handle leaves memory when the last
// holder lets go.
func (s *Store) Release(boardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.docs[boardID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(s.docs, boardID)
	}
}

// Count reports how many boards are resident in memory.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
