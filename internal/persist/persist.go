package persist

import (
	"log"
	"sync"
	"time"

	"github.com/slatehq/slate-server/internal/db"
	"github.com/slatehq/slate-server/internal/docstore"
)

type Config struct {
	// How long scheduled boards sit in the dirty set before a write,
	// coalescing bursts of edits into one snapshot
	FlushDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		FlushDelay: 200 * time.Millisecond,
	}
}

// Coordinator writes board snapshots behind the editing path. Writes are
// fire-and-forget: a failure is logged and the next successful update
// schedules another attempt.
type Coordinator struct {
	database *db.Database
	docs     *docstore.Store
	config   Config

	dirty map[string]struct{}
	mu    sync.Mutex

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

func New(database *db.Database, docs *docstore.Store, config Config) *Coordinator {
	return &Coordinator{
		database: database,
		docs:     docs,
		config:   config,
		dirty:    make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.run()
	log.Printf("💾 Persistence coordinator started (flush delay: %v)", c.config.FlushDelay)
}

// Stop drains the dirty set one last time before returning.
func (c *Coordinator) Stop() {
	close(c.stop)
	c.wg.Wait()
	c.flushDirty()
	log.Println("💾 Persistence coordinator stopped")
}

// Schedule marks a board for an asynchronous snapshot write. Never blocks.
func (c *Coordinator) Schedule(boardID string) {
	c.mu.Lock()
	c.dirty[boardID] = struct{}{}
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Flush writes a board's snapshot immediately. Used on room close, before
// the in-memory handle is released.
func (c *Coordinator) Flush(boardID string) {
	c.mu.Lock()
	delete(c.dirty, boardID)
	c.mu.Unlock()

	c.write(boardID)
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stop:
			return
		case <-c.kick:
			if c.config.FlushDelay > 0 {
				select {
				case <-c.stop:
					return
				case <-time.After(c.config.FlushDelay):
				}
			}
			c.flushDirty()
		}
	}
}

func (c *Coordinator) flushDirty() {
	c.mu.Lock()
	boards := make([]string, 0, len(c.dirty))
	for boardID := range c.dirty {
		boards = append(boards, boardID)
	}
	c.dirty = make(map[string]struct{})
	c.mu.Unlock()

	for _, boardID := range boards {
		c.write(boardID)
	}
}

func (c *Coordinator) write(boardID string) {
	handle, ok := c.docs.Get(boardID)
	if !ok {
		// Every reference was released; the disconnect-path flush
		// handled the final write
		return
	}

	if err := c.database.SaveSnapshot(boardID, handle.Encode()); err != nil {
		log.Printf("Snapshot write failed for board %s: %v", boardID, err)
	}
}
