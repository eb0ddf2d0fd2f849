package docstore

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/slatehq/slate-server/internal/db"
	"github.com/slatehq/slate-server/internal/doc"
)

func setupStore(t *testing.T) (*Store, *db.Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "slate-docstore-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}

	return New(doc.NewEngine(), database), database, cleanup
}

func TestAcquireReturnsSameHandle(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	a := store.Acquire("b1")
	b := store.Acquire("b1")
	if a != b {
		t.Error("Same board should return the same handle")
	}

	c := store.Acquire("b2")
	if a == c {
		t.Error("Different boards should have different handles")
	}
}

func TestAcquireConcurrentFirstJoin(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	var wg sync.WaitGroup
	handles := make([]doc.Handle, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = store.Acquire("fresh-board")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(handles); i++ {
		if handles[i] != handles[0] {
			t.Fatal("Concurrent first joins must construct exactly one handle")
		}
	}
	if store.Count() != 1 {
		t.Errorf("Expected 1 open document, got %d", store.Count())
	}
}

func TestAcquireLoadsSnapshot(t *testing.T) {
	store, database, cleanup := setupStore(t)
	defer cleanup()

	seed := doc.NewEngine().NewDocument()
	seed.ApplyUpdate([]byte("persisted"))
	if err := database.SaveSnapshot("b1", seed.Encode()); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	handle := store.Acquire("b1")
	if !bytes.Equal(handle.Encode(), seed.Encode()) {
		t.Error("Handle should start from the persisted snapshot")
	}
}

func TestAcquireNoSnapshotStartsEmpty(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	handle := store.Acquire("never-seen")
	if len(handle.Encode()) != 0 {
		t.Error("Board without a snapshot should start empty")
	}
}

func TestReleaseDropsMemory(t *testing.T) {
	store, database, cleanup := setupStore(t)
	defer cleanup()

	handle := store.Acquire("b1")
	handle.ApplyUpdate([]byte("in-memory-only"))
	persisted := doc.NewEngine().NewDocument()
	persisted.ApplyUpdate([]byte("durable"))
	database.SaveSnapshot("b1", persisted.Encode())

	store.Release("b1")
	if _, ok := store.Get("b1"); ok {
		t.Fatal("Released board should not be resident")
	}

	// A rejoin reloads strictly from the persisted snapshot
	reloaded := store.Acquire("b1")
	if !bytes.Equal(reloaded.Encode(), persisted.Encode()) {
		t.Error("Rejoin should restore from durable state, not residual memory")
	}
}

func TestHandleSurvivesWhileReferenced(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	first := store.Acquire("b1")
	first.ApplyUpdate([]byte("live-edit"))

	// A second holder arrives before the first lets go
	second := store.Acquire("b1")
	store.Release("b1")

	resident, ok := store.Get("b1")
	if !ok {
		t.Fatal("Handle must stay resident while a reference remains")
	}
	if resident != second || !bytes.Equal(resident.Encode(), first.Encode()) {
		t.Error("Remaining holder should see the same live document")
	}

	store.Release("b1")
	if _, ok := store.Get("b1"); ok {
		t.Error("Last release should drop the handle")
	}
}

func TestReleaseWithoutAcquireIsNoOp(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	store.Release("never-acquired")
	if store.Count() != 0 {
		t.Error("Release of an unknown board should change nothing")
	}
}
