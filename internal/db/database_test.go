package db

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "slate-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestDatabaseCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestCreateAndGetBoard(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateBoard("b1", "Roadmap", "u1", false); err != nil {
		t.Fatalf("CreateBoard failed: %v", err)
	}

	board, err := db.GetBoard("b1")
	if err != nil {
		t.Fatalf("GetBoard failed: %v", err)
	}
	if board == nil {
		t.Fatal("Board should exist")
	}
	if board.Name != "Roadmap" || board.OwnerID != "u1" || board.IsPublic {
		t.Errorf("Board fields mismatch: %+v", board)
	}
}

func TestGetBoardMissing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	board, err := db.GetBoard("nope")
	if err != nil {
		t.Fatalf("GetBoard failed: %v", err)
	}
	if board != nil {
		t.Error("Missing board should return nil, nil")
	}
}

func TestMemberRole(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateBoard("b1", "", "owner", false); err != nil {
		t.Fatalf("CreateBoard failed: %v", err)
	}
	if err := db.AddMember("b1", "u2", "editor"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	role, err := db.GetMemberRole("b1", "u2")
	if err != nil {
		t.Fatalf("GetMemberRole failed: %v", err)
	}
	if role != "editor" {
		t.Errorf("Expected editor, got %q", role)
	}

	// Upsert replaces the role
	if err := db.AddMember("b1", "u2", "viewer"); err != nil {
		t.Fatalf("AddMember upsert failed: %v", err)
	}
	role, _ = db.GetMemberRole("b1", "u2")
	if role != "viewer" {
		t.Errorf("Expected viewer after upsert, got %q", role)
	}

	role, err = db.GetMemberRole("b1", "stranger")
	if err != nil {
		t.Fatalf("GetMemberRole failed: %v", err)
	}
	if role != "" {
		t.Errorf("Non-member should have empty role, got %q", role)
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	data := []byte{0, 0, 0, 2, 7, 7}
	if err := db.SaveSnapshot("b1", data); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, _, err := db.GetSnapshot("b1")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Snapshot content mismatch")
	}
}

func TestSnapshotOverwrite(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.SaveSnapshot("b1", []byte{1})
	db.SaveSnapshot("b1", []byte{2, 3})

	got, _, err := db.GetSnapshot("b1")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if !bytes.Equal(got, []byte{2, 3}) {
		t.Error("Snapshot should be overwritten, not appended")
	}
}

func TestGetSnapshotMissing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	got, _, err := db.GetSnapshot("nothing")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if got != nil {
		t.Error("Missing snapshot should return nil bytes")
	}
}

func TestDeleteBoardCascades(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.CreateBoard("b1", "", "u1", false)
	db.SaveSnapshot("b1", []byte{9})

	if err := db.DeleteBoard("b1"); err != nil {
		t.Fatalf("DeleteBoard failed: %v", err)
	}

	board, _ := db.GetBoard("b1")
	if board != nil {
		t.Error("Board should be gone")
	}
}

func TestUserRoundtrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateUser("u1", "Ada", "ada@example.com"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	user, err := db.GetUser("u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user == nil || user.DisplayName != "Ada" || user.Email != "ada@example.com" {
		t.Errorf("User mismatch: %+v", user)
	}
}
