package db

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

type User struct {
	ID          string
	DisplayName string
	Email       string
}

type Board struct {
	ID        string
	Name      string
	OwnerID   string
	IsPublic  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Member struct {
	BoardID string
	UserID  string
	Role    string
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		is_public BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS board_members (
		board_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'viewer',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (board_id, user_id),
		FOREIGN KEY (board_id) REFERENCES boards(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_board_members_board_id ON board_members(board_id);

	CREATE TABLE IF NOT EXISTS board_snapshots (
		board_id TEXT PRIMARY KEY,
		snapshot_data BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (board_id) REFERENCES boards(id) ON DELETE CASCADE
	);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// User operations

func (d *Database) CreateUser(id, displayName, email string) error {
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO users (id, display_name, email) VALUES (?, ?, ?)",
		id, displayName, email,
	)
	return err
}

func (d *Database) GetUser(id string) (*User, error) {
	row := d.db.QueryRow(
		"SELECT id, display_name, email FROM users WHERE id = ?",
		id,
	)

	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Board operations

func (d *Database) CreateBoard(id, name, ownerID string, isPublic bool) error {
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO boards (id, name, owner_id, is_public) VALUES (?, ?, ?, ?)",
		id, name, ownerID, isPublic,
	)
	return err
}

func (d *Database) GetBoard(id string) (*Board, error) {
	row := d.db.QueryRow(
		"SELECT id, name, owner_id, is_public, created_at, updated_at FROM boards WHERE id = ?",
		id,
	)

	var board Board
	err := row.Scan(&board.ID, &board.Name, &board.OwnerID, &board.IsPublic, &board.CreatedAt, &board.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &board, nil
}

func (d *Database) ListBoards(limit, offset int) ([]Board, error) {
	rows, err := d.db.Query(
		"SELECT id, name, owner_id, is_public, created_at, updated_at FROM boards ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var boards []Board
	for rows.Next() {
		var board Board
		if err := rows.Scan(&board.ID, &board.Name, &board.OwnerID, &board.IsPublic, &board.CreatedAt, &board.UpdatedAt); err != nil {
			return nil, err
		}
		boards = append(boards, board)
	}
	return boards, rows.Err()
}

func (d *Database) UpdateBoardTimestamp(id string) error {
	_, err := d.db.Exec(
		"UPDATE boards SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id,
	)
	return err
}

func (d *Database) SetBoardPublic(id string, isPublic bool) error {
	_, err := d.db.Exec(
		"UPDATE boards SET is_public = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		isPublic, id,
	)
	return err
}

func (d *Database) DeleteBoard(id string) error {
	_, err := d.db.Exec("DELETE FROM boards WHERE id = ?", id)
	return err
}

// Membership operations

func (d *Database) AddMember(boardID, userID, role string) error {
	_, err := d.db.Exec(`
		INSERT INTO board_members (board_id, user_id, role)
		VALUES (?, ?, ?)
		ON CONFLICT(board_id, user_id) DO UPDATE SET role = excluded.role
	`, boardID, userID, role)
	return err
}

// GetMemberRole returns the stored role, or "" when the user is not a member
func (d *Database) GetMemberRole(boardID, userID string) (string, error) {
	var role string
	err := d.db.QueryRow(
		"SELECT role FROM board_members WHERE board_id = ? AND user_id = ?",
		boardID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

func (d *Database) ListMembers(boardID string) ([]Member, error) {
	rows, err := d.db.Query(
		"SELECT board_id, user_id, role FROM board_members WHERE board_id = ?",
		boardID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.BoardID, &m.UserID, &m.Role); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (d *Database) RemoveMember(boardID, userID string) error {
	_, err := d.db.Exec(
		"DELETE FROM board_members WHERE board_id = ? AND user_id = ?",
		boardID, userID,
	)
	return err
}

// Snapshot operations

func (d *Database) SaveSnapshot(boardID string, snapshot []byte) error {
	// Ensure the board row exists so snapshots for ad-hoc board ids land
	if err := d.CreateBoard(boardID, "", "", false); err != nil {
		return err
	}

	_, err := d.db.Exec(`
		INSERT INTO board_snapshots (board_id, snapshot_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(board_id) DO UPDATE SET
			snapshot_data = excluded.snapshot_data,
			updated_at = CURRENT_TIMESTAMP
	`, boardID, snapshot)
	if err != nil {
		return err
	}

	return d.UpdateBoardTimestamp(boardID)
}

func (d *Database) GetSnapshot(boardID string) ([]byte, time.Time, error) {
	var snapshot []byte
	var updatedAt time.Time
	err := d.db.QueryRow(
		"SELECT snapshot_data, updated_at FROM board_snapshots WHERE board_id = ?",
		boardID,
	).Scan(&snapshot, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return snapshot, updatedAt, nil
}

func (d *Database) DeleteSnapshot(boardID string) error {
	_, err := d.db.Exec("DELETE FROM board_snapshots WHERE board_id = ?", boardID)
	return err
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var boardCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM boards").Scan(&boardCount); err != nil {
		return nil, err
	}
	stats["board_count"] = boardCount

	var snapshotCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM board_snapshots").Scan(&snapshotCount); err != nil {
		return nil, err
	}
	stats["snapshot_count"] = snapshotCount

	return stats, nil
}
