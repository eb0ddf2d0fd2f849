package access

import (
	"log"

	"github.com/slatehq/slate-server/internal/db"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Resolver decides whether a caller may join a board and with which role.
// It has no side effects; lookup failures deny access rather than erroring.
type Resolver struct {
	database *db.Database
}

func NewResolver(database *db.Database) *Resolver {
	return &Resolver{database: database}
}

// Resolve computes (permitted, role) for a caller. userID is "" for
// anonymous callers. A missing board and a denied caller look identical
// to the client so board existence does not leak.
func (r *Resolver) Resolve(boardID, userID string) (bool, Role) {
	board, err := r.database.GetBoard(boardID)
	if err != nil {
		log.Printf("Access check failed for board %s: %v", boardID, err)
		return false, ""
	}
	if board == nil {
		return false, ""
	}

	if userID != "" && board.OwnerID == userID {
		return true, RoleOwner
	}

	if userID != "" {
		role, err := r.database.GetMemberRole(boardID, userID)
		if err != nil {
			log.Printf("Member lookup failed for board %s user %s: %v", boardID, userID, err)
			return false, ""
		}
		switch Role(role) {
		case RoleOwner, RoleEditor, RoleViewer:
			return true, Role(role)
		}
	}

	if board.IsPublic {
		return true, RoleViewer
	}

	return false, ""
}
