package session

import (
	"encoding/json"

	"github.com/slatehq/slate-server/internal/room"
)

// Inbound message kinds
const (
	MsgJoin      = "join"
	MsgSync      = "sync"
	MsgUpdate    = "update"
	MsgCursor    = "cursor"
	MsgAwareness = "awareness"
)

// Outbound message kinds
const (
	MsgSyncBoard       = "sync-board"
	MsgActiveUsers     = "active-users"
	MsgUserJoined      = "user-joined"
	MsgUserLeft        = "user-left"
	MsgUserRole        = "user-role"
	MsgBoardUpdate     = "board-update"
	MsgCursorUpdate    = "cursor-update"
	MsgAwarenessUpdate = "awareness-update"
	MsgError           = "error"
)

// Inbound is the envelope every client message arrives in. Only the
// fields for the given type are set; binary payloads ride as base64.
type Inbound struct {
	Type        string          `json:"type"`
	BoardID     string          `json:"boardId,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Email       string          `json:"email,omitempty"`
	State       []byte          `json:"state,omitempty"`
	Update      []byte          `json:"update,omitempty"`
	X           json.RawMessage `json:"x,omitempty"`
	Y           json.RawMessage `json:"y,omitempty"`
	Awareness   json.RawMessage `json:"awareness,omitempty"`
}

type SyncBoard struct {
	Type  string `json:"type"`
	State []byte `json:"state"`
}

type ActiveUsers struct {
	Type  string             `json:"type"`
	Users []room.RosterEntry `json:"users"`
}

type UserJoined struct {
	Type        string `json:"type"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	Color       string `json:"color"`
	Role        string `json:"role"`
	TransportID string `json:"transportId"`
}

type UserLeft struct {
	Type        string `json:"type"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName"`
	TransportID string `json:"transportId"`
}

type UserRole struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

type BoardUpdate struct {
	Type   string `json:"type"`
	Update []byte `json:"update"`
}

type CursorUpdate struct {
	Type        string       `json:"type"`
	UserID      string       `json:"userId,omitempty"`
	TransportID string       `json:"transportId"`
	Color       string       `json:"color"`
	Cursor      *room.Cursor `json:"cursor"`
}

type AwarenessUpdate struct {
	Type        string          `json:"type"`
	UserID      string          `json:"userId,omitempty"`
	TransportID string          `json:"transportId"`
	Color       string          `json:"color"`
	Awareness   json.RawMessage `json:"awareness"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
