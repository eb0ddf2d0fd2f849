package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slatehq/slate-server/internal/db"
	"github.com/slatehq/slate-server/internal/docstore"
	"github.com/slatehq/slate-server/internal/room"
)

type API struct {
	manager  *room.Manager
	docs     *docstore.Store
	database *db.Database
}

func New(manager *room.Manager, docs *docstore.Store, database *db.Database) *API {
	return &API{
		manager:  manager,
		docs:     docs,
		database: database,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.manager.RoomCount(),
		"active_clients": a.manager.ClientCount(),
		"open_documents": a.docs.Count(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_boards"] = dbStats["board_count"]
			stats["total_snapshots"] = dbStats["snapshot_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Board handlers

type BoardResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`
	IsPublic    bool      `json:"is_public"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers int       `json:"active_users"`
}

type CreateBoardRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	OwnerID  string `json:"owner_id,omitempty"`
	IsPublic bool   `json:"is_public,omitempty"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type MemberResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type SetVisibilityRequest struct {
	IsPublic *bool `json:"is_public"`
}

// BoardsRouter dispatches /api/boards and its board-scoped subpaths:
// {id}, {id}/members, {id}/members/{userId}, {id}/visibility
func (a *API) BoardsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/boards")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			a.listBoards(w, r)
		case http.MethodPost:
			a.createBoard(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")
	boardID := parts[0]

	if len(parts) == 2 && parts[1] == "members" {
		switch r.Method {
		case http.MethodGet:
			a.listMembers(w, r, boardID)
		case http.MethodPost:
			a.addMember(w, r, boardID)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	if len(parts) == 3 && parts[1] == "members" {
		if r.Method == http.MethodDelete {
			a.removeMember(w, r, boardID, parts[2])
			return
		}
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if len(parts) == 2 && parts[1] == "visibility" {
		if r.Method == http.MethodPost {
			a.setVisibility(w, r, boardID)
			return
		}
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getBoard(w, r, boardID)
	case http.MethodDelete:
		a.deleteBoard(w, r, boardID)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *API) listBoards(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	boards, err := a.database.ListBoards(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list boards")
		return
	}

	activeRooms := a.manager.ActiveRooms()

	response := make([]BoardResponse, len(boards))
	for i, board := range boards {
		response[i] = boardResponse(board, activeRooms[board.ID])
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"boards": response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) createBoard(w http.ResponseWriter, r *http.Request) {
	var req CreateBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if err := a.database.CreateBoard(req.ID, req.Name, req.OwnerID, req.IsPublic); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create board")
		return
	}

	board, err := a.database.GetBoard(req.ID)
	if err != nil || board == nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load created board")
		return
	}

	jsonResponse(w, http.StatusCreated, boardResponse(*board, 0))
}

func (a *API) getBoard(w http.ResponseWriter, r *http.Request, boardID string) {
	board, err := a.database.GetBoard(boardID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load board")
		return
	}
	if board == nil {
		errorResponse(w, http.StatusNotFound, "Board not found")
		return
	}

	jsonResponse(w, http.StatusOK, boardResponse(*board, a.manager.ActiveRooms()[boardID]))
}

func (a *API) deleteBoard(w http.ResponseWriter, r *http.Request, boardID string) {
	if err := a.database.DeleteBoard(boardID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete board")
		return
	}
	// Snapshots are keyed separately and do not cascade
	if err := a.database.DeleteSnapshot(boardID); err != nil {
		log.Printf("Failed to delete snapshot for board %s: %v", boardID, err)
	}
	jsonResponse(w, http.StatusOK, map[string]string{"deleted": boardID})
}

func (a *API) addMember(w http.ResponseWriter, r *http.Request, boardID string) {
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Role != "editor" && req.Role != "viewer" {
		errorResponse(w, http.StatusBadRequest, "Role must be editor or viewer")
		return
	}

	board, err := a.database.GetBoard(boardID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load board")
		return
	}
	if board == nil {
		errorResponse(w, http.StatusNotFound, "Board not found")
		return
	}

	if err := a.database.AddMember(boardID, req.UserID, req.Role); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to add member")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{
		"board_id": boardID,
		"user_id":  req.UserID,
		"role":     req.Role,
	})
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request, boardID string) {
	board, err := a.database.GetBoard(boardID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load board")
		return
	}
	if board == nil {
		errorResponse(w, http.StatusNotFound, "Board not found")
		return
	}

	members, err := a.database.ListMembers(boardID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list members")
		return
	}

	response := make([]MemberResponse, len(members))
	for i, m := range members {
		response[i] = MemberResponse{UserID: m.UserID, Role: m.Role}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"board_id": boardID,
		"members":  response,
	})
}

func (a *API) removeMember(w http.ResponseWriter, r *http.Request, boardID, userID string) {
	if err := a.database.RemoveMember(boardID, userID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to remove member")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{
		"board_id": boardID,
		"user_id":  userID,
	})
}

func (a *API) setVisibility(w http.ResponseWriter, r *http.Request, boardID string) {
	var req SetVisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsPublic == nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	board, err := a.database.GetBoard(boardID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load board")
		return
	}
	if board == nil {
		errorResponse(w, http.StatusNotFound, "Board not found")
		return
	}

	if err := a.database.SetBoardPublic(boardID, *req.IsPublic); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to update visibility")
		return
	}

	updated, err := a.database.GetBoard(boardID)
	if err != nil || updated == nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load board")
		return
	}
	jsonResponse(w, http.StatusOK, boardResponse(*updated, a.manager.ActiveRooms()[boardID]))
}

func boardResponse(board db.Board, activeUsers int) BoardResponse {
	return BoardResponse{
		ID:          board.ID,
		Name:        board.Name,
		OwnerID:     board.OwnerID,
		IsPublic:    board.IsPublic,
		CreatedAt:   board.CreatedAt,
		UpdatedAt:   board.UpdatedAt,
		ActiveUsers: activeUsers,
	}
}
