package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/camroom/camroom/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStorageError maps storage sentinels onto HTTP statuses.
func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrNotAuthorized),
		errors.Is(err, storage.ErrBanned),
		errors.Is(err, storage.ErrGuestChat),
		errors.Is(err, storage.ErrFreeTierDM):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, storage.ErrUsernameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

// POST /api/session — sync an identity-provider subject into an account.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
		Email   string `json:"email"`
	}
	if err := decode(r, &req); err != nil || req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject required")
		return
	}
	user, err := s.db.GetOrCreateUser(req.Subject, req.Email)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// POST /api/users/claim — claim a permanent username, creating its room.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject  string `json:"subject"`
		Username string `json:"username"`
	}
	if err := decode(r, &req); err != nil || req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject required")
		return
	}
	user, err := s.db.GetOrCreateUser(req.Subject, "")
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if err := s.db.ClaimUsername(user.ID, req.Username); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PUT /api/users/tier
func (s *Server) handleTier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tier string `json:"tier"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	if err := s.db.UpdateUserTier(requestUser(r).ID, req.Tier); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/rooms — the directory: active rooms with someone on camera.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.db.ListActiveRooms()
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if rooms == nil {
		rooms = []storage.RoomSummary{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.db.GetRoomByName(chi.URLParam(r, "room"))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	_ = decode(r, &req) // body optional

	p, err := s.db.JoinRoom(chi.URLParam(r, "room"), requestUser(r).ID, req.DisplayName)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.db.LeaveRoom(chi.URLParam(r, "room"), requestUser(r).ID); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	parts, err := s.db.Participants(chi.URLParam(r, "room"))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if parts == nil {
		parts = []storage.Participant{}
	}
	writeJSON(w, http.StatusOK, parts)
}

// GET /api/rooms/{room}/messages?limit=N
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.db.Messages(chi.URLParam(r, "room"), limit)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decode(r, &req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	msg, err := s.db.SendMessage(chi.URLParam(r, "room"), requestUser(r).ID, req.Content)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleSendDM(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To      string `json:"to"`
		Content string `json:"content"`
	}
	if err := decode(r, &req); err != nil || req.To == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "to and content required")
		return
	}
	dm, err := s.db.SendDirectMessage(chi.URLParam(r, "room"), requestUser(r).ID, req.To, req.Content)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dm)
}

// Moderation bodies all carry the target username and, for bans, a reason.
type modRequest struct {
	Username string `json:"username"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) modRequest(w http.ResponseWriter, r *http.Request) (modRequest, bool) {
	var req modRequest
	if err := decode(r, &req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return req, false
	}
	return req, true
}

func (s *Server) handleAssignModerator(w http.ResponseWriter, r *http.Request) {
	req, ok := s.modRequest(w, r)
	if !ok {
		return
	}
	if err := s.db.AssignModerator(chi.URLParam(r, "room"), requestUser(r).ID, req.Username); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignRegular(w http.ResponseWriter, r *http.Request) {
	req, ok := s.modRequest(w, r)
	if !ok {
		return
	}
	if err := s.db.AssignRegular(chi.URLParam(r, "room"), requestUser(r).ID, req.Username); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	req, ok := s.modRequest(w, r)
	if !ok {
		return
	}
	if err := s.db.KickUser(chi.URLParam(r, "room"), requestUser(r).ID, req.Username); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	req, ok := s.modRequest(w, r)
	if !ok {
		return
	}
	if err := s.db.BanUser(chi.URLParam(r, "room"), requestUser(r).ID, req.Username, req.Reason); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	req, ok := s.modRequest(w, r)
	if !ok {
		return
	}
	if err := s.db.UnbanUser(chi.URLParam(r, "room"), requestUser(r).ID, req.Username); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBanList(w http.ResponseWriter, r *http.Request) {
	bans, err := s.db.BanList(chi.URLParam(r, "room"))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if bans == nil {
		bans = []storage.Ban{}
	}
	writeJSON(w, http.StatusOK, bans)
}

func (s *Server) handleSitewideBan(w http.ResponseWriter, r *http.Request) {
	req, ok := s.modRequest(w, r)
	if !ok {
		return
	}
	if err := s.db.SitewideBan(requestUser(r).ID, req.Username, req.Reason); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.db.FavoriteRooms(requestUser(r).ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if rooms == nil {
		rooms = []storage.RoomSummary{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// GET /api/favorites/{room} — whether the caller has starred the room.
func (s *Server) handleIsFavorited(w http.ResponseWriter, r *http.Request) {
	fav, err := s.db.IsFavorited(requestUser(r).ID, chi.URLParam(r, "room"))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorited": fav})
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	if err := s.db.AddFavorite(requestUser(r).ID, chi.URLParam(r, "room")); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if err := s.db.RemoveFavorite(requestUser(r).ID, chi.URLParam(r, "room")); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
