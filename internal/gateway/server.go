// Package gateway exposes the room directory, chat and moderation surface
// over HTTP, and per-room live updates over WebSocket. It is a thin layer:
// every rule lives in storage, the gateway only maps identities in and
// sentinel errors out.
package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/camroom/camroom/internal/storage"
)

type ctxKey int

const userKey ctxKey = 0

// Server is the HTTP gateway.
type Server struct {
	db  *storage.DB
	hub *Hub
	srv *http.Server
}

// NewServer builds a gateway over the given store.
func NewServer(db *storage.DB) *Server {
	return &Server{db: db, hub: NewHub()}
}

// Routes assembles the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Session and claim are keyed by identity-provider subject: until a
	// username is claimed there is nothing for the identity middleware to
	// resolve.
	r.Post("/api/session", s.handleSession)
	r.Post("/api/users/claim", s.handleClaim)

	r.Group(func(r chi.Router) {
		r.Use(s.identity)

		r.Put("/api/users/tier", s.handleTier)

		r.Get("/api/rooms", s.handleListRooms)
		r.Get("/api/rooms/{room}", s.handleGetRoom)
		r.Post("/api/rooms/{room}/join", s.handleJoin)
		r.Post("/api/rooms/{room}/leave", s.handleLeave)
		r.Get("/api/rooms/{room}/participants", s.handleParticipants)

		r.Get("/api/rooms/{room}/messages", s.handleMessages)
		r.Post("/api/rooms/{room}/messages", s.handleSendMessage)
		r.Post("/api/rooms/{room}/dm", s.handleSendDM)

		r.Post("/api/rooms/{room}/moderators", s.handleAssignModerator)
		r.Post("/api/rooms/{room}/regulars", s.handleAssignRegular)
		r.Post("/api/rooms/{room}/kick", s.handleKick)
		r.Post("/api/rooms/{room}/ban", s.handleBan)
		r.Delete("/api/rooms/{room}/ban", s.handleUnban)
		r.Get("/api/rooms/{room}/bans", s.handleBanList)
		r.Post("/api/sitewide-ban", s.handleSitewideBan)

		r.Get("/api/favorites", s.handleFavorites)
		r.Get("/api/favorites/{room}", s.handleIsFavorited)
		r.Put("/api/favorites/{room}", s.handleAddFavorite)
		r.Delete("/api/favorites/{room}", s.handleRemoveFavorite)

		r.Get("/ws/rooms/{room}", s.handleRoomSocket)
	})

	return r
}

// Start serves on bind until Shutdown.
func (s *Server) Start(bind string) error {
	go s.hub.Run()
	s.srv = &http.Server{
		Addr:              bind,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("GATEWAY: listening on %s", bind)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the server and disconnects all sockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// identity resolves the X-Username header to an account. The identity
// provider in front of the gateway has already authenticated the caller;
// the header is its verdict.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := r.Header.Get("X-Username")
		if username == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Username header")
			return
		}
		user, err := s.db.GetUserByUsername(username)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func requestUser(r *http.Request) *storage.User {
	u, _ := r.Context().Value(userKey).(*storage.User)
	return u
}
