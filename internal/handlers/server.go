// internal/handlers/server.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/macqm/teexid/internal/auth"
	"github.com/macqm/teexid/internal/dispatch"
	"github.com/macqm/teexid/internal/game"
	"github.com/macqm/teexid/internal/middleware"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// Server holds what the HTTP and websocket handlers need.
type Server struct {
	Logger     logrus.FieldLogger
	Dispatcher *dispatch.Dispatcher
	Directory  *game.Directory

	// Keys issues guest tokens and checks handshake tokens. Nil disables both.
	Keys *auth.Keys
	// Origins are the websocket origin patterns accepted besides the request host.
	Origins []string
	// PublicURL is the base used in invite links. The request host is used when empty.
	PublicURL string
	Version   string
}

// Routes builds the router:
//
//	GET  /healthz
//	GET  /version
//	POST /auth/guest
//	GET  /rooms
//	GET  /rooms/:name/qr
//	GET  /ws
func (s *Server) Routes() http.Handler {
	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		s.Logger.WithField("path", r.URL.Path).Errorf("panic serving request: %v", v)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}

	mux.GET("/healthz", s.healthHandler)
	mux.GET("/version", s.versionHandler)
	mux.POST("/auth/guest", s.guestHandler)
	mux.GET("/rooms", s.roomsHandler)
	mux.GET("/rooms/:name/qr", s.qrHandler)
	mux.GET("/ws", s.wsHandler)

	return middleware.LogMiddleware(s.Logger)(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Ok\n")
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "teexid v"+s.Version+"\n")
}

type guestRequest struct {
	PlayerID string `json:"playerId"`
}

type guestResponse struct {
	PlayerID uuid.UUID `json:"playerId"`
	Token    string    `json:"token"`
}

// guestHandler issues a session token for a guest player and sets it as a cookie.
// A client may keep its existing id by sending it; otherwise a new one is minted.
func (s *Server) guestHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.Keys == nil {
		http.Error(w, "guest sessions are disabled", http.StatusNotFound)
		return
	}

	var req guestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	playerID := uuid.New()
	if strings.TrimSpace(req.PlayerID) != "" {
		id, err := dispatch.PlayerID(req.PlayerID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		playerID = id
	}

	token, err := s.Keys.CreateToken(playerID)
	if err != nil {
		s.Logger.Errorf("failed to create guest token: %v", err)
		http.Error(w, "failed to create token", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, guestResponse{PlayerID: playerID, Token: token})
}

func (s *Server) roomsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, s.Directory.Summaries(ctx))
}

// inviteURL links to the client with the room preselected.
func (s *Server) inviteURL(r *http.Request, room string) string {
	base := strings.TrimSuffix(s.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?" + url.Values{"room": {room}}.Encode()
}

// qrHandler renders a PNG QR code of the invite link for a room.
func (s *Server) qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := strings.TrimSpace(ps.ByName("name"))
	if name == "" {
		http.Error(w, "missing room name", http.StatusBadRequest)
		return
	}

	png, err := qrcode.Encode(s.inviteURL(r, name), qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}
