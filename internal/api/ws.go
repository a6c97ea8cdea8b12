package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"linkedin-gateway/internal/wsproxy"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS middleware; extensions
	// connect from extension origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket authenticates and attaches the extension's proxy socket.
// The API key travels in the X-API-Key header or an api_key query
// parameter (browser WebSocket clients cannot set headers).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("api_key")
	}

	userID, err := s.registry.Authenticate(key)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// A /ws/<user_id> path must match the authenticated identity.
	if pathUser := chi.URLParam(r, "userID"); pathUser != "" && pathUser != userID {
		msg := websocket.FormatCloseMessage(wsproxy.CloseUnauthorized, "user id mismatch")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	s.proxy.Attach(userID, conn)
}
