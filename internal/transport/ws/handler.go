package ws

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/transport/http/middleware"
	"nhooyr.io/websocket"
)

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (browsers can't set headers on the upgrade).
// The connection lives until the client leaves or ctx is cancelled.
func ServeWS(ctx context.Context, hub *Hub, inbound InboundHandler, jwtSecret string, log zerolog.Logger) http.HandlerFunc {
	log = log.With().Str("component", "ws").Logger()

	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		userID, err := middleware.ParseToken(tokenStr, jwtSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // Allow any origin (dev mode)
		})
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket accept failed")
			return
		}

		client := NewClient(hub, conn, userID, inbound, log)
		if !hub.Register(client) {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}

		go client.WritePump(ctx)
		go client.ReadPump(ctx)
	}
}
