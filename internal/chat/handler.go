package chat

import (
	"net/http"

	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"

	"petconnect/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is enforced by the reverse proxy.
	},
}

type Handler struct {
	hub    *Hub
	router Dispatcher
}

func NewHandler(hub *Hub, router Dispatcher) *Handler {
	return &Handler{hub: hub, router: router}
}

// ServeWs upgrades an authenticated request. It must sit behind the auth
// middleware; without an identity in the context the handshake is refused
// before any channel is joined.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		jww.WARN.Printf("[ws] upgrade failed for user %s: %v", id.UserID, err)
		return
	}

	client := h.hub.NewClient(conn, id)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h.router)
}
