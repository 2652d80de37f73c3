package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth happens before the upgrade; origin checks belong to the
	// deployment's proxy layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is what a connected client sends: join/leave for channels it
// wants invalidation events from. Channel membership is connection-scoped;
// after a reconnect the client must join again.
type clientFrame struct {
	Type    string `json:"type"` // "join" | "leave"
	Channel string `json:"channel"`
}

// WSHandler upgrades the request and bridges the hub to the socket. allowed
// reports whether the authenticated member may join a channel; it is how
// couple scoping is enforced on the realtime path.
type WSHandler struct {
	hub     *Hub
	allowed func(r *http.Request, channel string) bool
}

func NewWSHandler(hub *Hub, allowed func(r *http.Request, channel string) bool) *WSHandler {
	return &WSHandler{hub: hub, allowed: allowed}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := h.hub.Attach(32)
	defer sub.Close()
	defer conn.Close()

	go h.writeLoop(conn, sub)
	h.readLoop(conn, r, sub)
}

func (h *WSHandler) readLoop(conn *websocket.Conn, r *http.Request, sub *Subscription) {
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		channel := strings.TrimSpace(frame.Channel)
		if channel == "" {
			continue
		}

		switch frame.Type {
		case "join":
			if h.allowed != nil && !h.allowed(r, channel) {
				log.Printf("realtime: denied join to %s", channel)
				continue
			}
			sub.Join(channel)
		case "leave":
			sub.Leave(channel)
		}
	}
}

func (h *WSHandler) writeLoop(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
