package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/questline/api/internal/broadcast"
	"github.com/questline/api/internal/store"
)

// WSHandler upgrades a device connection and forwards its session's
// broadcast channel. Push is an optimization over the backup poll; a
// dropped connection just means the device converges on its next poll.
type WSHandler struct {
	store       *store.Store
	broadcaster *broadcast.Broadcaster
	upgrader    websocket.Upgrader
}

func NewWSHandler(s *store.Store, b *broadcast.Broadcaster) *WSHandler {
	return &WSHandler{
		store:       s,
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve handles GET /ws?sessionId=...
func (h *WSHandler) Serve(c *gin.Context) {
	userID := c.GetInt64("userID")
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	session, err := h.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	if _, err := h.store.GetMembership(c.Request.Context(), session.ID, userID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this session"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed for session %s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	sub := h.broadcaster.Subscribe(ctx, sessionID)
	defer sub.Close()

	// Initial snapshot so a reconnecting device lands on server truth
	// without waiting for the next transition.
	snapshot, _ := json.Marshal(broadcast.UpdateFor(session))
	if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
		return
	}

	// Reader drains control frames and detects the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case update, open := <-sub.Updates():
			if !open {
				return
			}
			payload, err := json.Marshal(update)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
