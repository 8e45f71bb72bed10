package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/questline/api/internal/model"
	"github.com/questline/api/internal/progression"
	"github.com/questline/api/internal/store"
)

// PaymentHandler consumes the payment collaborator's success signal. It is
// the only way a session moves Created -> Paid.
type PaymentHandler struct {
	store  *store.Store
	engine *progression.Engine
}

func NewPaymentHandler(s *store.Store, engine *progression.Engine) *PaymentHandler {
	return &PaymentHandler{store: s, engine: engine}
}

type PaymentWebhookRequest struct {
	SessionID   string `json:"sessionId"`
	UserID      int64  `json:"userId" binding:"required"`
	TrackID     string `json:"trackId"`
	TeamName    string `json:"teamName"`
	PlayerCount int    `json:"playerCount"`
}

// Webhook handles a completed checkout. Without a sessionId it creates the
// session and its leader membership; with one it re-marks the existing
// session paid, which makes webhook redelivery harmless.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	ctx := c.Request.Context()

	var session *model.Session
	if req.SessionID != "" {
		existing, err := h.store.GetSession(ctx, req.SessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
			return
		}
		session = existing
	} else {
		if req.TrackID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "trackId is required for a new session"})
			return
		}
		session = &model.Session{
			ID:       uuid.NewString(),
			TrackID:  req.TrackID,
			TeamName: req.TeamName,
			Active:   true,
		}
		if err := h.store.CreateSession(ctx, session); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}
	}

	if err := h.engine.Pay(ctx, session, req.TeamName, req.PlayerCount); err != nil {
		log.Printf("Failed to mark session %s paid: %v", session.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark session paid"})
		return
	}

	// The payer leads the team. Redelivery hits the unique index and is
	// ignored.
	if _, err := h.store.GetMembership(ctx, session.ID, req.UserID); errors.Is(err, store.ErrNotFound) {
		membership := &model.Membership{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			UserID:    req.UserID,
			IsLeader:  true,
		}
		if err := h.store.AddMember(ctx, membership); err != nil {
			log.Printf("Failed to add leader membership for session %s: %v", session.ID, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":          session.ID,
		"currentChallengeId": session.CurrentChallengeID,
	})
}
