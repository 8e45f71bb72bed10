package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/questline/api/internal/client"
	"github.com/questline/api/internal/middleware"
	"github.com/questline/api/internal/model"
	"github.com/questline/api/internal/progression"
	"github.com/questline/api/internal/store"
)

type GameHandler struct {
	store        *store.Store
	engine       *progression.Engine
	availability *client.AvailabilityClient
}

func NewGameHandler(s *store.Store, engine *progression.Engine, availability *client.AvailabilityClient) *GameHandler {
	return &GameHandler{store: s, engine: engine, availability: availability}
}

type AnswerRequest struct {
	BelievedCurrentChallengeID string `json:"believedCurrentChallengeId" binding:"required"`
	AnswerText                 string `json:"answerText" binding:"required"`
}

type SkipRequest struct {
	Emergency bool `json:"emergency"`
}

// Answer checks a typed answer against the team's current challenge and
// advances on a match. A client whose believed current challenge disagrees
// with the server's gets a 409 carrying the true current id.
func (h *GameHandler) Answer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "believedCurrentChallengeId and answerText are required"})
		return
	}

	session, _, ok := h.currentSession(c)
	if !ok {
		return
	}

	result, err := h.engine.SubmitAnswer(c.Request.Context(), session, req.BelievedCurrentChallengeID, req.AnswerText)
	if err != nil {
		middleware.RecordProgression("answer", outcomeFor(err))
		respondProgressionError(c, err)
		return
	}

	middleware.RecordProgression("answer", "ok")
	c.JSON(http.StatusOK, result)
}

// Skip advances the team past the current challenge without proof. Leaders
// always may; other members only when the location is closed or closing
// soon. An unreachable availability signal only disables the emergency path
// for this request.
func (h *GameHandler) Skip(c *gin.Context) {
	var req SkipRequest
	c.ShouldBindJSON(&req)

	session, membership, ok := h.currentSession(c)
	if !ok {
		return
	}

	var availability *client.Availability
	if !membership.IsLeader && req.Emergency && session.CurrentChallengeID != nil {
		availability = h.lookupAvailability(c, *session.CurrentChallengeID)
	}

	result, err := h.engine.Skip(c.Request.Context(), session, membership, availability)
	if err != nil {
		middleware.RecordProgression("skip", outcomeFor(err))
		respondProgressionError(c, err)
		return
	}

	middleware.RecordProgression("skip", "ok")
	c.JSON(http.StatusOK, result)
}

// Start begins the game. Leader only; resets the team to the track's first
// challenge even if a racing payment retry already touched the pointer.
func (h *GameHandler) Start(c *gin.Context) {
	session, membership, ok := h.currentSession(c)
	if !ok {
		return
	}

	if err := h.engine.Start(c.Request.Context(), session, membership); err != nil {
		middleware.RecordProgression("start", outcomeFor(err))
		respondProgressionError(c, err)
		return
	}

	middleware.RecordProgression("start", "ok")
	c.JSON(http.StatusOK, gin.H{"currentChallengeId": session.CurrentChallengeID})
}

// Status is the poll half of the dual-path sync: a direct re-read of server
// truth for one session.
func (h *GameHandler) Status(c *gin.Context) {
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

	membership, err := h.store.GetMembership(c.Request.Context(), session.ID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this session", "reason": progression.ReasonNotMember})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load membership"})
		return
	}

	resp := gin.H{
		"active":             session.Active,
		"paid":               session.Paid,
		"started":            session.Started,
		"finished":           session.Finished,
		"currentChallengeId": session.CurrentChallengeID,
		"skipCount":          session.SkipCount,
		"isLeader":           membership.IsLeader,
	}
	if !session.Active {
		resp["reason"] = "expired"
	}
	c.JSON(http.StatusOK, resp)
}

type JoinRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// Join adds the caller to a session, up to its player limit. Re-joining is
// a no-op success so an invite link can be opened twice.
func (h *GameHandler) Join(c *gin.Context) {
	userID := c.GetInt64("userID")

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	session, err := h.store.GetSession(c.Request.Context(), req.SessionID)
	if err != nil || !session.Active {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found or expired"})
		return
	}

	if existing, err := h.store.GetMembership(c.Request.Context(), session.ID, userID); err == nil {
		c.JSON(http.StatusOK, existing)
		return
	}

	count, err := h.store.CountMembers(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count members"})
		return
	}
	if session.PlayerLimit > 0 && count >= int64(session.PlayerLimit) {
		c.JSON(http.StatusConflict, gin.H{"error": "session is full"})
		return
	}

	membership := &model.Membership{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		UserID:    userID,
		IsLeader:  false,
	}
	if err := h.store.AddMember(c.Request.Context(), membership); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join session"})
		return
	}

	c.JSON(http.StatusCreated, membership)
}

// currentSession resolves the caller's active session and membership. Game
// requests carry no session id: a user plays at most one session at a time.
func (h *GameHandler) currentSession(c *gin.Context) (*model.Session, *model.Membership, bool) {
	userID := c.GetInt64("userID")

	session, membership, err := h.store.FindSessionForUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session", "reason": progression.ReasonNoSession})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		}
		return nil, nil, false
	}
	return session, membership, true
}

// lookupAvailability consults the opening-hours signal for the current
// challenge's location. Failures are logged and swallowed: the request goes
// on without emergency standing.
func (h *GameHandler) lookupAvailability(c *gin.Context, challengeID string) *client.Availability {
	challenge, err := h.store.GetChallenge(c.Request.Context(), challengeID)
	if err != nil {
		log.Printf("Failed to load challenge %s for availability check: %v", challengeID, err)
		return nil
	}

	availability, err := h.availability.GetAvailability(c.Request.Context(), challenge.LocationRef)
	if err != nil {
		middleware.RecordAvailabilityCall("error")
		log.Printf("Availability signal failed for %s: %v", challenge.LocationRef, err)
		return nil
	}

	middleware.RecordAvailabilityCall(availability.Status)
	return availability
}

// respondProgressionError maps engine failures onto the HTTP surface.
func respondProgressionError(c *gin.Context, err error) {
	var stale *progression.StaleError
	switch {
	case errors.As(err, &stale):
		c.JSON(http.StatusConflict, gin.H{
			"error":                    "client out of sync",
			"reason":                   progression.ReasonStale,
			"serverCurrentChallengeId": stale.ServerCurrentID,
		})
	case errors.Is(err, progression.ErrAntiCheat):
		c.JSON(http.StatusForbidden, gin.H{"error": "challenge is further ahead than allowed", "reason": progression.ReasonSkipAhead})
	case errors.Is(err, progression.ErrWrongTrack):
		c.JSON(http.StatusForbidden, gin.H{"error": "challenge belongs to another track", "reason": progression.ReasonWrongTrack})
	case errors.Is(err, progression.ErrSkipDenied), errors.Is(err, progression.ErrNotLeader):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this action"})
	case errors.Is(err, progression.ErrSessionClosed), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found or expired"})
	case errors.Is(err, progression.ErrNotPaid):
		c.JSON(http.StatusConflict, gin.H{"error": "session not paid"})
	case errors.Is(err, progression.ErrNotStarted):
		c.JSON(http.StatusConflict, gin.H{"error": "session not started"})
	default:
		log.Printf("Progression error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "progression update failed", "reason": progression.ReasonUpdateFailed})
	}
}

// outcomeFor labels an engine failure for metrics.
func outcomeFor(err error) string {
	var stale *progression.StaleError
	switch {
	case errors.As(err, &stale):
		return progression.ReasonStale
	case errors.Is(err, progression.ErrAntiCheat):
		return progression.ReasonSkipAhead
	case errors.Is(err, progression.ErrWrongTrack):
		return progression.ReasonWrongTrack
	case errors.Is(err, progression.ErrSkipDenied), errors.Is(err, progression.ErrNotLeader):
		return "denied"
	case errors.Is(err, progression.ErrSessionClosed):
		return "closed"
	case errors.Is(err, progression.ErrNotPaid):
		return "not_paid"
	case errors.Is(err, progression.ErrNotStarted):
		return "not_started"
	default:
		return progression.ReasonUpdateFailed
	}
}
