package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/questline/api/internal/middleware"
	"github.com/questline/api/internal/model"
	"github.com/questline/api/internal/progression"
	"github.com/questline/api/internal/store"
	"github.com/questline/api/internal/validator"
)

// ScanHandler serves the place-bound QR codes. A scan always ends in a
// redirect: to the team's authoritative current challenge on success (and on
// stale re-scans), or to the unauthorized view with a typed reason. Phones
// scanning a poster never get a JSON dead end.
type ScanHandler struct {
	store       *store.Store
	engine      *progression.Engine
	codes       *validator.CodeValidator
	frontendURL string
}

func NewScanHandler(s *store.Store, engine *progression.Engine, codes *validator.CodeValidator, frontendURL string) *ScanHandler {
	return &ScanHandler{store: s, engine: engine, codes: codes, frontendURL: frontendURL}
}

// Scan handles GET /scan/:challengeRef?token&issuedAt[&variant][&sessionId].
func (h *ScanHandler) Scan(c *gin.Context) {
	challengeRef := c.Param("challengeRef")
	token := c.Query("token")
	issuedAtStr := c.Query("issuedAt")

	issuedAtUnix, err := strconv.ParseInt(issuedAtStr, 10, 64)
	if err != nil || token == "" {
		h.unauthorized(c, progression.ReasonInvalidToken)
		return
	}
	issuedAt := time.Unix(issuedAtUnix, 0)

	window := validator.PosterCodeWindow
	if c.Query("variant") == "short" {
		window = validator.ShortCodeWindow
	}
	if err := h.codes.Validate(challengeRef, token, issuedAt, window); err != nil {
		middleware.RecordProgression("scan", progression.ReasonInvalidToken)
		h.unauthorized(c, progression.ReasonInvalidToken)
		return
	}

	userID := c.GetInt64("userID")
	if userID == 0 {
		h.unauthorized(c, progression.ReasonNoSession)
		return
	}

	session, _, ok := h.resolveSession(c, userID)
	if !ok {
		return
	}

	target, err := h.store.GetChallenge(c.Request.Context(), challengeRef)
	if err != nil {
		// A valid code for a challenge we no longer know: the physical
		// sticker is for a retired or foreign location.
		h.unauthorized(c, progression.ReasonWrongLocation)
		return
	}

	err = h.engine.Advance(c.Request.Context(), session, target)
	if err != nil {
		var stale *progression.StaleError
		switch {
		case errors.As(err, &stale):
			// The team is already further along; send the device there.
			middleware.RecordProgression("scan", progression.ReasonStale)
			h.challenge(c, stale.ServerCurrentID)
		case errors.Is(err, progression.ErrAntiCheat):
			middleware.RecordProgression("scan", progression.ReasonSkipAhead)
			h.unauthorized(c, progression.ReasonSkipAhead)
		case errors.Is(err, progression.ErrWrongTrack):
			middleware.RecordProgression("scan", progression.ReasonWrongTrack)
			h.unauthorized(c, progression.ReasonWrongTrack)
		case errors.Is(err, progression.ErrSessionClosed),
			errors.Is(err, progression.ErrNotPaid),
			errors.Is(err, progression.ErrNotStarted):
			h.unauthorized(c, progression.ReasonNoSession)
		default:
			middleware.RecordProgression("scan", progression.ReasonUpdateFailed)
			h.unauthorized(c, progression.ReasonUpdateFailed)
		}
		return
	}

	middleware.RecordProgression("scan", "ok")
	h.challenge(c, *session.CurrentChallengeID)
}

// resolveSession finds the session the scanning user plays in. An explicit
// sessionId query distinguishes "no session at all" from "not a member of
// that one".
func (h *ScanHandler) resolveSession(c *gin.Context, userID int64) (*model.Session, *model.Membership, bool) {
	if sessionID := c.Query("sessionId"); sessionID != "" {
		session, err := h.store.GetSession(c.Request.Context(), sessionID)
		if err != nil || !session.Active {
			h.unauthorized(c, progression.ReasonNoSession)
			return nil, nil, false
		}
		membership, err := h.store.GetMembership(c.Request.Context(), session.ID, userID)
		if err != nil {
			h.unauthorized(c, progression.ReasonNotMember)
			return nil, nil, false
		}
		return session, membership, true
	}

	session, membership, err := h.store.FindSessionForUser(c.Request.Context(), userID)
	if err != nil {
		h.unauthorized(c, progression.ReasonNoSession)
		return nil, nil, false
	}
	return session, membership, true
}

func (h *ScanHandler) challenge(c *gin.Context, challengeID string) {
	c.Redirect(http.StatusFound, h.frontendURL+"/challenge/"+challengeID)
}

func (h *ScanHandler) unauthorized(c *gin.Context, reason string) {
	c.Redirect(http.StatusFound, h.frontendURL+"/unauthorized?reason="+reason)
}
