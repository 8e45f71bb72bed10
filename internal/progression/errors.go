package progression

import (
	"errors"
	"fmt"
)

// Typed failures of the progression engine. Handlers map these onto the
// reason vocabulary of the scan redirect surface and onto HTTP statuses.
var (
	// ErrSessionClosed: session expired or auto-closed; every mutation is
	// rejected once active=false.
	ErrSessionClosed = errors.New("progression: session closed")
	// ErrNotPaid: the payment confirmation has not arrived yet.
	ErrNotPaid = errors.New("progression: session not paid")
	// ErrNotStarted: the leader has not started the game.
	ErrNotStarted = errors.New("progression: session not started")
	// ErrNotLeader: a leader-only action was attempted by a member.
	ErrNotLeader = errors.New("progression: leader required")
	// ErrSkipDenied: neither leader nor emergency standing.
	ErrSkipDenied = errors.New("progression: skip not authorized")
	// ErrWrongTrack: the scanned challenge belongs to another track.
	ErrWrongTrack = errors.New("progression: challenge not on session track")
	// ErrAntiCheat: the proof targets a challenge more than one step ahead.
	ErrAntiCheat = errors.New("progression: forward jump rejected")
)

// StaleError reports that the client acted on an outdated view of the
// session. It always carries the server's true current challenge so the
// client can resync instead of dead-ending.
type StaleError struct {
	ServerCurrentID string
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("progression: stale client, server current is %s", e.ServerCurrentID)
}

// Scan redirect reasons, shared with the unauthorized view.
const (
	ReasonInvalidToken  = "invalid_token"
	ReasonNoSession     = "no_session"
	ReasonNotMember     = "not_member"
	ReasonWrongTrack    = "wrong_track"
	ReasonWrongLocation = "wrong_location"
	ReasonSkipAhead     = "skip_ahead"
	ReasonStale         = "stale"
	ReasonUpdateFailed  = "update_failed"
)
