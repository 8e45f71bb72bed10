package progression

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/questline/api/internal/broadcast"
	"github.com/questline/api/internal/client"
	"github.com/questline/api/internal/gate"
	"github.com/questline/api/internal/middleware"
	"github.com/questline/api/internal/model"
	"github.com/questline/api/internal/validator"
)

// Store is the slice of the session store the engine needs. The gorm
// implementation lives in internal/store.
type Store interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
	UpdateSession(ctx context.Context, session *model.Session) error
	AdvanceCurrent(ctx context.Context, session *model.Session, fromChallengeID string) (bool, error)
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)
	FirstChallenge(ctx context.Context, trackID string) (*model.Challenge, error)
}

// Publisher fans out committed transitions. Failures never gate the write.
type Publisher interface {
	Publish(ctx context.Context, update broadcast.Update) error
}

// Engine is the progression authority: the single write path for a team's
// shared position. Handlers are stateless; every decision here is
// read-then-conditionally-write against the store, with a compare-and-swap
// on the previous current challenge so concurrent writers cannot silently
// overwrite each other.
type Engine struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

func NewEngine(store Store, publisher Publisher) *Engine {
	return &Engine{store: store, publisher: publisher, now: time.Now}
}

// NewEngineWithClock pins the clock for tests.
func NewEngineWithClock(store Store, publisher Publisher, now func() time.Time) *Engine {
	return &Engine{store: store, publisher: publisher, now: now}
}

type AnswerResult struct {
	Correct            bool    `json:"correct"`
	CurrentChallengeID *string `json:"currentChallengeId,omitempty"`
	Finished           bool    `json:"finished"`
}

type SkipResult struct {
	NextChallengeID *string `json:"nextChallengeId"`
	Completed       bool    `json:"completed"`
	SkipCount       int     `json:"skipCount"`
}

// Advance applies a location-code proof for the target challenge. The
// ordering rules, comparing the target's position to the team's current one:
//
//	same position      re-scan of the current code, no-op success
//	current + 1        commit the step
//	behind current     stale client, conflict with the true current
//	further ahead      anti-cheat violation, state unchanged
func (e *Engine) Advance(ctx context.Context, session *model.Session, target *model.Challenge) error {
	if err := e.mutable(session); err != nil {
		return err
	}
	if target.TrackID != session.TrackID {
		return ErrWrongTrack
	}

	current, err := e.store.GetChallenge(ctx, *session.CurrentChallengeID)
	if err != nil {
		return err
	}

	switch {
	case target.OrderIndex == current.OrderIndex:
		// Re-scanning the code you already stand at is success.
		return nil
	case target.OrderIndex == current.OrderIndex+1:
		return e.commit(ctx, session, target)
	case target.OrderIndex < current.OrderIndex:
		return &StaleError{ServerCurrentID: current.ID}
	default:
		return ErrAntiCheat
	}
}

// SubmitAnswer applies a typed-answer proof. The answer can only ever target
// the challenge the client believes is current; a mismatch with the server's
// record is refused with the true current id so the client resyncs instead
// of acting on stale belief.
func (e *Engine) SubmitAnswer(ctx context.Context, session *model.Session, believedCurrentID, answerText string) (*AnswerResult, error) {
	if err := e.mutable(session); err != nil {
		return nil, err
	}

	currentID := *session.CurrentChallengeID
	if believedCurrentID != currentID {
		return nil, &StaleError{ServerCurrentID: currentID}
	}

	current, err := e.store.GetChallenge(ctx, currentID)
	if err != nil {
		return nil, err
	}

	if !validator.MatchAnswer(current.Answer, answerText) {
		return &AnswerResult{Correct: false, CurrentChallengeID: session.CurrentChallengeID, Finished: session.Finished}, nil
	}

	if current.Terminal() {
		// Re-answering the final challenge changes nothing.
		return &AnswerResult{Correct: true, CurrentChallengeID: session.CurrentChallengeID, Finished: session.Finished}, nil
	}

	next, err := e.store.GetChallenge(ctx, *current.NextID)
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, session, next); err != nil {
		return nil, err
	}

	return &AnswerResult{Correct: true, CurrentChallengeID: session.CurrentChallengeID, Finished: session.Finished}, nil
}

// Skip advances the team unconditionally to the immediate successor, no
// proof required. The gate decides who may: the leader always, any member
// when the availability signal reports the location closed or closing soon.
func (e *Engine) Skip(ctx context.Context, session *model.Session, membership *model.Membership, availability *client.Availability) (*SkipResult, error) {
	if err := e.mutable(session); err != nil {
		return nil, err
	}
	if !gate.MayInvokeSkip(membership, availability) {
		return nil, ErrSkipDenied
	}

	if session.Finished {
		// Nothing left to skip past the terminal node.
		return &SkipResult{NextChallengeID: nil, Completed: true, SkipCount: session.SkipCount}, nil
	}

	current, err := e.store.GetChallenge(ctx, *session.CurrentChallengeID)
	if err != nil {
		return nil, err
	}
	if current.Terminal() {
		// A track can open on its terminal node; there is no successor.
		return &SkipResult{NextChallengeID: nil, Completed: true, SkipCount: session.SkipCount}, nil
	}
	next, err := e.store.GetChallenge(ctx, *current.NextID)
	if err != nil {
		return nil, err
	}

	previousSkips := session.SkipCount
	session.SkipCount = previousSkips + 1
	if err := e.commit(ctx, session, next); err != nil {
		// On a lost swap commit already replaced the session with the fresh
		// row; only a plain store failure leaves our local increment behind.
		var stale *StaleError
		if !errors.As(err, &stale) {
			session.SkipCount = previousSkips
		}
		return nil, err
	}

	result := &SkipResult{SkipCount: session.SkipCount, Completed: session.Finished}
	if !session.Finished {
		result.NextChallengeID = session.CurrentChallengeID
	}
	return result, nil
}

// Start moves a paid session into play. Leader only. Resets the current
// pointer, skip count and finished flag: a retried payment confirmation may
// have raced this call, and start must leave the team at the first
// challenge regardless.
func (e *Engine) Start(ctx context.Context, session *model.Session, membership *model.Membership) error {
	if !session.Active {
		return ErrSessionClosed
	}
	if !session.Paid {
		return ErrNotPaid
	}
	if !membership.IsLeader {
		return ErrNotLeader
	}

	first, err := e.store.FirstChallenge(ctx, session.TrackID)
	if err != nil {
		return err
	}

	session.Started = true
	session.CurrentChallengeID = &first.ID
	session.SkipCount = 0
	session.Finished = false
	session.CompletedAt = nil

	if err := e.store.UpdateSession(ctx, session); err != nil {
		return err
	}

	e.announce(ctx, session)
	return nil
}

// Pay applies the payment collaborator's confirmation: the session becomes
// playable, the 48h expiry starts counting and the current pointer is
// (re)initialized to the track's first node. Idempotent under webhook
// redelivery; a session already started keeps its position.
func (e *Engine) Pay(ctx context.Context, session *model.Session, teamName string, playerCount int) error {
	if !session.Active {
		return ErrSessionClosed
	}

	// The 48h window counts from the first confirmation; a redelivered
	// webhook must not extend it.
	if !session.Paid {
		now := e.now()
		expires := now.Add(model.SessionLifetime)
		session.Paid = true
		session.PaidAt = &now
		session.ExpiresAt = &expires
	}
	if teamName != "" {
		session.TeamName = teamName
	}
	if playerCount > 0 {
		session.PlayerLimit = playerCount
	}

	if !session.Started {
		first, err := e.store.FirstChallenge(ctx, session.TrackID)
		if err != nil {
			return err
		}
		session.CurrentChallengeID = &first.ID
	}

	return e.store.UpdateSession(ctx, session)
}

// mutable rejects mutation on sessions that are closed or not yet in play.
func (e *Engine) mutable(session *model.Session) error {
	if !session.Active {
		return ErrSessionClosed
	}
	if !session.Paid {
		return ErrNotPaid
	}
	if !session.Started || session.CurrentChallengeID == nil {
		return ErrNotStarted
	}
	return nil
}

// commit writes the transition with a compare-and-swap on the previous
// current challenge. Losing the swap to a concurrent writer who advanced to
// the same target counts as success (both members scanned the same code);
// any other loss surfaces as a stale conflict so the caller resyncs.
func (e *Engine) commit(ctx context.Context, session *model.Session, target *model.Challenge) error {
	previousID := *session.CurrentChallengeID
	previousFinished := session.Finished
	previousCompleted := session.CompletedAt

	session.CurrentChallengeID = &target.ID
	if target.Terminal() {
		session.Finished = true
		completed := e.now()
		session.CompletedAt = &completed
	}

	swapped, err := e.store.AdvanceCurrent(ctx, session, previousID)
	if err != nil {
		session.CurrentChallengeID = &previousID
		session.Finished = previousFinished
		session.CompletedAt = previousCompleted
		return err
	}

	if !swapped {
		fresh, err := e.store.GetSession(ctx, session.ID)
		if err != nil {
			return err
		}
		*session = *fresh
		if fresh.CurrentChallengeID != nil && *fresh.CurrentChallengeID == target.ID {
			return nil
		}
		serverCurrent := ""
		if fresh.CurrentChallengeID != nil {
			serverCurrent = *fresh.CurrentChallengeID
		}
		return &StaleError{ServerCurrentID: serverCurrent}
	}

	e.announce(ctx, session)
	return nil
}

// announce fans out the committed state. Best effort: the write is already
// durable and the backup poll guarantees convergence, so failures are
// logged and swallowed.
func (e *Engine) announce(ctx context.Context, session *model.Session) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, broadcast.UpdateFor(session)); err != nil {
		middleware.RecordBroadcastFailure()
		log.Printf("[Progression] Broadcast failed for session %s: %v", session.ID, err)
	}
}
