package store

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/questline/api/internal/model"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a record does not exist or, for sessions,
// when it exists but is no longer active.
var ErrNotFound = errors.New("store: not found")

// Store is the gorm-backed access layer for sessions, memberships and
// track definitions. All progression state lives behind it; request
// handlers hold no mutable state of their own.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// NewWithClock is used by tests to pin the expiry clock.
func NewWithClock(db *gorm.DB, now func() time.Time) *Store {
	return &Store{db: db, now: now}
}

// GetSession loads a session and applies the lazy expiry check: a session
// past its 48h absolute expiry or the post-completion grace is flipped
// inactive on read. Closed sessions are still returned so callers can tell
// "expired" apart from "never existed".
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if session.Active && session.Expired(s.now()) {
		session.Active = false
		if err := s.db.WithContext(ctx).Model(&model.Session{}).
			Where("id = ?", session.ID).
			Update("active", false).Error; err != nil {
			log.Printf("[Store] Failed to close expired session %s: %v", session.ID, err)
		}
	}

	return &session, nil
}

func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	return s.db.WithContext(ctx).Create(session).Error
}

// UpdateSession persists the full session row. Only valid while the session
// is active; the progression engine enforces that before calling.
func (s *Store) UpdateSession(ctx context.Context, session *model.Session) error {
	return s.db.WithContext(ctx).Save(session).Error
}

// AdvanceCurrent commits a progression transition with a compare-and-swap on
// the previous current challenge id. It returns false when another writer
// got there first, in which case nothing was written and the caller should
// re-read and resync.
func (s *Store) AdvanceCurrent(ctx context.Context, session *model.Session, fromChallengeID string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND current_challenge_id = ? AND active = ?", session.ID, fromChallengeID, true).
		Updates(map[string]interface{}{
			"current_challenge_id": session.CurrentChallengeID,
			"skip_count":           session.SkipCount,
			"finished":             session.Finished,
			"completed_at":         session.CompletedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) GetMembership(ctx context.Context, sessionID string, userID int64) (*model.Membership, error) {
	var m model.Membership
	err := s.db.WithContext(ctx).
		First(&m, "session_id = ? AND user_id = ?", sessionID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) AddMember(ctx context.Context, m *model.Membership) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *Store) CountMembers(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Membership{}).
		Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

// FindSessionForUser returns the most recent active session the user belongs
// to, along with the membership. Scan requests carry no session id, only the
// caller's identity.
func (s *Store) FindSessionForUser(ctx context.Context, userID int64) (*model.Session, *model.Membership, error) {
	var memberships []model.Membership
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&memberships).Error
	if err != nil {
		return nil, nil, err
	}

	for i := range memberships {
		session, err := s.GetSession(ctx, memberships[i].SessionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		if session.Active {
			return session, &memberships[i], nil
		}
	}

	return nil, nil, ErrNotFound
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	var c model.Challenge
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FirstChallenge returns the entry node of a track, the one with the lowest
// order index.
func (s *Store) FirstChallenge(ctx context.Context, trackID string) (*model.Challenge, error) {
	var c model.Challenge
	err := s.db.WithContext(ctx).
		Where("track_id = ?", trackID).
		Order("order_index ASC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CloseExpired flips active=false on every session past its expiry. The lazy
// on-read check in GetSession remains authoritative; the sweeper just keeps
// the table tidy between reads.
func (s *Store) CloseExpired(ctx context.Context) (int64, error) {
	now := s.now()
	result := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("active = ?", true).
		Where("expires_at < ? OR (completed_at IS NOT NULL AND completed_at < ?)",
			now, now.Add(-model.CompletedGrace)).
		Update("active", false)
	return result.RowsAffected, result.Error
}
