package model

import (
	"time"
)

// Session is one team's run through a track. The whole team shares a single
// progress pointer (CurrentChallengeID); there is no per-user position.
type Session struct {
	ID                 string     `gorm:"type:uuid;primaryKey" json:"id"`
	TrackID            string     `gorm:"not null;index;size:64" json:"trackId"`
	CurrentChallengeID *string    `gorm:"size:64" json:"currentChallengeId"`
	TeamName           string     `gorm:"size:255" json:"teamName"`
	PlayerLimit        int        `gorm:"default:4" json:"playerLimit"`
	Paid               bool       `gorm:"default:false" json:"paid"`
	Started            bool       `gorm:"default:false" json:"started"`
	Finished           bool       `gorm:"default:false" json:"finished"`
	Active             bool       `gorm:"default:true" json:"active"`
	SkipCount          int        `gorm:"default:0" json:"skipCount"`
	CreatedAt          time.Time  `json:"createdAt"`
	PaidAt             *time.Time `json:"paidAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
}

func (Session) TableName() string {
	return "sessions"
}

const (
	// SessionLifetime is the absolute expiry, counted from payment.
	SessionLifetime = 48 * time.Hour
	// CompletedGrace is how long a finished session stays active so the
	// team can still see the final screen on every device.
	CompletedGrace = 15 * time.Minute
)

// Expired reports whether the session has passed its absolute expiry or the
// post-completion grace period at the given instant.
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
		return true
	}
	if s.CompletedAt != nil && now.After(s.CompletedAt.Add(CompletedGrace)) {
		return true
	}
	return false
}
