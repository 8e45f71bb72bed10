package model

import "time"

// Membership ties a user to a session. Exactly one member per session is the
// leader; the unique index keeps a user from joining the same session twice.
type Membership struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string    `gorm:"not null;uniqueIndex:idx_memberships_session_user,priority:1;size:64" json:"sessionId"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_memberships_session_user,priority:2" json:"userId"`
	IsLeader  bool      `gorm:"default:false" json:"isLeader"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Membership) TableName() string {
	return "memberships"
}
