package model

import (
	"time"

	"gorm.io/datatypes"
)

// Track is the ordered definition of challenges for one adventure variant.
type Track struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"not null;size:255" json:"name"`
	City      string    `gorm:"size:255" json:"city"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Track) TableName() string {
	return "tracks"
}

// Challenge is one step in a track. Challenges form a singly-linked list via
// NextID; the terminal node has NextID nil. OrderIndex is unique and
// contiguous within a track and is what the progression ordering compares.
type Challenge struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	TrackID     string         `gorm:"not null;uniqueIndex:idx_challenges_track_order,priority:1;size:64" json:"trackId"`
	OrderIndex  int            `gorm:"not null;uniqueIndex:idx_challenges_track_order,priority:2" json:"orderIndex"`
	NextID      *string        `gorm:"size:64" json:"nextId"`
	Title       string         `gorm:"size:255" json:"title"`
	// Answer holds the accepted typed answers, separated by AnswerDelimiter.
	Answer      string         `gorm:"type:text" json:"-"`
	Hint        string         `gorm:"type:text" json:"hint,omitempty"`
	LocationRef string         `gorm:"not null;index;size:128" json:"locationRef"`
	Location    datatypes.JSON `json:"location,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func (Challenge) TableName() string {
	return "challenges"
}

// AnswerDelimiter separates accepted answer variants in Challenge.Answer.
const AnswerDelimiter = "|"

// Terminal reports whether this challenge is the last node of its track.
func (c *Challenge) Terminal() bool {
	return c.NextID == nil
}
