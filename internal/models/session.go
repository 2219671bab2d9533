package models

import "time"

type SessionMode string

const (
	ModeGuided    SessionMode = "guided"
	ModeNonGuided SessionMode = "non-guided"
)

func (m SessionMode) Valid() bool {
	return m == ModeGuided || m == ModeNonGuided
}

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is one continuous recording interaction composed of ordered turns.
type Session struct {
	Root
	UserID       string        `json:"user_id"        gorm:"type:char(36);index;not null"`
	StoryGroupID *string       `json:"story_group_id" gorm:"type:char(36);index"`
	Mode         SessionMode   `json:"mode"           gorm:"type:varchar(16);not null"`
	Category     string        `json:"category"`
	Themes       StringArray   `json:"themes"         gorm:"type:text"`
	Persona      string        `json:"persona"`
	Language     string        `json:"language"       gorm:"type:varchar(16)"`
	Status       SessionStatus `json:"status"         gorm:"type:varchar(16);index;not null;default:active"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      *time.Time    `json:"ended_at"`
}

func (Session) TableName() string { return TableSessions }

// Active reports whether turns may still be appended.
func (s Session) Active() bool {
	return s.Status == SessionActive && !s.Deleted()
}
