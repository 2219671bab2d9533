package models

import (
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Story is an edited narrative assembled from one or more sessions' chapters.
type Story struct {
	Base
	StoryGroupID string `json:"story_group_id" gorm:"type:char(36);index;not null"`
	Title        string `json:"title"`
	RawText      string `json:"raw_text"       gorm:"type:longtext"`
	EditedText   string `json:"edited_text"    gorm:"type:longtext"`
	Approved     bool   `json:"approved"       gorm:"default:false"`
}

func (Story) TableName() string { return TableStories }

// StoryEmbedding is a derived search-index row for a story.
type StoryEmbedding struct {
	Base
	StoryID     string                       `json:"story_id"     gorm:"type:char(36);index;not null"`
	Model       string                       `json:"model"`
	ContentHash string                       `json:"content_hash" gorm:"type:char(64)"`
	Vector      datatypes.JSONSlice[float32] `json:"vector"`
}

func (StoryEmbedding) TableName() string { return TableStoryEmbeddings }

// ErrImageUnowned is returned for a story image that references no story,
// chapter or turn.
var ErrImageUnowned = errors.New("story image must reference a story, chapter or turn")

// StoryImage belongs to exactly one of a story, a chapter or a turn.
type StoryImage struct {
	Base
	StoryID       *string `json:"story_id"       gorm:"type:char(36);index"`
	ChapterID     *string `json:"chapter_id"     gorm:"type:char(36);index"`
	TurnID        *string `json:"turn_id"        gorm:"type:char(36);index"`
	StoragePath   string  `json:"storage_path"   gorm:"not null"`
	ThumbnailPath *string `json:"thumbnail_path"`
	Caption       string  `json:"caption"`
}

func (StoryImage) TableName() string { return TableStoryImages }

// Validate enforces the ownership invariant.
func (m *StoryImage) Validate() error {
	if isBlank(m.StoryID) && isBlank(m.ChapterID) && isBlank(m.TurnID) {
		return ErrImageUnowned
	}
	return nil
}

func (m *StoryImage) BeforeCreate(tx *gorm.DB) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return m.Base.BeforeCreate(tx)
}

func isBlank(s *string) bool {
	return s == nil || *s == ""
}
