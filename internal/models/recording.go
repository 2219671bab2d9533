package models

// Recording is an uploaded answer audio blob.
type Recording struct {
	Base
	SessionID       string  `json:"session_id"   gorm:"type:char(36);index;not null"`
	UserID          string  `json:"user_id"      gorm:"type:char(36);index"`
	StoragePath     string  `json:"storage_path" gorm:"not null"`
	MimeType        string  `json:"mime_type"`
	DurationSeconds float64 `json:"duration"`
}

func (Recording) TableName() string { return TableRecordings }

// Transcript is kept apart from its recording so audio can be re-transcribed.
type Transcript struct {
	Base
	RecordingID string `json:"recording_id" gorm:"type:char(36);index;not null"`
	Text        string `json:"text"         gorm:"type:text"`
	WordCount   int    `json:"word_count"`
	Language    string `json:"language"     gorm:"type:varchar(16)"`
}

func (Transcript) TableName() string { return TableTranscripts }
