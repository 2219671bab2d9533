package models

// Turn is one AI prompt and the user's answer to it. A turn without an
// answer is the open question of the session.
type Turn struct {
	Base
	SessionID    string  `json:"session_id"    gorm:"type:char(36);not null;uniqueIndex:idx_turns_session_ordinal,priority:1"`
	OrdinalIndex int     `json:"ordinal_index" gorm:"not null;uniqueIndex:idx_turns_session_ordinal,priority:2"`
	PromptText   string  `json:"prompt_text"   gorm:"type:text"`
	AnswerText   *string `json:"answer_text"   gorm:"type:text"`
	RecordingID  *string `json:"recording_id"  gorm:"type:char(36);index"`
	// SourceRecordingID is the answer recording this prompt was generated from.
	SourceRecordingID *string     `json:"source_recording_id" gorm:"type:char(36);index"`
	TTSAudioPath      *string     `json:"tts_audio_path"`
	FollowUps         StringArray `json:"follow_ups"  gorm:"type:text"`
	Topic             *string     `json:"topic"`
}

func (Turn) TableName() string { return TableTurns }

// Answered reports whether the user's answer has been transcribed.
func (t Turn) Answered() bool {
	return t.AnswerText != nil
}
