// Package processor is the client side of the processing pipeline: it
// uploads a captured answer and asks the pipeline to transcribe it and
// propose the next question.
package processor

// ProcessRequest is the body of POST /upload-and-process.
type ProcessRequest struct {
	SessionID       string  `json:"session_id"   binding:"required"`
	StoragePath     string  `json:"storage_path" binding:"required"`
	ContentType     string  `json:"content_type"`
	DurationSeconds float64 `json:"duration"`
	Prompt          string  `json:"prompt"`
	Language        string  `json:"language"`
	Persona         string  `json:"persona"`
	Mode            string  `json:"mode"`
	Category        string  `json:"category"`
}

// FollowUp is the next question the pipeline proposes. An empty Question
// means the interview has nothing further to ask.
type FollowUp struct {
	Question    string   `json:"question"`
	Suggestions []string `json:"suggestions"`
	TTSURL      string   `json:"tts_url,omitempty"`
	Topic       string   `json:"topic,omitempty"`
}

// ProcessResponse is the pipeline's answer to one uploaded turn.
type ProcessResponse struct {
	Transcript           string   `json:"transcript"`
	TranscriptionPending bool     `json:"transcription_pending"`
	FollowUp             FollowUp `json:"follow_up"`
	RecordingID          string   `json:"recording_id"`
	StoragePath          string   `json:"storage_path"`
	TurnID               string   `json:"turn_id"`
	NextTurnID           string   `json:"next_turn_id,omitempty"`
}

// Concluded reports whether the pipeline ended the interview.
func (r *ProcessResponse) Concluded() bool {
	return r.FollowUp.Question == ""
}

// ChapterRequest is the body of POST /generate-chapters.
type ChapterRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// ChapterJob is the accepted chapter generation task.
type ChapterJob struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// SpeechRequest is the body of POST /speech.
type SpeechRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	TurnID    string `json:"turn_id"    binding:"required"`
}

// SpeechJob reports whether a prompt's audio is queued or already stored.
type SpeechJob struct {
	TurnID string `json:"turn_id"`
	Ready  bool   `json:"ready"`
}

// Turn describes the answer being uploaded.
type Turn struct {
	UserID    string
	SessionID string
	Prompt    string
	Language  string
	Persona   string
	Mode      string
	Category  string
}
