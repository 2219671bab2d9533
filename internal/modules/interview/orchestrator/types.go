// Package orchestrator drives one interview session: it records an answer,
// hands it to the processing pipeline, appends the transcript and the next
// question, and resolves synthesized speech for AI prompts.
//
// All state lives in the Orchestrator and is published as immutable State
// snapshots. A UI observes snapshots and calls operations; it never mutates
// state itself.
package orchestrator

import (
	"errors"

	"github.com/storyloom/core/internal/models"
)

var (
	ErrNoSession          = errors.New("no interview session started")
	ErrTurnInFlight       = errors.New("another turn is being processed")
	ErrConcluded          = errors.New("the interview has concluded")
	ErrSessionCompleted   = errors.New("the session is completed")
	ErrNothingToRetry     = errors.New("no captured answer to retry")
	ErrRecordingCancelled = errors.New("recording cancelled")
	ErrUnknownMessage     = errors.New("unknown message")
	ErrClosed             = errors.New("orchestrator closed")
)

// Status is the recording state machine.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusListening Status = "listening"
	StatusThinking  Status = "thinking"
	StatusSpeaking  Status = "speaking"
	StatusPaused    Status = "paused"
	StatusError     Status = "error"
	StatusConcluded Status = "concluded"
)

type Role string

const (
	RoleAI   Role = "ai"
	RoleUser Role = "user"
)

// TTSState tracks speech for one AI message.
type TTSState string

const (
	TTSNone        TTSState = "none"
	TTSPending     TTSState = "pending"
	TTSReady       TTSState = "ready"
	TTSUnavailable TTSState = "unavailable"
)

// PendingTranscript stands in for an answer whose transcript is not ready.
const PendingTranscript = "Transcribing your answer"

// Message is one bubble of the conversation.
type Message struct {
	ID           string   `json:"id"`
	Role         Role     `json:"role"`
	Content      string   `json:"content"`
	Alternatives []string `json:"alternatives,omitempty"`
	Topic        string   `json:"topic,omitempty"`
	Pending      bool     `json:"pending,omitempty"`
	TurnID       string   `json:"turn_id,omitempty"`
	// RecordingID is the answer recording the message belongs to. For AI
	// messages it is the recording the prompt was generated from.
	RecordingID string   `json:"recording_id,omitempty"`
	TTS         TTSState `json:"tts"`
	AudioURL    string   `json:"audio_url,omitempty"`
}

// State is a snapshot of the session as the UI sees it.
type State struct {
	SessionID     string    `json:"session_id"`
	Status        Status    `json:"status"`
	Messages      []Message `json:"messages"`
	CurrentPrompt string    `json:"current_prompt"`
	Suggestions   []string  `json:"suggestions,omitempty"`
	NetworkError  bool      `json:"network_error"`
	CanRetry      bool      `json:"can_retry"`
	Concluded     bool      `json:"concluded"`
	Completed     bool      `json:"completed"`
	LastError     string    `json:"last_error,omitempty"`
	ChapterError  string    `json:"chapter_error,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		m.Alternatives = append([]string(nil), m.Alternatives...)
		out.Messages[i] = m
	}
	out.Suggestions = append([]string(nil), s.Suggestions...)
	return out
}

// SessionConfig selects a new session's shape, or an existing session to
// resume when SessionID is set.
type SessionConfig struct {
	SessionID string
	BookID    string
	Mode      models.SessionMode
	Category  string
	Themes    []string
	Persona   string
	Language  string
}

// TurnOutcome is the result of one processed answer.
type TurnOutcome struct {
	Transcript  string
	RecordingID string
	// MessageID is the new AI message, empty when the interview concluded.
	MessageID string
	Concluded bool
}

// ChapterOutcome reports the chapter generation request made when a session
// ends. Err is set when the request failed; the session stays completed.
type ChapterOutcome struct {
	TaskID string
	Err    error
}
