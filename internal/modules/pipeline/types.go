// Package pipeline is the server side of an interview turn: it transcribes
// an uploaded answer, records it, proposes the next question and queues
// speech for it. It also runs chapter generation for completed sessions.
package pipeline

import (
	"context"

	"github.com/storyloom/core/internal/modules/processing/ai"
	"github.com/storyloom/core/internal/pkg/taskqueue"
)

const TaskTypeChapters = "pipeline:chapters"

// fallbackQuestion keeps the interview going when no question could be
// generated.
const fallbackQuestion = "Thank you. Could you tell me a little more about that?"

// Inference is the model backend.
type Inference interface {
	Transcribe(ctx context.Context, audio []byte, contentType, lang string) (string, error)
	FollowUp(ctx context.Context, in ai.FollowUpInput) (*ai.FollowUp, error)
	Chapters(ctx context.Context, history []ai.Exchange, lang string) ([]ai.ChapterDraft, error)
	Speak(ctx context.Context, text string) ([]byte, string, error)
}

// Tasks tracks background jobs.
type Tasks interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}, dedupKey, ownerID string) (*taskqueue.Task, error)
	GetByID(ctx context.Context, id string) (*taskqueue.Task, error)
	UpdateStatus(ctx context.Context, id string, status taskqueue.TaskStatus, result interface{}, errMsg string) error
}

// Buckets names the blob buckets the pipeline reads and writes.
type Buckets struct {
	Audio string
	TTS   string
}

// ChapterPayload is the task payload of chapter generation.
type ChapterPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type chapterResult struct {
	ChapterIDs []string `json:"chapter_ids"`
}
