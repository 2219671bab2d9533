package story

import (
	"context"

	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/modules/cascade"
	"github.com/storyloom/core/internal/modules/processing/ai"
)

// Composer turns chapters into a narrative.
type Composer interface {
	AssembleStory(ctx context.Context, chapters []ai.ChapterDraft, lang string) (*ai.StoryDraft, error)
}

// Embedder produces a vector for a text and names the model that made it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, string, error)
}

// Index is a derived search index keyed by story. The cascade purges it
// through DeleteForStories.
type Index interface {
	cascade.DerivedIndex
	Upsert(ctx context.Context, e Entry) error
}

// Entry is one indexed story.
type Entry struct {
	StoryID     string
	Model       string
	ContentHash string
	Vector      []float32
}

type CreateBookRequest struct {
	Title       string `json:"title"       binding:"required"`
	Description string `json:"description"`
}

type AssembleRequest struct {
	BookID     string   `json:"story_group_id" binding:"required"`
	SessionIDs []string `json:"session_ids"`
	Language   string   `json:"language"`
}

type UpdateStoryRequest struct {
	Title      *string `json:"title"`
	EditedText *string `json:"edited_text"`
	Approved   *bool   `json:"approved"`
}

// ImageUpload is a story image before it is stored. At least one owner
// reference must be set.
type ImageUpload struct {
	StoryID   *string
	ChapterID *string
	TurnID    *string
	Caption   string
	Filename  string
	Data      []byte
	MimeType  string
}

// Image is a stored story image with a short-lived link.
type Image struct {
	models.StoryImage
	URL string `json:"url"`
}
