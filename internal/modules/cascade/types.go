package cascade

import (
	"context"
	"time"

	"github.com/storyloom/core/internal/pkg/apperr"
)

// Report count keys.
const (
	KeyStoryGroup      = "storyGroup"
	KeySession         = "session"
	KeyStories         = "stories"
	KeySessions        = "sessions"
	KeyChapters        = "chapters"
	KeyRecordings      = "recordings"
	KeyTranscripts     = "transcripts"
	KeyTurns           = "turns"
	KeyImages          = "images"
	KeyStoryEmbeddings = "storyEmbeddings"
	KeyAudioFiles      = "audioFiles"
	KeyImageFiles      = "imageFiles"
	KeyTTSFiles        = "ttsFiles"
)

// Report is the outcome of a deep delete. Errors is never nil so it always
// serializes as a JSON array.
type Report struct {
	Success       bool             `json:"success"`
	DeletedCounts map[string]int64 `json:"deletedCounts"`
	Errors        []string         `json:"errors"`
}

// Err returns a PartialDeletionError when any step failed.
func (r *Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &apperr.PartialDeletionError{Errors: append([]string(nil), r.Errors...)}
}

// Buckets names the blob buckets a cascade cleans.
type Buckets struct {
	Audio  string
	Images string
	TTS    string
}

// DerivedIndex is a secondary index keyed by story id, such as the
// embedding store.
type DerivedIndex interface {
	Name() string
	DeleteForStories(ctx context.Context, storyIDs []string) (int64, error)
}

// Locker hands out short-lived advisory locks keyed by root id.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type deleteBookDTO struct {
	StoryGroupID string `json:"storyGroupId" binding:"required"`
}

type deleteSessionDTO struct {
	SessionID string `json:"sessionId" binding:"required"`
}
