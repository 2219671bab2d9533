package pipeline

import (
	"context"
	"path"
	"sync"

	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/store"
	"go.uber.org/zap"
)

type speechJob struct {
	SessionID string
	TurnID    string
	Text      string
}

// Speaker synthesizes prompts in the background and records the audio path
// on the turn. A full queue drops the job; the client falls back to text.
type Speaker struct {
	rows   store.Rows
	blobs  store.Blobs
	bucket string
	infer  Inference
	log    *zap.Logger

	jobs chan speechJob
	wg   sync.WaitGroup
}

func NewSpeaker(rows store.Rows, blobs store.Blobs, bucket string, infer Inference, log *zap.Logger) *Speaker {
	return &Speaker{
		rows:   rows,
		blobs:  blobs,
		bucket: bucket,
		infer:  infer,
		log:    log,
		jobs:   make(chan speechJob, 64),
	}
}

// Start launches n workers that run until ctx ends.
func (s *Speaker) Start(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-s.jobs:
					s.synthesize(ctx, job)
				}
			}
		}()
	}
}

// Wait blocks until every worker exited.
func (s *Speaker) Wait() { s.wg.Wait() }

func (s *Speaker) enqueue(job speechJob) {
	select {
	case s.jobs <- job:
	default:
		s.log.Warn("speech queue full, prompt stays text-only", zap.String("turn_id", job.TurnID))
	}
}

// SpeechPath is where the synthesized prompt of a turn is stored.
func SpeechPath(sessionID, turnID string) string {
	return path.Join(sessionID, turnID+".mp3")
}

func (s *Speaker) synthesize(ctx context.Context, job speechJob) {
	audio, contentType, err := s.infer.Speak(ctx, job.Text)
	if err != nil {
		s.log.Warn("speech synthesis failed", zap.String("turn_id", job.TurnID), zap.Error(err))
		return
	}
	key := SpeechPath(job.SessionID, job.TurnID)
	if err := s.blobs.Upload(ctx, s.bucket, key, audio, contentType); err != nil {
		s.log.Warn("speech upload failed", zap.String("turn_id", job.TurnID), zap.Error(err))
		return
	}
	if _, err := s.rows.Update(ctx, models.TableTurns, store.Where(store.Eq("id", job.TurnID)),
		map[string]any{"tts_audio_path": key}); err != nil {
		s.log.Warn("speech path not recorded", zap.String("turn_id", job.TurnID), zap.Error(err))
		return
	}
	s.log.Debug("speech ready", zap.String("turn_id", job.TurnID), zap.String("path", key))
}

// Backfill queues speech for open prompts that never got audio, for example
// after a dropped job, a restart or an opening prompt whose request was lost.
// Re-synthesizing a turn overwrites the same object.
func (s *Speaker) Backfill(ctx context.Context, limit int) (int, error) {
	var turns []models.Turn
	err := s.rows.Select(ctx, models.TableTurns, store.Where(
		store.IsNull("answer_text"),
		store.IsNull("tts_audio_path"),
	), &turns, store.OrderBy("created_at"), store.Limit(limit))
	if err != nil {
		return 0, err
	}
	for _, t := range turns {
		s.enqueue(speechJob{SessionID: t.SessionID, TurnID: t.ID, Text: t.PromptText})
	}
	return len(turns), nil
}
