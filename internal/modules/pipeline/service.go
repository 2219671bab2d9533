package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/modules/interview/processor"
	"github.com/storyloom/core/internal/modules/processing/ai"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/pkg/taskqueue"
	"github.com/storyloom/core/internal/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Service processes uploaded turns and generates chapters.
type Service struct {
	rows     store.Rows
	blobs    store.Blobs
	buckets  Buckets
	infer    Inference
	tasks    Tasks
	speaker  *Speaker
	maxTurns int
	log      *zap.Logger

	wg sync.WaitGroup
}

func NewService(rows store.Rows, blobs store.Blobs, buckets Buckets, infer Inference, tasks Tasks, speaker *Speaker, maxTurns int, log *zap.Logger) *Service {
	return &Service{
		rows:     rows,
		blobs:    blobs,
		buckets:  buckets,
		infer:    infer,
		tasks:    tasks,
		speaker:  speaker,
		maxTurns: maxTurns,
		log:      log,
	}
}

// Wait blocks until background chapter runs finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	if userID == "" {
		return nil, apperr.ErrAuthentication
	}
	var sessions []models.Session
	if err := s.rows.Select(ctx, models.TableSessions, store.Where(store.Eq("id", sessionID), store.IsNull("deleted_at")), &sessions); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperr.ErrNotFound)
	}
	if sessions[0].UserID != userID {
		return nil, apperr.ErrAuthorization
	}
	return &sessions[0], nil
}

func (s *Service) turns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	var turns []models.Turn
	if err := s.rows.Select(ctx, models.TableTurns, store.Where(store.Eq("session_id", sessionID)), &turns, store.OrderBy("ordinal_index")); err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	return turns, nil
}

// Process answers the open question of a session with the uploaded audio.
// Repeating a request for audio that was already processed returns the
// original result.
func (s *Service) Process(ctx context.Context, userID string, req processor.ProcessRequest) (*processor.ProcessResponse, error) {
	sess, err := s.ownedSession(ctx, userID, req.SessionID)
	if err != nil {
		return nil, err
	}
	key := store.NormalizeObjectKey(req.StoragePath)
	if !strings.HasPrefix(key, userID+"/"+sess.ID+"/") {
		return nil, fmt.Errorf("%w: storage path is outside the session", apperr.ErrInvalid)
	}

	turns, err := s.turns(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if prev, ok, err := s.replay(ctx, sess.ID, key, turns); err != nil || ok {
		return prev, err
	}
	if !sess.Active() {
		return nil, fmt.Errorf("%w: session is completed", apperr.ErrConflict)
	}
	if len(turns) == 0 || turns[len(turns)-1].Answered() {
		return nil, fmt.Errorf("%w: session has no open question", apperr.ErrConflict)
	}
	open := turns[len(turns)-1]

	audio, err := s.blobs.Download(ctx, s.buckets.Audio, key)
	if errors.Is(err, store.ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: audio %s was not uploaded", apperr.ErrInvalid, key)
	}
	if err != nil {
		return nil, apperr.Network("download audio", err)
	}
	contentType := store.DetectContentType(key, audio, req.ContentType)
	transcript, err := s.infer.Transcribe(ctx, audio, contentType, sess.Language)
	pending := err != nil || strings.TrimSpace(transcript) == ""
	if pending {
		// the answer is kept and the interview moves on; the transcript shows as pending
		s.log.Warn("transcription unavailable, answer kept as pending",
			zap.String("session_id", sess.ID), zap.String("storage_path", key), zap.Error(err))
		transcript = ""
	}

	open.AnswerText = &transcript
	turns[len(turns)-1] = open
	fu := s.followUp(ctx, sess, turns)

	rec := &models.Recording{
		SessionID:       sess.ID,
		UserID:          userID,
		StoragePath:     key,
		MimeType:        contentType,
		DurationSeconds: req.DurationSeconds,
	}
	var next *models.Turn
	err = s.rows.Transaction(ctx, func(tx store.Rows) error {
		if err := tx.Insert(ctx, models.TableRecordings, rec); err != nil {
			return fmt.Errorf("save recording: %w", err)
		}
		if !pending {
			if err := tx.Insert(ctx, models.TableTranscripts, &models.Transcript{
				RecordingID: rec.ID,
				Text:        transcript,
				WordCount:   len(strings.Fields(transcript)),
				Language:    sess.Language,
			}); err != nil {
				return fmt.Errorf("save transcript: %w", err)
			}
		}
		n, err := tx.Update(ctx, models.TableTurns,
			store.Where(store.Eq("id", open.ID), store.IsNull("answer_text")),
			map[string]any{"answer_text": transcript, "recording_id": rec.ID})
		if err != nil {
			return fmt.Errorf("save answer: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: question was answered concurrently", apperr.ErrConflict)
		}
		if fu.Done {
			return nil
		}
		next = &models.Turn{
			SessionID:         sess.ID,
			OrdinalIndex:      open.OrdinalIndex + 1,
			PromptText:        fu.Question,
			SourceRecordingID: &rec.ID,
			FollowUps:         models.StringArray(fu.Suggestions),
		}
		if fu.Topic != "" {
			topic := fu.Topic
			next.Topic = &topic
		}
		if err := tx.Insert(ctx, models.TableTurns, next); err != nil {
			return fmt.Errorf("save next question: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &processor.ProcessResponse{
		Transcript:           transcript,
		TranscriptionPending: pending,
		RecordingID:          rec.ID,
		StoragePath:          key,
		TurnID:               open.ID,
	}
	if next == nil {
		s.log.Info("interview concluded", zap.String("session_id", sess.ID), zap.Int("turns", len(turns)))
		return out, nil
	}
	if s.speaker != nil {
		s.speaker.enqueue(speechJob{SessionID: sess.ID, TurnID: next.ID, Text: next.PromptText})
	}
	out.FollowUp = processor.FollowUp{Question: next.PromptText, Suggestions: fu.Suggestions, Topic: fu.Topic}
	out.NextTurnID = next.ID
	return out, nil
}

// followUp never fails: a model error falls back to a generic prompt.
func (s *Service) followUp(ctx context.Context, sess *models.Session, turns []models.Turn) ai.FollowUp {
	history := exchanges(turns)
	if s.maxTurns > 0 && len(history) >= s.maxTurns {
		return ai.FollowUp{Done: true}
	}
	fu, err := s.infer.FollowUp(ctx, ai.FollowUpInput{
		History:  history,
		Mode:     string(sess.Mode),
		Category: sess.Category,
		Themes:   sess.Themes,
		Persona:  sess.Persona,
		Language: sess.Language,
	})
	if err != nil {
		s.log.Warn("follow-up generation failed, using fallback", zap.String("session_id", sess.ID), zap.Error(err))
		return ai.FollowUp{Question: fallbackQuestion}
	}
	return *fu
}

// replay rebuilds the response of an already processed upload.
func (s *Service) replay(ctx context.Context, sessionID, key string, turns []models.Turn) (*processor.ProcessResponse, bool, error) {
	var recs []models.Recording
	if err := s.rows.Select(ctx, models.TableRecordings, store.Where(store.Eq("session_id", sessionID), store.Eq("storage_path", key)), &recs, store.Limit(1)); err != nil {
		return nil, false, fmt.Errorf("load recording: %w", err)
	}
	if len(recs) == 0 {
		return nil, false, nil
	}
	rec := recs[0]
	out := &processor.ProcessResponse{RecordingID: rec.ID, StoragePath: rec.StoragePath}
	for _, t := range turns {
		switch {
		case t.RecordingID != nil && *t.RecordingID == rec.ID:
			out.TurnID = t.ID
			out.Transcript = deref(t.AnswerText)
			out.TranscriptionPending = out.Transcript == ""
		case t.SourceRecordingID != nil && *t.SourceRecordingID == rec.ID:
			out.NextTurnID = t.ID
			out.FollowUp = processor.FollowUp{Question: t.PromptText, Suggestions: t.FollowUps, Topic: deref(t.Topic)}
		}
	}
	if out.TurnID == "" {
		// recording saved but the answer never landed; process it again
		return nil, false, nil
	}
	s.log.Info("replaying processed upload", zap.String("session_id", sessionID), zap.String("recording_id", rec.ID))
	return out, true, nil
}

func exchanges(turns []models.Turn) []ai.Exchange {
	out := make([]ai.Exchange, 0, len(turns))
	for _, t := range turns {
		if t.AnswerText == nil {
			continue
		}
		out = append(out, ai.Exchange{Question: t.PromptText, Answer: *t.AnswerText})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// EnqueueChapters queues chapter generation for a completed session. While
// a run for the session is pending, that task is returned.
func (s *Service) EnqueueChapters(ctx context.Context, userID, sessionID string) (*taskqueue.Task, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionCompleted {
		return nil, fmt.Errorf("%w: session is still active", apperr.ErrConflict)
	}

	payload := ChapterPayload{SessionID: sess.ID, UserID: userID}
	task, err := s.tasks.Enqueue(ctx, TaskTypeChapters, payload, sess.ID, userID)
	if err != nil {
		return nil, apperr.Network("enqueue chapters", err)
	}
	if task.Status == taskqueue.TaskPending {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runChapters(context.Background(), task.ID, payload, sess.Language)
		}()
	}
	return task, nil
}

func (s *Service) runChapters(ctx context.Context, taskID string, p ChapterPayload, lang string) {
	log := s.log.With(zap.String("task_id", taskID), zap.String("session_id", p.SessionID))
	fail := func(err error) {
		log.Warn("chapter generation failed", zap.Error(err))
		if uerr := s.tasks.UpdateStatus(ctx, taskID, taskqueue.TaskFailed, nil, err.Error()); uerr != nil {
			log.Error("task status not saved", zap.Error(uerr))
		}
	}
	if err := s.tasks.UpdateStatus(ctx, taskID, taskqueue.TaskRunning, nil, ""); err != nil {
		log.Warn("task status not saved", zap.Error(err))
	}

	turns, err := s.turns(ctx, p.SessionID)
	if err != nil {
		fail(err)
		return
	}
	history := exchanges(turns)
	if len(history) == 0 {
		fail(errors.New("session has no answered turns"))
		return
	}
	drafts, err := s.infer.Chapters(ctx, history, lang)
	if err != nil {
		fail(err)
		return
	}

	if len(drafts) == 0 {
		fail(errors.New("model returned no chapters"))
		return
	}

	var ids []string
	err = s.rows.Transaction(ctx, func(tx store.Rows) error {
		var err error
		ids, err = replaceChapters(ctx, tx, p.SessionID, drafts)
		return err
	})
	if err != nil {
		fail(err)
		return
	}

	if err := s.tasks.UpdateStatus(ctx, taskID, taskqueue.TaskCompleted, chapterResult{ChapterIDs: ids}, ""); err != nil {
		log.Error("task status not saved", zap.Error(err))
		return
	}
	log.Info("chapters generated", zap.Int("count", len(ids)))
}

// replaceChapters writes drafts over the session's chapters by position so
// chapter ids, and the images attached to them, survive a regeneration.
// Images of chapters that no longer exist move to the last chapter.
func replaceChapters(ctx context.Context, tx store.Rows, sessionID string, drafts []ai.ChapterDraft) ([]string, error) {
	var existing []models.Chapter
	if err := tx.Select(ctx, models.TableChapters, store.Where(store.Eq("session_id", sessionID)), &existing, store.OrderBy("order_index")); err != nil {
		return nil, fmt.Errorf("load chapters: %w", err)
	}

	ids := make([]string, 0, len(drafts))
	for i, d := range drafts {
		if i < len(existing) {
			_, err := tx.Update(ctx, models.TableChapters, store.Where(store.Eq("id", existing[i].ID)), map[string]any{
				"title":           d.Title,
				"summary":         d.Summary,
				"overall_summary": d.OverallSummary,
				"quotes":          datatypes.JSONSlice[string](d.Quotes),
				"image_hints":     datatypes.JSONSlice[string](d.ImageHints),
				"order_index":     i,
			})
			if err != nil {
				return nil, fmt.Errorf("update chapter %d: %w", i, err)
			}
			ids = append(ids, existing[i].ID)
			continue
		}
		ch := &models.Chapter{
			SessionID:      sessionID,
			Title:          d.Title,
			Summary:        d.Summary,
			OverallSummary: d.OverallSummary,
			Quotes:         d.Quotes,
			ImageHints:     d.ImageHints,
			OrderIndex:     i,
		}
		if err := tx.Insert(ctx, models.TableChapters, ch); err != nil {
			return nil, fmt.Errorf("save chapter %d: %w", i, err)
		}
		ids = append(ids, ch.ID)
	}

	if len(existing) <= len(drafts) {
		return ids, nil
	}
	stale := make([]string, 0, len(existing)-len(drafts))
	for _, ch := range existing[len(drafts):] {
		stale = append(stale, ch.ID)
	}
	if _, err := tx.Update(ctx, models.TableStoryImages, store.Where(store.In("chapter_id", stale)),
		map[string]any{"chapter_id": ids[len(ids)-1]}); err != nil {
		return nil, fmt.Errorf("move chapter images: %w", err)
	}
	if _, err := tx.Delete(ctx, models.TableChapters, store.Where(store.In("id", stale))); err != nil {
		return nil, fmt.Errorf("drop chapters: %w", err)
	}
	return ids, nil
}

// RequestSpeech queues synthesis for an open prompt that has no audio yet.
// It reports whether audio already exists.
func (s *Service) RequestSpeech(ctx context.Context, userID, sessionID, turnID string) (bool, error) {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return false, err
	}
	var turns []models.Turn
	if err := s.rows.Select(ctx, models.TableTurns, store.Where(store.Eq("id", turnID), store.Eq("session_id", sessionID)), &turns); err != nil {
		return false, fmt.Errorf("load turn: %w", err)
	}
	if len(turns) == 0 {
		return false, fmt.Errorf("turn %s: %w", turnID, apperr.ErrNotFound)
	}
	t := turns[0]
	if t.TTSAudioPath != nil && *t.TTSAudioPath != "" {
		return true, nil
	}
	if t.Answered() {
		return false, fmt.Errorf("%w: turn is already answered", apperr.ErrConflict)
	}
	if s.speaker != nil {
		s.speaker.enqueue(speechJob{SessionID: sessionID, TurnID: t.ID, Text: t.PromptText})
	}
	return false, nil
}

// Task returns a background task owned by userID.
func (s *Service) Task(ctx context.Context, userID, id string) (*taskqueue.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if errors.Is(err, taskqueue.ErrTaskNotFound) {
		return nil, fmt.Errorf("task %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if task.OwnerID != userID {
		return nil, apperr.ErrAuthorization
	}
	return task, nil
}
