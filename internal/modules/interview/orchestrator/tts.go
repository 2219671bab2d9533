package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/store"
	"go.uber.org/zap"
)

// ResolveTTS polls for the synthesized speech of an AI message and returns
// a signed URL for it. When autoplay is set the status moves to speaking.
// The poll stops when ctx ends or the orchestrator closes; an exhausted
// budget leaves the message text-only.
func (o *Orchestrator) ResolveTTS(ctx context.Context, messageID string, autoplay bool) (string, error) {
	msg, sessionID, err := o.findMessage(messageID)
	if err != nil {
		return "", err
	}
	if msg.TTS == TTSReady && msg.AudioURL != "" {
		return msg.AudioURL, nil
	}
	if msg.TurnID == "" && msg.RecordingID == "" {
		o.setTTS(messageID, TTSUnavailable, "")
		return "", &apperr.TTSUnavailableError{MessageID: messageID}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopOnClose := context.AfterFunc(o.root, cancel)
	defer stopOnClose()

	o.setTTS(messageID, TTSPending, "")
	for attempt := 0; attempt < o.policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-o.clock.After(o.policy.delay(attempt - 1)):
			case <-ctx.Done():
				o.setTTS(messageID, TTSNone, "")
				return "", ctx.Err()
			}
		}

		url, err := o.lookupSpeech(ctx, sessionID, msg)
		if err != nil {
			if ctx.Err() != nil {
				o.setTTS(messageID, TTSNone, "")
				return "", ctx.Err()
			}
			o.log.Debug("speech lookup failed", zap.String("message_id", messageID), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if url == "" {
			continue
		}

		o.update(func(s *State) {
			markTTS(s, messageID, TTSReady, url)
			if autoplay && s.Status == StatusIdle {
				s.Status = StatusSpeaking
			}
		})
		return url, nil
	}

	o.setTTS(messageID, TTSUnavailable, "")
	o.log.Info("speech not ready, continuing text-only", zap.String("message_id", messageID), zap.Int("attempts", o.policy.Attempts))
	return "", &apperr.TTSUnavailableError{MessageID: messageID, Attempts: o.policy.Attempts}
}

// ResolveTTSAsync runs ResolveTTS in the background. Close stops it; after
// Close it does nothing.
func (o *Orchestrator) ResolveTTSAsync(messageID string, autoplay bool) {
	o.mu.Lock()
	if o.root.Err() != nil {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()
	go func() {
		defer o.wg.Done()
		if _, err := o.ResolveTTS(o.root, messageID, autoplay); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, apperr.ErrTTSUnavailable) {
			o.log.Warn("speech resolution failed", zap.String("message_id", messageID), zap.Error(err))
		}
	}()
}

// lookupSpeech returns a signed URL once the prompt turn of msg has
// synthesized audio, or "" while it has none. The turn is found by id, or by
// the recording it was generated from when the id is not known yet.
func (o *Orchestrator) lookupSpeech(ctx context.Context, sessionID string, msg Message) (string, error) {
	match := store.Eq("id", msg.TurnID)
	if msg.TurnID == "" {
		match = store.Eq("source_recording_id", msg.RecordingID)
	}
	var turns []models.Turn
	err := o.rows.Select(ctx, models.TableTurns, store.Where(
		store.Eq("session_id", sessionID),
		match,
		store.NotNull("tts_audio_path"),
	), &turns, store.Limit(1))
	if err != nil {
		return "", err
	}
	if len(turns) == 0 || deref(turns[0].TTSAudioPath) == "" {
		return "", nil
	}
	return o.blobs.SignedURL(ctx, o.ttsBucket, *turns[0].TTSAudioPath, o.policy.URLTTL)
}

func (o *Orchestrator) findMessage(id string) (Message, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return Message{}, "", ErrNoSession
	}
	for _, m := range o.state.Messages {
		if m.ID == id && m.Role == RoleAI {
			return m, o.session.ID, nil
		}
	}
	return Message{}, "", fmt.Errorf("%w: %s", ErrUnknownMessage, id)
}

func (o *Orchestrator) setTTS(id string, st TTSState, url string) {
	o.update(func(s *State) { markTTS(s, id, st, url) })
}

func markTTS(s *State, id string, st TTSState, url string) {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			s.Messages[i].TTS = st
			s.Messages[i].AudioURL = url
			return
		}
	}
}
