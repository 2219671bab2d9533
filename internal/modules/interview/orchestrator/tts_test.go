package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/modules/interview/orchestrator"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withFollowUp starts a session and records one turn that produces a prompt
// awaiting speech.
func withFollowUp(t *testing.T, h *harness) (*orchestrator.Orchestrator, *orchestrator.TurnOutcome) {
	h.pipeline.questions = []string{"What did your house look like?"}
	o := h.started(orchestrator.SessionConfig{})
	out, err := o.RecordTurn(context.Background(), stopNow())
	require.NoError(t, err)
	return o, out
}

// synthesize stores speech for the turn generated from recordingID.
func synthesize(t *testing.T, h *harness, recordingID string) {
	path := "speech/" + recordingID + ".mp3"
	require.NoError(t, h.blobs.Upload(context.Background(), "tts-audio", path, []byte("mp3"), "audio/mpeg"))
	_, err := h.sql.Update(context.Background(), models.TableTurns,
		store.Where(store.Eq("source_recording_id", recordingID)),
		map[string]any{"tts_audio_path": path})
	require.NoError(t, err)
}

func TestResolveTTSReadyOnFifthAttempt(t *testing.T) {
	h := newHarness(t)
	o, out := withFollowUp(t, h)

	var mu sync.Mutex
	checks := 0
	h.rows.BeforeQuery(func(table string) {
		if table != models.TableTurns {
			return
		}
		mu.Lock()
		checks++
		n := checks
		mu.Unlock()
		if n == 5 {
			synthesize(t, h, out.RecordingID)
		}
	})

	url, err := o.ResolveTTS(context.Background(), out.MessageID, false)
	require.NoError(t, err)
	assert.Contains(t, url, "http://blobs.test/tts-audio/speech/")
	assert.Equal(t, 5, checks)
	assert.Equal(t, []time.Duration{
		1500 * time.Millisecond,
		1750 * time.Millisecond,
		1750 * time.Millisecond,
		1750 * time.Millisecond,
	}, h.clock.Delays())

	msg := o.Snapshot().Messages[2]
	assert.Equal(t, orchestrator.TTSReady, msg.TTS)
	assert.Equal(t, url, msg.AudioURL)
	assert.Equal(t, orchestrator.StatusIdle, o.Snapshot().Status)

	// resolved speech is served from state
	again, err := o.ResolveTTS(context.Background(), out.MessageID, false)
	require.NoError(t, err)
	assert.Equal(t, url, again)
	assert.Len(t, h.clock.Delays(), 4)
}

func TestResolveTTSImmediateAndAutoplay(t *testing.T) {
	h := newHarness(t)
	o, out := withFollowUp(t, h)
	synthesize(t, h, out.RecordingID)

	_, err := o.ResolveTTS(context.Background(), out.MessageID, true)
	require.NoError(t, err)
	assert.Empty(t, h.clock.Delays())
	assert.Equal(t, orchestrator.StatusSpeaking, o.Snapshot().Status)

	o.FinishSpeaking()
	assert.Equal(t, orchestrator.StatusIdle, o.Snapshot().Status)
}

func TestResolveTTSExhaustsBudget(t *testing.T) {
	h := newHarness(t)
	o, out := withFollowUp(t, h)

	_, err := o.ResolveTTS(context.Background(), out.MessageID, true)
	require.ErrorIs(t, err, apperr.ErrTTSUnavailable)
	var tts *apperr.TTSUnavailableError
	require.ErrorAs(t, err, &tts)
	assert.Equal(t, 20, tts.Attempts)

	delays := h.clock.Delays()
	assert.Len(t, delays, 19)
	var total time.Duration
	for _, d := range delays {
		total += d
	}
	assert.Equal(t, 33*time.Second, total)

	s := o.Snapshot()
	assert.Equal(t, orchestrator.TTSUnavailable, s.Messages[2].TTS)
	assert.Equal(t, orchestrator.StatusIdle, s.Status, "a missing voice never blocks the interview")
}

func TestResolveTTSForOpeningPrompt(t *testing.T) {
	h := newHarness(t)
	o := h.started(orchestrator.SessionConfig{})
	opening := o.Snapshot().Messages[0]
	require.Empty(t, opening.RecordingID)
	require.Equal(t, []string{opening.TurnID}, h.pipeline.speech)

	path := "speech/" + opening.TurnID + ".mp3"
	require.NoError(t, h.blobs.Upload(context.Background(), "tts-audio", path, []byte("mp3"), "audio/mpeg"))
	_, err := h.sql.Update(context.Background(), models.TableTurns, store.Where(store.Eq("id", opening.TurnID)),
		map[string]any{"tts_audio_path": path})
	require.NoError(t, err)

	url, err := o.ResolveTTS(context.Background(), opening.ID, false)
	require.NoError(t, err)
	assert.Contains(t, url, path)
	assert.Empty(t, h.clock.Delays())

	_, err = o.ResolveTTS(context.Background(), "ai-nope", false)
	assert.ErrorIs(t, err, orchestrator.ErrUnknownMessage)
}

func TestResolveTTSAsyncAfterCloseIsNoop(t *testing.T) {
	h := newHarness(t)
	o, out := withFollowUp(t, h)
	before := o.Snapshot().Messages[2].TTS

	o.Close()
	o.ResolveTTSAsync(out.MessageID, true)
	o.Close()
	assert.Equal(t, before, o.Snapshot().Messages[2].TTS)
}

// stalledClock never fires.
type stalledClock struct{ fakeClock }

func (c *stalledClock) After(time.Duration) <-chan time.Time { return nil }

func TestCloseStopsBackgroundPoll(t *testing.T) {
	h := newHarness(t)
	h.pipeline.questions = []string{"Next?"}
	o := orchestrator.New(orchestrator.Deps{
		Rows: h.rows, Blobs: h.blobs, Recorder: h.rec, Processor: h.pipeline, Auth: h.auth, Token: "token", TTSBucket: "tts-audio",
	}, orchestrator.WithClock(&stalledClock{}))
	require.NoError(t, o.StartSession(context.Background(), orchestrator.SessionConfig{}))
	out, err := o.RecordTurn(context.Background(), stopNow())
	require.NoError(t, err)

	o.ResolveTTSAsync(out.MessageID, true)
	require.Eventually(t, func() bool {
		return o.Snapshot().Messages[2].TTS == orchestrator.TTSPending
	}, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the poll")
	}
	assert.Equal(t, orchestrator.TTSNone, o.Snapshot().Messages[2].TTS)
}

func TestReplayShape(t *testing.T) {
	answer := "We lived by the sea."
	empty := ""
	rec := "rec-1"
	turns := []models.Turn{
		{Base: models.Base{ID: "t2"}, OrdinalIndex: 2, PromptText: "Third"},
		{Base: models.Base{ID: "t0"}, OrdinalIndex: 0, PromptText: "First", AnswerText: &answer, RecordingID: &rec},
		{Base: models.Base{ID: "t1"}, OrdinalIndex: 1, PromptText: "Second", AnswerText: &empty, SourceRecordingID: &rec},
	}

	msgs := orchestrator.Replay(turns)
	require.Len(t, msgs, 2*len(turns)-1)
	assert.Equal(t, []string{"ai-t0", "user-t0", "ai-t1", "user-t1", "ai-t2"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID, msgs[3].ID, msgs[4].ID})
	assert.Equal(t, answer, msgs[1].Content)
	assert.Equal(t, "rec-1", msgs[1].RecordingID)
	assert.Equal(t, "rec-1", msgs[2].RecordingID)
	assert.True(t, msgs[3].Pending)
	assert.Equal(t, orchestrator.PendingTranscript, msgs[3].Content)
	assert.Equal(t, orchestrator.RoleAI, msgs[4].Role)

	assert.Empty(t, orchestrator.Replay(nil))
}

func TestOpeningPrompt(t *testing.T) {
	assert.Contains(t, orchestrator.OpeningPrompt(models.ModeGuided, "Childhood"), "childhood")
	assert.Equal(t, orchestrator.OpeningPrompt(models.ModeNonGuided, "childhood"), orchestrator.OpeningPrompt(models.ModeGuided, "unknown"))
}
