package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/modules/interview/orchestrator"
	"github.com/storyloom/core/internal/modules/interview/processor"
	"github.com/storyloom/core/internal/modules/interview/recorder"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/store"
	"github.com/storyloom/core/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeClock fires every timer immediately and records the requested waits.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

type fakeAuth struct {
	userID string
	err    error
}

func (a *fakeAuth) CurrentUser(context.Context, string) (string, error) {
	return a.userID, a.err
}

type fakeRecorder struct {
	// starting, when set, is closed on Start and Start then waits for gate.
	starting chan struct{}
	gate     chan struct{}

	mu        sync.Mutex
	startErr  error
	stopErr   error
	takes     int
	cancelled int
}

func (r *fakeRecorder) Start(context.Context) error {
	if r.starting != nil {
		close(r.starting)
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startErr
}

func (r *fakeRecorder) Stop() (*recorder.Capture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopErr != nil {
		return nil, r.stopErr
	}
	r.takes++
	return &recorder.Capture{
		ID:          fmt.Sprintf("take-%d", r.takes),
		Data:        []byte("audio"),
		ContentType: "audio/webm",
		Duration:    time.Second,
	}, nil
}

func (r *fakeRecorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled++
}

// fakePipeline answers the open turn and appends the next one, the way the
// processing service does.
type fakePipeline struct {
	t    *testing.T
	rows store.Rows

	mu         sync.Mutex
	questions  []string
	uploadErrs []error
	captures   []string
	gate       chan struct{}
	chapterErr error
	chapters   int
	speech     []string
}

func (p *fakePipeline) UploadAndProcess(ctx context.Context, token string, c *recorder.Capture, turn processor.Turn) (*processor.ProcessResponse, error) {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	p.captures = append(p.captures, c.ID)
	if len(p.uploadErrs) > 0 {
		err := p.uploadErrs[0]
		p.uploadErrs = p.uploadErrs[1:]
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	var question string
	if len(p.questions) > 0 {
		question = p.questions[0]
		p.questions = p.questions[1:]
	}
	p.mu.Unlock()

	var open []models.Turn
	require.NoError(p.t, p.rows.Select(ctx, models.TableTurns, store.Where(store.Eq("session_id", turn.SessionID)), &open, store.OrderByDesc("ordinal_index"), store.Limit(1)))
	require.Len(p.t, open, 1)
	current := open[0]

	rec := &models.Recording{SessionID: turn.SessionID, UserID: turn.UserID, StoragePath: c.ID + ".webm", MimeType: c.ContentType}
	require.NoError(p.t, p.rows.Insert(ctx, models.TableRecordings, rec))
	answer := "answer to: " + turn.Prompt
	_, err := p.rows.Update(ctx, models.TableTurns, store.Where(store.Eq("id", current.ID)),
		map[string]any{"answer_text": answer, "recording_id": rec.ID})
	require.NoError(p.t, err)

	res := &processor.ProcessResponse{Transcript: answer, RecordingID: rec.ID, TurnID: current.ID}
	if question == "" {
		return res, nil
	}
	next := &models.Turn{
		SessionID:         turn.SessionID,
		OrdinalIndex:      current.OrdinalIndex + 1,
		PromptText:        question,
		SourceRecordingID: &rec.ID,
		FollowUps:         models.StringArray{"alt " + question},
	}
	require.NoError(p.t, p.rows.Insert(ctx, models.TableTurns, next))
	res.FollowUp = processor.FollowUp{Question: question, Suggestions: []string{"alt " + question}}
	res.NextTurnID = next.ID
	return res, nil
}

func (p *fakePipeline) GenerateChapters(ctx context.Context, token, sessionID string) (*processor.ChapterJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chapters++
	if p.chapterErr != nil {
		return nil, p.chapterErr
	}
	return &processor.ChapterJob{TaskID: "task-" + sessionID, Status: "pending"}, nil
}

func (p *fakePipeline) RequestSpeech(ctx context.Context, token, sessionID, turnID string) (*processor.SpeechJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speech = append(p.speech, turnID)
	return &processor.SpeechJob{TurnID: turnID}, nil
}

type harness struct {
	t        *testing.T
	sql      *store.SQL
	rows     *storetest.Rows
	blobs    *store.Local
	rec      *fakeRecorder
	pipeline *fakePipeline
	auth     *fakeAuth
	clock    *fakeClock
}

func newHarness(t *testing.T) *harness {
	sql := storetest.NewSQL(t)
	rows := storetest.WrapRows(sql)
	return &harness{
		t:        t,
		sql:      sql,
		rows:     rows,
		blobs:    storetest.NewLocal(t),
		rec:      &fakeRecorder{},
		pipeline: &fakePipeline{t: t, rows: sql},
		auth:     &fakeAuth{userID: "user-1"},
		clock:    &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
}

func (h *harness) orchestrator() *orchestrator.Orchestrator {
	o := orchestrator.New(orchestrator.Deps{
		Rows:      h.rows,
		Blobs:     h.blobs,
		Recorder:  h.rec,
		Processor: h.pipeline,
		Auth:      h.auth,
		Token:     "token",
		TTSBucket: "tts-audio",
		Logger:    zaptest.NewLogger(h.t),
	}, orchestrator.WithClock(h.clock))
	h.t.Cleanup(o.Close)
	return o
}

func (h *harness) started(cfg orchestrator.SessionConfig) *orchestrator.Orchestrator {
	o := h.orchestrator()
	require.NoError(h.t, o.StartSession(context.Background(), cfg))
	return o
}

func stopNow() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestStartSessionCreatesOpeningTurn(t *testing.T) {
	h := newHarness(t)
	o := h.started(orchestrator.SessionConfig{Mode: models.ModeGuided, Category: "childhood", Language: "en"})

	s := o.Snapshot()
	require.NotEmpty(t, s.SessionID)
	assert.Equal(t, orchestrator.StatusIdle, s.Status)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, orchestrator.RoleAI, s.Messages[0].Role)
	assert.Equal(t, orchestrator.OpeningPrompt(models.ModeGuided, "childhood"), s.CurrentPrompt)

	var sessions []models.Session
	require.NoError(t, h.sql.Select(context.Background(), models.TableSessions, store.Where(store.Eq("id", s.SessionID)), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "user-1", sessions[0].UserID)
	assert.Equal(t, models.SessionActive, sessions[0].Status)

	// the opening prompt is sent for speech
	assert.Equal(t, []string{s.Messages[0].TurnID}, h.pipeline.speech)

	// a second start on the same orchestrator creates nothing
	require.NoError(t, o.StartSession(context.Background(), orchestrator.SessionConfig{}))
	assert.Equal(t, []string{models.TableSessions, models.TableTurns}, h.rows.Writes("insert"))
	assert.Len(t, h.pipeline.speech, 1)
}

func TestStartSessionRequiresAuthentication(t *testing.T) {
	h := newHarness(t)
	h.auth.err = errors.New("token expired")
	o := h.orchestrator()

	err := o.StartSession(context.Background(), orchestrator.SessionConfig{})
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
	assert.Empty(t, h.rows.Writes("insert"))
}

func TestStartSessionRejectsForeignBook(t *testing.T) {
	h := newHarness(t)
	book := &models.Book{UserID: "someone-else", Title: "Theirs"}
	require.NoError(t, h.sql.Insert(context.Background(), models.TableBooks, book))

	o := h.orchestrator()
	err := o.StartSession(context.Background(), orchestrator.SessionConfig{BookID: book.ID})
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	err = o.StartSession(context.Background(), orchestrator.SessionConfig{BookID: "missing"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	err = o.StartSession(context.Background(), orchestrator.SessionConfig{Mode: "freestyle"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestRecordTurnAppendsAnswerAndFollowUp(t *testing.T) {
	h := newHarness(t)
	h.pipeline.questions = []string{"What games did you play?"}
	o := h.started(orchestrator.SessionConfig{Mode: models.ModeGuided, Category: "childhood"})

	out, err := o.RecordTurn(context.Background(), stopNow())
	require.NoError(t, err)
	assert.False(t, out.Concluded)
	assert.NotEmpty(t, out.RecordingID)

	s := o.Snapshot()
	require.Len(t, s.Messages, 3)
	assert.Equal(t, orchestrator.RoleUser, s.Messages[1].Role)
	assert.Equal(t, orchestrator.RoleAI, s.Messages[2].Role)
	assert.Equal(t, "What games did you play?", s.CurrentPrompt)
	assert.Equal(t, []string{"alt What games did you play?"}, s.Suggestions)
	assert.Equal(t, orchestrator.TTSPending, s.Messages[2].TTS)
	assert.Equal(t, out.RecordingID, s.Messages[2].RecordingID)
	assert.Equal(t, out.MessageID, s.Messages[2].ID)
	assert.Equal(t, orchestrator.StatusIdle, s.Status)
}

func TestStatusTransitionsThroughATurn(t *testing.T) {
	h := newHarness(t)
	h.pipeline.questions = []string{"Next?"}

	var mu sync.Mutex
	var statuses []orchestrator.Status
	o := orchestrator.New(orchestrator.Deps{
		Rows: h.rows, Blobs: h.blobs, Recorder: h.rec, Processor: h.pipeline, Auth: h.auth, Token: "token",
	}, orchestrator.WithClock(h.clock), orchestrator.WithObserver(func(s orchestrator.State) {
		mu.Lock()
		defer mu.Unlock()
		if len(statuses) == 0 || statuses[len(statuses)-1] != s.Status {
			statuses = append(statuses, s.Status)
		}
	}))
	t.Cleanup(o.Close)

	require.NoError(t, o.StartSession(context.Background(), orchestrator.SessionConfig{}))
	_, err := o.RecordTurn(context.Background(), stopNow())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []orchestrator.Status{
		orchestrator.StatusIdle,
		orchestrator.StatusListening,
		orchestrator.StatusThinking,
		orchestrator.StatusIdle,
	}, statuses)
}

func TestNoFollowUpConcludesInterview(t *testing.T) {
	h := newHarness(t)
	o := h.started(orchestrator.SessionConfig{})

	out, err := o.RecordTurn(context.Background(), stopNow())
	require.NoError(t, err)
	assert.True(t, out.Concluded)
	assert.Empty(t, out.MessageID)

	s := o.Snapshot()
	assert.Equal(t, orchestrator.StatusConcluded, s.Status)
	assert.True(t, s.Concluded)
	assert.Len(t, s.Messages, 2)

	_, err = o.RecordTurn(context.Background(), stopNow())
	assert.ErrorIs(t, err, orchestrator.ErrConcluded)
}

func TestNetworkErrorRetainsAudioForRetry(t *testing.T) {
	h := newHarness(t)
	h.pipeline.questions = []string{"Tell me more."}
	h.pipeline.uploadErrs = []error{apperr.Network("/upload-and-process", errors.New("connection reset"))}
	o := h.started(orchestrator.SessionConfig{})

	_, err := o.RecordTurn(context.Background(), stopNow())
	require.ErrorIs(t, err, apperr.ErrNetwork)

	s := o.Snapshot()
	assert.Equal(t, orchestrator.StatusError, s.Status)
	assert.True(t, s.NetworkError)
	assert.True(t, s.CanRetry)
	assert.Len(t, s.Messages, 1)

	out, err := o.RetryTurn(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Concluded)
	assert.Equal(t, 1, h.rec.takes, "retry must not record again")
	assert.Equal(t, []string{"take-1", "take-1"}, h.pipeline.captures)

	s = o.Snapshot()
	assert.False(t, s.NetworkError)
	assert.Len(t, s.Messages, 3)

	_, err = o.RetryTurn(context.Background())
	assert.ErrorIs(t, err, orchestrator.ErrNothingToRetry)
}

func TestAuthErrorIsNotRetryable(t *testing.T) {
	h := newHarness(t)
	h.pipeline.uploadErrs = []error{fmt.Errorf("/upload-and-process: %w", apperr.ErrAuthentication)}
	o := h.started(orchestrator.SessionConfig{})

	_, err := o.RecordTurn(context.Background(), stopNow())
	require.ErrorIs(t, err, apperr.ErrAuthentication)
	s := o.Snapshot()
	assert.False(t, s.CanRetry)
	assert.False(t, s.NetworkError)
	_, err = o.RetryTurn(context.Background())
	assert.ErrorIs(t, err, orchestrator.ErrNothingToRetry)
}

func TestCaptureFailureKeepsSessionUsable(t *testing.T) {
	h := newHarness(t)
	h.pipeline.questions = []string{"Again?"}
	h.rec.stopErr = recorder.ErrEmptyCapture
	o := h.started(orchestrator.SessionConfig{})

	_, err := o.RecordTurn(context.Background(), stopNow())
	require.ErrorIs(t, err, recorder.ErrEmptyCapture)
	assert.Equal(t, orchestrator.StatusError, o.Snapshot().Status)

	h.rec.mu.Lock()
	h.rec.stopErr = nil
	h.rec.mu.Unlock()
	_, err = o.RecordTurn(context.Background(), stopNow())
	require.NoError(t, err)
	assert.Len(t, o.Snapshot().Messages, 3)
}

func TestSingleTurnInFlight(t *testing.T) {
	h := newHarness(t)
	h.pipeline.questions = []string{"Next?"}
	h.pipeline.gate = make(chan struct{})
	o := h.started(orchestrator.SessionConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := o.RecordTurn(context.Background(), stopNow())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return o.Snapshot().Status == orchestrator.StatusThinking
	}, time.Second, 5*time.Millisecond)

	_, err := o.RecordTurn(context.Background(), stopNow())
	assert.ErrorIs(t, err, orchestrator.ErrTurnInFlight)
	_, err = o.RetryTurn(context.Background())
	assert.ErrorIs(t, err, orchestrator.ErrTurnInFlight)

	close(h.pipeline.gate)
	require.NoError(t, <-done)
	assert.Len(t, o.Snapshot().Messages, 3)
}

func TestCancelRecordingWritesNothing(t *testing.T) {
	h := newHarness(t)
	o := h.started(orchestrator.SessionConfig{})
	writesBefore := len(h.rows.Calls())

	done := make(chan error, 1)
	go func() {
		_, err := o.RecordTurn(context.Background(), make(chan struct{}))
		done <- err
	}()
	require.Eventually(t, func() bool {
		return o.Snapshot().Status == orchestrator.StatusListening
	}, time.Second, 5*time.Millisecond)

	o.CancelRecording()
	assert.ErrorIs(t, <-done, orchestrator.ErrRecordingCancelled)
	assert.Equal(t, 1, h.rec.cancelled)
	assert.Equal(t, orchestrator.StatusIdle, o.Snapshot().Status)
	assert.Len(t, h.rows.Calls(), writesBefore)
	assert.Empty(t, h.pipeline.captures)
}

func TestCancelDuringRecorderStartIsNotLost(t *testing.T) {
	h := newHarness(t)
	o := h.started(orchestrator.SessionConfig{})
	h.rec.starting = make(chan struct{})
	h.rec.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := o.RecordTurn(context.Background(), stopNow())
		done <- err
	}()
	<-h.rec.starting
	o.CancelRecording()
	close(h.rec.gate)

	assert.ErrorIs(t, <-done, orchestrator.ErrRecordingCancelled)
	assert.Empty(t, h.pipeline.captures)
}

func TestResumeReplaysTurns(t *testing.T) {
	h := newHarness(t)
	h.pipeline.questions = []string{"Second?", "Third?"}
	first := h.started(orchestrator.SessionConfig{})
	for i := 0; i < 2; i++ {
		_, err := first.RecordTurn(context.Background(), stopNow())
		require.NoError(t, err)
	}
	sessionID := first.Snapshot().SessionID
	first.CancelAndExit()

	resumed := h.orchestrator()
	require.NoError(t, resumed.ResumeSession(context.Background(), sessionID))
	s := resumed.Snapshot()
	assert.Len(t, s.Messages, 2*3-1)
	assert.Equal(t, "Third?", s.CurrentPrompt)
	assert.Equal(t, orchestrator.StatusIdle, s.Status)
	live := first.Snapshot().Messages
	require.Len(t, live, 5)
	for i, m := range s.Messages {
		assert.Equal(t, live[i].ID, m.ID)
		assert.Equal(t, live[i].Role, m.Role)
		assert.Equal(t, live[i].Content, m.Content)
		assert.Equal(t, live[i].RecordingID, m.RecordingID)
	}
}

func TestResumeChecksOwnership(t *testing.T) {
	h := newHarness(t)
	o := h.started(orchestrator.SessionConfig{})
	sessionID := o.Snapshot().SessionID

	h.auth.userID = "intruder"
	err := h.orchestrator().ResumeSession(context.Background(), sessionID)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	err = h.orchestrator().ResumeSession(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEndSessionSurvivesChapterFailure(t *testing.T) {
	h := newHarness(t)
	h.pipeline.chapterErr = apperr.Network("/generate-chapters", errors.New("timeout"))
	o := h.started(orchestrator.SessionConfig{})

	out, err := o.EndSession(context.Background())
	require.NoError(t, err)
	require.Error(t, out.Err)
	assert.Empty(t, out.TaskID)

	s := o.Snapshot()
	assert.True(t, s.Completed)
	assert.NotEmpty(t, s.ChapterError)

	var sessions []models.Session
	require.NoError(t, h.sql.Select(context.Background(), models.TableSessions, store.Where(store.Eq("id", s.SessionID)), &sessions))
	assert.Equal(t, models.SessionCompleted, sessions[0].Status)
	assert.NotNil(t, sessions[0].EndedAt)

	_, err = o.RecordTurn(context.Background(), stopNow())
	assert.ErrorIs(t, err, orchestrator.ErrSessionCompleted)

	h.pipeline.mu.Lock()
	h.pipeline.chapterErr = nil
	h.pipeline.mu.Unlock()
	out, err = o.RetryChapters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "task-"+s.SessionID, out.TaskID)
	assert.Empty(t, o.Snapshot().ChapterError)
}

func TestEndSessionRequiresAuthentication(t *testing.T) {
	h := newHarness(t)
	o := h.started(orchestrator.SessionConfig{})
	h.auth.err = apperr.ErrAuthentication

	_, err := o.EndSession(context.Background())
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
	assert.False(t, o.Snapshot().Completed)
	assert.Zero(t, h.pipeline.chapters)
}

func TestCancelAndExitKeepsSessionActive(t *testing.T) {
	h := newHarness(t)
	o := h.started(orchestrator.SessionConfig{})
	id := o.Snapshot().SessionID
	o.CancelAndExit()

	var sessions []models.Session
	require.NoError(t, h.sql.Select(context.Background(), models.TableSessions, store.Where(store.Eq("id", id)), &sessions))
	assert.Equal(t, models.SessionActive, sessions[0].Status)
	_, err := o.RecordTurn(context.Background(), stopNow())
	assert.ErrorIs(t, err, orchestrator.ErrClosed)
}

func TestSaveAndExitCompletesSession(t *testing.T) {
	h := newHarness(t)
	o := h.started(orchestrator.SessionConfig{})

	out, err := o.SaveAndExit(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, out.TaskID)
	assert.True(t, o.Snapshot().Completed)
	assert.Equal(t, 1, h.pipeline.chapters)
}
