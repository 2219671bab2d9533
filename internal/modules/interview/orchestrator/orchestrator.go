package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/modules/interview/processor"
	"github.com/storyloom/core/internal/modules/interview/recorder"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/store"
	"go.uber.org/zap"
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Rows      store.Rows
	Blobs     store.Blobs
	Recorder  recorder.Recorder
	Processor Processor
	Auth      Authenticator
	// Token is the caller's credential, forwarded to the pipeline.
	Token     string
	TTSBucket string
	Logger    *zap.Logger
}

type Option func(*Orchestrator)

func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func WithTTSPolicy(p TTSPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithObserver registers fn to receive every state snapshot.
func WithObserver(fn func(State)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// Orchestrator owns one interview session.
type Orchestrator struct {
	rows      store.Rows
	blobs     store.Blobs
	rec       recorder.Recorder
	proc      Processor
	auth      Authenticator
	token     string
	ttsBucket string
	log       *zap.Logger
	clock     Clock
	policy    TTSPolicy
	observer  func(State)

	root     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu             sync.Mutex
	state          State
	session        *models.Session
	busy           bool
	turnDone       chan struct{}
	cancelCapture  chan struct{}
	retained       *recorder.Capture
	retainedPrompt string
}

func New(d Deps, opts ...Option) *Orchestrator {
	root, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		rows:      d.Rows,
		blobs:     d.Blobs,
		rec:       d.Recorder,
		proc:      d.Processor,
		auth:      d.Auth,
		token:     d.Token,
		ttsBucket: d.TTSBucket,
		log:       d.Logger,
		clock:     realClock{},
		policy:    DefaultTTSPolicy(),
		root:      root,
		shutdown:  cancel,
		state:     State{Status: StatusIdle},
	}
	if o.auth == nil {
		o.auth = TokenAuthenticator{}
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.policy.Attempts < 1 {
		o.policy.Attempts = 1
	}
	return o
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// update mutates state under the lock and publishes the result.
func (o *Orchestrator) update(fn func(s *State)) {
	o.mu.Lock()
	fn(&o.state)
	snap := o.state.clone()
	o.mu.Unlock()
	if o.observer != nil {
		o.observer(snap)
	}
}

func (o *Orchestrator) setStatus(st Status) {
	o.update(func(s *State) { s.Status = st })
}

// acquire marks an operation in flight.
func (o *Orchestrator) acquire() (chan struct{}, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.claimLocked(); err != nil {
		return nil, err
	}
	return o.turnDone, nil
}

// acquireCapture marks a recording in flight and returns the channel
// CancelRecording closes. Both are set under one lock so a cancel is never
// lost between them.
func (o *Orchestrator) acquireCapture() (chan struct{}, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.claimLocked(); err != nil {
		return nil, err
	}
	o.cancelCapture = make(chan struct{})
	return o.cancelCapture, nil
}

func (o *Orchestrator) claimLocked() error {
	if o.root.Err() != nil {
		return ErrClosed
	}
	if o.busy {
		return ErrTurnInFlight
	}
	o.busy = true
	o.turnDone = make(chan struct{})
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = false
	o.cancelCapture = nil
	if o.turnDone != nil {
		close(o.turnDone)
		o.turnDone = nil
	}
}

func (o *Orchestrator) authenticate(ctx context.Context) (string, error) {
	userID, err := o.auth.CurrentUser(ctx, o.token)
	if err != nil {
		return "", asAuthError(err)
	}
	if userID == "" {
		return "", apperr.ErrAuthentication
	}
	return userID, nil
}

// StartSession creates a session with its opening prompt, or resumes
// cfg.SessionID when set. It is a no-op once a session is loaded.
func (o *Orchestrator) StartSession(ctx context.Context, cfg SessionConfig) error {
	userID, err := o.authenticate(ctx)
	if err != nil {
		return err
	}
	if _, err := o.acquire(); err != nil {
		return err
	}
	defer o.release()

	o.mu.Lock()
	loaded := o.session != nil
	o.mu.Unlock()
	if loaded {
		return nil
	}
	if cfg.SessionID != "" {
		return o.resume(ctx, userID, cfg.SessionID)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = models.ModeGuided
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown session mode %q", apperr.ErrInvalid, mode)
	}

	sess := &models.Session{
		UserID:    userID,
		Mode:      mode,
		Category:  cfg.Category,
		Themes:    models.StringArray(cfg.Themes),
		Persona:   cfg.Persona,
		Language:  cfg.Language,
		Status:    models.SessionActive,
		StartedAt: o.clock.Now(),
	}
	if cfg.BookID != "" {
		if err := o.checkBook(ctx, userID, cfg.BookID); err != nil {
			return err
		}
		bookID := cfg.BookID
		sess.StoryGroupID = &bookID
	}
	if err := o.rows.Insert(ctx, models.TableSessions, sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	opening := &models.Turn{
		SessionID:    sess.ID,
		OrdinalIndex: 0,
		PromptText:   OpeningPrompt(mode, cfg.Category),
	}
	if err := o.rows.Insert(ctx, models.TableTurns, opening); err != nil {
		return fmt.Errorf("create opening turn: %w", err)
	}

	o.log.Info("interview session started", zap.String("session_id", sess.ID), zap.String("mode", string(mode)))
	o.install(sess, []models.Turn{*opening})
	if _, err := o.proc.RequestSpeech(ctx, o.token, sess.ID, opening.ID); err != nil {
		o.log.Warn("opening prompt speech not requested", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return nil
}

// ResumeSession loads an existing session and replays its turns.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID string) error {
	return o.StartSession(ctx, SessionConfig{SessionID: sessionID})
}

func (o *Orchestrator) checkBook(ctx context.Context, userID, bookID string) error {
	var books []models.Book
	if err := o.rows.Select(ctx, models.TableBooks, store.Where(store.Eq("id", bookID), store.IsNull("deleted_at")), &books); err != nil {
		return fmt.Errorf("load book: %w", err)
	}
	if len(books) == 0 {
		return fmt.Errorf("book %s: %w", bookID, apperr.ErrNotFound)
	}
	if books[0].UserID != userID {
		return apperr.ErrAuthorization
	}
	return nil
}

func (o *Orchestrator) resume(ctx context.Context, userID, sessionID string) error {
	var sessions []models.Session
	if err := o.rows.Select(ctx, models.TableSessions, store.Where(store.Eq("id", sessionID), store.IsNull("deleted_at")), &sessions); err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if len(sessions) == 0 {
		return fmt.Errorf("session %s: %w", sessionID, apperr.ErrNotFound)
	}
	sess := sessions[0]
	if sess.UserID != userID {
		return apperr.ErrAuthorization
	}

	var turns []models.Turn
	if err := o.rows.Select(ctx, models.TableTurns, store.Where(store.Eq("session_id", sessionID)), &turns, store.OrderBy("ordinal_index")); err != nil {
		return fmt.Errorf("load turns: %w", err)
	}
	o.log.Info("interview session resumed", zap.String("session_id", sessionID), zap.Int("turns", len(turns)))
	o.install(&sess, turns)
	return nil
}

// install replaces the state with a loaded session. An answered last turn
// means the pipeline had no further question.
func (o *Orchestrator) install(sess *models.Session, turns []models.Turn) {
	msgs := Replay(turns)
	concluded := len(turns) > 0 && turns[len(turns)-1].Answered()

	o.mu.Lock()
	o.session = sess
	o.mu.Unlock()

	o.update(func(s *State) {
		*s = State{
			SessionID: sess.ID,
			Status:    StatusIdle,
			Messages:  msgs,
			Completed: sess.Status == models.SessionCompleted,
			Concluded: concluded,
		}
		if concluded {
			s.Status = StatusConcluded
			return
		}
		if last, ok := lastPrompt(msgs); ok {
			s.CurrentPrompt = last.Content
			s.Suggestions = last.Alternatives
		}
	})
}

// RecordTurn captures one answer until stop fires, then uploads and
// processes it. CancelRecording aborts the capture without writing anything.
func (o *Orchestrator) RecordTurn(ctx context.Context, stop <-chan struct{}) (*TurnOutcome, error) {
	if err := o.turnAllowed(); err != nil {
		return nil, err
	}
	cancelCh, err := o.acquireCapture()
	if err != nil {
		return nil, err
	}
	defer o.release()

	if err := o.rec.Start(ctx); err != nil {
		o.fail(err, false)
		return nil, fmt.Errorf("start recording: %w", err)
	}
	o.update(func(s *State) {
		s.Status = StatusListening
		s.LastError = ""
	})

	select {
	case <-stop:
	case <-cancelCh:
		o.rec.Cancel()
		o.setStatus(StatusIdle)
		return nil, ErrRecordingCancelled
	case <-ctx.Done():
		o.rec.Cancel()
		o.setStatus(StatusIdle)
		return nil, ctx.Err()
	case <-o.root.Done():
		o.rec.Cancel()
		return nil, ErrClosed
	}
	// a cancel that raced the stop signal still wins
	select {
	case <-cancelCh:
		o.rec.Cancel()
		o.setStatus(StatusIdle)
		return nil, ErrRecordingCancelled
	default:
	}

	capture, err := o.rec.Stop()
	if err != nil {
		o.fail(err, false)
		return nil, fmt.Errorf("stop recording: %w", err)
	}

	o.mu.Lock()
	o.retained = capture
	o.retainedPrompt = o.state.CurrentPrompt
	prompt := o.retainedPrompt
	o.mu.Unlock()
	o.setStatus(StatusThinking)

	return o.process(ctx, capture, prompt)
}

// RetryTurn resubmits the answer whose processing failed on the network.
func (o *Orchestrator) RetryTurn(ctx context.Context) (*TurnOutcome, error) {
	if err := o.turnAllowed(); err != nil {
		return nil, err
	}
	if _, err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	o.mu.Lock()
	capture, prompt := o.retained, o.retainedPrompt
	o.mu.Unlock()
	if capture == nil {
		return nil, ErrNothingToRetry
	}
	o.update(func(s *State) {
		s.Status = StatusThinking
		s.LastError = ""
	})
	return o.process(ctx, capture, prompt)
}

func (o *Orchestrator) turnAllowed() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.session == nil:
		return ErrNoSession
	case o.state.Completed:
		return ErrSessionCompleted
	case o.state.Concluded:
		return ErrConcluded
	}
	return nil
}

// CancelRecording discards an in-progress capture. It does nothing once the
// answer has been handed to the pipeline.
func (o *Orchestrator) CancelRecording() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelCapture != nil {
		close(o.cancelCapture)
		o.cancelCapture = nil
	}
}

func (o *Orchestrator) process(ctx context.Context, capture *recorder.Capture, prompt string) (*TurnOutcome, error) {
	o.mu.Lock()
	sess := *o.session
	o.mu.Unlock()

	res, err := o.proc.UploadAndProcess(ctx, o.token, capture, processor.Turn{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Prompt:    prompt,
		Language:  sess.Language,
		Persona:   sess.Persona,
		Mode:      string(sess.Mode),
		Category:  sess.Category,
	})
	if err != nil {
		network := apperr.KindOf(err) == apperr.KindNetwork
		o.fail(err, network)
		o.log.Warn("turn processing failed",
			zap.String("session_id", sess.ID),
			zap.Bool("retryable", network),
			zap.Error(err))
		return nil, err
	}

	user := Message{
		ID:          userMessageID(res.TurnID),
		Role:        RoleUser,
		Content:     res.Transcript,
		TurnID:      res.TurnID,
		RecordingID: res.RecordingID,
		TTS:         TTSNone,
	}
	if res.TranscriptionPending || user.Content == "" {
		user.Content = PendingTranscript
		user.Pending = true
	}
	out := &TurnOutcome{Transcript: res.Transcript, RecordingID: res.RecordingID, Concluded: res.Concluded()}

	var ai *Message
	if !out.Concluded {
		id := res.NextTurnID
		if id == "" {
			id = "rec-" + res.RecordingID
		}
		ai = &Message{
			ID:           aiMessageID(id),
			Role:         RoleAI,
			Content:      res.FollowUp.Question,
			Alternatives: append([]string(nil), res.FollowUp.Suggestions...),
			Topic:        res.FollowUp.Topic,
			TurnID:       res.NextTurnID,
			RecordingID:  res.RecordingID,
			TTS:          TTSPending,
		}
		if res.FollowUp.TTSURL != "" {
			ai.TTS = TTSReady
			ai.AudioURL = res.FollowUp.TTSURL
		}
		out.MessageID = ai.ID
	}

	o.mu.Lock()
	o.retained = nil
	o.retainedPrompt = ""
	o.mu.Unlock()

	o.update(func(s *State) {
		s.Messages = append(s.Messages, user)
		s.NetworkError = false
		s.CanRetry = false
		s.LastError = ""
		if ai == nil {
			s.Status = StatusConcluded
			s.Concluded = true
			s.CurrentPrompt = ""
			s.Suggestions = nil
			return
		}
		s.Messages = append(s.Messages, *ai)
		s.CurrentPrompt = ai.Content
		s.Suggestions = ai.Alternatives
		s.Status = StatusIdle
	})
	return out, nil
}

// fail records a turn failure. Retained audio survives only network errors.
func (o *Orchestrator) fail(err error, network bool) {
	if !network {
		o.mu.Lock()
		o.retained = nil
		o.retainedPrompt = ""
		o.mu.Unlock()
	}
	o.update(func(s *State) {
		s.Status = StatusError
		s.LastError = err.Error()
		s.NetworkError = network
		s.CanRetry = network
	})
}

// FinishSpeaking returns to idle after prompt playback.
func (o *Orchestrator) FinishSpeaking() {
	o.update(func(s *State) {
		if s.Status == StatusSpeaking {
			s.Status = StatusIdle
		}
	})
}

// Pause holds the session between turns.
func (o *Orchestrator) Pause() {
	o.update(func(s *State) {
		if s.Status == StatusIdle || s.Status == StatusSpeaking {
			s.Status = StatusPaused
		}
	})
}

func (o *Orchestrator) Resume() {
	o.update(func(s *State) {
		if s.Status == StatusPaused {
			s.Status = StatusIdle
		}
	})
}

// EndSession marks the session completed and requests chapter generation.
// A failed chapter request is reported in the outcome and never undoes the
// completion.
func (o *Orchestrator) EndSession(ctx context.Context) (*ChapterOutcome, error) {
	if _, err := o.authenticate(ctx); err != nil {
		return nil, err
	}
	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	if sess == nil {
		return nil, ErrNoSession
	}
	if _, err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	now := o.clock.Now()
	_, err := o.rows.Update(ctx, models.TableSessions,
		store.Where(store.Eq("id", sess.ID), store.Eq("status", string(models.SessionActive))),
		map[string]any{"status": string(models.SessionCompleted), "ended_at": now})
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}

	o.mu.Lock()
	o.session.Status = models.SessionCompleted
	o.session.EndedAt = &now
	o.retained = nil
	o.mu.Unlock()
	o.update(func(s *State) {
		s.Completed = true
		s.CanRetry = false
		if s.Status != StatusConcluded {
			s.Status = StatusIdle
		}
	})
	o.log.Info("interview session completed", zap.String("session_id", sess.ID))

	return o.requestChapters(ctx, sess.ID), nil
}

// RetryChapters repeats the chapter request of a completed session.
func (o *Orchestrator) RetryChapters(ctx context.Context) (*ChapterOutcome, error) {
	o.mu.Lock()
	sess, completed := o.session, o.state.Completed
	o.mu.Unlock()
	if sess == nil {
		return nil, ErrNoSession
	}
	if !completed {
		return nil, fmt.Errorf("%w: session is still active", apperr.ErrInvalid)
	}
	return o.requestChapters(ctx, sess.ID), nil
}

func (o *Orchestrator) requestChapters(ctx context.Context, sessionID string) *ChapterOutcome {
	job, err := o.proc.GenerateChapters(ctx, o.token, sessionID)
	if err != nil {
		o.log.Warn("chapter generation request failed", zap.String("session_id", sessionID), zap.Error(err))
		o.update(func(s *State) { s.ChapterError = err.Error() })
		return &ChapterOutcome{Err: err}
	}
	o.update(func(s *State) { s.ChapterError = "" })
	return &ChapterOutcome{TaskID: job.TaskID}
}

// SaveAndExit waits for an in-flight turn to land, ends the session and
// tears the orchestrator down.
func (o *Orchestrator) SaveAndExit(ctx context.Context) (*ChapterOutcome, error) {
	o.CancelRecording()
	if err := o.waitIdle(ctx); err != nil {
		return nil, err
	}
	out, err := o.EndSession(ctx)
	if err != nil && !errors.Is(err, ErrNoSession) {
		return nil, err
	}
	o.Close()
	return out, nil
}

// CancelAndExit abandons the screen. The session stays active so it can be
// resumed later.
func (o *Orchestrator) CancelAndExit() {
	o.CancelRecording()
	o.Close()
}

func (o *Orchestrator) waitIdle(ctx context.Context) error {
	o.mu.Lock()
	done := o.turnDone
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels background speech polls and waits for them to exit.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.shutdown()
	o.mu.Unlock()
	o.wg.Wait()
}
