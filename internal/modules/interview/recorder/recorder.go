// Package recorder captures one turn of answer audio into a bounded buffer.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlreadyRecording = errors.New("recorder: capture already in progress")
	ErrNotRecording     = errors.New("recorder: no capture in progress")
	ErrEmptyCapture     = errors.New("recorder: captured no audio")
	ErrTooLarge         = errors.New("recorder: capture exceeds size limit")
)

// Capture is the audio of one finished take.
type Capture struct {
	ID          string
	Data        []byte
	ContentType string
	Duration    time.Duration
}

// Recorder captures audio between Start and Stop. Cancel discards the take.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*Capture, error)
	Cancel()
}

// Source opens an audio stream for one take. Closing the stream ends it.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, string, error)
}

// StreamRecorder reads a Source into memory until stopped.
type StreamRecorder struct {
	src      Source
	maxBytes int64
	now      func() time.Time

	mu     sync.Mutex
	active *take
}

func NewStreamRecorder(src Source, maxBytes int) *StreamRecorder {
	return &StreamRecorder{src: src, maxBytes: int64(maxBytes), now: time.Now}
}

type take struct {
	rc          io.ReadCloser
	contentType string
	started     time.Time

	buf      bytes.Buffer
	overflow bool
	err      error
	closed   atomic.Bool
	done     chan struct{}
}

func (t *take) pump(limit int64) {
	defer close(t.done)
	n, err := io.Copy(&t.buf, io.LimitReader(t.rc, limit+1))
	if n > limit {
		t.overflow = true
	}
	if err != nil && !t.closed.Load() {
		t.err = err
	}
}

// finish closes the stream and waits for the reader to drain.
func (t *take) finish() {
	t.closed.Store(true)
	_ = t.rc.Close()
	<-t.done
}

func (r *StreamRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrAlreadyRecording
	}

	rc, contentType, err := r.src.Open(ctx)
	if err != nil {
		return fmt.Errorf("open audio source: %w", err)
	}
	t := &take{rc: rc, contentType: contentType, started: r.now(), done: make(chan struct{})}
	go t.pump(r.maxBytes)
	r.active = t
	return nil
}

func (r *StreamRecorder) Stop() (*Capture, error) {
	r.mu.Lock()
	t := r.active
	r.active = nil
	r.mu.Unlock()
	if t == nil {
		return nil, ErrNotRecording
	}

	t.finish()
	switch {
	case t.err != nil:
		return nil, fmt.Errorf("capture audio: %w", t.err)
	case t.overflow:
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, r.maxBytes)
	case t.buf.Len() == 0:
		return nil, ErrEmptyCapture
	}
	return &Capture{
		ID:          uuid.NewString(),
		Data:        t.buf.Bytes(),
		ContentType: t.contentType,
		Duration:    r.now().Sub(t.started),
	}, nil
}

func (r *StreamRecorder) Cancel() {
	r.mu.Lock()
	t := r.active
	r.active = nil
	r.mu.Unlock()
	if t != nil {
		t.finish()
	}
}

// Recording reports whether a take is in progress.
func (r *StreamRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}
