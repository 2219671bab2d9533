package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRunNowRecordsOutcome(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	fail := errors.New("boom")
	s.Register(Job{Name: "b", Interval: time.Hour, Fn: func(context.Context) error { return fail }})
	s.Register(Job{Name: "a", Interval: time.Hour, Fn: func(context.Context) error { return nil }})

	require.NoError(t, s.RunNow(context.Background(), "a"))
	assert.ErrorIs(t, s.RunNow(context.Background(), "b"), fail)
	assert.Error(t, s.RunNow(context.Background(), "missing"))

	snaps := s.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "a", snaps[0].Name)
	assert.Equal(t, StatusOK, snaps[0].Status)
	assert.Equal(t, StatusFailed, snaps[1].Status)
	assert.Equal(t, "boom", snaps[1].Message)
	assert.Equal(t, 1, snaps[1].Runs)
}

func TestStartTicksUntilCancelled(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	var runs atomic.Int32
	s.Register(Job{Name: "tick", Interval: 5 * time.Millisecond, Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	s.Wait()
}

func TestJobNeverOverlaps(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	release := make(chan struct{})
	entered := make(chan struct{})
	s.Register(Job{Name: "slow", Interval: time.Hour, Fn: func(context.Context) error {
		close(entered)
		<-release
		return nil
	}})

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-entered
	assert.NoError(t, s.RunNow(context.Background(), "slow"))
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, s.Snapshots()[0].Runs)
}
