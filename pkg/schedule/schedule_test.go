package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidExpression(t *testing.T) {
	_, err := New("not a cron expr", time.Millisecond, func(ctx context.Context) {})
	assert.Error(t, err)
}

func TestRunNoopWhenExprEmpty(t *testing.T) {
	var calls atomic.Int32
	s, err := New("", time.Millisecond, func(ctx context.Context) { calls.Add(1) })
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with empty expr should return immediately")
	}
	assert.Zero(t, calls.Load())
}

func TestRunTriggersWhenDue(t *testing.T) {
	var calls atomic.Int32
	s, err := New("* * * * *", 5*time.Millisecond, func(ctx context.Context) { calls.Add(1) })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s.Run(ctx)
	assert.Greater(t, calls.Load(), int32(0))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s, err := New("* * * * *", time.Millisecond, func(ctx context.Context) {})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return promptly after context cancel")
	}
}
