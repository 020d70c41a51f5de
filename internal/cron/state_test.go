package cron

import (
	"context"
	"testing"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateGate(t *testing.T) {
	s := NewState()
	assert.Equal(t, types.StateStopped, s.Phase())
	assert.False(t, s.acquire())

	s.set(types.StateRunning)
	require.True(t, s.acquire())
	require.True(t, s.acquire())
	assert.Equal(t, 2, s.InFlight())

	s.set(types.StateStopping)
	assert.False(t, s.acquire())

	s.release()
	s.release()
	s.release()
	assert.Equal(t, 0, s.InFlight())
}

func TestStateWaitIdle(t *testing.T) {
	s := NewState()
	require.NoError(t, s.WaitIdle(context.Background()))

	s.set(types.StateRunning)
	require.True(t, s.acquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitIdle(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		done <- s.WaitIdle(context.Background())
	}()

	s.release()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIdle did not return after the last release")
	}
}
