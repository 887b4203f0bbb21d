package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperEvictsExpiredSessions(t *testing.T) {
	store := NewSessionStore(-time.Minute, 4)
	store.Create()
	store.Create()
	require.Equal(t, 2, store.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := NewSweeper(store, 10*time.Millisecond)
	go sweeper.Run(ctx)

	assert.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSweeperStopsOnCancel(t *testing.T) {
	store := NewSessionStore(time.Hour, 4)
	sweeper := NewSweeper(store, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
