package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_Lifecycle(t *testing.T) {
	w := NewWorker(context.Background())
	assert.NotEmpty(t, w.ID())
	assert.True(t, w.Alive())

	w.Exit()
	assert.False(t, w.Alive())
	<-w.Done()

	// Exit twice is safe
	w.Exit()
}

func TestWorker_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(ctx)
	cancel()
	assert.False(t, w.Alive())
}

func TestWorker_UniqueIDs(t *testing.T) {
	a := NewWorker(context.Background())
	b := NewWorker(context.Background())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestWorkerContext(t *testing.T) {
	_, ok := WorkerFrom(context.Background())
	assert.False(t, ok)

	w := NewWorker(context.Background())
	ctx := WithWorker(context.Background(), w)
	got, ok := WorkerFrom(ctx)
	require.True(t, ok)
	assert.Same(t, w, got)
}
