package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reclaimRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *reclaimRecorder) reclaim(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, w.ID())
}

func (r *reclaimRecorder) reclaimed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func hourly() time.Duration { return time.Hour }

func TestReaper_StartsLazily(t *testing.T) {
	rec := &reclaimRecorder{}
	r := NewReaper(rec.reclaim, hourly, nil)
	defer r.Stop()

	assert.False(t, r.Started())
	r.Track(NewWorker(context.Background()))
	assert.True(t, r.Started())
	r.Track(NewWorker(context.Background()))
	assert.Len(t, r.Tracked(), 2)
}

func TestReaper_ScanReclaimsDeadWorkers(t *testing.T) {
	rec := &reclaimRecorder{}
	r := NewReaper(rec.reclaim, hourly, nil)
	defer r.Stop()

	alive := NewWorker(context.Background())
	dead := NewWorker(context.Background())
	r.Track(alive)
	r.Track(dead)
	dead.Exit()

	assert.Equal(t, 1, r.Scan())
	assert.Equal(t, []string{dead.ID()}, rec.reclaimed())

	tracked := r.Tracked()
	require.Len(t, tracked, 1)
	assert.Same(t, alive, tracked[0])

	// Already reclaimed workers are not reclaimed again
	assert.Equal(t, 0, r.Scan())
	assert.Len(t, rec.reclaimed(), 1)
}

func TestReaper_Untrack(t *testing.T) {
	rec := &reclaimRecorder{}
	r := NewReaper(rec.reclaim, hourly, nil)
	defer r.Stop()

	w := NewWorker(context.Background())
	r.Track(w)
	assert.True(t, r.Untrack(w.ID()))
	assert.False(t, r.Untrack(w.ID()))

	w.Exit()
	assert.Equal(t, 0, r.Scan())
	assert.Empty(t, rec.reclaimed())
}

func TestReaper_LoopReclaims(t *testing.T) {
	rec := &reclaimRecorder{}
	r := NewReaper(rec.reclaim, func() time.Duration { return 10 * time.Millisecond }, nil)
	defer r.Stop()

	w := NewWorker(context.Background())
	r.Track(w)
	w.Exit()

	assert.Eventually(t, func() bool {
		return len(rec.reclaimed()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, r.Tracked())
}

func TestReaper_SurvivesPanickingReclaim(t *testing.T) {
	r := NewReaper(func(*Worker) { panic("boom") }, hourly, nil)
	defer r.Stop()

	w := NewWorker(context.Background())
	r.Track(w)
	w.Exit()
	assert.NotPanics(t, func() { r.Scan() })
}

func TestReaper_Stop(t *testing.T) {
	rec := &reclaimRecorder{}
	r := NewReaper(rec.reclaim, func() time.Duration { return 10 * time.Millisecond }, nil)

	// Stop before start keeps the loop from ever starting
	r.Stop()
	r.Stop()
	w := NewWorker(context.Background())
	r.Track(w)
	w.Exit()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.reclaimed())
}
