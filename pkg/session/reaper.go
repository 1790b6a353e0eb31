package session

import (
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/entrhq/driverpool/pkg/logging"
)

// DefaultReaperInterval is how often the roster is scanned when no interval is given.
const DefaultReaperInterval = 100 * time.Millisecond

// Reaper watches workers that own a session and reclaims the sessions of
// workers that terminated without closing them. The scan loop is started on
// the first Track call.
type Reaper struct {
	mu       sync.Mutex
	roster   map[string]*Worker
	reclaim  func(w *Worker)
	interval func() time.Duration
	logger   *logging.Logger

	started  atomic.Bool
	startMu  sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewReaper creates a reaper that hands dead workers to reclaim. interval is
// read whenever the loop starts; a nil or non-positive result falls back to
// DefaultReaperInterval.
func NewReaper(reclaim func(w *Worker), interval func() time.Duration, logger *logging.Logger) *Reaper {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval == nil {
		interval = func() time.Duration { return DefaultReaperInterval }
	}
	return &Reaper{
		roster:   make(map[string]*Worker),
		reclaim:  reclaim,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Track adds w to the roster and starts the scan loop if needed.
func (r *Reaper) Track(w *Worker) {
	r.mu.Lock()
	r.roster[w.ID()] = w
	r.mu.Unlock()
	r.ensureStarted()
}

// Untrack removes the worker with the given id and reports whether it was tracked.
func (r *Reaper) Untrack(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.roster[id]
	delete(r.roster, id)
	return ok
}

// Tracked returns the workers currently on the roster.
func (r *Reaper) Tracked() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Values(r.roster)
}

// Started reports whether the scan loop was launched.
func (r *Reaper) Started() bool {
	return r.started.Load()
}

func (r *Reaper) ensureStarted() {
	if r.started.Load() {
		return
	}
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started.Load() {
		return
	}

	interval := r.interval()
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	r.started.Store(true)
	r.logger.Infof("Start dead workers reaper with interval %v", interval)
	go r.loop(interval)
}

func (r *Reaper) loop(interval time.Duration) {
	defer close(r.stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Scan()
		case <-r.stop:
			return
		}
	}
}

// Scan reclaims every tracked worker that is no longer alive and returns
// how many were reclaimed.
func (r *Reaper) Scan() int {
	r.mu.Lock()
	dead := lo.Filter(lo.Values(r.roster), func(w *Worker, _ int) bool {
		return !w.Alive()
	})
	for _, w := range dead {
		delete(r.roster, w.ID())
	}
	r.mu.Unlock()

	for _, w := range dead {
		r.reclaimOne(w)
	}
	return len(dead)
}

func (r *Reaper) reclaimOne(w *Worker) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorf("Failed to reclaim session of %v: %v", w, p)
		}
	}()
	r.logger.Infof("Worker %s is dead. Let's close its browser.", w.ID())
	r.reclaim(w)
}

// Stop halts the scan loop and waits for an in-flight scan to finish. Safe
// to call more than once, and before the loop ever started.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		r.startMu.Lock()
		defer r.startMu.Unlock()
		close(r.stop)
		if r.started.Load() {
			<-r.stopped
			return
		}
		// Prevent a later Track from starting the loop.
		r.started.Store(true)
	})
}
