package session

import (
	"context"

	"github.com/google/uuid"
)

// Worker is a unit of execution that owns at most one browser session. It
// is alive until its context is cancelled or Exit is called.
type Worker struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates a worker bound to parent. Cancelling parent terminates
// the worker.
func NewWorker(parent context.Context) *Worker {
	ctx, cancel := context.WithCancel(parent)
	return &Worker{
		id:     uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() string {
	return w.id
}

// Alive reports whether the worker has not terminated yet.
func (w *Worker) Alive() bool {
	return w.ctx.Err() == nil
}

// Exit marks the worker terminated. Safe to call more than once.
func (w *Worker) Exit() {
	w.cancel()
}

// Done is closed when the worker terminates.
func (w *Worker) Done() <-chan struct{} {
	return w.ctx.Done()
}

// Context returns the worker's context.
func (w *Worker) Context() context.Context {
	return w.ctx
}

func (w *Worker) String() string {
	return "worker-" + w.id
}

type workerKey struct{}

// WithWorker returns a copy of ctx carrying w.
func WithWorker(ctx context.Context, w *Worker) context.Context {
	return context.WithValue(ctx, workerKey{}, w)
}

// WorkerFrom returns the worker stored in ctx, if any.
func WorkerFrom(ctx context.Context) (*Worker, bool) {
	w, ok := ctx.Value(workerKey{}).(*Worker)
	return w, ok && w != nil
}
