package session

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Hook is run when the process is about to exit.
type Hook func() error

// ExitHooks is a table of per-worker hooks run on process exit.
type ExitHooks struct {
	mu    sync.Mutex
	hooks map[string]Hook
}

// NewExitHooks creates an empty hook table.
func NewExitHooks() *ExitHooks {
	return &ExitHooks{hooks: make(map[string]Hook)}
}

// Add registers hook under key, replacing any previous hook for key.
func (e *ExitHooks) Add(key string, hook Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[key] = hook
}

// Remove drops the hook registered under key and reports whether one existed.
func (e *ExitHooks) Remove(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.hooks[key]
	delete(e.hooks, key)
	return ok
}

// Len returns the number of registered hooks.
func (e *ExitHooks) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hooks)
}

// Run removes every registered hook and runs them concurrently. It returns
// the first hook error. Hooks may call Remove.
func (e *ExitHooks) Run() error {
	e.mu.Lock()
	hooks := lo.Values(e.hooks)
	e.hooks = make(map[string]Hook)
	e.mu.Unlock()

	var g errgroup.Group
	for _, hook := range hooks {
		g.Go(hook)
	}
	return g.Wait()
}

// Notify runs the hooks once one of signals arrives, or SIGINT/SIGTERM when
// none are given. The returned channel receives the result of Run and is
// closed afterwards. Cancelling ctx stops listening without running hooks.
func (e *ExitHooks) Notify(ctx context.Context, signals ...os.Signal) <-chan error {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)

	done := make(chan error, 1)
	go func() {
		defer close(done)
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			done <- e.Run()
		case <-ctx.Done():
		}
	}()
	return done
}
