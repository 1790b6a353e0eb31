package session

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/driverpool/pkg/config"
	"github.com/entrhq/driverpool/pkg/driver"
	"github.com/entrhq/driverpool/pkg/event"
	"github.com/entrhq/driverpool/pkg/logging"
	"github.com/entrhq/driverpool/pkg/metrics"
	"github.com/entrhq/driverpool/pkg/proxy"
)

// entry is the session bound to one worker.
type entry struct {
	handle driver.Handle
	proxy  proxy.Server
}

// Registry binds at most one browser session to each worker. Sessions are
// created lazily, verified before reuse and torn down when the worker
// terminates or the process exits.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	optsMu    sync.RWMutex
	listeners []driver.Listener
	upstream  *proxy.Descriptor

	settings func() config.DriverSettings
	factory  *driver.Factory
	health   driver.HealthChecker
	closer   *Coordinator
	reaper   *Reaper
	hooks    *ExitHooks
	logger   *logging.Logger
	metrics  *metrics.Metrics
	bus      *event.Bus
}

// Option configures a Registry.
type Option func(*Registry)

// WithSettings sets the source of driver settings. It is read once per operation.
func WithSettings(fn func() config.DriverSettings) Option {
	return func(r *Registry) {
		r.settings = fn
	}
}

// WithDriverSection reads settings from a config section.
func WithDriverSection(section *config.DriverSection) Option {
	return WithSettings(section.Settings)
}

// WithHealthChecker replaces the title probe.
func WithHealthChecker(h driver.HealthChecker) Option {
	return func(r *Registry) {
		r.health = h
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithMetrics sets the collectors updated by the registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithEventBus sets where lifecycle events are published.
func WithEventBus(b *event.Bus) Option {
	return func(r *Registry) {
		r.bus = b
	}
}

// WithExitHooks sets the hook table that closes sessions on process exit.
func WithExitHooks(h *ExitHooks) Option {
	return func(r *Registry) {
		r.hooks = h
	}
}

// NewRegistry creates a registry whose sessions come from provider.
func NewRegistry(provider driver.Provider, opts ...Option) (*Registry, error) {
	r := &Registry{
		entries:  make(map[string]*entry),
		settings: config.DefaultDriverSettings,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.NewNop()
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.hooks == nil {
		r.hooks = NewExitHooks()
	}
	if r.health == nil {
		r.health = driver.NewTitleProbe(r.logger)
	}

	closer, err := NewCoordinator(r.logger, r.metrics, r.bus)
	if err != nil {
		return nil, err
	}
	r.closer = closer
	r.factory = driver.NewFactory(provider, r.logger, driver.WithListeners(r.Listeners))
	r.reaper = NewReaper(r.reclaim, func() time.Duration { return r.settings().ReaperInterval }, r.logger)
	return r, nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// GetOrCreate returns the session bound to w, creating one if needed. The
// cached session is returned without checking its health.
func (r *Registry) GetOrCreate(w *Worker) (driver.Handle, error) {
	if e, ok := r.lookup(w.ID()); ok {
		return e.handle, nil
	}
	return r.create(w, r.settings())
}

func (r *Registry) create(w *Worker, s config.DriverSettings) (driver.Handle, error) {
	h, server, err := r.factory.Create(driver.ProxyConfig{
		Proxied:  s.FileDownload == config.DownloadProxy,
		Upstream: r.upstreamProxy(),
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.entries[w.ID()]; ok {
		r.mu.Unlock()
		r.logger.Warnf("Driver for %v was created concurrently, discarding %v", w, h)
		r.closer.Close(w.ID(), h, server, s.CloseBrowserTimeout)
		return existing.handle, nil
	}
	r.entries[w.ID()] = &entry{handle: h, proxy: server}
	r.mu.Unlock()

	r.arm(w)
	r.mu.Lock()
	if _, ok := r.entries[w.ID()]; !ok {
		// closed between insert and arm
		r.disarm(w.ID())
	}
	r.mu.Unlock()
	r.metrics.Created.Inc()
	r.metrics.Live.Inc()
	r.logger.Infof("Create driver: %s -> %v", w.ID(), h)
	r.publish(event.DriverCreated, w.ID(), h)
	return h, nil
}

// GetAndVerify returns the session bound to w after checking that the
// browser is still alive. A dead session is closed and replaced. The check
// is skipped when reopen_browser_on_fail is off.
func (r *Registry) GetAndVerify(w *Worker) (driver.Handle, error) {
	s := r.settings()
	e, ok := r.lookup(w.ID())
	if !ok {
		return r.create(w, s)
	}
	if !s.ReopenBrowserOnFail {
		return e.handle, nil
	}

	alive, err := r.health.IsAlive(e.handle)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check browser %v", e.handle)
	}
	if alive {
		return e.handle, nil
	}

	r.metrics.HealthFailures.Inc()
	r.logger.Infof("Driver %v of %s is dead, reopening", e.handle, w.ID())
	r.CloseCurrent(w)

	h, err := r.create(w, s)
	if err != nil {
		return nil, err
	}
	r.metrics.Reopened.Inc()
	r.publish(event.DriverReopened, w.ID(), h)
	return h, nil
}

// Set binds a caller-supplied handle to w. The previous session, if any, is
// closed. Caller-supplied handles are not closed automatically when the
// worker dies; passing nil is the same as CloseCurrent. Setting the handle
// that is already bound changes nothing.
func (r *Registry) Set(w *Worker, h driver.Handle) {
	if h == nil {
		r.CloseCurrent(w)
		return
	}

	r.mu.Lock()
	old, hadOld := r.entries[w.ID()]
	if hadOld && old.handle == h {
		r.mu.Unlock()
		return
	}
	r.entries[w.ID()] = &entry{handle: h}
	r.disarm(w.ID())
	r.mu.Unlock()

	if !hadOld {
		r.metrics.Live.Inc()
		return
	}
	r.teardown(w.ID(), old, r.settings())
}

// Remove unbinds w's session without closing it.
func (r *Registry) Remove(w *Worker) (driver.Handle, bool) {
	r.mu.Lock()
	e, ok := r.entries[w.ID()]
	delete(r.entries, w.ID())
	r.disarm(w.ID())
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	r.metrics.Live.Dec()
	return e.handle, true
}

// CloseCurrent unbinds w's session and tears it down, unless
// hold_browser_open is set. Does nothing when w has no session.
func (r *Registry) CloseCurrent(w *Worker) {
	r.closeByID(w.ID())
}

// closeByID detaches and tears down the session under id. Only the caller
// that detached the entry gets it back.
func (r *Registry) closeByID(id string) (*entry, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.disarm(id)
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	r.metrics.Live.Dec()
	r.teardown(id, e, r.settings())
	return e, true
}

func (r *Registry) teardown(id string, e *entry, s config.DriverSettings) {
	if s.HoldBrowserOpen {
		r.logger.Infof("Hold browser open: %s -> %v", id, e.handle)
		return
	}
	r.closer.Close(id, e.handle, e.proxy, s.CloseBrowserTimeout)
}

func (r *Registry) arm(w *Worker) {
	r.reaper.Track(w)
	r.hooks.Add(w.ID(), func() error {
		r.closeByID(w.ID())
		return nil
	})
}

// disarm takes only the reaper and hook locks, so callers may hold r.mu.
func (r *Registry) disarm(id string) {
	r.reaper.Untrack(id)
	r.hooks.Remove(id)
}

func (r *Registry) reclaim(w *Worker) {
	if e, ok := r.closeByID(w.ID()); ok {
		r.metrics.Reclaimed.Inc()
		r.publish(event.DriverReclaimed, w.ID(), e.handle)
	}
}

// HasStarted reports whether w has a session bound.
func (r *Registry) HasStarted(w *Worker) bool {
	_, ok := r.lookup(w.ID())
	return ok
}

// ProxyServer returns the local proxy in front of w's session, or nil.
func (r *Registry) ProxyServer(w *Worker) proxy.Server {
	if e, ok := r.lookup(w.ID()); ok {
		return e.proxy
	}
	return nil
}

// SetProxy sets the upstream proxy used by sessions created from now on.
// nil means direct connections.
func (r *Registry) SetProxy(d *proxy.Descriptor) {
	r.optsMu.Lock()
	defer r.optsMu.Unlock()
	if d == nil {
		r.upstream = nil
		return
	}
	cp := *d
	r.upstream = &cp
}

func (r *Registry) upstreamProxy() *proxy.Descriptor {
	r.optsMu.RLock()
	defer r.optsMu.RUnlock()
	return r.upstream
}

// AddListener attaches l to sessions created from now on.
func (r *Registry) AddListener(l driver.Listener) {
	r.optsMu.Lock()
	defer r.optsMu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Listeners returns the registered listeners.
func (r *Registry) Listeners() []driver.Listener {
	r.optsMu.RLock()
	defer r.optsMu.RUnlock()
	return append([]driver.Listener(nil), r.listeners...)
}

// ClearBrowserCache deletes the cookies of w's session, if it has one.
func (r *Registry) ClearBrowserCache(w *Worker) error {
	e, ok := r.lookup(w.ID())
	if !ok {
		return nil
	}
	return e.handle.DeleteAllCookies()
}

// CurrentURL returns the URL shown by w's session, creating one if needed.
func (r *Registry) CurrentURL(w *Worker) (string, error) {
	h, err := r.GetOrCreate(w)
	if err != nil {
		return "", err
	}
	return h.CurrentURL()
}

// PageSource returns the DOM of the page shown by w's session.
func (r *Registry) PageSource(w *Worker) (string, error) {
	h, err := r.GetOrCreate(w)
	if err != nil {
		return "", err
	}
	return h.PageSource()
}

// CurrentFrameURL returns the location of the frame the page script runs in.
func (r *Registry) CurrentFrameURL(w *Worker) (string, error) {
	h, err := r.GetOrCreate(w)
	if err != nil {
		return "", err
	}
	res, err := h.Evaluate("window.location.href")
	if err != nil {
		return "", err
	}
	u, ok := res.(string)
	if !ok {
		return "", errors.Newf("unexpected location type %T", res)
	}
	return u, nil
}

// Workers returns the ids of workers with a session bound, sorted.
func (r *Registry) Workers() []string {
	r.mu.RLock()
	ids := lo.Keys(r.entries)
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CloseAll closes every bound session concurrently.
func (r *Registry) CloseAll() {
	var g errgroup.Group
	for _, id := range r.Workers() {
		id := id
		g.Go(func() error {
			r.closeByID(id)
			return nil
		})
	}
	_ = g.Wait()
}

// Shutdown stops the reaper, closes every session and releases the close pool.
func (r *Registry) Shutdown() {
	r.reaper.Stop()
	r.CloseAll()
	r.closer.Release()
}

// ExitHooks returns the hook table that closes armed sessions.
func (r *Registry) ExitHooks() *ExitHooks {
	return r.hooks
}

// Reaper returns the dead worker reaper.
func (r *Registry) Reaper() *Reaper {
	return r.reaper
}

func (r *Registry) publish(t event.Type, workerID string, h driver.Handle) {
	if err := r.bus.Publish(event.Event{Type: t, Worker: workerID, Handle: h.ID()}); err != nil {
		r.logger.Debugf("Failed to publish %s: %v", t, err)
	}
}
