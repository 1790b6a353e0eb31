package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"

	"github.com/entrhq/driverpool/pkg/driver"
	"github.com/entrhq/driverpool/pkg/event"
	"github.com/entrhq/driverpool/pkg/logging"
	"github.com/entrhq/driverpool/pkg/metrics"
	"github.com/entrhq/driverpool/pkg/proxy"
)

// Coordinator tears sessions down within a bounded time. Quit runs on a
// pooled goroutine; if it does not finish in time the caller moves on and
// the goroutine is abandoned.
type Coordinator struct {
	pool    *ants.Pool
	logger  *logging.Logger
	metrics *metrics.Metrics
	bus     *event.Bus
}

// NewCoordinator creates a coordinator backed by an unbounded worker pool.
func NewCoordinator(logger *logging.Logger, m *metrics.Metrics, bus *event.Bus) (*Coordinator, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	pool, err := ants.NewPool(0, ants.WithLogger(logger), ants.WithExpiryDuration(10*time.Second))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create close pool")
	}
	return &Coordinator{
		pool:    pool,
		logger:  logger,
		metrics: m,
		bus:     bus,
	}, nil
}

// Close quits h and then shuts down server, each bounded by timeout. Errors
// and panics from the browser are logged, never returned.
func (c *Coordinator) Close(workerID string, h driver.Handle, server proxy.Server, timeout time.Duration) {
	if h != nil {
		c.closeHandle(workerID, h, timeout)
	}
	if server != nil {
		c.closeProxy(workerID, server, timeout)
	}
}

func (c *Coordinator) closeHandle(workerID string, h driver.Handle, timeout time.Duration) {
	c.logger.Infof("Close driver: %s -> %v", workerID, h)

	start := time.Now()
	done := make(chan struct{})
	task := func() {
		defer close(done)
		c.quit(h)
	}
	if err := c.pool.Submit(task); err != nil {
		c.logger.Warnf("Close pool rejected driver %v, using a new goroutine: %v", h, err)
		go task()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		elapsed := time.Since(start)
		c.metrics.ObserveClose(elapsed)
		c.logger.Infof("Closed driver in %d ms", elapsed.Milliseconds())
		c.publish(event.DriverClosed, workerID, h, "")
	case <-timer.C:
		c.metrics.CloseTimeouts.Inc()
		c.logger.Errorf("Failed to close driver in %d milliseconds", timeout.Milliseconds())
		c.publish(event.DriverCloseTimeout, workerID, h, timeout.String())
	}
}

func (c *Coordinator) quit(h driver.Handle) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("Cannot close browser %v: %v", h, r)
		}
	}()

	err := h.Quit()
	switch {
	case err == nil:
	case errors.Is(err, driver.ErrUnreachableBrowser):
		c.logger.Errorf("Browser is unreachable: %v", err)
	default:
		c.logger.Errorf("Cannot close browser %v: %v", h, err)
	}
}

func (c *Coordinator) closeProxy(workerID string, server proxy.Server, timeout time.Duration) {
	c.logger.Infof("Close proxy server: %s -> %v", workerID, server)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		c.logger.Warnf("Failed to close proxy server %v: %v", server, err)
	}
}

func (c *Coordinator) publish(t event.Type, workerID string, h driver.Handle, detail string) {
	err := c.bus.Publish(event.Event{Type: t, Worker: workerID, Handle: h.ID(), Detail: detail})
	if err != nil {
		c.logger.Debugf("Failed to publish %s: %v", t, err)
	}
}

// Running returns the number of teardowns still in progress, abandoned ones included.
func (c *Coordinator) Running() int {
	return c.pool.Running()
}

// Release stops the pool. Abandoned teardowns keep running until Quit returns.
func (c *Coordinator) Release() {
	c.pool.Release()
}
