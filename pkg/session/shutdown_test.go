package session

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/entrhq/driverpool/pkg/driver"
	"github.com/entrhq/driverpool/pkg/driver/drivertest"
	"github.com/entrhq/driverpool/pkg/event"
	"github.com/entrhq/driverpool/pkg/logging"
	"github.com/entrhq/driverpool/pkg/metrics"
	"github.com/entrhq/driverpool/pkg/proxy"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *metrics.Metrics, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	m := metrics.New()
	c, err := NewCoordinator(logging.New("shutdown", core), m, nil)
	require.NoError(t, err)
	t.Cleanup(c.Release)
	return c, m, logs
}

func TestCoordinator_Close(t *testing.T) {
	c, m, logs := newTestCoordinator(t)
	h := drivertest.NewHandle("h1")

	c.Close("w1", h, nil, time.Second)

	assert.Equal(t, 1, h.Quits())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Closed))
	assert.Equal(t, 1, logs.FilterMessage("Close driver: w1 -> h1").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("Closed driver in").Len())
}

func TestCoordinator_BlockingQuitIsBounded(t *testing.T) {
	c, m, logs := newTestCoordinator(t)
	h := drivertest.NewHandle("h1")
	release := h.BlockQuit()
	defer release()

	timeout := 50 * time.Millisecond
	start := time.Now()
	c.Close("w1", h, nil, timeout)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CloseTimeouts))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Closed))

	failed := logs.FilterMessage("Failed to close driver in 50 milliseconds")
	require.Equal(t, 1, failed.Len())
	assert.Equal(t, zap.ErrorLevel, failed.All()[0].Level)
}

func TestCoordinator_SwallowsQuitFailures(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(h *drivertest.Handle)
		logged  string
	}{
		{
			name:    "unreachable",
			prepare: func(h *drivertest.Handle) { h.FailQuit(errors.Wrap(driver.ErrUnreachableBrowser, "dial")) },
			logged:  "Browser is unreachable",
		},
		{
			name:    "other error",
			prepare: func(h *drivertest.Handle) { h.FailQuit(errors.New("session crashed")) },
			logged:  "Cannot close browser h1",
		},
		{
			name:    "panic",
			prepare: func(h *drivertest.Handle) { h.PanicOnQuit() },
			logged:  "Cannot close browser h1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, logs := newTestCoordinator(t)
			h := drivertest.NewHandle("h1")
			tt.prepare(h)

			assert.NotPanics(t, func() { c.Close("w1", h, nil, time.Second) })
			assert.Equal(t, 1, h.Quits())

			matched := logs.FilterMessageSnippet(tt.logged)
			require.Equal(t, 1, matched.Len())
			assert.Equal(t, zap.ErrorLevel, matched.All()[0].Level)
		})
	}
}

func TestCoordinator_ClosesProxyAfterDriver(t *testing.T) {
	c, _, logs := newTestCoordinator(t)
	server := proxy.NewServer(nil)
	require.NoError(t, server.Start())
	addr := server.Addr()

	h := drivertest.NewHandle("h1")
	release := h.BlockQuit()
	defer release()

	// The proxy is shut down even when the driver times out
	c.Close("w1", h, server, 20*time.Millisecond)

	assert.Equal(t, 1, logs.FilterMessage("Close proxy server: w1 -> "+server.String()).Len())
	assert.NoError(t, server.Shutdown(context.Background()))
	assert.NotEmpty(t, addr)
}

func TestCoordinator_PublishesEvents(t *testing.T) {
	core, _ := observer.New(zap.DebugLevel)
	bus := event.NewBus(nil)
	defer bus.Close()
	c, err := NewCoordinator(logging.New("shutdown", core), nil, bus)
	require.NoError(t, err)
	defer c.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	c.Close("w1", drivertest.NewHandle("h1"), nil, time.Second)

	select {
	case e := <-events:
		assert.Equal(t, event.DriverClosed, e.Type)
		assert.Equal(t, "w1", e.Worker)
		assert.Equal(t, "h1", e.Handle)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}
