package driver_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/entrhq/driverpool/pkg/driver"
	"github.com/entrhq/driverpool/pkg/driver/drivertest"
	"github.com/entrhq/driverpool/pkg/logging"
)

func TestTitleProbe_IsAlive(t *testing.T) {
	tests := []struct {
		name      string
		titleErr  error
		wantAlive bool
		wantErr   bool
	}{
		{name: "healthy", wantAlive: true},
		{name: "unreachable", titleErr: errors.Wrap(driver.ErrUnreachableBrowser, "connect refused")},
		{name: "no such window", titleErr: driver.ErrNoSuchWindow},
		{name: "no such session", titleErr: errors.Mark(errors.New("invalid session id"), driver.ErrNoSuchSession)},
		{name: "unexpected", titleErr: errors.New("javascript error"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			probe := driver.NewTitleProbe(logging.New("health", core))
			h := drivertest.NewHandle("h1")
			if tt.titleErr != nil {
				h.Kill(tt.titleErr)
			}

			alive, err := probe.IsAlive(h)
			assert.Equal(t, tt.wantAlive, alive)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.titleErr, err)
				return
			}
			require.NoError(t, err)
			if !tt.wantAlive {
				assert.Equal(t, 1, logs.FilterLevelExact(zap.DebugLevel).Len())
			}
		})
	}
}

func TestIsBrowserGone(t *testing.T) {
	assert.True(t, driver.IsBrowserGone(errors.Wrap(driver.ErrNoSuchSession, "x")))
	assert.False(t, driver.IsBrowserGone(errors.New("other")))
	assert.False(t, driver.IsBrowserGone(nil))
}
