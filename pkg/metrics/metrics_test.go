package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))

	// Registering the same collectors twice is rejected
	assert.Error(t, m.Register(reg))

	m.Created.Inc()
	m.Live.Set(2)

	expected := `
# HELP driverpool_session_created_total Browser sessions created by the registry
# TYPE driverpool_session_created_total counter
driverpool_session_created_total 1
# HELP driverpool_session_live Sessions currently bound to a worker
# TYPE driverpool_session_live gauge
driverpool_session_live 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"driverpool_session_created_total", "driverpool_session_live")
	assert.NoError(t, err)
}

func TestObserveClose(t *testing.T) {
	m := New()
	m.ObserveClose(250 * time.Millisecond)
	m.ObserveClose(time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Closed))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CloseDuration))
}
