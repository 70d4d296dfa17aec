package metrics

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timelock/internal/authz"
	"github.com/roach88/timelock/internal/engine"
	"github.com/roach88/timelock/internal/ir"
	"github.com/roach88/timelock/internal/store"
	"github.com/roach88/timelock/internal/testutil"
)

var _ engine.Metrics = (*Collector)(nil)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RequestCreated()
	c.RequestCreated()
	c.RequestExecuted(false)
	c.RequestExecuted(true)
	c.RequestExecuted(true)
	c.OperationRejected("create", engine.ErrCodeUnauthorized)
	c.DelayChanged(90 * time.Second)

	assert.Equal(t, 2.0, promtest.ToFloat64(c.RequestsCreated))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.RequestsExecuted.WithLabelValues("normal")))
	assert.Equal(t, 2.0, promtest.ToFloat64(c.RequestsExecuted.WithLabelValues("fast")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.OperationsRejected.WithLabelValues("create", "UNAUTHORIZED")))
	assert.Equal(t, 90.0, promtest.ToFloat64(c.Delay))
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestCollector_WiredIntoEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	s, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	roles := authz.NewRoles()
	require.NoError(t, roles.Grant(ir.CapabilityProposer, "alice"))

	e := engine.New(s, roles, nil,
		engine.WithMetrics(c),
		engine.WithClock(testutil.NewManualClock(time.Time{})),
	)
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx, time.Minute))

	_, err = e.Create(ctx, "alice", nil, nil, 0)
	require.NoError(t, err)
	_, err = e.Create(ctx, "mallory", nil, nil, 0)
	require.Error(t, err)

	expected := `
# HELP timelock_requests_created_total Total number of execution requests created
# TYPE timelock_requests_created_total counter
timelock_requests_created_total 1
# HELP timelock_delay_seconds Currently configured delay before normal execution
# TYPE timelock_delay_seconds gauge
timelock_delay_seconds 60
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected),
		"timelock_requests_created_total", "timelock_delay_seconds"))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.OperationsRejected.WithLabelValues("create", "UNAUTHORIZED")))
}
