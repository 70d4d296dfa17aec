package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/timelock/internal/ir"
	"github.com/roach88/timelock/internal/store"
	"github.com/roach88/timelock/internal/testutil"
)

// testAuthority grants fixed capabilities and counts checks.
type testAuthority struct {
	mu     sync.Mutex
	grants map[string]map[ir.Capability]bool
	checks int
	err    error
}

func newTestAuthority() *testAuthority {
	return &testAuthority{grants: map[string]map[ir.Capability]bool{
		"alice": {ir.CapabilityProposer: true},
		"bob":   {ir.CapabilityFastExecute: true},
		"carol": {ir.CapabilityConfigurator: true},
		"admin": {
			ir.CapabilityProposer:     true,
			ir.CapabilityFastExecute:  true,
			ir.CapabilityConfigurator: true,
		},
	}}
}

func (a *testAuthority) HasCapability(_ context.Context, caller string, capability ir.Capability) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks++
	if a.err != nil {
		return false, a.err
	}
	return a.grants[caller][capability], nil
}

func (a *testAuthority) revoke(caller string, capability ir.Capability) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.grants[caller], capability)
}

// recordingExecutor runs every action through fn and records each batch.
// A nil fn succeeds every action and echoes its data.
type recordingExecutor struct {
	mu      sync.Mutex
	batches []Batch
	fn      func(ctx context.Context, batch Batch) (Outcome, error)
}

func (x *recordingExecutor) Execute(ctx context.Context, batch Batch) (Outcome, error) {
	x.mu.Lock()
	x.batches = append(x.batches, batch)
	fn := x.fn
	x.mu.Unlock()

	if fn != nil {
		return fn(ctx, batch)
	}
	results := make([][]byte, len(batch.Actions))
	for i, a := range batch.Actions {
		results[i] = a.Data
	}
	return Outcome{Results: results}, nil
}

func (x *recordingExecutor) calls() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.batches)
}

// recordingMetrics counts hook calls.
type recordingMetrics struct {
	mu       sync.Mutex
	created  int
	executed map[bool]int
	delays   []time.Duration
	rejected map[ErrorCode]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{executed: map[bool]int{}, rejected: map[ErrorCode]int{}}
}

func (m *recordingMetrics) RequestCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *recordingMetrics) RequestExecuted(fast bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed[fast]++
}

func (m *recordingMetrics) DelayChanged(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
}

func (m *recordingMetrics) OperationRejected(_ string, code ErrorCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[code]++
}

type testHarness struct {
	engine    *Engine
	store     *store.Store
	clock     *testutil.ManualClock
	authority *testAuthority
	executor  *recordingExecutor
	metrics   *recordingMetrics

	mu        sync.Mutex
	published []ir.Event
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	opts []EngineOption
	path string
}

func withFlowTokens(gen FlowTokenGenerator) harnessOption {
	return func(c *harnessConfig) {
		c.opts = append(c.opts, WithFlowTokens(gen))
	}
}

func withEngineOption(opt EngineOption) harnessOption {
	return func(c *harnessConfig) {
		c.opts = append(c.opts, opt)
	}
}

func withStorePath(path string) harnessOption {
	return func(c *harnessConfig) {
		c.path = path
	}
}

func setupTestStore(t *testing.T, path string) *store.Store {
	t.Helper()
	if path == "" {
		path = t.TempDir() + "/test.db"
	}
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newHarness(t *testing.T, opts ...harnessOption) *testHarness {
	t.Helper()

	cfg := &harnessConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &testHarness{
		store:     setupTestStore(t, cfg.path),
		clock:     testutil.NewManualClock(time.Time{}),
		authority: newTestAuthority(),
		executor:  &recordingExecutor{},
		metrics:   newRecordingMetrics(),
	}

	engineOpts := []EngineOption{
		WithClock(h.clock),
		WithMetrics(h.metrics),
		WithObserver(ObserverFunc(func(ev ir.Event) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.published = append(h.published, ev)
		})),
	}
	engineOpts = append(engineOpts, cfg.opts...)

	h.engine = New(h.store, h.authority, h.executor, engineOpts...)
	return h
}

func (h *testHarness) initialize(t *testing.T, delay time.Duration) {
	t.Helper()
	require.NoError(t, h.engine.Initialize(context.Background(), delay))
}

func (h *testHarness) create(t *testing.T, actions []ir.Action, mask ir.Bitmap) uint64 {
	t.Helper()
	id, err := h.engine.Create(context.Background(), "alice", []byte("meta"), actions, mask)
	require.NoError(t, err)
	return id
}

func (h *testHarness) events(t *testing.T) []ir.Event {
	t.Helper()
	events, err := h.engine.Events(context.Background(), 0, 0)
	require.NoError(t, err)
	return events
}

func (h *testHarness) publishedEvents() []ir.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ir.Event(nil), h.published...)
}

func (h *testHarness) request(t *testing.T, id uint64) ir.Request {
	t.Helper()
	req, err := h.engine.Request(context.Background(), id)
	require.NoError(t, err)
	return req
}

func twoActions() []ir.Action {
	return []ir.Action{
		{Target: "treasury", Value: 5, Data: []byte("pay")},
		{Target: "registry", Data: []byte("set")},
	}
}

var errBoom = errors.New("boom")
