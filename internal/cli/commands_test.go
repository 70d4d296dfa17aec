package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timelock/internal/engine"
	"github.com/roach88/timelock/internal/testutil"
)

const testManifest = `delay: 3600

roles: {
	PROPOSER: ["alice"]
	FAST_EXECUTE: ["bob"]
	CONFIGURATOR: ["carol"]
}
`

const testActions = `- target: echo
  data: "0x6869"
- target: fail
`

// cliEnv runs commands against one database with a shared manual clock.
type cliEnv struct {
	t        *testing.T
	dir      string
	db       string
	manifest string
	clock    *testutil.ManualClock
	flows    *testutil.FixedFlowGenerator
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "deploy.cue")
	require.NoError(t, os.WriteFile(manifestPath, []byte(testManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "actions.yaml"), []byte(testActions), 0o644))
	return &cliEnv{
		t:        t,
		dir:      dir,
		db:       filepath.Join(dir, "timelock.db"),
		manifest: manifestPath,
		clock:    testutil.NewManualClock(testutil.Epoch),
		flows:    testutil.NewFixedFlowGenerator("cli"),
	}
}

// run executes the root command with --db and --manifest set and returns
// stdout.
func (c *cliEnv) run(args ...string) (string, error) {
	c.t.Helper()
	opts := &RootOptions{
		EngineOptions: []engine.EngineOption{
			engine.WithClock(c.clock),
			engine.WithFlowTokens(c.flows),
		},
	}
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", c.db, "--manifest", c.manifest}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (c *cliEnv) path(name string) string {
	return filepath.Join(c.dir, name)
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestInitFromManifest(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("init")
	require.NoError(t, err)
	assert.Contains(t, out, "with delay 1h0m0s")

	_, err = env.run("init")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "ALREADY_INITIALIZED")
}

func TestInitDelayFlagOverridesManifest(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("init", "--delay", "30m", "--format", "json")
	require.NoError(t, err)

	var data map[string]int64
	decodeData(t, out, &data)
	assert.Equal(t, int64(1800), data["delay_seconds"])
}

func TestInitWithoutDelayOrManifest(t *testing.T) {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "t.db"), "init"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInitDelayOutOfRange(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("init", "--delay", "700h")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "DELAY_OUT_OF_RANGE")
}

func TestCreateBeforeInit(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("create", "--caller", "alice", "--actions", env.path("actions.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_INITIALIZED")
}

func TestRequestLifecycle(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("init")
	require.NoError(t, err)

	out, err := env.run("create", "--caller", "alice", "--actions", env.path("actions.yaml"),
		"--allow-failure", "0x2", "--metadata", "0x6d657461")
	require.NoError(t, err)
	assert.Equal(t, "Created request 0\n", out)

	_, err = env.run("execute", "0", "--caller", "dave")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "DELAY_NOT_ELAPSED")

	env.clock.Advance(time.Hour)

	out, err = env.run("execute", "0", "--caller", "dave", "--format", "json")
	require.NoError(t, err)
	var outcome struct {
		ID         uint64   `json:"id"`
		Results    []string `json:"results"`
		FailureMap string   `json:"failure_map"`
	}
	decodeData(t, out, &outcome)
	assert.Equal(t, uint64(0), outcome.ID)
	assert.Equal(t, []string{"0x6869", "0x"}, outcome.Results)
	assert.Equal(t, "0x2", outcome.FailureMap)

	_, err = env.run("execute-fast", "0", "--caller", "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALREADY_EXECUTED")

	out, err = env.run("show", "0", "--format", "json")
	require.NoError(t, err)
	var req struct {
		State      string `json:"state"`
		FailureMap string `json:"failure_map"`
		ExecutedAt string `json:"executed_at"`
	}
	decodeData(t, out, &req)
	assert.Equal(t, "executed", req.State)
	assert.Equal(t, "0x2", req.FailureMap)
	assert.Equal(t, "2026-01-01T01:00:00Z", req.ExecutedAt)

	out, err = env.run("events", "--format", "json")
	require.NoError(t, err)
	var events []struct {
		Seq       int64          `json:"seq"`
		Kind      string         `json:"kind"`
		FlowToken string         `json:"flow_token"`
		Payload   map[string]any `json:"payload"`
	}
	decodeData(t, out, &events)
	require.Len(t, events, 3)
	assert.Equal(t, "initialized", events[0].Kind)
	assert.Equal(t, "request_created", events[1].Kind)
	assert.Equal(t, "0x6d657461", events[1].Payload["metadata"])
	assert.Equal(t, "request_executed", events[2].Kind)
	assert.Equal(t, "dave", events[2].Payload["executor"])
	assert.Equal(t, false, events[2].Payload["fast"])
}

func TestCreateUnauthorized(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("init")
	require.NoError(t, err)

	out, err := env.run("create", "--caller", "mallory", "--actions", env.path("actions.yaml"), "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)

	out, err = env.run("list")
	require.NoError(t, err)
	assert.Equal(t, "No requests\n", out)
}

func TestCreateInvalidInput(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("init")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
	}{
		{"missing actions file", []string{"--actions", env.path("missing.yaml")}},
		{"bad bitmap", []string{"--actions", env.path("actions.yaml"), "--allow-failure", "0xZZ"}},
		{"bad metadata", []string{"--actions", env.path("actions.yaml"), "--metadata", "0xabc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(append([]string{"create", "--caller", "alice"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestExecuteFastDisallowedFailure(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("init")
	require.NoError(t, err)

	_, err = env.run("create", "--caller", "alice", "--actions", env.path("actions.yaml"))
	require.NoError(t, err)

	_, err = env.run("execute-fast", "0", "--caller", "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACTION_FAILED")

	out, err := env.run("show", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
}

func TestExecuteFastUnauthorizedAndNotFound(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("init")
	require.NoError(t, err)

	_, err = env.run("execute-fast", "7", "--caller", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNAUTHORIZED")

	_, err = env.run("execute-fast", "7", "--caller", "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")

	_, err = env.run("execute", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSetDelay(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("init")
	require.NoError(t, err)

	out, err := env.run("set-delay", "2h", "--caller", "carol")
	require.NoError(t, err)
	assert.Equal(t, "Delay set to 2h0m0s\n", out)

	out, err = env.run("set-delay", "1.5s", "--caller", "carol", "--format", "json")
	require.NoError(t, err)
	var view map[string]int64
	decodeData(t, out, &view)
	assert.Equal(t, int64(1), view["delay_seconds"])

	out, err = env.run("set-delay", "90500ms", "--caller", "carol")
	require.NoError(t, err)
	assert.Equal(t, "Delay set to 1m30s\n", out)

	_, err = env.run("set-delay", "1m", "--caller", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNAUTHORIZED")

	_, err = env.run("set-delay", "soon", "--caller", "carol")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err = env.run("events", "--after", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "delay_changed")
	assert.Contains(t, out, "delay=7200s")
	assert.Contains(t, out, "delay=90s")
}

func TestListPaging(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("init")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := env.run("create", "--caller", "alice", "--actions", env.path("actions.yaml"), "--allow-failure", "0b10")
		require.NoError(t, err)
	}

	out, err := env.run("list", "--after", "0", "--limit", "1", "--format", "json")
	require.NoError(t, err)
	var views []struct {
		ID    uint64 `json:"id"`
		State string `json:"state"`
	}
	decodeData(t, out, &views)
	require.Len(t, views, 1)
	assert.Equal(t, uint64(1), views[0].ID)
	assert.Equal(t, "pending", views[0].State)

	out, err = env.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "STATE")
}
