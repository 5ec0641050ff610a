//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tandemapp/tandem-go/internal/devserver"
	"github.com/tandemapp/tandem-go/internal/entity"
	"github.com/tandemapp/tandem-go/internal/remote"
	"github.com/tandemapp/tandem-go/testutil"
)

// waitForTimeout bounds every polling wait in the suite. The daemon's
// probe interval is 1s, so 10s covers several full rounds even on a
// loaded CI machine.
const waitForTimeout = 10 * time.Second

// waitPollInterval is the pause between condition checks while waiting.
const waitPollInterval = 25 * time.Millisecond

// syncEnvOpts configures optional server behavior for a test environment.
type syncEnvOpts struct {
	offline  bool          // start with no server listening
	failRate float64       // probability of an injected 503 per request
	latency  time.Duration // artificial delay added to every request
	noLogin  bool          // skip the initial login
}

// statusView mirrors the JSON output schema from `tandem-go status --json`.
type statusView struct {
	Online           bool   `json:"online"`
	State            string `json:"state"`
	Paused           bool   `json:"paused"`
	IsSyncing        bool   `json:"isSyncing"`
	PendingCount     int    `json:"pendingCount"`
	InFlightCount    int    `json:"inFlightCount"`
	RetryableCount   int    `json:"retryableCount"`
	FailedCount      int    `json:"failedCount"`
	ConflictCount    int    `json:"conflictCount"`
	QuarantinedCount int    `json:"quarantinedCount"`
	ProgressPercent  int    `json:"progressPercent"`
	LastSyncedAt     int64  `json:"lastSyncedAt"`
}

// conflictRow mirrors the JSON output schema from `tandem-go conflicts --json`.
type conflictRow struct {
	ID            string                     `json:"id"`
	ActionID      string                     `json:"action_id"`
	Entity        string                     `json:"entity"`
	Type          string                     `json:"type"`
	LocalFields   map[string]json.RawMessage `json:"local_fields"`
	RemoteFields  map[string]json.RawMessage `json:"remote_fields"`
	RemoteVersion int64                      `json:"remote_version"`
	BaseVersion   int64                      `json:"base_version"`
	DetectedAt    string                     `json:"detected_at"`
	Resolution    string                     `json:"resolution"`
	ResolvedAt    string                     `json:"resolved_at"`
	ResolvedBy    string                     `json:"resolved_by"`
}

// syncEnv is an isolated test environment: its own data directory, config
// file, bearer token, and in-process devserver on a loopback port. Nothing
// is shared between environments, so tests can run in parallel.
type syncEnv struct {
	t          *testing.T
	dataDir    string // state directory (action log, token, pid file)
	configPath string // TOML config passed via --config
	serverAddr string // devserver host:port, stable across restarts
	statusAddr string // status feed listen address
	token      string // bearer token for both the CLI and partner writes

	server  *devserver.Server // current devserver state, survives stopServer
	httpSrv *http.Server
}

// newSyncEnv creates a fully isolated environment and, unless opts says
// otherwise, starts a devserver and logs the CLI in against it.
func newSyncEnv(t *testing.T, opts syncEnvOpts) *syncEnv {
	t.Helper()

	tmpRoot := t.TempDir()
	dataDir := filepath.Join(tmpRoot, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o700))

	// Reserve the devserver port up front so the address can go into the
	// config file before the server is (re)started.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	statusAddr, err := testutil.FreePort()
	require.NoError(t, err)

	env := &syncEnv{
		t:          t,
		dataDir:    dataDir,
		configPath: filepath.Join(tmpRoot, "config.toml"),
		serverAddr: ln.Addr().String(),
		statusAddr: statusAddr,
		token:      fmt.Sprintf("e2e-token-%d", time.Now().UnixNano()),
	}

	writeTestConfig(t, env.configPath, env.baseURL(), statusAddr)

	if opts.offline {
		require.NoError(t, ln.Close())
	} else {
		env.serveOn(ln, opts)
	}

	t.Cleanup(func() { env.stopServer() })

	if !opts.noLogin {
		env.run("login", "--token", env.token,
			"--account", "alice@tandem.test", "--server", env.baseURL())
	}

	return env
}

func (env *syncEnv) baseURL() string {
	return "http://" + env.serverAddr
}

// --- Devserver lifecycle ---

// serveOn starts a fresh devserver on an already-bound listener.
func (env *syncEnv) serveOn(ln net.Listener, opts syncEnvOpts) {
	env.server = devserver.New(devserver.Options{
		Token:    env.token,
		Latency:  opts.latency,
		FailRate: opts.failRate,
		Logger:   quietLogger(),
	})
	env.httpSrv = &http.Server{Handler: env.server}

	srv := env.httpSrv
	go func() { _ = srv.Serve(ln) }()
}

// startServer brings up a fresh, empty devserver on the environment's
// fixed address. Used to simulate the server coming back after an outage
// or to swap in different failure behavior.
func (env *syncEnv) startServer(opts syncEnvOpts) {
	env.t.Helper()

	env.stopServer()

	// The previous listener may linger briefly after Close.
	var (
		ln  net.Listener
		err error
	)
	for range 20 {
		ln, err = net.Listen("tcp", env.serverAddr)
		if err == nil {
			break
		}

		time.Sleep(50 * time.Millisecond)
	}

	require.NoError(env.t, err, "rebinding devserver address %s", env.serverAddr)
	env.serveOn(ln, opts)
}

// stopServer closes the HTTP side immediately, severing live connections.
// The devserver's document state stays readable through env.server.
func (env *syncEnv) stopServer() {
	if env.httpSrv == nil {
		return
	}

	_ = env.httpSrv.Close()
	env.httpSrv = nil
}

// --- CLI runners ---

// runRaw runs the binary against this environment and returns stdout,
// stderr, and the exit error. Does not fail on non-zero exit codes.
func (env *syncEnv) runRaw(args ...string) (string, string, error) {
	env.t.Helper()

	fullArgs := append([]string{"--config", env.configPath, "--data-dir", env.dataDir}, args...)
	cmd := exec.Command(binaryPath, fullArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// Always log stderr so command output appears in go test -v, even for
	// passing tests.
	if stderrStr := stderr.String(); stderrStr != "" {
		env.t.Logf("%s stderr:\n%s", strings.Join(args, " "), stderrStr)
	}

	return stdout.String(), stderr.String(), err
}

// run runs a command expecting success and returns stdout, stderr.
func (env *syncEnv) run(args ...string) (string, string) {
	env.t.Helper()

	stdout, stderr, err := env.runRaw(args...)
	if err != nil {
		env.t.Fatalf("command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

// runExpectError runs a command expecting a non-zero exit code.
// Returns combined stdout+stderr for assertion.
func (env *syncEnv) runExpectError(args ...string) string {
	env.t.Helper()

	stdout, stderr, err := env.runRaw(args...)
	require.Error(env.t, err, "expected %v to fail but it succeeded\nstdout: %s\nstderr: %s",
		args, stdout, stderr)

	return stdout + stderr
}

// addTask queues a task create with the given key=value fields and
// returns the new entity ID the CLI printed.
func (env *syncEnv) addTask(fields ...string) string {
	env.t.Helper()

	args := []string{"add", "task"}
	for _, f := range fields {
		args = append(args, "--set", f)
	}

	stdout, _ := env.run(args...)

	id := strings.TrimSpace(stdout)
	require.NotEmpty(env.t, id, "add should print the new entity ID")

	return id
}

// statusJSON runs `status --json` and parses the snapshot.
func (env *syncEnv) statusJSON() statusView {
	env.t.Helper()

	stdout, _ := env.run("status", "--json")

	var view statusView
	require.NoError(env.t, json.Unmarshal([]byte(stdout), &view),
		"failed to parse status JSON output: %s", stdout)

	return view
}

// conflictsJSON runs `conflicts --json` and parses the listing.
func (env *syncEnv) conflictsJSON(history bool) []conflictRow {
	env.t.Helper()

	args := []string{"conflicts", "--json"}
	if history {
		args = append(args, "--history")
	}

	stdout, _ := env.run(args...)

	var rows []conflictRow
	require.NoError(env.t, json.Unmarshal([]byte(stdout), &rows),
		"failed to parse conflicts JSON output: %s", stdout)

	return rows
}

// openConflict returns the single active conflict, failing the test when
// there is not exactly one.
func (env *syncEnv) openConflict() conflictRow {
	env.t.Helper()

	rows := env.conflictsJSON(false)
	require.Len(env.t, rows, 1, "expected exactly one open conflict")

	return rows[0]
}

// --- Server-side inspection and partner writes ---

// doc fetches a document straight from the devserver's state, failing the
// test when it does not exist. Tombstones are returned with Deleted set.
func (env *syncEnv) doc(kind entity.Kind, id string) *remote.Document {
	env.t.Helper()

	d := env.server.Document(kind.Collection(), id)
	require.NotNil(env.t, d, "document %s/%s not on server", kind, id)

	return d
}

// docMissing reports whether the server has never seen the document.
func (env *syncEnv) docMissing(kind entity.Kind, id string) bool {
	return env.server.Document(kind.Collection(), id) == nil
}

// field returns the raw JSON for one document field.
func (env *syncEnv) field(d *remote.Document, key string) string {
	env.t.Helper()

	raw, ok := d.Fields[key]
	require.True(env.t, ok, "document %s/%s has no field %q", d.Collection, d.ID, key)

	return string(raw)
}

// partnerClient builds an API client speaking directly to the devserver,
// standing in for the partner's device.
func (env *syncEnv) partnerClient() *remote.Client {
	return remote.NewClient(env.baseURL(), &http.Client{Timeout: 5 * time.Second},
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: env.token}), quietLogger())
}

// partnerUpdate edits fields on the server as the partner would: against
// the document's current version, bumping it by one.
func (env *syncEnv) partnerUpdate(kind entity.Kind, id string, fields remote.Fields) *remote.Document {
	env.t.Helper()

	ctx := context.Background()
	client := env.partnerClient()

	cur, err := client.Get(ctx, kind.Collection(), id)
	require.NoError(env.t, err, "partner fetching %s/%s", kind, id)

	doc, err := client.Update(ctx, kind.Collection(), id, fields, cur.Version)
	require.NoError(env.t, err, "partner updating %s/%s", kind, id)

	return doc
}

// partnerDelete tombstones the document on the server as the partner would.
func (env *syncEnv) partnerDelete(kind entity.Kind, id string) {
	env.t.Helper()

	ctx := context.Background()
	client := env.partnerClient()

	cur, err := client.Get(ctx, kind.Collection(), id)
	require.NoError(env.t, err, "partner fetching %s/%s", kind, id)

	_, err = client.Delete(ctx, kind.Collection(), id, cur.Version)
	require.NoError(env.t, err, "partner deleting %s/%s", kind, id)
}

// waitFor polls cond until it holds or the suite timeout expires.
func (env *syncEnv) waitFor(cond func() bool, what string) {
	env.t.Helper()

	deadline := time.Now().Add(waitForTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(waitPollInterval)
	}

	env.t.Fatalf("timed out after %v waiting for %s", waitForTimeout, what)
}

// --- Helpers ---

// writeTestConfig writes a TOML config tuned for fast tests: one-second
// cycles and probes (the validation minimums) and a tight retry budget.
func writeTestConfig(t *testing.T, path, baseURL, statusListen string) {
	t.Helper()

	var buf bytes.Buffer

	buf.WriteString("[remote]\n")
	fmt.Fprintf(&buf, "base_url = %q\n", baseURL)
	buf.WriteString("timeout = \"1s\"\n")

	buf.WriteString("\n[engine]\n")
	buf.WriteString("sync_interval = \"1s\"\n")
	buf.WriteString("max_attempts = 3\n")
	buf.WriteString("backoff_base = \"100ms\"\n")
	buf.WriteString("backoff_cap = \"300ms\"\n")

	buf.WriteString("\n[netmon]\n")
	buf.WriteString("probe_interval = \"1s\"\n")
	buf.WriteString("settle_window = \"100ms\"\n")
	buf.WriteString("failure_threshold = 1\n")

	buf.WriteString("\n[status]\n")
	fmt.Fprintf(&buf, "listen = %q\n", statusListen)

	buf.WriteString("\n[logging]\n")
	buf.WriteString("log_level = \"debug\"\n")

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// jsonString marshals a field value the way the CLI's --set flag does.
func jsonString(s string) json.RawMessage {
	raw, _ := json.Marshal(s) // marshaling a string cannot fail

	return raw
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
