package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemapp/tandem-go/internal/statusfeed"
	"github.com/tandemapp/tandem-go/internal/sync"
)

func TestPrintEvent_StatusFrame(t *testing.T) {
	view := sync.SyncStatusView{
		Online:       true,
		State:        "idle",
		PendingCount: 2,
	}
	ev := statusfeed.Event{Type: statusfeed.EventStatus, Status: &view}

	require.NoError(t, printEvent(quietCC(), &ev))

	jsonCC := &CLIContext{Flags: CLIFlags{JSON: true, Quiet: true}}
	require.NoError(t, printEvent(jsonCC, &ev))
}

func TestPrintEvent_ConflictFrame(t *testing.T) {
	ev := statusfeed.Event{
		Type: statusfeed.EventConflict,
		Conflict: &statusfeed.ConflictEvent{
			ID:            "c1a2b3c4-0000-0000-0000-000000000000",
			ActionID:      "a1",
			Entity:        "task/t1",
			Type:          "concurrent_edit",
			RemoteVersion: 4,
			BaseVersion:   3,
		},
	}

	require.NoError(t, printEvent(quietCC(), &ev))

	jsonCC := &CLIContext{Flags: CLIFlags{JSON: true, Quiet: true}}
	require.NoError(t, printEvent(jsonCC, &ev))
}

func TestPrintEvent_IgnoresMalformedFrames(t *testing.T) {
	// A frame whose type and payload disagree prints nothing but must not
	// error; the feed protocol may grow new frame types.
	ev := statusfeed.Event{Type: statusfeed.EventStatus}
	require.NoError(t, printEvent(quietCC(), &ev))

	ev = statusfeed.Event{Type: "unknown"}
	require.NoError(t, printEvent(quietCC(), &ev))
}

func TestWatchCmd_FailsWithoutDaemon(t *testing.T) {
	clearAmbientEnv(t)

	// Reserve a loopback port, then free it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("[status]\nlisten = %q\n", addr)), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "--data-dir", t.TempDir(), "--quiet", "watch"})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is the daemon running?")
}

func TestNewWatchCmd_Structure(t *testing.T) {
	cmd := newWatchCmd()

	assert.Equal(t, "watch", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}
