package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemapp/tandem-go/internal/entity"
	"github.com/tandemapp/tandem-go/internal/remote"
	"github.com/tandemapp/tandem-go/internal/sync"
)

func TestBuildStatusView_FreshDataDir(t *testing.T) {
	cc := testCLIContext(t, t.TempDir())

	view, err := buildStatusView(context.Background(), cc)
	require.NoError(t, err)

	// No token saved, so the reachability probe never runs.
	assert.False(t, view.Online)
	assert.False(t, view.Paused)
	assert.Zero(t, view.PendingCount)
	assert.Zero(t, view.ConflictCount)
	assert.Zero(t, view.FailedCount)
	assert.Zero(t, view.LastSyncedAt)
}

func TestBuildStatusView_CountsQueuedChanges(t *testing.T) {
	cc := testCLIContext(t, t.TempDir())

	store, err := sync.Open(cc.Cfg.DatabasePath(), cc.Cfg.QueueMarkerPath(), cc.Logger)
	require.NoError(t, err)

	ref := entity.NewRef(entity.KindTask, entity.NewID())
	payload := remote.Fields{"title": json.RawMessage(`"pack lunches"`)}

	_, err = store.Enqueue(context.Background(), sync.OpCreate, ref, payload, 0)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	view, err := buildStatusView(context.Background(), cc)
	require.NoError(t, err)

	assert.Equal(t, 1, view.PendingCount)

	p := sync.Present(view)
	assert.Equal(t, "offline (1 queued)", p.Text)
}

func TestBuildStatusView_ReadsPauseFile(t *testing.T) {
	dataDir := t.TempDir()
	cc := testCLIContext(t, dataDir)

	require.NoError(t, savePauseState(cc.Cfg.PausePath(), pauseState{Paused: true}))

	view, err := buildStatusView(context.Background(), cc)
	require.NoError(t, err)

	assert.True(t, view.Paused)
	assert.Equal(t, "sync paused", sync.Present(view).Text)
}

func TestBuildStatusView_ExpiredPauseIgnored(t *testing.T) {
	cc := testCLIContext(t, t.TempDir())

	st := pauseState{Paused: true, Until: time.Now().Add(-time.Minute)}
	require.NoError(t, savePauseState(cc.Cfg.PausePath(), st))

	view, err := buildStatusView(context.Background(), cc)
	require.NoError(t, err)

	assert.False(t, view.Paused)
}

func TestColorize_PlainWhenNotTerminal(t *testing.T) {
	// Test processes run with a piped stdout, so colorize must pass text
	// through untouched.
	assert.Equal(t, "offline", colorize("offline", sync.ColorGray))
}

func TestStatusCmd_RunsWithoutDaemonOrToken(t *testing.T) {
	dataDir := t.TempDir()

	require.NoError(t, runCLI(t, dataDir, "status"))
	require.NoError(t, runCLI(t, dataDir, "--json", "status"))
}

func TestNewStatusCmd_Structure(t *testing.T) {
	cmd := newStatusCmd()
	assert.Equal(t, "status", cmd.Name())
	assert.NotEmpty(t, cmd.Short)
	assert.NotNil(t, cmd.RunE)
}
