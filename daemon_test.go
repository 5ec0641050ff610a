package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemapp/tandem-go/internal/sync"
)

// testPauseController wires a pause controller over a real engine in a
// throwaway data dir. Nothing here touches the network.
func testPauseController(t *testing.T, dataDir string) (*pauseController, *sync.Engine) {
	t.Helper()

	cc := testCLIContext(t, dataDir)

	rt, err := newRuntime(cc, runtimeOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	return newPauseController(rt.Engine, rt.Monitor, cc.Cfg.PausePath(), testLogger(t)), rt.Engine
}

func TestPauseController_NoFileMeansRunning(t *testing.T) {
	p, engine := testPauseController(t, t.TempDir())

	deadline := p.apply()

	assert.False(t, engine.Paused())
	assert.True(t, deadline.IsZero())
}

func TestPauseController_OpenEndedPause(t *testing.T) {
	dataDir := t.TempDir()
	p, engine := testPauseController(t, dataDir)

	require.NoError(t, savePauseState(p.path, pauseState{Paused: true}))

	deadline := p.apply()

	assert.True(t, engine.Paused())
	assert.True(t, deadline.IsZero(), "open-ended pause has no auto-resume deadline")
}

func TestPauseController_TimedPause(t *testing.T) {
	dataDir := t.TempDir()
	p, engine := testPauseController(t, dataDir)

	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	until := now.Add(30 * time.Minute)
	p.nowFunc = func() time.Time { return now }

	require.NoError(t, savePauseState(p.path, pauseState{Paused: true, Until: until}))

	deadline := p.apply()

	assert.True(t, engine.Paused())
	assert.True(t, deadline.Equal(until))
}

func TestPauseController_ExpiredPause(t *testing.T) {
	dataDir := t.TempDir()
	p, engine := testPauseController(t, dataDir)

	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	p.nowFunc = func() time.Time { return now }

	require.NoError(t, savePauseState(p.path, pauseState{Paused: true, Until: now.Add(-time.Minute)}))

	deadline := p.apply()

	assert.False(t, engine.Paused(), "expired pause should not stick")
	assert.True(t, deadline.IsZero())
}

func TestPauseController_ReapplyResumes(t *testing.T) {
	// pause then resume via the state file, reloading in between, the way
	// SIGHUP drives it.
	dataDir := t.TempDir()
	p, engine := testPauseController(t, dataDir)

	require.NoError(t, savePauseState(p.path, pauseState{Paused: true}))
	p.apply()
	require.True(t, engine.Paused())

	require.NoError(t, clearPauseState(p.path))
	p.apply()
	assert.False(t, engine.Paused())
}

func TestPauseController_CorruptFileKeepsCurrentState(t *testing.T) {
	// An unreadable pause file is logged and skipped rather than flapping
	// the engine.
	dataDir := t.TempDir()
	p, engine := testPauseController(t, dataDir)

	engine.SetPaused(true)
	require.NoError(t, os.WriteFile(p.path, []byte("{nope"), 0o600))

	deadline := p.apply()

	assert.True(t, engine.Paused())
	assert.True(t, deadline.IsZero())
}

func TestPauseController_RunStopsOnCancel(t *testing.T) {
	p, _ := testPauseController(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- p.run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pause controller did not stop on context cancel")
	}
}

func TestPauseController_AutoResumeOnExpiry(t *testing.T) {
	dataDir := t.TempDir()
	p, engine := testPauseController(t, dataDir)

	require.NoError(t, savePauseState(p.path, pauseState{
		Paused: true,
		Until:  time.Now().Add(50 * time.Millisecond),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = p.run(ctx) }()

	// run pauses the engine first, then the deadline timer resumes it.
	waitUntil := time.Now().Add(2 * time.Second)
	for !engine.Paused() && time.Now().Before(waitUntil) {
		time.Sleep(5 * time.Millisecond)
	}

	for engine.Paused() && time.Now().Before(waitUntil) {
		time.Sleep(10 * time.Millisecond)
	}

	assert.False(t, engine.Paused(), "timed pause should auto-resume after expiry")
}

func TestStopTimer_SafeOnStoppedTimer(t *testing.T) {
	timer := time.NewTimer(time.Hour)

	stopTimer(timer)
	stopTimer(timer) // second stop must not block on the drained channel

	timer.Reset(time.Millisecond)

	select {
	case <-timer.C:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire after reset")
	}
}

func TestNewDaemonCmd_Structure(t *testing.T) {
	cmd := newDaemonCmd()

	assert.Equal(t, "daemon", cmd.Use)
	assert.NotNil(t, cmd.RunE)
	assert.NotContains(t, cmd.Annotations, skipConfigAnnotation)
}
