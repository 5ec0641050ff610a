package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemapp/tandem-go/internal/sync"
)

// quietCC returns a CLIContext with Quiet=true for tests that call
// status-printing functions. Only the Flags field is populated.
func quietCC() *CLIContext {
	return &CLIContext{Flags: CLIFlags{Quiet: true}}
}

func TestPrintCycleResult_CleanCycle(t *testing.T) {
	t.Parallel()

	// Output goes to stderr via Statusf; quiet suppresses it. The test
	// guards against panics on the zero value and a populated result.
	printCycleResult(quietCC(), sync.CycleResult{})
	printCycleResult(quietCC(), sync.CycleResult{
		Applied:  3,
		Merged:   1,
		Duration: 420 * time.Millisecond,
	})
}

func TestPrintCycleResult_WithConflicts(t *testing.T) {
	t.Parallel()

	printCycleResult(quietCC(), sync.CycleResult{
		Applied:   2,
		Conflicts: 1,
		Failed:    1,
		Duration:  time.Second,
	})
}

func TestSyncCmd_RequiresLogin(t *testing.T) {
	// No daemon is running in the test dir and no token is saved, so an
	// explicit sync must fail fast with a login hint.
	err := runCLI(t, t.TempDir(), "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestNewSyncCmd_Structure(t *testing.T) {
	t.Parallel()

	cmd := newSyncCmd()
	assert.Equal(t, "sync", cmd.Name())
	assert.NotEmpty(t, cmd.Long)
	assert.NotNil(t, cmd.RunE)
}
