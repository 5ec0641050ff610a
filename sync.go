package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tandemapp/tandem-go/internal/sync"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a sync cycle now",
		Long: `Trigger one sync cycle immediately.

With a daemon running, signals it to start a cycle and returns. Without
one, drains the queue in-process and reports the outcome. Explicit syncs
bypass the pause state and the offline gate: if the server really is
unreachable the cycle fails quickly and the queue is untouched.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	// Prefer the daemon: it owns the queue while running.
	if err := sendSIGHUP(cc.Cfg.PIDPath()); err == nil {
		cc.Statusf("Daemon notified, sync starting\n")

		return nil
	}

	rt, err := newRuntime(cc, runtimeOptions{needToken: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	res, err := rt.Engine.SyncOnce(ctx)
	if err != nil {
		return err
	}

	printCycleResult(cc, res)

	return nil
}

// printCycleResult summarizes a finished cycle on stderr.
func printCycleResult(cc *CLIContext, res sync.CycleResult) {
	cc.Statusf("Applied %d, merged %d, conflicts %d, failed %d (%s)\n",
		res.Applied, res.Merged, res.Conflicts, res.Failed,
		res.Duration.Round(time.Millisecond))

	if res.Conflicts > 0 {
		cc.Statusf("Run 'tandem-go conflicts' to review.\n")
	}
}
