package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume paused syncing",
		Long: `Resume syncing after a pause. Clears any scheduled auto-resume too.

If a daemon is running, it receives a SIGHUP and starts a cycle right
away to drain whatever queued up while paused.`,
		Args: cobra.NoArgs,
		RunE: runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	st, err := loadPauseState(cc.Cfg.PausePath())
	if err != nil {
		return err
	}

	if err := clearPauseState(cc.Cfg.PausePath()); err != nil {
		return err
	}

	// An expired timed pause leaves the file behind until now; clearing
	// it is still worth doing, but there is no daemon state to change.
	if !st.active(time.Now()) {
		cc.Statusf("Sync was not paused\n")

		return nil
	}

	cc.Statusf("Sync resumed\n")
	notifyDaemon(cc)

	return nil
}
