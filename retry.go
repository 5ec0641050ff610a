package main

import (
	"github.com/spf13/cobra"
)

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed changes",
		Long: `Return every failed change to the queue with a fresh attempt budget.

Changes land in the failed state after exhausting their retries, usually
because the server kept rejecting them or stayed unreachable past the
backoff ceiling. Retry puts them back in line; the daemon picks them up
on its next cycle.`,
		Args: cobra.NoArgs,
		RunE: runRetry,
	}
}

func runRetry(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	store, err := openQueue(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.RetryFailed(cmd.Context())
	if err != nil {
		return err
	}

	if n == 0 {
		cc.Statusf("No failed changes to retry.\n")
		return nil
	}

	cc.Statusf("Requeued %d failed %s\n", n, pluralWord(n, "change", "changes"))
	notifyDaemon(cc)

	return nil
}

func newClearErrorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-errors",
		Short: "Discard terminally failed changes",
		Long: `Drop changes whose attempt budget is exhausted.

Only terminal failures are removed. Retryable failures are kept; use
'tandem-go retry' to requeue them instead. Dropped changes are gone for
good, so inspect them with 'tandem-go status --json' first if unsure.`,
		Args: cobra.NoArgs,
		RunE: runClearErrors,
	}
}

func runClearErrors(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	store, err := openQueue(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.ClearFailed(cmd.Context(), cc.Cfg.Engine.MaxAttempts)
	if err != nil {
		return err
	}

	if n == 0 {
		cc.Statusf("No terminally failed changes.\n")
		return nil
	}

	cc.Statusf("Dropped %d failed %s\n", n, pluralWord(n, "change", "changes"))
	notifyDaemon(cc)

	return nil
}
