package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tandemapp/tandem-go/internal/sync"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [conflict-id]",
		Short: "Resolve sync conflicts",
		Long: `Resolve sync conflicts by choosing a side.

Strategies:
  --keep-local   Push this device's fields, overwriting the remote edit
  --keep-remote  Discard the queued change and adopt the server state

Keeping local contacts the server immediately (it re-pushes the change,
or recreates the entity if it was deleted there), so it needs a login
and a connection. Keeping remote only rewrites the action log and works
offline.

Use --all to resolve all open conflicts with the chosen strategy.
Without --all, a conflict ID (or unique prefix) is required.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResolve,
	}

	cmd.Flags().Bool("keep-local", false, "push the local change, overwriting the remote edit")
	cmd.Flags().Bool("keep-remote", false, "discard the local change and adopt the server state")
	cmd.Flags().Bool("all", false, "resolve all open conflicts")
	cmd.Flags().Bool("dry-run", false, "preview resolution without executing")

	cmd.MarkFlagsMutuallyExclusive("keep-local", "keep-remote")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	decision, err := resolveDecision(cmd)
	if err != nil {
		return err
	}

	resolveAll := cmd.Flags().Changed("all")

	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}

	if !resolveAll && len(args) == 0 {
		return fmt.Errorf("specify a conflict ID, or use --all to resolve all conflicts")
	}

	if resolveAll && len(args) > 0 {
		return fmt.Errorf("--all and a specific conflict argument are mutually exclusive")
	}

	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	// Keeping local re-pushes through the server, so it needs a token.
	// Keeping remote is a pure action-log rewrite.
	rt, err := newRuntime(cc, runtimeOptions{needToken: decision == sync.DecisionAccept})
	if err != nil {
		return err
	}
	defer rt.Close()

	if resolveAll {
		return resolveAllConflicts(ctx, cc, rt, decision, dryRun)
	}

	return resolveSingleConflict(ctx, cc, rt, args[0], decision, dryRun)
}

// resolveDecision returns the chosen decision from flags.
func resolveDecision(cmd *cobra.Command) (sync.ConflictDecision, error) {
	keepLocal := cmd.Flags().Changed("keep-local")
	keepRemote := cmd.Flags().Changed("keep-remote")

	switch {
	case keepLocal:
		return sync.DecisionAccept, nil
	case keepRemote:
		return sync.DecisionReject, nil
	default:
		return "", fmt.Errorf("specify a resolution: --keep-local or --keep-remote")
	}
}

func resolveAllConflicts(ctx context.Context, cc *CLIContext, rt *runtime, decision sync.ConflictDecision, dryRun bool) error {
	conflicts, err := rt.Engine.Conflicts(ctx)
	if err != nil {
		return err
	}

	if len(conflicts) == 0 {
		cc.Statusf("No open conflicts.\n")
		return nil
	}

	for _, c := range conflicts {
		if err := resolveConflict(ctx, cc, rt, c, decision, dryRun); err != nil {
			return err
		}
	}

	if !dryRun {
		notifyDaemon(cc)
	}

	return nil
}

// resolveSingleConflict finds and resolves a single conflict by ID or prefix.
func resolveSingleConflict(ctx context.Context, cc *CLIContext, rt *runtime, arg string, decision sync.ConflictDecision, dryRun bool) error {
	conflicts, err := rt.Engine.Conflicts(ctx)
	if err != nil {
		return err
	}

	target, findErr := findConflict(conflicts, arg)
	if findErr != nil {
		return findErr
	}

	if target == nil {
		return fmt.Errorf("conflict not found: %s", arg)
	}

	if err := resolveConflict(ctx, cc, rt, target, decision, dryRun); err != nil {
		return err
	}

	if !dryRun {
		notifyDaemon(cc)
	}

	return nil
}

func resolveConflict(ctx context.Context, cc *CLIContext, rt *runtime, c *sync.ConflictRecord, decision sync.ConflictDecision, dryRun bool) error {
	if dryRun {
		cc.Statusf("Would resolve %s (%s) as %s\n", c.Entity, truncateID(c.ID), describeDecision(decision))
		return nil
	}

	if err := rt.Engine.ResolveConflict(ctx, c.ActionID, decision); err != nil {
		return fmt.Errorf("resolving %s: %w", c.Entity, err)
	}

	cc.Statusf("Resolved %s as %s\n", c.Entity, describeDecision(decision))

	return nil
}

// errAmbiguousPrefix wraps the ambiguous prefix value for diagnostics.
func errAmbiguousPrefix(prefix string) error {
	return fmt.Errorf("ambiguous conflict ID prefix %q (provide more characters)", prefix)
}

// findConflict searches a conflict list by exact ID, action ID, or
// entity ref, then by ID prefix. Returns an error if an ID prefix
// matches multiple conflicts.
func findConflict(conflicts []*sync.ConflictRecord, arg string) (*sync.ConflictRecord, error) {
	// Empty input would match every ID in the prefix pass (since every
	// string starts with ""), so reject it early.
	if arg == "" {
		return nil, nil
	}

	// First pass: exact matches take priority.
	for _, c := range conflicts {
		if c.ID == arg || c.ActionID == arg || c.Entity.String() == arg {
			return c, nil
		}
	}

	// Second pass: prefix match with ambiguity detection.
	var match *sync.ConflictRecord

	for _, c := range conflicts {
		if strings.HasPrefix(c.ID, arg) {
			if match != nil {
				return nil, errAmbiguousPrefix(arg)
			}

			match = c
		}
	}

	return match, nil
}

func describeDecision(decision sync.ConflictDecision) string {
	if decision == sync.DecisionAccept {
		return "keep local"
	}

	return "keep remote"
}
