package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tandemapp/tandem-go/internal/remote"
	"github.com/tandemapp/tandem-go/internal/sync"
)

// conflictIDPrefixLen is the number of characters shown for conflict and
// action IDs in table output. 8 chars is enough for uniqueness in
// typical use.
const conflictIDPrefixLen = 8

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List sync conflicts",
		Long: `Display conflicts that need a decision: both sides changed the same
field, or the entity was deleted on the server while edited here.

Use 'tandem-go resolve' to settle them. Works offline; the action log is
read directly.`,
		Args: cobra.NoArgs,
		RunE: runConflicts,
	}

	cmd.Flags().Bool("history", false, "include resolved conflicts")

	return cmd
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	history, err := cmd.Flags().GetBool("history")
	if err != nil {
		return err
	}

	records, err := listConflicts(cmd.Context(), cc, history)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printConflictsJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("No conflicts.")

		return nil
	}

	printConflictsTable(records, history)

	return nil
}

// listConflicts reads the conflict ledger without touching the queue. A
// database that does not exist yet has no conflicts.
func listConflicts(ctx context.Context, cc *CLIContext, history bool) ([]*sync.ConflictRecord, error) {
	dbPath := cc.Cfg.DatabasePath()
	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	store, err := sync.OpenReadOnly(dbPath, cc.Logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if history {
		return store.ConflictHistory(ctx)
	}

	return store.ActiveConflicts(ctx)
}

// conflictJSON is the JSON shape for conflict listings.
type conflictJSON struct {
	ID            string        `json:"id"`
	ActionID      string        `json:"action_id"`
	Entity        string        `json:"entity"`
	Type          string        `json:"type"`
	LocalFields   remote.Fields `json:"local_fields,omitempty"`
	RemoteFields  remote.Fields `json:"remote_fields,omitempty"`
	RemoteVersion int64         `json:"remote_version"`
	BaseVersion   int64         `json:"base_version"`
	DetectedAt    string        `json:"detected_at"`
	Resolution    string        `json:"resolution"`
	ResolvedAt    string        `json:"resolved_at,omitempty"`
	ResolvedBy    string        `json:"resolved_by,omitempty"`
}

func printConflictsJSON(records []*sync.ConflictRecord) error {
	items := make([]conflictJSON, len(records))

	for i, c := range records {
		items[i] = conflictJSON{
			ID:            c.ID,
			ActionID:      c.ActionID,
			Entity:        c.Entity.String(),
			Type:          string(c.Type),
			LocalFields:   c.LocalFields,
			RemoteFields:  c.RemoteFields,
			RemoteVersion: c.RemoteVersion,
			BaseVersion:   c.BaseVersion,
			DetectedAt:    formatNanos(c.DetectedAt),
			Resolution:    string(c.Resolution),
		}

		if c.ResolvedAt != nil {
			items[i].ResolvedAt = formatNanos(*c.ResolvedAt)
		}

		if c.ResolvedBy != nil {
			items[i].ResolvedBy = string(*c.ResolvedBy)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConflictsTable(records []*sync.ConflictRecord, history bool) {
	headers := []string{"ID", "ENTITY", "TYPE", "BASE", "REMOTE", "DETECTED"}
	if history {
		headers = append(headers, "RESOLUTION", "RESOLVED")
	}

	rows := make([][]string, 0, len(records))

	for _, c := range records {
		row := []string{
			truncateID(c.ID),
			c.Entity.String(),
			string(c.Type),
			strconv.FormatInt(c.BaseVersion, 10),
			strconv.FormatInt(c.RemoteVersion, 10),
			formatNanos(c.DetectedAt),
		}

		if history {
			resolvedAt := ""
			if c.ResolvedAt != nil {
				resolvedAt = formatNanos(*c.ResolvedAt)
			}

			row = append(row, string(c.Resolution), resolvedAt)
		}

		rows = append(rows, row)
	}

	printTable(os.Stdout, headers, rows)
}
