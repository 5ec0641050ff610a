package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tandemapp/tandem-go/internal/entity"
	"github.com/tandemapp/tandem-go/internal/remote"
	"github.com/tandemapp/tandem-go/internal/sync"
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <kind>",
		Short: "Queue a new entity",
		Long: `Create an entity locally and queue it for sync. Prints the new ID.

The create is durable immediately; it reaches the server on the next
sync cycle. Works offline.

Examples:
  tandem-go add task --set title="Buy milk" --set due=2026-09-01
  tandem-go add task --set title="Call mom" --set 'tags=["family"]'`,
		Args: cobra.ExactArgs(1),
		RunE: runAdd,
	}

	cmd.Flags().StringArray("set", nil, "field to set, as key=value (repeatable)")

	return cmd
}

func runAdd(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	kind, err := entity.ParseKind(args[0])
	if err != nil {
		return err
	}

	fields, err := fieldsFromFlags(cmd)
	if err != nil {
		return err
	}

	if len(fields) == 0 {
		return fmt.Errorf("at least one --set key=value is required")
	}

	store, err := openQueue(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	ref := entity.NewRef(kind, entity.NewID())

	action, err := store.Enqueue(cmd.Context(), sync.OpCreate, ref, fields, 0)
	if err != nil {
		return err
	}

	fmt.Println(ref.ID)
	cc.Statusf("Queued create %s (action %s)\n", ref, truncateID(action.ID))

	return nil
}

func newEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <kind> <id>",
		Short: "Queue a field change",
		Long: `Change fields on an entity and queue the edit for sync.

Only the named fields travel; edits to different fields from another
device merge automatically. Works offline.

Example:
  tandem-go edit task 4f1f9c08-... --set title="Buy oat milk"`,
		Args: cobra.ExactArgs(2),
		RunE: runEdit,
	}

	cmd.Flags().StringArray("set", nil, "field to set, as key=value (repeatable)")

	return cmd
}

func runEdit(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	ref, err := parseEntityArgs(args)
	if err != nil {
		return err
	}

	fields, err := fieldsFromFlags(cmd)
	if err != nil {
		return err
	}

	if len(fields) == 0 {
		return fmt.Errorf("at least one --set key=value is required")
	}

	return queueMutation(cmd.Context(), cc, sync.OpUpdate, ref, fields)
}

func newDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <kind> <id>",
		Short: "Mark a task complete",
		Long: `Mark a task as done and queue the change for sync. Works offline.

Example:
  tandem-go done task 4f1f9c08-...`,
		Args: cobra.ExactArgs(2),
		RunE: runDone,
	}
}

func runDone(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	ref, err := parseEntityArgs(args)
	if err != nil {
		return err
	}

	if ref.Kind != entity.KindTask {
		return fmt.Errorf("done applies to tasks (got %s)", ref.Kind)
	}

	fields := remote.Fields{"done": json.RawMessage("true")}

	return queueMutation(cmd.Context(), cc, sync.OpUpdate, ref, fields)
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <kind> <id>",
		Short: "Queue an entity deletion",
		Long: `Delete an entity and queue the deletion for sync. Works offline.

A deletion replays on top of edits made elsewhere in the meantime; if
the entity was already deleted on the server, the action is satisfied
with no write.`,
		Args: cobra.ExactArgs(2),
		RunE: runRm,
	}
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	ref, err := parseEntityArgs(args)
	if err != nil {
		return err
	}

	return queueMutation(cmd.Context(), cc, sync.OpDelete, ref, nil)
}

// queueMutation appends an update or delete to the action log against the
// entity's last known server version.
func queueMutation(ctx context.Context, cc *CLIContext, op sync.Operation, ref entity.Ref, fields remote.Fields) error {
	store, err := openQueue(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	baseVersion, err := baseVersionFor(ctx, store, ref)
	if err != nil {
		return err
	}

	action, err := store.Enqueue(ctx, op, ref, fields, baseVersion)
	if err != nil {
		return err
	}

	cc.Statusf("Queued %s %s (action %s)\n", op, ref, truncateID(action.ID))

	return nil
}

// baseVersionFor picks the optimistic-concurrency version for a mutation.
// No baseline means the entity was created offline and has not synced yet;
// version 0 is correct because the engine rebases queued followups once
// the create lands.
func baseVersionFor(ctx context.Context, store *sync.Store, ref entity.Ref) (int64, error) {
	b, err := store.GetBaseline(ctx, ref)
	if err != nil {
		return 0, err
	}

	if b == nil {
		return 0, nil
	}

	return b.Version, nil
}

func parseEntityArgs(args []string) (entity.Ref, error) {
	kind, err := entity.ParseKind(args[0])
	if err != nil {
		return entity.Ref{}, err
	}

	if args[1] == "" {
		return entity.Ref{}, fmt.Errorf("entity ID is required")
	}

	return entity.NewRef(kind, args[1]), nil
}

// fieldsFromFlags parses repeated --set key=value flags into fields.
// Values that parse as JSON are stored as-is; bare words become JSON
// strings, so --set title=Groceries and --set done=true both do what
// they look like.
func fieldsFromFlags(cmd *cobra.Command) (remote.Fields, error) {
	pairs, err := cmd.Flags().GetStringArray("set")
	if err != nil {
		return nil, err
	}

	if len(pairs) == 0 {
		return nil, nil
	}

	fields := make(remote.Fields, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q (want key=value)", pair)
		}

		fields[key] = fieldValue(value)
	}

	return fields, nil
}

func fieldValue(value string) json.RawMessage {
	trimmed := strings.TrimSpace(value)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}

	quoted, _ := json.Marshal(value) // marshaling a string cannot fail

	return quoted
}
