package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tandemapp/tandem-go/internal/remote"
	"github.com/tandemapp/tandem-go/internal/sync"
	"github.com/tandemapp/tandem-go/internal/tokenfile"
)

// statusProbeTimeout bounds the single reachability probe the status
// command makes. Status must answer fast even on a dead network.
const statusProbeTimeout = 2 * time.Second

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Long: `Display queue depth, conflicts, connectivity, and the last successful
sync. Works offline and without a running daemon: the action log is read
directly, never modified.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	view, err := buildStatusView(cmd.Context(), cc)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(view)
	}

	printStatusText(view)

	return nil
}

// buildStatusView assembles a status snapshot from the action log, the
// pause file, and one live reachability probe. No daemon required.
func buildStatusView(ctx context.Context, cc *CLIContext) (sync.SyncStatusView, error) {
	counts, lastSynced, err := readQueueCounts(ctx, cc)
	if err != nil {
		return sync.SyncStatusView{}, err
	}

	pause, err := loadPauseState(cc.Cfg.PausePath())
	if err != nil {
		return sync.SyncStatusView{}, err
	}

	online := probeOnline(ctx, cc)

	return sync.Project(counts, sync.EngineIdle, sync.CycleProgress{},
		online, lastSynced, pause.active(time.Now())), nil
}

// readQueueCounts opens the action log read-only. A database that does
// not exist yet means nothing has ever been queued.
func readQueueCounts(ctx context.Context, cc *CLIContext) (sync.QueueCounts, int64, error) {
	dbPath := cc.Cfg.DatabasePath()
	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		return sync.QueueCounts{}, 0, nil
	}

	store, err := sync.OpenReadOnly(dbPath, cc.Logger)
	if err != nil {
		return sync.QueueCounts{}, 0, err
	}
	defer store.Close()

	counts, err := store.Counts(ctx, cc.Cfg.Engine.MaxAttempts)
	if err != nil {
		return sync.QueueCounts{}, 0, err
	}

	lastSynced, err := store.LastSyncedAt(ctx)
	if err != nil {
		return sync.QueueCounts{}, 0, err
	}

	return counts, lastSynced, nil
}

// probeOnline makes one reachability probe. Not logged in and unreachable
// both read as offline; status never fails because the network is down.
func probeOnline(ctx context.Context, cc *CLIContext) bool {
	tok, _, err := tokenfile.Load(cc.Cfg.TokenPath())
	if err != nil || tok == nil {
		return false
	}

	httpClient := &http.Client{Timeout: statusProbeTimeout}
	client := remote.NewClient(cc.Cfg.Remote.BaseURL, httpClient, oauth2.StaticTokenSource(tok), cc.Logger)

	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	return client.Healthz(ctx) == nil
}

// ANSI escape codes for the semantic status colors.
var statusColors = map[string]string{
	sync.ColorRed:    "\x1b[31m",
	sync.ColorYellow: "\x1b[33m",
	sync.ColorGreen:  "\x1b[32m",
	sync.ColorGray:   "\x1b[90m",
}

const colorReset = "\x1b[0m"

// colorize wraps text in the ANSI color when stdout is a terminal.
func colorize(text, color string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return text
	}

	code, ok := statusColors[color]
	if !ok {
		return text
	}

	return code + text + colorReset
}

func printStatusText(v sync.SyncStatusView) {
	p := sync.Present(v)
	fmt.Println(colorize(p.Text, p.Color))

	connectivity := "offline"
	if v.Online {
		connectivity = "online"
	}

	fmt.Printf("  server:      %s\n", connectivity)

	if v.Paused {
		fmt.Printf("  paused:      yes\n")
	}

	fmt.Printf("  queued:      %d pending, %d in flight, %d retryable\n",
		v.PendingCount, v.InFlightCount, v.RetryableCount)
	fmt.Printf("  conflicts:   %d\n", v.ConflictCount)
	fmt.Printf("  failed:      %d\n", v.FailedCount)

	if v.QuarantinedCount > 0 {
		fmt.Printf("  quarantined: %d\n", v.QuarantinedCount)
	}

	fmt.Printf("  last synced: %s\n", formatAgo(v.LastSyncedAt, time.Now()))
}
