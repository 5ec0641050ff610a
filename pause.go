package main

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [duration]",
		Short: "Pause syncing",
		Long: `Pause syncing. An optional duration argument (e.g., "2h", "30m", "1d")
schedules automatic resume after the interval.

Without a duration, sync stays paused until 'tandem-go resume'. Queued
changes keep accumulating while paused; nothing is lost. An explicit
'tandem-go sync' still runs.

If a daemon is running, it receives a SIGHUP to pick up the change.

Examples:
  tandem-go pause
  tandem-go pause 2h
  tandem-go pause 1d`,
		RunE: runPause,
		Args: cobra.MaximumNArgs(1),
	}
}

func runPause(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	st := pauseState{Paused: true}

	if len(args) > 0 {
		duration, err := parseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}

		st.Until = time.Now().Add(duration)
	}

	if err := savePauseState(cc.Cfg.PausePath(), st); err != nil {
		return err
	}

	if st.Until.IsZero() {
		cc.Statusf("Sync paused\n")
	} else {
		cc.Statusf("Sync paused until %s\n", st.Until.Format(time.RFC3339))
	}

	notifyDaemon(cc)

	return nil
}

// notifyDaemon attempts to send SIGHUP to a running daemon.
// Non-fatal: if no daemon is running, prints a note instead.
func notifyDaemon(cc *CLIContext) {
	pidPath := cc.Cfg.PIDPath()
	if pidPath == "" {
		return
	}

	if err := sendSIGHUP(pidPath); err != nil {
		cc.Statusf("Note: %v (changes take effect on next daemon start)\n", err)
	} else {
		cc.Statusf("Notified running daemon\n")
	}
}

// hoursPerDay is used to convert day durations to hours.
const hoursPerDay = 24

// durationPattern matches durations like "30m", "2h", "1d", "1h30m".
var durationPattern = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// parseDuration parses a human-friendly duration string. Supports Go duration
// syntax (e.g., "2h30m") plus a "d" suffix for days (converted to 24h).
func parseDuration(s string) (time.Duration, error) {
	// Try standard Go duration first.
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}

		return d, nil
	}

	// Try our extended format with "d" for days.
	if !durationPattern.MatchString(s) || s == "" {
		return 0, fmt.Errorf("expected format like 30m, 2h, 1d, or 1h30m")
	}

	var total time.Duration

	re := regexp.MustCompile(`(\d+)([dhms])`)
	for _, match := range re.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", match[1], err)
		}

		switch match[2] {
		case "d":
			total += time.Duration(n) * hoursPerDay * time.Hour
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}

	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}

	return total, nil
}
