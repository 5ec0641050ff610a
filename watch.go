package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/tandemapp/tandem-go/internal/statusfeed"
	"github.com/tandemapp/tandem-go/internal/sync"
)

// watchDialTimeout bounds the status feed connection attempt.
const watchDialTimeout = 5 * time.Second

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live sync status from the daemon",
		Long: `Connect to the daemon's status feed and print every status change and
newly detected conflict until interrupted. With --json, each frame is
emitted as one JSON object per line.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url := "ws://" + cc.Cfg.Status.Listen

	dialCtx, cancel := context.WithTimeout(ctx, watchDialTimeout)
	conn, _, err := websocket.Dial(dialCtx, url, nil)

	cancel()

	if err != nil {
		return fmt.Errorf("connecting to %s: %w (is the daemon running?)", url, err)
	}
	defer conn.CloseNow()

	cc.Statusf("Watching %s (ctrl-c to stop)\n", url)

	for {
		var ev statusfeed.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("reading status feed: %w", err)
		}

		if err := printEvent(cc, &ev); err != nil {
			return err
		}
	}
}

// printEvent renders one feed frame. Text mode shows a timestamped
// presentation line per status change and one line per conflict.
func printEvent(cc *CLIContext, ev *statusfeed.Event) error {
	if cc.Flags.JSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}

		fmt.Println(string(data))

		return nil
	}

	ts := time.Now().Format("15:04:05")

	switch {
	case ev.Type == statusfeed.EventStatus && ev.Status != nil:
		p := sync.Present(*ev.Status)
		fmt.Printf("%s  %s\n", ts, colorize(p.Text, p.Color))

	case ev.Type == statusfeed.EventConflict && ev.Conflict != nil:
		c := ev.Conflict
		fmt.Printf("%s  conflict %s on %s (%s)\n", ts, truncateID(c.ID), c.Entity, c.Type)
	}

	return nil
}
