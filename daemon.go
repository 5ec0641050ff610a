package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tandemapp/tandem-go/internal/netmon"
	"github.com/tandemapp/tandem-go/internal/statusfeed"
	"github.com/tandemapp/tandem-go/internal/sync"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the background sync daemon",
		Long: `Run the sync daemon in the foreground. It drains the action queue on a
schedule and whenever new work arrives, monitors connectivity, and serves
the live status feed that 'tandem-go watch' and the host app consume.

Exactly one daemon runs per data directory, enforced by a locked PID
file. SIGHUP reloads the pause state and triggers a sync cycle; the first
SIGINT/SIGTERM shuts down gracefully and a second one force-exits.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	cleanup, err := writePIDFile(cc.Cfg.PIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := newRuntime(cc, runtimeOptions{daemon: true, needToken: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := shutdownContext(cmd.Context(), logger)

	feed := statusfeed.New(rt.Engine, logger)

	unsubscribe := rt.Engine.Subscribe(feed.OnStatus)
	defer unsubscribe()

	// Wake the engine the moment connectivity returns; queued work should
	// not wait out the sync interval.
	unwatch := rt.Monitor.Subscribe(func(s netmon.State) {
		if s == netmon.StateOnline {
			rt.Engine.Kick()
		}
	})
	defer unwatch()

	observer := sync.NewQueueObserver(cc.Cfg.QueueMarkerPath(), rt.Engine, logger)
	pauser := newPauseController(rt.Engine, rt.Monitor, cc.Cfg.PausePath(), logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rt.Monitor.Run(gctx) })
	g.Go(func() error { return rt.Engine.Run(gctx) })
	g.Go(func() error { return observer.Run(gctx) })
	g.Go(func() error { return feed.Run(gctx, cc.Cfg.Status.Listen) })
	g.Go(func() error { return pauser.run(gctx) })

	logger.Info("daemon started",
		"pid", os.Getpid(),
		"data_dir", cc.Cfg.DataDir,
		"server", cc.Cfg.Remote.BaseURL)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("daemon stopped")

	return nil
}

// pauseController applies the pause file to the engine and auto-resumes
// when a timed pause expires. SIGHUP reloads the file so pause, resume,
// and sync commands take effect without restarting the daemon.
type pauseController struct {
	engine  *sync.Engine
	monitor *netmon.Monitor
	path    string
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

func newPauseController(engine *sync.Engine, monitor *netmon.Monitor, path string, logger *slog.Logger) *pauseController {
	return &pauseController{
		engine:  engine,
		monitor: monitor,
		path:    path,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// apply reads the pause file and sets the engine pause state. Returns
// the auto-resume deadline, zero when there is none.
func (p *pauseController) apply() time.Time {
	st, err := loadPauseState(p.path)
	if err != nil {
		p.logger.Warn("could not read pause file", "error", err)

		return time.Time{}
	}

	active := st.active(p.nowFunc())
	p.engine.SetPaused(active)

	if active && !st.Until.IsZero() {
		return st.Until
	}

	return time.Time{}
}

// run applies the initial pause state, then listens for SIGHUP reloads
// and the auto-resume deadline until ctx is canceled.
func (p *pauseController) run(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	p.arm(timer, p.apply())

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-hup:
			p.logger.Info("received SIGHUP, reloading pause state")

			p.arm(timer, p.apply())
			p.monitor.Kick()

			// The signal usually follows a CLI mutation; sync now
			// instead of waiting out the interval. ForceSync skips the
			// offline gate, so even a stale-offline reading cannot
			// swallow an explicit user request.
			if !p.engine.Paused() {
				p.engine.ForceSync()
			}

		case <-timer.C:
			p.logger.Info("pause expired, resuming sync")
			p.engine.SetPaused(false)
		}
	}
}

// arm points the timer at deadline, disarming it for the zero time.
func (p *pauseController) arm(timer *time.Timer, deadline time.Time) {
	stopTimer(timer)

	if deadline.IsZero() {
		return
	}

	d := deadline.Sub(p.nowFunc())
	if d < 0 {
		d = 0
	}

	timer.Reset(d)
}

// stopTimer stops a timer and drains a pending tick, leaving it safe to
// Reset.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
