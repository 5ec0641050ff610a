package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tandemapp/tandem-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the values of the global persistent flags.
type CLIFlags struct {
	ConfigPath string
	Server     string
	DataDir    string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries what every subcommand needs: the parsed global
// flags, the resolved configuration, and the logger. It travels on the
// command's context so RunE functions stay free of package globals.
// Cfg is nil for commands annotated with skipConfigAnnotation.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
}

type cliContextKey struct{}

// withCLIContext attaches cc to ctx.
func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// cliContextFrom extracts the CLIContext, reporting whether one is set.
func cliContextFrom(ctx context.Context) (*CLIContext, bool) {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc, ok
}

// mustCLIContext extracts the CLIContext installed by PersistentPreRunE.
// Panics when absent: that is a wiring bug, not a user error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := cliContextFrom(ctx)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// skipConfigAnnotation marks commands that manage configuration or
// credentials themselves. They get flags and a logger but no resolved
// config: login must work even when the config file is broken, and
// config init must not require the file it is about to create.
const skipConfigAnnotation = "tandem.skipConfig"

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "tandem-go",
		Short:   "Offline-first sync for Tandem",
		Long:    "Offline-first synchronization daemon and CLI for the Tandem task-sharing app.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc := &CLIContext{Flags: flags}

			if cmd.Annotations[skipConfigAnnotation] != "true" {
				cfg, err := resolveConfig(flags)
				if err != nil {
					return err
				}

				cc.Cfg = cfg
			}

			cc.Logger = buildLogger(cc.Cfg, flags)

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.Server, "server", "", "document API base URL override")
	pf.StringVar(&flags.DataDir, "data-dir", "", "state directory override")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	// Register subcommands.
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newClearErrorsCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newEditCmd())
	cmd.AddCommand(newDoneCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// resolveConfig merges the override chain (defaults, config file,
// environment, CLI flags) into the effective configuration.
func resolveConfig(flags CLIFlags) (*config.Resolved, error) {
	cli := config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
		Server:     flags.Server,
		DataDir:    flags.DataDir,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return resolved, nil
}

// dataDirFor resolves the state directory for commands that run without
// the full config chain: flag, then environment, then platform default.
// The config file never sets the data directory, so skipping it loses
// nothing.
func dataDirFor(flags CLIFlags) (string, error) {
	if flags.DataDir != "" {
		return flags.DataDir, nil
	}

	if env := config.ReadEnvOverrides(); env.DataDir != "" {
		return env.DataDir, nil
	}

	dir := config.DefaultDataDir()
	if dir == "" {
		return "", errors.New("cannot determine data directory (set TANDEM_GO_DATA_DIR)")
	}

	return dir, nil
}

// buildLogger creates an slog.Logger from the resolved config and CLI
// flags. The config file log level is the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Resolved, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
