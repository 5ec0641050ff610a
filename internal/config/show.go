package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (config file: %s)\n", r.ConfigPath)
	ew.printf("# Data directory: %s\n\n", r.DataDir)

	ew.printf("[remote]\n")
	ew.printf("  base_url = %q\n", r.Remote.BaseURL)
	ew.printf("  timeout  = %q\n", r.Remote.Timeout)
	ew.printf("\n")

	ew.printf("[engine]\n")
	ew.printf("  sync_interval     = %q\n", r.Engine.SyncInterval)
	ew.printf("  max_attempts      = %d\n", r.Engine.MaxAttempts)
	ew.printf("  backoff_base      = %q\n", r.Engine.BackoffBase)
	ew.printf("  backoff_cap       = %q\n", r.Engine.BackoffCap)
	ew.printf("  parallel_entities = %d\n", r.Engine.ParallelEntities)
	ew.printf("  batch_size        = %d\n", r.Engine.BatchSize)
	ew.printf("\n")

	ew.printf("[netmon]\n")
	ew.printf("  probe_interval    = %q\n", r.Netmon.ProbeInterval)
	ew.printf("  settle_window     = %q\n", r.Netmon.SettleWindow)
	ew.printf("  failure_threshold = %d\n", r.Netmon.FailureThreshold)
	ew.printf("\n")

	ew.printf("[status]\n")
	ew.printf("  listen = %q\n", r.Status.Listen)
	ew.printf("\n")

	ew.printf("[logging]\n")
	ew.printf("  log_level = %q\n", r.LogLevel)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
