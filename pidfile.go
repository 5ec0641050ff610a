package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidFilePermissions matches the standard config file permissions (owner rw, group/other r).
const pidFilePermissions = 0o644

// pidDirPermissions matches the standard directory permissions (owner rwx, group/other rx).
const pidDirPermissions = 0o755

// writePIDFile claims the daemon lock: it flocks path, records our PID in it,
// and returns a cleanup that removes the file and releases the lock. A held
// flock means another daemon already owns this data directory.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, errors.New("PID file path is empty (data directory unresolved)")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	fail := func(e error) (func(), error) {
		f.Close()

		return nil, e
	}

	// LOCK_NB: a held lock reports immediately instead of queueing behind
	// the running daemon.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fail(fmt.Errorf("another daemon is already running (could not lock %s)", path))
	}

	if err := f.Truncate(0); err != nil {
		return fail(fmt.Errorf("truncating PID file: %w", err))
	}

	record := strconv.Itoa(os.Getpid()) + "\n"
	if _, err := f.WriteAt([]byte(record), 0); err != nil {
		return fail(fmt.Errorf("writing PID file: %w", err))
	}

	// Readers (the sync and pause commands) expect the PID on disk as soon
	// as the daemon reports ready.
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("syncing PID file: %w", err))
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readPIDFile returns the PID recorded at path.
func readPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// sendSIGHUP nudges the daemon recorded in pidPath. A missing PID file means
// no daemon is running; a recorded-but-dead PID is reported the same way
// after the stale file is removed.
func sendSIGHUP(pidPath string) error {
	pid, err := readPIDFile(pidPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("no running daemon found (no PID file at %s)", pidPath)
	case err != nil:
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	// Signal 0 probes liveness without delivering anything.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return fmt.Errorf("daemon (PID %d) is not running (stale PID file removed)", pid)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("sending SIGHUP to daemon (PID %d): %w", pid, err)
	}

	return nil
}
