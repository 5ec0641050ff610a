package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// pauseState is the on-disk pause marker shared between the CLI and the
// daemon. The pause and resume commands write it; the daemon reads it at
// startup and again on every SIGHUP.
type pauseState struct {
	Paused bool      `json:"paused"`
	Until  time.Time `json:"until,omitzero"` // zero means paused until resumed
}

// active reports whether the pause is still in force at now.
func (p pauseState) active(now time.Time) bool {
	if !p.Paused {
		return false
	}

	return p.Until.IsZero() || now.Before(p.Until)
}

// loadPauseState reads the pause file. A missing file means not paused.
func loadPauseState(path string) (pauseState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return pauseState{}, nil
	}

	if err != nil {
		return pauseState{}, fmt.Errorf("reading pause file: %w", err)
	}

	var st pauseState
	if err := json.Unmarshal(data, &st); err != nil {
		return pauseState{}, fmt.Errorf("decoding pause file %s: %w", path, err)
	}

	return st, nil
}

// savePauseState writes the pause file, creating the data directory if
// needed.
func savePauseState(path string, st pauseState) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, pidDirPermissions); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding pause state: %w", err)
	}

	if err := os.WriteFile(path, data, pidFilePermissions); err != nil {
		return fmt.Errorf("writing pause file: %w", err)
	}

	return nil
}

// clearPauseState removes the pause file. Missing files are not an error
// so resume is idempotent.
func clearPauseState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing pause file: %w", err)
	}

	return nil
}
