package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file content written by `config init`.
// All settings are present as commented-out defaults so users can discover
// every option without reading docs. This template is written once and
// never regenerated.
const configTemplate = `# tandem-go configuration
# Docs: https://github.com/tandemapp/tandem-go

[remote]
# Document API server.
# base_url = "http://127.0.0.1:8475"

# Per-attempt request timeout.
# timeout = "15s"

[engine]
# How often the daemon starts a sync cycle on its own.
# sync_interval = "60s"

# Write retry policy: attempts per action, exponential backoff bounds.
# max_attempts = 5
# backoff_base = "1s"
# backoff_cap = "60s"

# Cycle parallelism across distinct entities, and dequeue batch size.
# parallel_entities = 4
# batch_size = 50

[netmon]
# Reachability probe cadence and the settle window that debounces
# flapping links.
# probe_interval = "15s"
# settle_window = "2s"

# Consecutive write failures before the monitor flips offline.
# failure_threshold = 3

[status]
# Local WebSocket status feed address.
# listen = "127.0.0.1:7113"

[logging]
# Verbosity: debug, info, warn, error
# log_level = "info"
`

// WriteDefault creates the default config file at path. Refuses to
// overwrite an existing file so `config init` never clobbers user edits.
// The write is atomic (temp file + rename) and parent directories are
// created as needed.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	slog.Info("creating config file", "path", path)

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to path via a temp file and rename so a
// crash mid-write never leaves a truncated config behind.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
