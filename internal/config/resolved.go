package config

import (
	"path/filepath"
	"time"
)

// State file names inside the data directory.
const (
	databaseFileName    = "tandem.db"
	tokenFileName       = "token.json"
	pidFileName         = "daemon.pid"
	pauseFileName       = "pause.json"
	queueMarkerFileName = "queue.touch"
)

// Resolved is the fully merged configuration after the four-layer
// override chain, with durations parsed and paths made absolute. This is
// what the rest of the program consumes; raw Config never leaves this
// package.
type Resolved struct {
	ConfigPath string
	DataDir    string
	Remote     ResolvedRemote
	Engine     ResolvedEngine
	Netmon     ResolvedNetmon
	Status     ResolvedStatus
	LogLevel   string
}

// ResolvedRemote is the parsed [remote] section.
type ResolvedRemote struct {
	BaseURL string
	Timeout time.Duration
}

// ResolvedEngine is the parsed [engine] section.
type ResolvedEngine struct {
	SyncInterval     time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	ParallelEntities int
	BatchSize        int
}

// ResolvedNetmon is the parsed [netmon] section.
type ResolvedNetmon struct {
	ProbeInterval    time.Duration
	SettleWindow     time.Duration
	FailureThreshold int
}

// ResolvedStatus is the parsed [status] section.
type ResolvedStatus struct {
	Listen string
}

// resolveConfig parses a validated Config into a Resolved. Validation has
// already checked every duration, so parse errors here are impossible;
// they are still propagated rather than swallowed.
func resolveConfig(cfg *Config, cfgPath, dataDir string) (*Resolved, error) {
	timeout, err := parseDurationKey("timeout", cfg.Remote.Timeout)
	if err != nil {
		return nil, err
	}

	syncInterval, err := parseDurationKey("sync_interval", cfg.Engine.SyncInterval)
	if err != nil {
		return nil, err
	}

	backoffBase, err := parseDurationKey("backoff_base", cfg.Engine.BackoffBase)
	if err != nil {
		return nil, err
	}

	backoffCap, err := parseDurationKey("backoff_cap", cfg.Engine.BackoffCap)
	if err != nil {
		return nil, err
	}

	probeInterval, err := parseDurationKey("probe_interval", cfg.Netmon.ProbeInterval)
	if err != nil {
		return nil, err
	}

	settleWindow, err := parseDurationKey("settle_window", cfg.Netmon.SettleWindow)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		Remote: ResolvedRemote{
			BaseURL: cfg.Remote.BaseURL,
			Timeout: timeout,
		},
		Engine: ResolvedEngine{
			SyncInterval:     syncInterval,
			MaxAttempts:      cfg.Engine.MaxAttempts,
			BackoffBase:      backoffBase,
			BackoffCap:       backoffCap,
			ParallelEntities: cfg.Engine.ParallelEntities,
			BatchSize:        cfg.Engine.BatchSize,
		},
		Netmon: ResolvedNetmon{
			ProbeInterval:    probeInterval,
			SettleWindow:     settleWindow,
			FailureThreshold: cfg.Netmon.FailureThreshold,
		},
		Status: ResolvedStatus{
			Listen: cfg.Status.Listen,
		},
		LogLevel: cfg.Logging.LogLevel,
	}, nil
}

// DatabasePath returns the action log SQLite database path.
func (r *Resolved) DatabasePath() string {
	return filepath.Join(r.DataDir, databaseFileName)
}

// TokenPath returns the API token file path.
func (r *Resolved) TokenPath() string {
	return filepath.Join(r.DataDir, tokenFileName)
}

// TokenPathIn returns the token file path inside an explicit data
// directory. Auth commands use it because they run before config
// resolution: a broken config file must never lock the user out of
// login or logout.
func TokenPathIn(dataDir string) string {
	return filepath.Join(dataDir, tokenFileName)
}

// PIDPath returns the daemon pidfile path.
func (r *Resolved) PIDPath() string {
	return filepath.Join(r.DataDir, pidFileName)
}

// PausePath returns the pause state file path.
func (r *Resolved) PausePath() string {
	return filepath.Join(r.DataDir, pauseFileName)
}

// QueueMarkerPath returns the queue marker file the daemon watches for
// enqueue notifications from other processes.
func (r *Resolved) QueueMarkerPath() string {
	return filepath.Join(r.DataDir, queueMarkerFileName)
}
