// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for tandem-go. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) and
// treats unknown config keys as fatal errors with "did you mean?"
// suggestions.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Engine  EngineConfig  `toml:"engine"`
	Netmon  NetmonConfig  `toml:"netmon"`
	Status  StatusConfig  `toml:"status"`
	Logging LoggingConfig `toml:"logging"`
}

// RemoteConfig controls the document API client: server location and
// per-attempt request timeout.
type RemoteConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

// EngineConfig controls the sync engine: periodic cycle cadence, write
// retry policy, and cycle parallelism.
type EngineConfig struct {
	SyncInterval     string `toml:"sync_interval"`
	MaxAttempts      int    `toml:"max_attempts"`
	BackoffBase      string `toml:"backoff_base"`
	BackoffCap       string `toml:"backoff_cap"`
	ParallelEntities int    `toml:"parallel_entities"`
	BatchSize        int    `toml:"batch_size"`
}

// NetmonConfig controls the network monitor: probe cadence, the settle
// window that debounces flapping links, and how many consecutive write
// failures flip the state to offline.
type NetmonConfig struct {
	ProbeInterval    string `toml:"probe_interval"`
	SettleWindow     string `toml:"settle_window"`
	FailureThreshold int    `toml:"failure_threshold"`
}

// StatusConfig controls the local status feed WebSocket endpoint.
type StatusConfig struct {
	Listen string `toml:"listen"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty string means "not specified".
type CLIOverrides struct {
	ConfigPath string // --config flag
	Server     string // --server flag (remote base URL)
	DataDir    string // --data-dir flag
}
