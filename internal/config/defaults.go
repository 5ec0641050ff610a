package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and are chosen so the tool works
// against a local devserver without any config file.
const (
	defaultBaseURL          = "http://127.0.0.1:8475"
	defaultTimeout          = "15s"
	defaultSyncInterval     = "60s"
	defaultMaxAttempts      = 5
	defaultBackoffBase      = "1s"
	defaultBackoffCap       = "60s"
	defaultParallelEntities = 4
	defaultBatchSize        = 50
	defaultProbeInterval    = "15s"
	defaultSettleWindow     = "2s"
	defaultFailureThreshold = 3
	defaultStatusListen     = "127.0.0.1:7113"
	defaultLogLevel         = "info"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL: defaultBaseURL,
			Timeout: defaultTimeout,
		},
		Engine: EngineConfig{
			SyncInterval:     defaultSyncInterval,
			MaxAttempts:      defaultMaxAttempts,
			BackoffBase:      defaultBackoffBase,
			BackoffCap:       defaultBackoffCap,
			ParallelEntities: defaultParallelEntities,
			BatchSize:        defaultBatchSize,
		},
		Netmon: NetmonConfig{
			ProbeInterval:    defaultProbeInterval,
			SettleWindow:     defaultSettleWindow,
			FailureThreshold: defaultFailureThreshold,
		},
		Status: StatusConfig{
			Listen: defaultStatusListen,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
	}
}
