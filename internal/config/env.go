package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "TANDEM_GO_CONFIG"
	EnvServer   = "TANDEM_GO_SERVER"
	EnvDataDir  = "TANDEM_GO_DATA_DIR"
	EnvLogLevel = "TANDEM_GO_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by ReadEnvOverrides and made available to callers.
type EnvOverrides struct {
	ConfigPath string // TANDEM_GO_CONFIG: override config file path
	Server     string // TANDEM_GO_SERVER: remote base URL override
	DataDir    string // TANDEM_GO_DATA_DIR: state directory override
	LogLevel   string // TANDEM_GO_LOG_LEVEL: log level override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Server:     os.Getenv(EnvServer),
		DataDir:    os.Getenv(EnvDataDir),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
