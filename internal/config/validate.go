package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minTimeout          = 1 * time.Second
	minSyncInterval     = 1 * time.Second
	minAttempts         = 1
	maxAttempts         = 10
	minBackoffBase      = 100 * time.Millisecond
	minParallelEntities = 1
	maxParallelEntities = 16
	minBatchSize        = 1
	maxBatchSize        = 500
	minProbeInterval    = 1 * time.Second
	minSettleWindow     = 100 * time.Millisecond
	minFailureThreshold = 1
	maxFailureThreshold = 10
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateNetmon(&cfg.Netmon)...)
	errs = append(errs, validateStatus(&cfg.Status)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	if r.BaseURL == "" {
		errs = append(errs, errors.New("base_url: must not be empty"))
	} else if u, err := url.Parse(r.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("base_url: scheme must be http or https, got %q", u.Scheme))
	}

	if d, err := parseDurationKey("timeout", r.Timeout); err != nil {
		errs = append(errs, err)
	} else if d < minTimeout {
		errs = append(errs, fmt.Errorf("timeout: must be at least %s, got %s", minTimeout, d))
	}

	return errs
}

func validateEngine(e *EngineConfig) []error {
	var errs []error

	if d, err := parseDurationKey("sync_interval", e.SyncInterval); err != nil {
		errs = append(errs, err)
	} else if d < minSyncInterval {
		errs = append(errs, fmt.Errorf("sync_interval: must be at least %s, got %s", minSyncInterval, d))
	}

	if e.MaxAttempts < minAttempts || e.MaxAttempts > maxAttempts {
		errs = append(errs, fmt.Errorf("max_attempts: must be between %d and %d, got %d",
			minAttempts, maxAttempts, e.MaxAttempts))
	}

	base, err := parseDurationKey("backoff_base", e.BackoffBase)
	if err != nil {
		errs = append(errs, err)
	} else if base < minBackoffBase {
		errs = append(errs, fmt.Errorf("backoff_base: must be at least %s, got %s", minBackoffBase, base))
	}

	if ceiling, err := parseDurationKey("backoff_cap", e.BackoffCap); err != nil {
		errs = append(errs, err)
	} else if base > 0 && ceiling < base {
		errs = append(errs, fmt.Errorf("backoff_cap: must be at least backoff_base (%s), got %s", base, ceiling))
	}

	if e.ParallelEntities < minParallelEntities || e.ParallelEntities > maxParallelEntities {
		errs = append(errs, fmt.Errorf("parallel_entities: must be between %d and %d, got %d",
			minParallelEntities, maxParallelEntities, e.ParallelEntities))
	}

	if e.BatchSize < minBatchSize || e.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, e.BatchSize))
	}

	return errs
}

func validateNetmon(n *NetmonConfig) []error {
	var errs []error

	if d, err := parseDurationKey("probe_interval", n.ProbeInterval); err != nil {
		errs = append(errs, err)
	} else if d < minProbeInterval {
		errs = append(errs, fmt.Errorf("probe_interval: must be at least %s, got %s", minProbeInterval, d))
	}

	if d, err := parseDurationKey("settle_window", n.SettleWindow); err != nil {
		errs = append(errs, err)
	} else if d < minSettleWindow {
		errs = append(errs, fmt.Errorf("settle_window: must be at least %s, got %s", minSettleWindow, d))
	}

	if n.FailureThreshold < minFailureThreshold || n.FailureThreshold > maxFailureThreshold {
		errs = append(errs, fmt.Errorf("failure_threshold: must be between %d and %d, got %d",
			minFailureThreshold, maxFailureThreshold, n.FailureThreshold))
	}

	return errs
}

func validateStatus(s *StatusConfig) []error {
	var errs []error

	if s.Listen == "" {
		errs = append(errs, errors.New("listen: must not be empty"))
	} else if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	switch l.LogLevel {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return []error{fmt.Errorf("log_level: must be debug, info, warn, or error, got %q", l.LogLevel)}
	}
}

// parseDurationKey parses a duration config value, attributing parse
// failures to the named key.
func parseDurationKey(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %q", key, value)
	}

	return d, nil
}
