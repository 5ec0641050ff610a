// Package netmon tracks network reachability for the sync engine. A
// Monitor probes the document API's health endpoint on a fixed cadence,
// debounces transitions with a settle window so flapping links do not
// thrash subscribers, and accepts reachability feedback from the engine's
// own write attempts.
package netmon

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// State is the monitor's current view of connectivity.
type State int

const (
	// StateOffline means probes are failing; the engine holds its queue.
	StateOffline State = iota
	// StateOnline means the document API answered a recent probe.
	StateOnline
)

func (s State) String() string {
	if s == StateOnline {
		return "online"
	}

	return "offline"
}

// observeResult describes what an observation did to the monitor state.
type observeResult int

const (
	observeNoop      observeResult = iota // observation matches current state
	observePending                        // flip started, waiting for settle window
	observeCommitted                      // state flipped, subscribers notified
)

// ProbeFunc checks reachability, returning nil when the API is healthy.
// The remote client's Healthz method satisfies this.
type ProbeFunc func(ctx context.Context) error

// Config carries Monitor tuning. Zero values fall back to defaults.
type Config struct {
	ProbeInterval    time.Duration // cadence of background probes (default 15s)
	SettleWindow     time.Duration // observed flips must persist this long (default 2s)
	FailureThreshold int           // consecutive write failures that imply offline (default 3)
	Logger           *slog.Logger
}

// Defaults for Config zero values.
const (
	defaultProbeInterval    = 15 * time.Second
	defaultSettleWindow     = 2 * time.Second
	defaultFailureThreshold = 3
)

// Monitor tracks connectivity state. All methods are safe for concurrent
// use. Subscribers are notified at most once per committed transition.
type Monitor struct {
	probe            ProbeFunc
	logger           *slog.Logger
	interval         time.Duration
	settle           time.Duration
	failureThreshold int

	nowFunc func() time.Time // injectable for deterministic tests

	mu            sync.Mutex
	state         State
	bootstrapped  bool  // first observation commits without settling
	pending       State // observed-but-unsettled state
	pendingActive bool
	pendingSince  time.Time
	writeFailures int // consecutive engine write failures
	subs          map[int]func(State)
	nextSubID     int

	kick chan struct{}
}

// New creates a Monitor. Call Run to start probing.
func New(probe ProbeFunc, cfg Config) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}

	if cfg.SettleWindow <= 0 {
		cfg.SettleWindow = defaultSettleWindow
	}

	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Monitor{
		probe:            probe,
		logger:           cfg.Logger,
		interval:         cfg.ProbeInterval,
		settle:           cfg.SettleWindow,
		failureThreshold: cfg.FailureThreshold,
		nowFunc:          time.Now,
		subs:             make(map[int]func(State)),
		kick:             make(chan struct{}, 1),
	}
}

// State returns the current connectivity state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Online reports whether the monitor currently considers the API reachable.
func (m *Monitor) Online() bool {
	return m.State() == StateOnline
}

// Subscribe registers fn to be called on every committed state transition.
// The returned function unsubscribes. Callbacks run outside the monitor's
// lock but on the observing goroutine, so they must be fast; slow
// consumers should hand off to their own channel.
func (m *Monitor) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Kick requests an immediate probe from the Run loop. Non-blocking; a
// probe request already in flight absorbs the kick.
func (m *Monitor) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// ReportFailure records a transport-level write failure from the engine.
// Reaching the failure threshold counts as an offline observation and
// schedules a prompt health probe to confirm.
func (m *Monitor) ReportFailure() {
	m.mu.Lock()
	m.writeFailures++
	crossed := m.writeFailures >= m.failureThreshold
	m.mu.Unlock()

	if !crossed {
		return
	}

	if m.observe(StateOffline) == observePending {
		m.scheduleSettleRecheck()
	}

	m.Kick()
}

// ReportSuccess records a successful engine write, which is direct proof
// of reachability.
func (m *Monitor) ReportSuccess() {
	m.mu.Lock()
	m.writeFailures = 0
	m.mu.Unlock()

	if m.observe(StateOnline) == observePending {
		m.scheduleSettleRecheck()
	}
}

// Run probes until ctx is canceled. The first probe happens immediately
// so the daemon starts with a real reading instead of the zero value.
func (m *Monitor) Run(ctx context.Context) error {
	m.probeOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.probeOnce(ctx)
		case <-m.kick:
			m.probeOnce(ctx)
		}
	}
}

// probeOnce runs a single probe and feeds the result into the debouncer.
// A flip left pending by the settle window schedules a recheck so the
// transition commits even if no other observation arrives.
func (m *Monitor) probeOnce(ctx context.Context) {
	observed := StateOnline
	if err := m.probe(ctx); err != nil {
		observed = StateOffline

		m.logger.Debug("reachability probe failed", slog.String("error", err.Error()))
	}

	if m.observe(observed) == observePending {
		m.scheduleSettleRecheck()
	}
}

// scheduleSettleRecheck arranges a probe shortly after the settle window
// elapses so a pending transition gets a confirming observation.
func (m *Monitor) scheduleSettleRecheck() {
	time.AfterFunc(m.settle+10*time.Millisecond, m.Kick)
}

// observe feeds one reachability reading into the debouncer. A reading
// matching the current state clears any pending flip. A differing reading
// starts the settle window; once the same reading has persisted past the
// window, the transition commits and subscribers are notified.
func (m *Monitor) observe(observed State) observeResult {
	m.mu.Lock()

	if observed == m.state {
		m.pendingActive = false
		m.bootstrapped = true
		m.mu.Unlock()

		return observeNoop
	}

	now := m.nowFunc()

	// First reading after startup commits immediately: there is no prior
	// reading to flap against.
	if !m.bootstrapped {
		m.commitLocked(observed, now)
		return observeCommitted
	}

	if !m.pendingActive || m.pending != observed {
		m.pending = observed
		m.pendingActive = true
		m.pendingSince = now
		m.mu.Unlock()

		return observePending
	}

	if now.Sub(m.pendingSince) < m.settle {
		m.mu.Unlock()
		return observePending
	}

	m.commitLocked(observed, now)

	return observeCommitted
}

// commitLocked flips the state and notifies subscribers. Takes the lock
// held and releases it before invoking callbacks.
func (m *Monitor) commitLocked(next State, now time.Time) {
	prev := m.state
	m.state = next
	m.bootstrapped = true
	m.pendingActive = false

	if next == StateOnline {
		m.writeFailures = 0
	}

	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed",
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
		slog.Time("at", now),
	)

	for _, fn := range fns {
		fn(next)
	}
}
