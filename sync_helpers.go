package main

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/tandemapp/tandem-go/internal/netmon"
	"github.com/tandemapp/tandem-go/internal/remote"
	"github.com/tandemapp/tandem-go/internal/sync"
	"github.com/tandemapp/tandem-go/internal/tokenfile"
)

// httpClientTimeout is the transport-level ceiling per request. Kept above
// the client's own per-request timeout so the client's deadline fires
// first and classifies the error.
const httpClientTimeout = 60 * time.Second

// runtime bundles the wired subsystems a sync-capable command uses.
type runtime struct {
	Store   *sync.Store
	Client  *remote.Client
	Monitor *netmon.Monitor
	Engine  *sync.Engine
}

// runtimeOptions select how much of the stack a command needs.
type runtimeOptions struct {
	// daemon opens the store with crash recovery and the integrity scan.
	// Only the daemon may do this: recovery requeues in-flight rows,
	// which is wrong while another process is draining them.
	daemon bool
	// needToken fails fast when not logged in. Commands whose work stays
	// local (rejecting a conflict) run with a placeholder credential.
	needToken bool
}

// newRuntime wires the store, document client, network monitor, and
// engine from the resolved config. The caller closes the returned
// runtime.
func newRuntime(cc *CLIContext, opts runtimeOptions) (*runtime, error) {
	cfg := cc.Cfg

	tok, err := loadToken(cc, opts.needToken)
	if err != nil {
		return nil, err
	}

	var store *sync.Store
	if opts.daemon {
		store, err = sync.NewStore(cfg.DatabasePath(), cfg.QueueMarkerPath(), cc.Logger)
	} else {
		store, err = sync.Open(cfg.DatabasePath(), cfg.QueueMarkerPath(), cc.Logger)
	}

	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: httpClientTimeout}

	client := remote.NewClient(cfg.Remote.BaseURL, httpClient, oauth2.StaticTokenSource(tok), cc.Logger)
	client.SetTimeout(cfg.Remote.Timeout)

	monitor := netmon.New(client.Healthz, netmon.Config{
		ProbeInterval:    cfg.Netmon.ProbeInterval,
		SettleWindow:     cfg.Netmon.SettleWindow,
		FailureThreshold: cfg.Netmon.FailureThreshold,
		Logger:           cc.Logger,
	})

	engine := sync.NewEngine(store, client, monitor, sync.Config{
		SyncInterval:     cfg.Engine.SyncInterval,
		MaxAttempts:      cfg.Engine.MaxAttempts,
		BackoffBase:      cfg.Engine.BackoffBase,
		BackoffCap:       cfg.Engine.BackoffCap,
		ParallelEntities: cfg.Engine.ParallelEntities,
		BatchSize:        cfg.Engine.BatchSize,
		Logger:           cc.Logger,
	})

	return &runtime{Store: store, Client: client, Monitor: monitor, Engine: engine}, nil
}

// Close releases the store. The engine and monitor stop with their
// contexts and hold no resources of their own.
func (rt *runtime) Close() error {
	return rt.Store.Close()
}

// loadToken reads the saved credential. Without required, a missing
// token degrades to an empty placeholder for commands that never reach
// the network.
func loadToken(cc *CLIContext, required bool) (*oauth2.Token, error) {
	tok, _, err := tokenfile.Load(cc.Cfg.TokenPath())
	if err != nil {
		return nil, err
	}

	if tok == nil {
		if required {
			return nil, fmt.Errorf("not logged in (run 'tandem-go login' first)")
		}

		tok = &oauth2.Token{}
	}

	return tok, nil
}

// openQueue opens the action log for direct store access, without the
// engine. Used by commands that only enqueue or rewrite queue rows.
func openQueue(cc *CLIContext) (*sync.Store, error) {
	return sync.Open(cc.Cfg.DatabasePath(), cc.Cfg.QueueMarkerPath(), cc.Logger)
}
