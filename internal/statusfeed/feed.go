// Package statusfeed streams sync status snapshots and conflict
// announcements to local clients over a websocket. The daemon hosts one
// feed on a loopback address; `tandem watch` and the mobile shell
// subscribe to drive their status pills without polling.
package statusfeed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tandemapp/tandem-go/internal/remote"
	"github.com/tandemapp/tandem-go/internal/sync"
)

// DefaultListen is the loopback address the daemon serves the feed on.
const DefaultListen = "127.0.0.1:7113"

const (
	// subscriberBuffer bounds how many frames a slow client can fall
	// behind before old ones are dropped.
	subscriberBuffer = 16

	writeTimeout      = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	conflictTimeout   = 2 * time.Second
)

// EventType labels a feed frame.
type EventType string

// Frame types on the wire.
const (
	EventStatus   EventType = "status"
	EventConflict EventType = "conflict"
)

// Event is one frame on the feed. Exactly one of Status or Conflict is
// set, selected by Type.
type Event struct {
	Type     EventType            `json:"type"`
	Status   *sync.SyncStatusView `json:"status,omitempty"`
	Conflict *ConflictEvent       `json:"conflict,omitempty"`
}

// ConflictEvent announces a conflict that was parked for user
// resolution. It carries enough detail for a client to render a
// resolution prompt without a follow-up query.
type ConflictEvent struct {
	ID            string        `json:"id"`
	ActionID      string        `json:"actionId"`
	Entity        string        `json:"entity"`
	Type          string        `json:"type"`
	LocalFields   remote.Fields `json:"localFields,omitempty"`
	RemoteFields  remote.Fields `json:"remoteFields,omitempty"`
	RemoteVersion int64         `json:"remoteVersion"`
	BaseVersion   int64         `json:"baseVersion"`
	DetectedAt    int64         `json:"detectedAt"`
}

// Source supplies the snapshot sent to new subscribers and the detail
// behind conflict announcements. *sync.Engine satisfies it.
type Source interface {
	Status(ctx context.Context) (sync.SyncStatusView, error)
	Conflicts(ctx context.Context) ([]*sync.ConflictRecord, error)
}

// Feed fans engine status out to websocket subscribers. Wire OnStatus
// to Engine.Subscribe so every published snapshot reaches the feed.
type Feed struct {
	source Source
	logger *slog.Logger

	mu        stdsync.Mutex
	subs      map[int]chan Event
	nextID    int
	announced map[string]bool // conflict IDs already broadcast
}

// New creates a feed backed by source.
func New(source Source, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Feed{
		source:    source,
		logger:    logger,
		subs:      make(map[int]chan Event),
		announced: make(map[string]bool),
	}
}

// OnStatus broadcasts a status snapshot to all subscribers. When the
// snapshot reports unresolved conflicts, any not yet announced are
// broadcast as conflict frames; once the count returns to zero the
// announcement set resets so a re-parked conflict announces again.
func (f *Feed) OnStatus(v sync.SyncStatusView) {
	f.broadcast(Event{Type: EventStatus, Status: &v})

	if v.ConflictCount == 0 {
		f.mu.Lock()
		if len(f.announced) > 0 {
			f.announced = make(map[string]bool)
		}
		f.mu.Unlock()

		return
	}

	f.announceConflicts()
}

func (f *Feed) announceConflicts() {
	ctx, cancel := context.WithTimeout(context.Background(), conflictTimeout)
	defer cancel()

	records, err := f.source.Conflicts(ctx)
	if err != nil {
		f.logger.Debug("status feed could not load conflicts", "error", err)
		return
	}

	f.mu.Lock()
	fresh := make([]*sync.ConflictRecord, 0, len(records))

	for _, rec := range records {
		if f.announced[rec.ID] {
			continue
		}

		f.announced[rec.ID] = true
		fresh = append(fresh, rec)
	}
	f.mu.Unlock()

	for _, rec := range fresh {
		ev := conflictEvent(rec)
		f.broadcast(Event{Type: EventConflict, Conflict: &ev})
	}
}

func conflictEvent(rec *sync.ConflictRecord) ConflictEvent {
	return ConflictEvent{
		ID:            rec.ID,
		ActionID:      rec.ActionID,
		Entity:        rec.Entity.String(),
		Type:          string(rec.Type),
		LocalFields:   rec.LocalFields,
		RemoteFields:  rec.RemoteFields,
		RemoteVersion: rec.RemoteVersion,
		BaseVersion:   rec.BaseVersion,
		DetectedAt:    rec.DetectedAt,
	}
}

func (f *Feed) broadcast(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.subs {
		select {
		case ch <- ev:
			continue
		default:
		}

		// Slow consumer. Drop its oldest frame so the newest status is
		// never stuck behind stale ones.
		select {
		case <-ch:
		default:
		}

		select {
		case ch <- ev:
		default:
			f.logger.Debug("status feed dropped frame", "subscriber", id)
		}
	}
}

func (f *Feed) subscribe() (int, chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++

	ch := make(chan Event, subscriberBuffer)
	f.subs[id] = ch

	return id, ch
}

func (f *Feed) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.subs, id)
}

// ServeHTTP upgrades the request to a websocket and streams events
// until the client disconnects. The first frame is always a status
// snapshot so clients render immediately.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.logger.Debug("status feed rejected connection", "error", err)
		return
	}
	defer c.CloseNow()

	// The feed is write-only. CloseRead surfaces client disconnects
	// through the returned context.
	ctx := c.CloseRead(r.Context())

	id, events := f.subscribe()
	defer f.unsubscribe(id)

	f.logger.Debug("status feed subscriber connected", "subscriber", id)

	snapshot, err := f.source.Status(ctx)
	if err != nil {
		f.logger.Warn("status feed snapshot failed", "error", err)
		return
	}

	if err := f.write(ctx, c, Event{Type: EventStatus, Status: &snapshot}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = c.Close(websocket.StatusNormalClosure, "shutting down")
			return
		case ev := <-events:
			if err := f.write(ctx, c, ev); err != nil {
				f.logger.Debug("status feed subscriber dropped", "subscriber", id, "error", err)
				return
			}
		}
	}
}

func (f *Feed) write(ctx context.Context, c *websocket.Conn, ev Event) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wsjson.Write(wctx, c, ev)
}

// Run serves the feed on addr until ctx is cancelled. Cancellation is
// the normal shutdown path and returns nil.
func (f *Feed) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("statusfeed: listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           f,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	f.logger.Info("status feed listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(sctx)
		// Websocket connections are hijacked, so Shutdown never sees
		// them drain. Close tears them down.
		_ = srv.Close()

		return nil
	case err := <-errc:
		return fmt.Errorf("statusfeed: serve: %w", err)
	}
}
