package sync

import (
	"fmt"
	stdsync "sync"
)

// SyncStatusView is the point-in-time sync status snapshot consumed by the
// CLI, the status feed, and the host app UI. Derived, never persisted.
type SyncStatusView struct {
	Online           bool        `json:"online"`
	State            EngineState `json:"state"`
	Paused           bool        `json:"paused"`
	IsSyncing        bool        `json:"isSyncing"`
	PendingCount     int         `json:"pendingCount"`
	InFlightCount    int         `json:"inFlightCount"`
	RetryableCount   int         `json:"retryableCount"`
	FailedCount      int         `json:"failedCount"`
	ConflictCount    int         `json:"conflictCount"`
	QuarantinedCount int         `json:"quarantinedCount"`
	ProgressPercent  int         `json:"progressPercent"`
	LastSyncedAt     int64       `json:"lastSyncedAt"` // Unix nanoseconds, 0 = never
}

// CycleProgress tracks how far the current cycle has come. Total grows as
// batches are pulled; Applied counts successfully applied actions only, so
// a cycle with failures never reports 100%.
type CycleProgress struct {
	Total   int
	Applied int
}

// percent returns Applied over Total as a whole percentage, 0 for an
// empty cycle.
func (p CycleProgress) percent() int {
	if p.Total == 0 {
		return 0
	}

	return p.Applied * 100 / p.Total
}

// Project derives the status view from queue counts and engine state.
// Pure: no clock, no store access, no side effects.
func Project(counts QueueCounts, state EngineState, cycle CycleProgress, online bool, lastSyncedAt int64, paused bool) SyncStatusView {
	return SyncStatusView{
		Online:           online,
		State:            state,
		Paused:           paused,
		IsSyncing:        state == EngineDraining || state == EngineApplying,
		PendingCount:     counts.Pending,
		InFlightCount:    counts.InFlight,
		RetryableCount:   counts.Retryable,
		FailedCount:      counts.Failed,
		ConflictCount:    counts.Conflicts,
		QuarantinedCount: counts.Quarantined,
		ProgressPercent:  cycle.percent(),
		LastSyncedAt:     lastSyncedAt,
	}
}

// Presentation is the display form of a status view: one line of text, a
// semantic color the renderer maps to its palette, and whether a progress
// indicator makes sense right now.
type Presentation struct {
	Text         string
	Color        string
	ShowProgress bool
}

// Semantic status colors.
const (
	ColorRed    = "red"
	ColorYellow = "yellow"
	ColorGreen  = "green"
	ColorGray   = "gray"
)

// Present picks the single most urgent thing to tell the user about sync.
// Conflicts outrank failures outrank connectivity outrank progress.
func Present(v SyncStatusView) Presentation {
	queued := v.PendingCount + v.InFlightCount + v.RetryableCount

	switch {
	case v.ConflictCount > 0:
		return Presentation{
			Text:  fmt.Sprintf("%s attention", plural(v.ConflictCount, "conflict needs", "conflicts need")),
			Color: ColorRed,
		}

	case v.FailedCount > 0:
		return Presentation{
			Text:  fmt.Sprintf("%s failed to sync", plural(v.FailedCount, "change", "changes")),
			Color: ColorRed,
		}

	case v.Paused:
		if queued > 0 {
			return Presentation{
				Text:  fmt.Sprintf("sync paused (%d queued)", queued),
				Color: ColorGray,
			}
		}

		return Presentation{Text: "sync paused", Color: ColorGray}

	case !v.Online:
		if queued > 0 {
			return Presentation{
				Text:  fmt.Sprintf("offline (%d queued)", queued),
				Color: ColorGray,
			}
		}

		return Presentation{Text: "offline", Color: ColorGray}

	case v.IsSyncing:
		return Presentation{
			Text:         fmt.Sprintf("syncing %d%%", v.ProgressPercent),
			Color:        ColorYellow,
			ShowProgress: true,
		}

	case queued > 0:
		return Presentation{
			Text:  fmt.Sprintf("%s waiting to sync", plural(queued, "change", "changes")),
			Color: ColorYellow,
		}

	default:
		return Presentation{Text: "all changes synced", Color: ColorGreen}
	}
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", singular)
	}

	return fmt.Sprintf("%d %s", n, plural)
}

// statusHub fans status snapshots out to subscribers. Callbacks run on the
// publisher's goroutine outside the hub lock, so a slow subscriber delays
// publishing but cannot deadlock it.
type statusHub struct {
	mu     stdsync.Mutex
	subs   map[int]func(SyncStatusView)
	nextID int
	last   SyncStatusView
	seeded bool
}

func newStatusHub() *statusHub {
	return &statusHub{subs: make(map[int]func(SyncStatusView))}
}

// subscribe registers a callback and returns its unsubscribe func. If a
// snapshot has already been published the callback sees it immediately.
func (h *statusHub) subscribe(fn func(SyncStatusView)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	last, seeded := h.last, h.seeded
	h.mu.Unlock()

	if seeded {
		fn(last)
	}

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// publish records the snapshot and notifies every subscriber. Unchanged
// snapshots are swallowed so flapping internals do not spam the feed.
func (h *statusHub) publish(v SyncStatusView) {
	h.mu.Lock()
	if h.seeded && v == h.last {
		h.mu.Unlock()
		return
	}

	h.last = v
	h.seeded = true

	fns := make([]func(SyncStatusView), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
