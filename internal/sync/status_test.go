package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProject(t *testing.T) {
	counts := QueueCounts{
		Pending:     3,
		InFlight:    1,
		Retryable:   2,
		Failed:      1,
		Conflicts:   1,
		Quarantined: 1,
	}

	v := Project(counts, EngineApplying, CycleProgress{Total: 4, Applied: 1}, true, 42, false)

	assert.True(t, v.Online)
	assert.Equal(t, EngineApplying, v.State)
	assert.True(t, v.IsSyncing)
	assert.Equal(t, 3, v.PendingCount)
	assert.Equal(t, 1, v.InFlightCount)
	assert.Equal(t, 2, v.RetryableCount)
	assert.Equal(t, 1, v.FailedCount)
	assert.Equal(t, 1, v.ConflictCount)
	assert.Equal(t, 1, v.QuarantinedCount)
	assert.Equal(t, 25, v.ProgressPercent)
	assert.Equal(t, int64(42), v.LastSyncedAt)
}

func TestProjectIsSyncing(t *testing.T) {
	tests := []struct {
		state   EngineState
		syncing bool
	}{
		{EngineIdle, false},
		{EngineDraining, true},
		{EngineApplying, true},
		{EngineConflicting, false},
	}

	for _, tc := range tests {
		v := Project(QueueCounts{}, tc.state, CycleProgress{}, true, 0, false)
		assert.Equal(t, tc.syncing, v.IsSyncing, string(tc.state))
	}
}

func TestCycleProgressPercent(t *testing.T) {
	assert.Zero(t, CycleProgress{}.percent(), "empty cycle reports zero, not a division panic")
	assert.Equal(t, 50, CycleProgress{Total: 4, Applied: 2}.percent())
	assert.Equal(t, 33, CycleProgress{Total: 3, Applied: 1}.percent())
	assert.Equal(t, 100, CycleProgress{Total: 5, Applied: 5}.percent())
}

func TestPresentPriority(t *testing.T) {
	tests := []struct {
		name  string
		view  SyncStatusView
		text  string
		color string
	}{
		{
			name:  "conflicts outrank everything",
			view:  SyncStatusView{ConflictCount: 2, FailedCount: 3, Paused: true},
			text:  "2 conflicts need attention",
			color: ColorRed,
		},
		{
			name:  "single conflict",
			view:  SyncStatusView{ConflictCount: 1},
			text:  "1 conflict needs attention",
			color: ColorRed,
		},
		{
			name:  "failures outrank pause",
			view:  SyncStatusView{FailedCount: 1, Paused: true},
			text:  "1 change failed to sync",
			color: ColorRed,
		},
		{
			name:  "paused with queued work",
			view:  SyncStatusView{Paused: true, PendingCount: 3},
			text:  "sync paused (3 queued)",
			color: ColorGray,
		},
		{
			name:  "paused idle",
			view:  SyncStatusView{Paused: true, Online: true},
			text:  "sync paused",
			color: ColorGray,
		},
		{
			name:  "offline with queued work",
			view:  SyncStatusView{PendingCount: 2, RetryableCount: 1},
			text:  "offline (3 queued)",
			color: ColorGray,
		},
		{
			name:  "offline idle",
			view:  SyncStatusView{},
			text:  "offline",
			color: ColorGray,
		},
		{
			name:  "queued while online",
			view:  SyncStatusView{Online: true, PendingCount: 1},
			text:  "1 change waiting to sync",
			color: ColorYellow,
		},
		{
			name:  "all synced",
			view:  SyncStatusView{Online: true},
			text:  "all changes synced",
			color: ColorGreen,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := Present(tc.view)
			assert.Equal(t, tc.text, p.Text)
			assert.Equal(t, tc.color, p.Color)
		})
	}
}

func TestPresentSyncingShowsProgress(t *testing.T) {
	p := Present(SyncStatusView{Online: true, IsSyncing: true, ProgressPercent: 40, PendingCount: 3})
	assert.Equal(t, "syncing 40%", p.Text)
	assert.Equal(t, ColorYellow, p.Color)
	assert.True(t, p.ShowProgress)
}

func TestStatusHubReplaysLastSnapshot(t *testing.T) {
	h := newStatusHub()

	var early []SyncStatusView
	h.subscribe(func(v SyncStatusView) { early = append(early, v) })
	assert.Empty(t, early, "nothing published yet, nothing replayed")

	h.publish(SyncStatusView{PendingCount: 1})

	var late []SyncStatusView
	h.subscribe(func(v SyncStatusView) { late = append(late, v) })

	assert.Len(t, early, 1)
	assert.Len(t, late, 1, "late subscriber sees the current snapshot immediately")
	assert.Equal(t, 1, late[0].PendingCount)
}

func TestStatusHubDedupsUnchangedSnapshots(t *testing.T) {
	h := newStatusHub()

	var seen []SyncStatusView
	h.subscribe(func(v SyncStatusView) { seen = append(seen, v) })

	h.publish(SyncStatusView{PendingCount: 1})
	h.publish(SyncStatusView{PendingCount: 1})
	h.publish(SyncStatusView{PendingCount: 2})

	assert.Len(t, seen, 2)
}

func TestStatusHubUnsubscribe(t *testing.T) {
	h := newStatusHub()

	var seen int
	cancel := h.subscribe(func(SyncStatusView) { seen++ })

	h.publish(SyncStatusView{PendingCount: 1})
	cancel()
	h.publish(SyncStatusView{PendingCount: 2})

	assert.Equal(t, 1, seen)
}
