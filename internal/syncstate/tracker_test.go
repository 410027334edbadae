package syncstate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_InitialState(t *testing.T) {
	s := NewTracker().Snapshot()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Nil(t, s.LastSynced)
	assert.Zero(t, s.PendingOperations)
	assert.Nil(t, s.Error)
}

func TestTracker_Transitions(t *testing.T) {
	tr := NewTracker()

	tr.RecordSyncError("boom")
	assert.Equal(t, StatusError, tr.Snapshot().Status)

	tr.RecordSyncStart()
	s := tr.Snapshot()
	assert.Equal(t, StatusSyncing, s.Status)
	assert.Nil(t, s.Error, "start clears error")

	ts := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	tr.RecordSyncSuccess(ts)
	s = tr.Snapshot()
	assert.Equal(t, StatusIdle, s.Status)
	require.NotNil(t, s.LastSynced)
	assert.True(t, ts.Equal(*s.LastSynced))

	tr.RecordSyncStart()
	tr.RecordSyncError("conflict")
	s = tr.Snapshot()
	assert.Equal(t, StatusError, s.Status)
	require.NotNil(t, s.Error)
	assert.Equal(t, "conflict", *s.Error)
	require.NotNil(t, s.LastSynced, "error keeps lastSynced")
	assert.True(t, ts.Equal(*s.LastSynced))
}

func TestTracker_SuccessDefaultsToNow(t *testing.T) {
	tr := NewTracker()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.RecordSyncStart()
	tr.RecordSyncSuccess(time.Time{})
	s := tr.Snapshot()
	require.NotNil(t, s.LastSynced)
	assert.True(t, fixed.Equal(*s.LastSynced))
}

func TestTracker_PendingFloor(t *testing.T) {
	tr := NewTracker()
	tr.DecrementPending()
	assert.Zero(t, tr.Snapshot().PendingOperations)

	tr.IncrementPending()
	tr.IncrementPending()
	tr.DecrementPending()
	assert.Equal(t, 1, tr.Snapshot().PendingOperations)

	tr.DecrementPending()
	tr.DecrementPending()
	assert.Zero(t, tr.Snapshot().PendingOperations)
}

func TestTracker_SnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	tr.RecordSyncSuccess(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := tr.Snapshot()
	*s.LastSynced = time.Time{}

	assert.False(t, tr.Snapshot().LastSynced.IsZero())
}

func TestTracker_Subscribe(t *testing.T) {
	tr := NewTracker()
	ch, unsubscribe := tr.Subscribe()

	tr.RecordSyncStart()
	tr.IncrementPending()

	select {
	case s := <-ch:
		assert.Equal(t, StatusSyncing, s.Status)
		assert.Equal(t, 1, s.PendingOperations, "subscriber sees the latest state")
	case <-time.After(time.Second):
		t.Fatal("no state delivered")
	}

	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// Updates after unsubscribe must not block or panic.
	tr.RecordSyncError("late")
	unsubscribe()
}

func TestTracker_ErrorSerializesAsNull(t *testing.T) {
	tr := NewTracker()
	raw, err := json.Marshal(tr.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"error":null`)

	tr.RecordSyncError("conflict")
	raw, err = json.Marshal(tr.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"error":"conflict"`)

	tr.RecordSyncSuccess(time.Now())
	raw, err = json.Marshal(tr.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"error":null`)
}
