package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stairway/pkg/stairwayerr"
	"github.com/cuemby/stairway/pkg/types"
)

func newTestJournal(t *testing.T) *SQLJournal {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "stairway.db")
	require.NoError(t, Migrate("sqlite", dsn))

	j, err := Open("sqlite", dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestCreate_DuplicateIDFails(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Create(ctx, "f1", "example", types.StatusReady, types.InputParams{"a": 1}, ""))
	err := j.Create(ctx, "f1", "example", types.StatusReady, types.InputParams{"a": 1}, "")
	assert.True(t, errors.Is(err, stairwayerr.ErrDuplicateID))
}

func TestClaimAndDisown_AtomicCompareAndSet(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Create(ctx, "f1", "example", types.StatusReady, nil, ""))

	ok, err := j.Claim(ctx, "f1", "me")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = j.Claim(ctx, "f1", "someone-else")
	require.NoError(t, err)
	assert.False(t, ok, "already-claimed flight must not be claimable again")

	ok, err = j.Disown(ctx, "f1", "me")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = j.Disown(ctx, "f1", "me")
	require.NoError(t, err)
	assert.False(t, ok, "disown must fail once owner/status no longer match")
}

func TestClearOwner_LeavesStatusUntouched(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Create(ctx, "f1", "example", types.StatusReady, nil, ""))
	ok, err := j.Claim(ctx, "f1", "me")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, j.StepLog(ctx, StepLogEntry{
		FlightID: "f1", StepIndex: 0, Direction: types.DirectionDo,
		StatusChanged: true, NewStatus: types.StatusWaiting,
	}))

	ok, err = j.ClearOwner(ctx, "f1", "me")
	require.NoError(t, err)
	assert.True(t, ok)

	row, err := j.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaiting, row.Status, "clearing the owner must not revert the WAITING status")
	assert.Nil(t, row.Owner)

	ok, err = j.ClearOwner(ctx, "f1", "me")
	require.NoError(t, err)
	assert.False(t, ok, "clear owner must fail once the owner precondition no longer holds")
}

func TestReconstruct_FreshFlightResumesAtStepZero(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Create(ctx, "f1", "example", types.StatusReady, nil, ""))

	ec, err := j.Reconstruct(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, ec.StepIndex)
	assert.Equal(t, types.DirectionDo, ec.Direction)
}

func TestReconstruct_ResumesFromLastLogEntry(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Create(ctx, "f1", "example", types.StatusRunning, nil, "me"))

	require.NoError(t, j.StepLog(ctx, StepLogEntry{
		FlightID:   "f1",
		StepIndex:  0,
		Direction:  types.DirectionDo,
		WorkingMap: types.WorkingMap{"k": "v"},
	}))

	ec, err := j.Reconstruct(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, ec.StepIndex)
	assert.Equal(t, types.DirectionDo, ec.Direction)
	assert.Equal(t, "v", ec.WorkingMap["k"])
}

func TestReconstruct_NotFound(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Reconstruct(context.Background(), "missing")
	assert.True(t, errors.Is(err, stairwayerr.ErrNotFound))
}

func TestExit_WritesTerminalStatus(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Create(ctx, "f1", "example", types.StatusRunning, nil, "me"))

	require.NoError(t, j.Exit(ctx, "f1", types.StatusSuccess, ""))

	row, err := j.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, row.Status)
	assert.Nil(t, row.Owner)
	assert.NotNil(t, row.CompletedTime)
}

func TestRetain_DeletesOnlyOldCompletedFlights(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Create(ctx, "old", "example", types.StatusRunning, nil, "me"))
	require.NoError(t, j.Exit(ctx, "old", types.StatusSuccess, ""))

	require.NoError(t, j.Create(ctx, "new", "example", types.StatusRunning, nil, "me"))
	require.NoError(t, j.Exit(ctx, "new", types.StatusSuccess, ""))

	require.NoError(t, j.Create(ctx, "running", "example", types.StatusRunning, nil, "me"))

	n, err := j.Retain(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = j.Get(ctx, "running")
	assert.NoError(t, err)
}

func TestListDead_ReturnsFlightsOwnedByGivenPeers(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Create(ctx, "f1", "example", types.StatusRunning, nil, "dead-peer"))
	require.NoError(t, j.Create(ctx, "f2", "example", types.StatusRunning, nil, "alive-peer"))

	dead, err := j.ListDead(ctx, []string{"dead-peer"})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "f1", dead[0].ID)
}

func TestEnumerate_FiltersByStatus(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Create(ctx, "f1", "example", types.StatusReady, nil, ""))
	require.NoError(t, j.Create(ctx, "f2", "example", types.StatusRunning, nil, "me"))

	page, err := j.Enumerate(ctx, EnumerateFilter{Status: types.StatusReady}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Flights, 1)
	assert.Equal(t, "f1", page.Flights[0].ID)
}

func TestEnumerate_InvalidPageTokenRejected(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Enumerate(context.Background(), EnumerateFilter{}, "not-a-valid-token!!", 10)
	assert.True(t, errors.Is(err, stairwayerr.ErrInvalidPageToken))
}

func TestInstances_RegisterListDeregister(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RegisterInstance(ctx, "peer-a"))
	require.NoError(t, j.RegisterInstance(ctx, "peer-b"))

	ids, err := j.ListInstances(ctx, "peer-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-b"}, ids)

	require.NoError(t, j.DeregisterInstance(ctx, "peer-b"))
	ids, err = j.ListInstances(ctx, "peer-a")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
