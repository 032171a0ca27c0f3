package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stairway/pkg/journal"
	"github.com/cuemby/stairway/pkg/stairwayerr"
	"github.com/cuemby/stairway/pkg/types"
)

type fakeJournal struct {
	rows      map[string]*types.FlightRow
	instances map[string]bool
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{rows: map[string]*types.FlightRow{}, instances: map[string]bool{}}
}

func (f *fakeJournal) Create(ctx context.Context, flightID, className string, status types.Status, inputs types.InputParams, owner string) error {
	row := &types.FlightRow{ID: flightID, ClassName: className, Status: status}
	if owner != "" {
		row.Owner = &owner
	}
	f.rows[flightID] = row
	return nil
}
func (f *fakeJournal) StepLog(ctx context.Context, entry journal.StepLogEntry) error { return nil }
func (f *fakeJournal) Exit(ctx context.Context, flightID string, status types.Status, serializedException string) error {
	row, ok := f.rows[flightID]
	if !ok {
		return stairwayerr.ErrNotFound
	}
	row.Status = status
	row.Owner = nil
	return nil
}
func (f *fakeJournal) Disown(ctx context.Context, flightID, owner string) (bool, error) {
	row := f.rows[flightID]
	if row == nil || row.Status != types.StatusRunning || row.Owner == nil || *row.Owner != owner {
		return false, nil
	}
	row.Status = types.StatusReady
	row.Owner = nil
	return true, nil
}
func (f *fakeJournal) ClearOwner(ctx context.Context, flightID, owner string) (bool, error) {
	row := f.rows[flightID]
	if row == nil || row.Owner == nil || *row.Owner != owner {
		return false, nil
	}
	row.Owner = nil
	return true, nil
}
func (f *fakeJournal) Claim(ctx context.Context, flightID, newOwner string) (bool, error) {
	return false, nil
}

func (f *fakeJournal) ForceStatus(ctx context.Context, flightID string, status types.Status) error {
	return nil
}
func (f *fakeJournal) Reconstruct(ctx context.Context, flightID string) (*types.ExecutionContext, error) {
	return nil, nil
}
func (f *fakeJournal) ListDead(ctx context.Context, peerIDs []string) ([]types.FlightRow, error) {
	dead := map[string]bool{}
	for _, id := range peerIDs {
		dead[id] = true
	}
	var out []types.FlightRow
	for _, row := range f.rows {
		if row.Owner != nil && dead[*row.Owner] {
			out = append(out, *row)
		}
	}
	return out, nil
}
func (f *fakeJournal) Enumerate(ctx context.Context, filter journal.EnumerateFilter, pageToken string, limit int) (*journal.Page, error) {
	var out []types.FlightRow
	for _, row := range f.rows {
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		out = append(out, *row)
	}
	return &journal.Page{Flights: out}, nil
}
func (f *fakeJournal) Retain(ctx context.Context, horizon time.Time) (int64, error) {
	var n int64
	for id, row := range f.rows {
		if row.Status.IsTerminal() {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}
func (f *fakeJournal) CountByStatus(ctx context.Context) (map[string]int64, error) { return nil, nil }
func (f *fakeJournal) Get(ctx context.Context, flightID string) (*types.FlightRow, error) {
	row, ok := f.rows[flightID]
	if !ok {
		return nil, stairwayerr.ErrNotFound
	}
	return row, nil
}
func (f *fakeJournal) RegisterInstance(ctx context.Context, stairwayID string) error {
	f.instances[stairwayID] = true
	return nil
}
func (f *fakeJournal) DeregisterInstance(ctx context.Context, stairwayID string) error {
	delete(f.instances, stairwayID)
	return nil
}
func (f *fakeJournal) ListInstances(ctx context.Context, me string) ([]string, error) {
	var out []string
	for id := range f.instances {
		if id != me {
			out = append(out, id)
		}
	}
	return out, nil
}
func (f *fakeJournal) Close() error { return nil }

var _ journal.Journal = (*fakeJournal)(nil)

type fakeQueue struct {
	enqueued []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, payload string) error {
	q.enqueued = append(q.enqueued, payload)
	return nil
}
func (q *fakeQueue) Dispatch(ctx context.Context, max int, f func(payload string) bool) error {
	return nil
}
func (q *fakeQueue) Close() error { return nil }

func TestRecoverAndStart_ResetsFlightsOwnedByDeadPeers(t *testing.T) {
	j := newFakeJournal()
	owner := "peer-1"
	j.rows["f1"] = &types.FlightRow{ID: "f1", Status: types.StatusRunning, Owner: &owner}
	j.instances["peer-1"] = true

	q := &fakeQueue{}
	c := New(j, q, "me")

	enqueued, err := c.RecoverAndStart(context.Background(), []string{"peer-1"})
	require.NoError(t, err)

	assert.Equal(t, types.StatusReady, j.rows["f1"].Status)
	assert.Nil(t, j.rows["f1"].Owner)
	assert.False(t, j.instances["peer-1"], "dead peer's instance row must be removed")
	assert.Contains(t, enqueued, "f1")
	assert.Len(t, q.enqueued, 1)
}

func TestRecoverAndStart_EnqueuesOrphanedReadyFlights(t *testing.T) {
	j := newFakeJournal()
	j.rows["f2"] = &types.FlightRow{ID: "f2", Status: types.StatusReady}

	q := &fakeQueue{}
	c := New(j, q, "me")

	enqueued, err := c.RecoverAndStart(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, enqueued, "f2")
}

func TestRecoverAndStart_SkipsReadyFlightsWithAnOwner(t *testing.T) {
	j := newFakeJournal()
	owner := "someone"
	j.rows["f3"] = &types.FlightRow{ID: "f3", Status: types.StatusReady, Owner: &owner}

	q := &fakeQueue{}
	c := New(j, q, "me")

	enqueued, err := c.RecoverAndStart(context.Background(), nil)
	require.NoError(t, err)
	assert.NotContains(t, enqueued, "f3")
}

func TestRecoverAndStart_RegistersSelfInstance(t *testing.T) {
	j := newFakeJournal()
	q := &fakeQueue{}
	c := New(j, q, "me")

	_, err := c.RecoverAndStart(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, j.instances["me"])
}

func TestInitialize_ForceCleanFatalsNonTerminalFlights(t *testing.T) {
	j := newFakeJournal()
	j.rows["f1"] = &types.FlightRow{ID: "f1", Status: types.StatusRunning}
	j.instances["peer-1"] = true

	peers, err := Initialize(context.Background(), j, "sqlite", "", true, false, "me")
	require.NoError(t, err)
	assert.Contains(t, peers, "peer-1")

	_, stillPresent := j.rows["f1"]
	assert.False(t, stillPresent, "a force-cleaned flight must end up terminal and then retained away")
}

func TestInitialize_WithoutForceCleanLeavesFlightsUntouched(t *testing.T) {
	j := newFakeJournal()
	j.rows["f1"] = &types.FlightRow{ID: "f1", Status: types.StatusRunning}

	_, err := Initialize(context.Background(), j, "sqlite", "", false, false, "me")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, j.rows["f1"].Status)
}
