package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stairway/pkg/journal"
	"github.com/cuemby/stairway/pkg/stairwayerr"
	"github.com/cuemby/stairway/pkg/types"
)

type fakeJournal struct {
	rows    map[string]*types.FlightRow
	claimed map[string]string
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{rows: map[string]*types.FlightRow{}, claimed: map[string]string{}}
}

func (f *fakeJournal) Create(ctx context.Context, flightID, className string, status types.Status, inputs types.InputParams, owner string) error {
	if _, exists := f.rows[flightID]; exists {
		return stairwayerr.ErrDuplicateID
	}
	f.rows[flightID] = &types.FlightRow{ID: flightID, ClassName: className, Status: status}
	return nil
}
func (f *fakeJournal) StepLog(ctx context.Context, entry journal.StepLogEntry) error { return nil }
func (f *fakeJournal) Exit(ctx context.Context, flightID string, status types.Status, serializedException string) error {
	f.rows[flightID].Status = status
	return nil
}
func (f *fakeJournal) Disown(ctx context.Context, flightID, owner string) (bool, error) {
	row := f.rows[flightID]
	if row.Status != types.StatusRunning || f.claimed[flightID] != owner {
		return false, nil
	}
	row.Status = types.StatusReady
	delete(f.claimed, flightID)
	return true, nil
}
func (f *fakeJournal) ClearOwner(ctx context.Context, flightID, owner string) (bool, error) {
	row := f.rows[flightID]
	if row == nil || f.claimed[flightID] != owner {
		return false, nil
	}
	delete(f.claimed, flightID)
	return true, nil
}
func (f *fakeJournal) Claim(ctx context.Context, flightID, newOwner string) (bool, error) {
	row := f.rows[flightID]
	if row.Status != types.StatusReady {
		return false, nil
	}
	row.Status = types.StatusRunning
	f.claimed[flightID] = newOwner
	return true, nil
}

func (f *fakeJournal) ForceStatus(ctx context.Context, flightID string, status types.Status) error {
	return nil
}
func (f *fakeJournal) Reconstruct(ctx context.Context, flightID string) (*types.ExecutionContext, error) {
	return nil, nil
}
func (f *fakeJournal) ListDead(ctx context.Context, peerIDs []string) ([]types.FlightRow, error) {
	var out []types.FlightRow
	for _, id := range peerIDs {
		for flightID, owner := range f.claimed {
			if owner == id {
				out = append(out, *f.rows[flightID])
			}
		}
	}
	return out, nil
}
func (f *fakeJournal) Enumerate(ctx context.Context, filter journal.EnumerateFilter, pageToken string, limit int) (*journal.Page, error) {
	return nil, nil
}
func (f *fakeJournal) Retain(ctx context.Context, horizon time.Time) (int64, error) { return 0, nil }
func (f *fakeJournal) CountByStatus(ctx context.Context) (map[string]int64, error)  { return nil, nil }
func (f *fakeJournal) Get(ctx context.Context, flightID string) (*types.FlightRow, error) {
	row, ok := f.rows[flightID]
	if !ok {
		return nil, stairwayerr.ErrNotFound
	}
	return row, nil
}
func (f *fakeJournal) RegisterInstance(ctx context.Context, stairwayID string) error   { return nil }
func (f *fakeJournal) DeregisterInstance(ctx context.Context, stairwayID string) error { return nil }
func (f *fakeJournal) ListInstances(ctx context.Context, me string) ([]string, error) {
	return nil, nil
}
func (f *fakeJournal) Close() error { return nil }

var _ journal.Journal = (*fakeJournal)(nil)

type fakePool struct {
	backlog   int
	submitted []string
	accept    bool
}

func (p *fakePool) TrySubmit(flightID string) bool {
	if !p.accept {
		return false
	}
	p.submitted = append(p.submitted, flightID)
	return true
}
func (p *fakePool) Backlog() int { return p.backlog }

type fakeClasses struct{ known map[string]bool }

func (c fakeClasses) Known(className string) bool { return c.known[className] }

func TestSubmit_UnknownClassRejected(t *testing.T) {
	a := New(newFakeJournal(), nil, &fakePool{accept: true}, fakeClasses{}, "me", 1)
	err := a.Submit(context.Background(), "f1", "nope", nil)
	assert.True(t, errors.Is(err, stairwayerr.ErrUnknownClass))
}

func TestSubmit_ClaimsAndSchedulesLocallyWhenRoomAvailable(t *testing.T) {
	j := newFakeJournal()
	pool := &fakePool{accept: true}
	a := New(j, nil, pool, fakeClasses{known: map[string]bool{"c": true}}, "me", 1)

	require.NoError(t, a.Submit(context.Background(), "f1", "c", nil))
	assert.Equal(t, []string{"f1"}, pool.submitted)
	assert.Equal(t, types.StatusRunning, j.rows["f1"].Status)
}

func TestSubmit_DefersToQueueWhenPoolFull(t *testing.T) {
	j := newFakeJournal()
	pool := &fakePool{accept: false}

	var enqueued []string
	a := New(j, stubQueue{enqueue: func(payload string) { enqueued = append(enqueued, payload) }}, pool, fakeClasses{known: map[string]bool{"c": true}}, "me", 1)

	require.NoError(t, a.Submit(context.Background(), "f1", "c", nil))
	assert.Len(t, enqueued, 1)
	assert.Equal(t, types.StatusReady, j.rows["f1"].Status, "claim must be given back when the pool rejects it")
}

func TestSubmit_NoQueueAndPoolFull_ReturnsQueueError(t *testing.T) {
	j := newFakeJournal()
	pool := &fakePool{accept: false}
	a := New(j, nil, pool, fakeClasses{known: map[string]bool{"c": true}}, "me", 1)

	err := a.Submit(context.Background(), "f1", "c", nil)
	assert.True(t, errors.Is(err, stairwayerr.ErrQueue))
}

func TestWait_ReturnsWaitTimedOutWithoutMutatingFlight(t *testing.T) {
	j := newFakeJournal()
	j.rows["f1"] = &types.FlightRow{ID: "f1", Status: types.StatusRunning}
	a := New(j, nil, &fakePool{}, fakeClasses{}, "me", 1)
	a.WaitPoll = time.Millisecond

	_, err := a.Wait(context.Background(), "f1", 10*time.Millisecond)
	assert.True(t, errors.Is(err, stairwayerr.ErrWaitTimedOut))
	assert.Equal(t, types.StatusRunning, j.rows["f1"].Status)
}

func TestWait_ReturnsOnTerminalStatus(t *testing.T) {
	j := newFakeJournal()
	j.rows["f1"] = &types.FlightRow{ID: "f1", Status: types.StatusSuccess}
	a := New(j, nil, &fakePool{}, fakeClasses{}, "me", 1)

	status, err := a.Wait(context.Background(), "f1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, status)
}

func TestQuiesce_RefusesNewSubmissions(t *testing.T) {
	j := newFakeJournal()
	a := New(j, nil, &fakePool{}, fakeClasses{known: map[string]bool{"c": true}}, "me", 1)

	require.NoError(t, a.Quiesce(context.Background(), time.Millisecond))
	assert.True(t, a.Quiescing())

	err := a.Submit(context.Background(), "f1", "c", nil)
	assert.True(t, errors.Is(err, stairwayerr.ErrShutdown))
}

func TestQuiesce_DisownsStillRunningFlightsAfterTimeout(t *testing.T) {
	j := newFakeJournal()
	j.rows["f1"] = &types.FlightRow{ID: "f1", Status: types.StatusRunning}
	j.claimed["f1"] = "me"

	a := New(j, nil, &fakePool{backlog: 1}, fakeClasses{}, "me", 1)
	require.NoError(t, a.Quiesce(context.Background(), 10*time.Millisecond))

	assert.Equal(t, types.StatusReady, j.rows["f1"].Status)
}

type stubQueue struct {
	enqueue func(payload string)
}

func (s stubQueue) Enqueue(ctx context.Context, payload string) error {
	s.enqueue(payload)
	return nil
}
func (s stubQueue) Dispatch(ctx context.Context, max int, f func(payload string) bool) error {
	return nil
}
func (s stubQueue) Close() error { return nil }
