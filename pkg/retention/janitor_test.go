package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stairway/pkg/journal"
)

type fakeJournal struct {
	journal.Journal
	retainCalls []time.Time
	deleted     int64
}

func (f *fakeJournal) Retain(ctx context.Context, horizon time.Time) (int64, error) {
	f.retainCalls = append(f.retainCalls, horizon)
	return f.deleted, nil
}

type alwaysLeader struct{ leader bool }

func (a alwaysLeader) IsLeader() bool { return a.leader }

func dur(d time.Duration) *time.Duration { return &d }

func TestSweep_UnsetRetentionNeverDeletes(t *testing.T) {
	fj := &fakeJournal{deleted: 5}
	jn := New(fj, time.Hour, nil, nil)

	require.NoError(t, jn.Sweep(context.Background()))
	assert.Empty(t, fj.retainCalls, "a nil (unset) retention must never call Retain")
}

func TestSweep_ExplicitZeroRetentionDeletesImmediately(t *testing.T) {
	fj := &fakeJournal{deleted: 5}
	jn := New(fj, time.Hour, dur(0), nil)

	require.NoError(t, jn.Sweep(context.Background()))
	require.Len(t, fj.retainCalls, 1, "an explicit 0 retention must still sweep on the next tick")

	horizon := fj.retainCalls[0]
	assert.WithinDuration(t, time.Now(), horizon, 5*time.Second)
}

func TestSweep_DeletesOlderThanRetentionHorizon(t *testing.T) {
	fj := &fakeJournal{deleted: 3}
	jn := New(fj, time.Hour, dur(48*time.Hour), nil)

	require.NoError(t, jn.Sweep(context.Background()))
	require.Len(t, fj.retainCalls, 1)

	horizon := fj.retainCalls[0]
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), horizon, 5*time.Second)
}

func TestSweep_SkipsWhenNotLeader(t *testing.T) {
	fj := &fakeJournal{deleted: 3}
	jn := New(fj, time.Hour, dur(48*time.Hour), alwaysLeader{leader: false})

	require.NoError(t, jn.Sweep(context.Background()))
	assert.Empty(t, fj.retainCalls)
}

func TestSweep_RunsWhenLeader(t *testing.T) {
	fj := &fakeJournal{deleted: 1}
	jn := New(fj, time.Hour, dur(48*time.Hour), alwaysLeader{leader: true})

	require.NoError(t, jn.Sweep(context.Background()))
	assert.Len(t, fj.retainCalls, 1)
}

func TestNew_DefaultsIntervalWhenZero(t *testing.T) {
	jn := New(&fakeJournal{}, 0, nil, nil)
	assert.Equal(t, DefaultCheckInterval, jn.Interval)
}

func TestStartStop_DoesNotPanic(t *testing.T) {
	fj := &fakeJournal{deleted: 0}
	jn := New(fj, 10*time.Millisecond, dur(time.Hour), nil)
	jn.Start()
	time.Sleep(25 * time.Millisecond)
	jn.Stop()

	assert.NotEmpty(t, fj.retainCalls, "the ticker should have fired at least once")
}
