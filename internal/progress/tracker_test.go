package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditline/internal/phase"
)

type fakeFetcher struct {
	values map[phase.ID]int
	err    error
	// hook runs after the fetch result is built, before it is returned.
	hook func()
}

func (f *fakeFetcher) PhaseCompleteness(_ context.Context, _, _ string) (map[phase.ID]int, error) {
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[phase.ID]int, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

func TestTrackerDefaultsToZero(t *testing.T) {
	tr := NewTracker("t1", "eng-1")
	assert.False(t, tr.Loaded())
	for _, info := range phase.All() {
		assert.Equal(t, 0, tr.Completeness(info.ID))
	}
}

func TestRefreshReplacesAllValues(t *testing.T) {
	tr := NewTracker("t1", "eng-1")
	f := &fakeFetcher{values: map[phase.ID]int{
		phase.Planning:  80,
		phase.Execution: 55,
		phase.Findings:  30,
		phase.Reporting: 10,
		phase.Followup:  5,
	}}
	require.NoError(t, tr.Refresh(context.Background(), f))
	assert.True(t, tr.Loaded())
	assert.Equal(t, 80, tr.Completeness(phase.Planning))
	assert.Equal(t, 55, tr.Completeness(phase.Execution))
	assert.Equal(t, 30, tr.Completeness(phase.Findings))
	assert.Equal(t, 10, tr.Completeness(phase.Reporting))
	assert.Equal(t, 5, tr.Completeness(phase.Followup))

	// A second refresh fully replaces the prior values, no merge.
	f.values = map[phase.ID]int{phase.Planning: 90}
	require.NoError(t, tr.Refresh(context.Background(), f))
	assert.Equal(t, 90, tr.Completeness(phase.Planning))
	assert.Equal(t, 0, tr.Completeness(phase.Execution))
}

func TestRefreshErrorKeepsCache(t *testing.T) {
	tr := NewTracker("t1", "eng-1")
	ok := &fakeFetcher{values: map[phase.ID]int{phase.Planning: 70}}
	require.NoError(t, tr.Refresh(context.Background(), ok))

	bad := &fakeFetcher{err: errors.New("gateway down")}
	require.Error(t, tr.Refresh(context.Background(), bad))
	assert.Equal(t, 70, tr.Completeness(phase.Planning))
	assert.True(t, tr.Loaded())
}

func TestStaleRefreshResponseDiscarded(t *testing.T) {
	tr := NewTracker("t1", "eng-1")

	newer := &fakeFetcher{values: map[phase.ID]int{phase.Planning: 99}}
	stale := &fakeFetcher{values: map[phase.ID]int{phase.Planning: 11}}
	// While the stale fetch is in flight, a newer refresh starts and
	// completes. The stale response must not overwrite it.
	stale.hook = func() {
		require.NoError(t, tr.Refresh(context.Background(), newer))
	}

	require.NoError(t, tr.Refresh(context.Background(), stale))
	assert.Equal(t, 99, tr.Completeness(phase.Planning))
}

func TestSnapshotCopies(t *testing.T) {
	tr := NewTracker("t1", "eng-1")
	f := &fakeFetcher{values: map[phase.ID]int{phase.Planning: 25}}
	require.NoError(t, tr.Refresh(context.Background(), f))

	snap := tr.Snapshot()
	snap[phase.Planning] = 1
	assert.Equal(t, 25, tr.Completeness(phase.Planning))
}
