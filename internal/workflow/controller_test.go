package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditline/internal/phase"
)

type fakePersister struct {
	calls      int
	err        error
	lastTarget phase.ID
	lastList   []phase.ID
	lastMax    phase.ID
}

func (f *fakePersister) PersistPhaseChange(_ context.Context, _, _ string, target phase.ID, visited []phase.ID, maxReached phase.ID) error {
	f.calls++
	f.lastTarget = target
	f.lastList = visited
	f.lastMax = maxReached
	return f.err
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestController(p Persister, clock *fakeClock) *Controller {
	return NewController(p, "t1", "eng-1", phase.Planning, nil, WithClock(clock.now))
}

func TestSamePhaseRequestIsNoOp(t *testing.T) {
	p := &fakePersister{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestController(p, clock)

	require.NoError(t, c.RequestPhaseChange(context.Background(), phase.Planning))
	assert.Equal(t, 0, p.calls)
	assert.Equal(t, phase.Planning, c.Active())
	assert.Equal(t, []phase.ID{phase.Planning}, c.Visited())
}

func TestAcceptedTransitionPersistsThenCommits(t *testing.T) {
	p := &fakePersister{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestController(p, clock)

	require.NoError(t, c.RequestPhaseChange(context.Background(), phase.Execution))
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, phase.Execution, c.Active())
	assert.Equal(t, []phase.ID{phase.Planning, phase.Execution}, c.Visited())
	assert.Equal(t, phase.Execution, c.MaxReached())
}

func TestDebounceDropsSecondRequest(t *testing.T) {
	p := &fakePersister{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestController(p, clock)

	require.NoError(t, c.RequestPhaseChange(context.Background(), phase.Execution))
	clock.advance(200 * time.Millisecond)
	err := c.RequestPhaseChange(context.Background(), phase.Findings)
	require.ErrorIs(t, err, ErrDebounced)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, phase.Execution, c.Active())

	clock.advance(400 * time.Millisecond)
	require.NoError(t, c.RequestPhaseChange(context.Background(), phase.Findings))
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, phase.Findings, c.Active())
}

func TestVisitedListHasNoDuplicates(t *testing.T) {
	p := &fakePersister{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestController(p, clock)

	for _, target := range []phase.ID{phase.Execution, phase.Planning, phase.Execution, phase.Findings} {
		clock.advance(time.Second)
		require.NoError(t, c.RequestPhaseChange(context.Background(), target))
	}
	assert.Equal(t, []phase.ID{phase.Planning, phase.Execution, phase.Findings}, c.Visited())
	assert.Equal(t, phase.Findings, c.MaxReached())
}

func TestPersistFailureKeepsPreviousState(t *testing.T) {
	p := &fakePersister{err: errors.New("gateway down")}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestController(p, clock)

	err := c.RequestPhaseChange(context.Background(), phase.Reporting)
	require.Error(t, err)
	assert.Equal(t, phase.Planning, c.Active())
	assert.Equal(t, []phase.ID{phase.Planning}, c.Visited())

	// Controller stays usable after a failure.
	p.err = nil
	clock.advance(time.Second)
	require.NoError(t, c.RequestPhaseChange(context.Background(), phase.Reporting))
	assert.Equal(t, phase.Reporting, c.Active())
}

func TestUnknownTargetRejected(t *testing.T) {
	p := &fakePersister{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestController(p, clock)

	err := c.RequestPhaseChange(context.Background(), phase.ID("wrapup"))
	require.ErrorIs(t, err, phase.ErrUnknownPhase)
	assert.Equal(t, 0, p.calls)
}

func TestRequestWhileInFlightDropped(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := &blockingPersister{release: release, started: started}
	c := NewController(blocking, "t1", "eng-1", phase.Planning, nil, WithClock(clock.now))

	done := make(chan error, 1)
	go func() {
		done <- c.RequestPhaseChange(context.Background(), phase.Execution)
	}()
	<-started

	clock.advance(time.Second)
	err := c.RequestPhaseChange(context.Background(), phase.Findings)
	assert.ErrorIs(t, err, ErrTransitionInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, phase.Execution, c.Active())
}

type blockingPersister struct {
	release <-chan struct{}
	started chan<- struct{}
}

func (b *blockingPersister) PersistPhaseChange(context.Context, string, string, phase.ID, []phase.ID, phase.ID) error {
	b.started <- struct{}{}
	<-b.release
	return nil
}

func TestPhaseStatusDerivation(t *testing.T) {
	p := &fakePersister{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestController(p, clock)
	require.NoError(t, c.RequestPhaseChange(context.Background(), phase.Execution))

	completeness := func(id phase.ID) int {
		if id == phase.Planning {
			return 100
		}
		return 0
	}
	statuses := c.Statuses(completeness)
	assert.Equal(t, StatusCompleted, statuses[phase.Planning])
	assert.Equal(t, StatusActive, statuses[phase.Execution])
	assert.Equal(t, StatusNotVisited, statuses[phase.Findings])
	assert.Equal(t, StatusNotVisited, statuses[phase.Reporting])
	assert.Equal(t, StatusNotVisited, statuses[phase.Followup])
}
