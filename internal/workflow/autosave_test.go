package workflow

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualSaveReturnsError(t *testing.T) {
	a := &Autosaver{
		Save: func(context.Context) error { return errors.New("write failed") },
	}
	require.Error(t, a.SaveNow(context.Background()))
}

func TestManualSaveRejectedWhileSaving(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	a := &Autosaver{
		Save: func(context.Context) error {
			startedOnce.Do(func() { close(started) })
			<-release
			return nil
		},
	}
	done := make(chan error, 1)
	go func() { done <- a.SaveNow(context.Background()) }()
	<-started

	err := a.SaveNow(context.Background())
	assert.ErrorIs(t, err, ErrSaveInFlight)

	close(release)
	require.NoError(t, <-done)
	// Guard clears after the save finishes.
	require.NoError(t, a.SaveNow(context.Background()))
}

func TestAutosaveLogsFailuresWithoutSurfacing(t *testing.T) {
	var buf bytes.Buffer
	var calls atomic.Int32
	a := &Autosaver{
		Interval: 10 * time.Millisecond,
		Logger:   log.New(&buf, "", 0),
		Save: func(context.Context) error {
			calls.Add(1)
			return errors.New("transient")
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.Contains(t, buf.String(), "autosave failed")
}

func TestAutosaveTickSkippedDuringManualSave(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int32
	a := &Autosaver{
		Interval: 5 * time.Millisecond,
		Save: func(context.Context) error {
			calls.Add(1)
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manual := make(chan error, 1)
	go func() { manual <- a.SaveNow(ctx) }()
	<-started
	go a.Run(ctx)

	// Several tick intervals elapse while the manual save holds the guard;
	// none of them may start a second save.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.NoError(t, <-manual)
}
