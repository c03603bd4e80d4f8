package workflow

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"
)

// DefaultAutosaveInterval matches the phase views' fixed autosave cadence.
const DefaultAutosaveInterval = 30 * time.Second

// ErrSaveInFlight marks a manual save requested while another save runs.
var ErrSaveInFlight = errors.New("save already in progress")

// Autosaver periodically invokes a save func while a phase view is open.
// Autosave failures are logged only; manual save failures are returned to
// the caller. A tick is skipped while a manual save is in flight.
type Autosaver struct {
	Interval time.Duration
	Save     func(ctx context.Context) error
	Logger   *log.Logger

	saving atomic.Bool
}

func (a *Autosaver) logger() *log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.Default()
}

func (a *Autosaver) interval() time.Duration {
	if a.Interval > 0 {
		return a.Interval
	}
	return DefaultAutosaveInterval
}

// SaveNow runs a manual save. The returned error surfaces directly to the
// caller so the user can retry with the draft intact.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	if !a.saving.CompareAndSwap(false, true) {
		return ErrSaveInFlight
	}
	defer a.saving.Store(false)
	return a.Save(ctx)
}

// Run ticks until the context is canceled. Each tick attempts a save unless
// one is already running.
func (a *Autosaver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Autosaver) tick(ctx context.Context) {
	if !a.saving.CompareAndSwap(false, true) {
		return
	}
	defer a.saving.Store(false)
	if err := a.Save(ctx); err != nil {
		a.logger().Printf("autosave failed: %v", err)
	}
}
