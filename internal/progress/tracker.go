// Package progress holds the session-scoped completeness cache shared by all
// phase views of one engagement.
package progress

import (
	"context"
	"sync"

	"auditline/internal/phase"
)

// Fetcher reads the five persisted completeness values for an engagement.
type Fetcher interface {
	PhaseCompleteness(ctx context.Context, tenantID, engagementID string) (map[phase.ID]int, error)
}

// Tracker caches the last completeness values read from the database. It is
// created when an engagement workflow session starts and discarded with it.
type Tracker struct {
	TenantID     string
	EngagementID string

	mu     sync.Mutex
	gen    uint64
	loaded bool
	values map[phase.ID]int
}

// NewTracker returns an empty tracker; Completeness reports 0 for every
// phase until the first successful Refresh.
func NewTracker(tenantID, engagementID string) *Tracker {
	return &Tracker{
		TenantID:     tenantID,
		EngagementID: engagementID,
		values:       make(map[phase.ID]int, 5),
	}
}

// Refresh fetches all five values and replaces the cache wholesale. Starting
// a new refresh invalidates any still-running one: a response belonging to a
// superseded generation is discarded instead of overwriting newer data.
func (t *Tracker) Refresh(ctx context.Context, f Fetcher) error {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	tenantID, engagementID := t.TenantID, t.EngagementID
	t.mu.Unlock()

	values, err := f.PhaseCompleteness(ctx, tenantID, engagementID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		// A newer refresh started while this one was in flight.
		return nil
	}
	t.values = make(map[phase.ID]int, 5)
	for _, info := range phase.All() {
		t.values[info.ID] = values[info.ID]
	}
	t.loaded = true
	return nil
}

// Completeness returns the cached database value for a phase, 0 if the
// tracker was never loaded.
func (t *Tracker) Completeness(id phase.ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[id]
}

// Loaded reports whether at least one refresh completed.
func (t *Tracker) Loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// Snapshot returns a copy of all cached values.
func (t *Tracker) Snapshot() map[phase.ID]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[phase.ID]int, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}
