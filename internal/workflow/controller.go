// Package workflow implements the phase navigation state machine and the
// autosave loop shared by the phase views.
package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"auditline/internal/phase"
)

// DefaultDebounce is the window during which repeated navigation requests
// are dropped.
const DefaultDebounce = 500 * time.Millisecond

var (
	// ErrDebounced marks a request arriving too soon after the last
	// accepted one.
	ErrDebounced = errors.New("phase change debounced")
	// ErrTransitionInFlight marks a request arriving while a previous
	// transition is still persisting.
	ErrTransitionInFlight = errors.New("phase transition already in flight")
)

// Status is the derived indicator for one phase. Every phase is always
// reachable, so no locked state can be derived.
type Status string

const (
	StatusNotVisited Status = "not_visited"
	StatusVisited    Status = "visited"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
)

// Persister writes an accepted phase transition to durable storage.
type Persister interface {
	PersistPhaseChange(ctx context.Context, tenantID, engagementID string, target phase.ID, visited []phase.ID, maxReached phase.ID) error
}

// Controller is the navigator for one engagement's workflow session. The
// active phase only advances once the transition has been persisted; on
// persistence failure the previous state is retained and the error returned.
type Controller struct {
	persister    Persister
	tenantID     string
	engagementID string

	debounce time.Duration
	now      func() time.Time

	mu           sync.Mutex
	active       phase.ID
	visited      []phase.ID
	maxReached   phase.ID
	inFlight     bool
	lastAccepted time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithDebounce overrides the navigation debounce window.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController starts a session on the given active phase. The visited list
// always contains at least the planning phase.
func NewController(p Persister, tenantID, engagementID string, active phase.ID, visited []phase.ID, opts ...Option) *Controller {
	c := &Controller{
		persister:    p,
		tenantID:     tenantID,
		engagementID: engagementID,
		debounce:     DefaultDebounce,
		now:          time.Now,
		active:       active,
		visited:      appendPhase(nil, phase.Planning),
		maxReached:   phase.Planning,
	}
	for _, v := range visited {
		c.visited = appendPhase(c.visited, v)
	}
	c.visited = appendPhase(c.visited, active)
	c.maxReached = maxPhase(c.visited)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Active returns the currently active phase.
func (c *Controller) Active() phase.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Visited returns a copy of the visited-phase history.
func (c *Controller) Visited() []phase.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]phase.ID, len(c.visited))
	copy(out, c.visited)
	return out
}

// MaxReached returns the furthest phase ever visited.
func (c *Controller) MaxReached() phase.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxReached
}

// RequestPhaseChange applies the navigation policy: same-phase requests are
// no-ops, requests inside the debounce window or during an in-flight
// transition are dropped, and everything else is accepted (the policy is
// fully permissive regardless of completeness).
func (c *Controller) RequestPhaseChange(ctx context.Context, target phase.ID) error {
	if _, err := phase.Lookup(target); err != nil {
		return err
	}

	c.mu.Lock()
	if target == c.active {
		c.mu.Unlock()
		return nil
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrTransitionInFlight
	}
	now := c.now()
	if !c.lastAccepted.IsZero() && now.Sub(c.lastAccepted) < c.debounce {
		c.mu.Unlock()
		return ErrDebounced
	}
	c.inFlight = true
	c.lastAccepted = now
	visited := appendPhase(append([]phase.ID(nil), c.visited...), target)
	maxReached := maxPhase(visited)
	c.mu.Unlock()

	err := c.persister.PersistPhaseChange(ctx, c.tenantID, c.engagementID, target, visited, maxReached)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if err != nil {
		return err
	}
	c.active = target
	c.visited = visited
	c.maxReached = maxReached
	return nil
}

// PhaseStatus derives the indicator for one phase from the session state and
// a completeness source (normally the progress tracker).
func (c *Controller) PhaseStatus(id phase.ID, completeness func(phase.ID) int) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.active {
		return StatusActive
	}
	if completeness != nil && completeness(id) >= 100 {
		return StatusCompleted
	}
	for _, v := range c.visited {
		if v == id {
			return StatusVisited
		}
	}
	return StatusNotVisited
}

// Statuses derives indicators for all five phases.
func (c *Controller) Statuses(completeness func(phase.ID) int) map[phase.ID]Status {
	out := make(map[phase.ID]Status, 5)
	for _, info := range phase.All() {
		out[info.ID] = c.PhaseStatus(info.ID, completeness)
	}
	return out
}

func appendPhase(list []phase.ID, id phase.ID) []phase.ID {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func maxPhase(list []phase.ID) phase.ID {
	max := phase.Planning
	for _, v := range list {
		if v.Ordinal() > max.Ordinal() {
			max = v
		}
	}
	return max
}
