package phase

import (
	"errors"
	"fmt"

	"auditline/internal/domain"
)

// ID is one of the five canonical audit phases.
type ID string

const (
	Planning  ID = "planning"
	Execution ID = "execution"
	Findings  ID = "findings"
	Reporting ID = "reporting"
	Followup  ID = "followup"
)

// ErrUnknownPhase is returned for identifiers outside the five canonical
// phases. Callers must not default to planning on this error.
var ErrUnknownPhase = errors.New("unknown phase")

// Info is the static registry entry for a phase.
type Info struct {
	ID          ID
	Ordinal     int
	Name        string
	Description string
}

// registry is ordered by ordinal; read-only after init.
var registry = [5]Info{
	{ID: Planning, Ordinal: 0, Name: "Planning", Description: "Objectives, scope, methodology, criteria, resources, schedule and budget"},
	{ID: Execution, Ordinal: 1, Name: "Execution", Description: "Work program execution, analysis and classification"},
	{ID: Findings, Ordinal: 2, Name: "Findings", Description: "Observation recording, validation and communication"},
	{ID: Reporting, Ordinal: 3, Name: "Reporting", Description: "Report drafting, approval and distribution"},
	{ID: Followup, Ordinal: 4, Name: "Follow-up", Description: "Action plan implementation and verification"},
}

var byID = func() map[ID]Info {
	m := make(map[ID]Info, len(registry))
	for _, info := range registry {
		m[info.ID] = info
	}
	return m
}()

// All returns the five phases in order.
func All() []Info {
	out := make([]Info, len(registry))
	copy(out[:], registry[:])
	return out
}

// Parse validates a raw identifier.
func Parse(s string) (ID, error) {
	if _, ok := byID[ID(s)]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, s)
	}
	return ID(s), nil
}

// Lookup returns registry info for an identifier.
func Lookup(id ID) (Info, error) {
	info, ok := byID[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownPhase, id)
	}
	return info, nil
}

// ByOrdinal returns the phase at position 0-4.
func ByOrdinal(n int) (Info, error) {
	if n < 0 || n >= len(registry) {
		return Info{}, fmt.Errorf("%w: ordinal %d", ErrUnknownPhase, n)
	}
	return registry[n], nil
}

// Ordinal returns the position of a known phase, -1 otherwise.
func (id ID) Ordinal() int {
	if info, ok := byID[id]; ok {
		return info.Ordinal
	}
	return -1
}

// Completeness reads the engagement field holding this phase's persisted
// completeness.
func Completeness(e domain.Engagement, id ID) (int, error) {
	switch id {
	case Planning:
		return e.PlanningCompleteness, nil
	case Execution:
		return e.ExecutionCompleteness, nil
	case Findings:
		return e.FindingsCompleteness, nil
	case Reporting:
		return e.ReportingCompleteness, nil
	case Followup:
		return e.FollowupCompleteness, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPhase, id)
}

// SetCompleteness writes the engagement field holding this phase's persisted
// completeness.
func SetCompleteness(e *domain.Engagement, id ID, value int) error {
	switch id {
	case Planning:
		e.PlanningCompleteness = value
	case Execution:
		e.ExecutionCompleteness = value
	case Findings:
		e.FindingsCompleteness = value
	case Reporting:
		e.ReportingCompleteness = value
	case Followup:
		e.FollowupCompleteness = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPhase, id)
	}
	return nil
}
