package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"auditline/internal/domain"
	"auditline/internal/events"
	"auditline/internal/phase"
)

// PlanCreateOptions are parameters for committing an action plan to a
// finding.
type PlanCreateOptions struct {
	ID                 string
	Code               string
	Title              string
	Description        string
	Responsible        string
	Deadline           string
	Priority           string
	ImplementationCost *float64
	UserID             string
}

func (e Engine) AddActionPlan(ctx context.Context, tenantID, findingID string, opts PlanCreateOptions) (domain.ActionPlan, error) {
	if opts.Title == "" {
		return domain.ActionPlan{}, errors.New("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	switch opts.Priority {
	case "low", "medium", "high", "critical":
	default:
		return domain.ActionPlan{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	f, err := e.Repo.GetFinding(ctx, tenantID, findingID)
	if err != nil {
		return domain.ActionPlan{}, fmt.Errorf("finding: %w", err)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	nowStr := e.nowStr()
	p := domain.ActionPlan{
		ID:                 opts.ID,
		EngagementID:       f.EngagementID,
		FindingID:          f.ID,
		Code:               opts.Code,
		Title:              opts.Title,
		Description:        opts.Description,
		Responsible:        opts.Responsible,
		Deadline:           opts.Deadline,
		Status:             "pending",
		Priority:           opts.Priority,
		ImplementationCost: opts.ImplementationCost,
		CreatedAt:          nowStr,
		UpdatedAt:          nowStr,
	}
	plans, err := e.Repo.ListActionPlans(ctx, tenantID, f.EngagementID)
	if err != nil {
		return p, err
	}
	followupScore := phase.FollowupScore(append(plans, p))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertActionPlanTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Repo.SetPhaseCompletenessTx(ctx, tx, tenantID, f.EngagementID, phase.Followup, followupScore, nowStr); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "action_plan.created", tenantID, f.EngagementID, "action_plan", p.ID, opts.UserID, events.EventPayload{"title": p.Title, "finding_id": f.ID}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// ensurePlanTransition guards remediation progress. Delay is reachable from
// the two active states and recoverable back into progress.
func ensurePlanTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "pending":
		if newStatus == "in_progress" || newStatus == "delayed" {
			return nil
		}
	case "in_progress":
		if newStatus == "implemented" || newStatus == "delayed" {
			return nil
		}
	case "delayed":
		if newStatus == "in_progress" {
			return nil
		}
	case "implemented":
		if newStatus == "verified" {
			return nil
		}
	}
	return fmt.Errorf("invalid action plan status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) SetPlanStatus(ctx context.Context, tenantID, id, status, userID string, force bool) (domain.ActionPlan, error) {
	p, err := e.Repo.GetActionPlan(ctx, tenantID, id)
	if err != nil {
		return p, err
	}
	if err := ensurePlanTransition(p.Status, status, force); err != nil {
		return p, err
	}
	oldStatus := p.Status
	nowStr := e.nowStr()
	dateStr := e.now().UTC().Format("2006-01-02")
	p.Status = status
	p.UpdatedAt = nowStr
	switch status {
	case "in_progress":
		if p.StartDate == nil {
			p.StartDate = &dateStr
		}
	case "implemented":
		if p.CompletionDate == nil {
			p.CompletionDate = &dateStr
		}
		p.Progress = 100
	case "verified":
		p.Progress = 100
	}
	plans, err := e.Repo.ListActionPlans(ctx, tenantID, p.EngagementID)
	if err != nil {
		return p, err
	}
	for i := range plans {
		if plans[i].ID == p.ID {
			plans[i].Status = status
		}
	}
	followupScore := phase.FollowupScore(plans)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateActionPlanTx(ctx, tx, tenantID, p); err != nil {
		return p, err
	}
	if err := e.Repo.SetPhaseCompletenessTx(ctx, tx, tenantID, p.EngagementID, phase.Followup, followupScore, nowStr); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "action_plan.status_changed", tenantID, p.EngagementID, "action_plan", p.ID, userID, events.EventPayload{"from": oldStatus, "to": status}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// SetPlanProgress records manual progress on an active plan. Status is not
// derived from progress; 100% still needs an explicit implemented
// transition.
func (e Engine) SetPlanProgress(ctx context.Context, tenantID, id string, progress int, userID string) (domain.ActionPlan, error) {
	if progress < 0 || progress > 100 {
		return domain.ActionPlan{}, fmt.Errorf("progress must be within 0..100, got %d", progress)
	}
	p, err := e.Repo.GetActionPlan(ctx, tenantID, id)
	if err != nil {
		return p, err
	}
	if p.Status == "implemented" || p.Status == "verified" {
		return p, fmt.Errorf("plan %s is %s; progress is fixed", p.ID, p.Status)
	}
	oldProgress := p.Progress
	p.Progress = progress
	p.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateActionPlanTx(ctx, tx, tenantID, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "action_plan.progress", tenantID, p.EngagementID, "action_plan", p.ID, userID, events.EventPayload{"from": oldProgress, "to": progress}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

func (e Engine) ListActionPlans(ctx context.Context, tenantID, engagementID string) ([]domain.ActionPlan, error) {
	return e.Repo.ListActionPlans(ctx, tenantID, engagementID)
}
