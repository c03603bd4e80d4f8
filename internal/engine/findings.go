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

// WorkItemCreateOptions are parameters for adding a work-program entry.
type WorkItemCreateOptions struct {
	ID     string
	Code   string
	Title  string
	Owner  string
	UserID string
}

func (e Engine) AddWorkItem(ctx context.Context, tenantID, engagementID string, opts WorkItemCreateOptions) (domain.WorkItem, error) {
	if opts.Title == "" {
		return domain.WorkItem{}, errors.New("title is required")
	}
	eng, err := e.Repo.GetEngagement(ctx, tenantID, engagementID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	nowStr := e.nowStr()
	w := domain.WorkItem{
		ID:           opts.ID,
		EngagementID: engagementID,
		Code:         opts.Code,
		Title:        opts.Title,
		Status:       "pending",
		Owner:        opts.Owner,
		CreatedAt:    nowStr,
		UpdatedAt:    nowStr,
	}
	items, err := e.Repo.ListWorkItems(ctx, tenantID, engagementID)
	if err != nil {
		return w, err
	}
	findingCount, err := e.Repo.CountFindings(ctx, tenantID, engagementID)
	if err != nil {
		return w, err
	}
	execScore := phase.ExecutionScore(append(items, w), findingCount, eng)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkItemTx(ctx, tx, w); err != nil {
		return w, err
	}
	if err := e.Repo.SetPhaseCompletenessTx(ctx, tx, tenantID, engagementID, phase.Execution, execScore, nowStr); err != nil {
		return w, err
	}
	if err := e.Events.Append(ctx, tx, "work_item.created", tenantID, engagementID, "work_item", w.ID, opts.UserID, events.EventPayload{"title": w.Title}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

func ensureWorkItemTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "pending":
		if newStatus == "in_progress" || newStatus == "completed" {
			return nil
		}
	case "in_progress":
		if newStatus == "completed" || newStatus == "pending" {
			return nil
		}
	case "completed":
		if newStatus == "in_progress" {
			return nil
		}
	}
	return fmt.Errorf("invalid work item status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) SetWorkItemStatus(ctx context.Context, tenantID, id, status, userID string, force bool) (domain.WorkItem, error) {
	w, err := e.Repo.GetWorkItem(ctx, tenantID, id)
	if err != nil {
		return w, err
	}
	if err := ensureWorkItemTransition(w.Status, status, force); err != nil {
		return w, err
	}
	eng, err := e.Repo.GetEngagement(ctx, tenantID, w.EngagementID)
	if err != nil {
		return w, err
	}
	items, err := e.Repo.ListWorkItems(ctx, tenantID, w.EngagementID)
	if err != nil {
		return w, err
	}
	for i := range items {
		if items[i].ID == w.ID {
			items[i].Status = status
		}
	}
	findingCount, err := e.Repo.CountFindings(ctx, tenantID, w.EngagementID)
	if err != nil {
		return w, err
	}
	execScore := phase.ExecutionScore(items, findingCount, eng)
	nowStr := e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkItemStatusTx(ctx, tx, tenantID, id, status, nowStr); err != nil {
		return w, err
	}
	if err := e.Repo.SetPhaseCompletenessTx(ctx, tx, tenantID, w.EngagementID, phase.Execution, execScore, nowStr); err != nil {
		return w, err
	}
	if err := e.Events.Append(ctx, tx, "work_item.status_changed", tenantID, w.EngagementID, "work_item", w.ID, userID, events.EventPayload{"from": w.Status, "to": status}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	w.Status = status
	w.UpdatedAt = nowStr
	return w, nil
}

// FindingCreateOptions are parameters for recording a finding.
type FindingCreateOptions struct {
	ID                 string
	Code               string
	Title              string
	Description        string
	Criticality        string
	Category           string
	RootCause          string
	Impact             string
	Recommendation     string
	ResponsibleArea    string
	IdentificationDate string
	Evidence           []string
	WorkItemID         string
	MonetaryImpact     *float64
	Likelihood         string
	UserID             string
}

func (e Engine) AddFinding(ctx context.Context, tenantID, engagementID string, opts FindingCreateOptions) (domain.Finding, error) {
	if opts.Title == "" {
		return domain.Finding{}, errors.New("title is required")
	}
	if opts.Criticality == "" {
		opts.Criticality = "medium"
	}
	switch opts.Criticality {
	case "low", "medium", "high", "critical":
	default:
		return domain.Finding{}, fmt.Errorf("invalid criticality %q", opts.Criticality)
	}
	eng, err := e.Repo.GetEngagement(ctx, tenantID, engagementID)
	if err != nil {
		return domain.Finding{}, err
	}
	if opts.WorkItemID != "" {
		if _, err := e.Repo.GetWorkItem(ctx, tenantID, opts.WorkItemID); err != nil {
			return domain.Finding{}, fmt.Errorf("work item: %w", err)
		}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	nowStr := e.nowStr()
	f := domain.Finding{
		ID:                 opts.ID,
		EngagementID:       engagementID,
		Code:               opts.Code,
		Title:              opts.Title,
		Description:        opts.Description,
		Criticality:        opts.Criticality,
		Category:           opts.Category,
		Status:             "identified",
		RootCause:          opts.RootCause,
		Impact:             opts.Impact,
		Recommendation:     opts.Recommendation,
		ResponsibleArea:    opts.ResponsibleArea,
		IdentificationDate: opts.IdentificationDate,
		Evidence:           opts.Evidence,
		WorkItemID:         optionalString(opts.WorkItemID),
		MonetaryImpact:     opts.MonetaryImpact,
		Likelihood:         opts.Likelihood,
		CreatedAt:          nowStr,
		UpdatedAt:          nowStr,
	}
	findings, err := e.Repo.ListFindings(ctx, tenantID, engagementID)
	if err != nil {
		return f, err
	}
	items, err := e.Repo.ListWorkItems(ctx, tenantID, engagementID)
	if err != nil {
		return f, err
	}
	findings = append(findings, f)
	findingsScore := phase.FindingsScore(findings)
	execScore := phase.ExecutionScore(items, len(findings), eng)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFindingTx(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.Repo.SetPhaseCompletenessTx(ctx, tx, tenantID, engagementID, phase.Findings, findingsScore, nowStr); err != nil {
		return f, err
	}
	if err := e.Repo.SetPhaseCompletenessTx(ctx, tx, tenantID, engagementID, phase.Execution, execScore, nowStr); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "finding.created", tenantID, engagementID, "finding", f.ID, opts.UserID, events.EventPayload{"title": f.Title, "criticality": f.Criticality}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	return f, nil
}

// ensureFindingTransition guards the finding lifecycle. Rejection is allowed
// for any non-final finding; acceptance requires prior communication.
func ensureFindingTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "identified":
		if newStatus == "validated" || newStatus == "rejected" {
			return nil
		}
	case "validated":
		if newStatus == "communicated" || newStatus == "rejected" {
			return nil
		}
	case "communicated":
		if newStatus == "accepted" || newStatus == "rejected" {
			return nil
		}
	}
	return fmt.Errorf("invalid finding status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) SetFindingStatus(ctx context.Context, tenantID, id, status, userID string, force bool) (domain.Finding, error) {
	f, err := e.Repo.GetFinding(ctx, tenantID, id)
	if err != nil {
		return f, err
	}
	if err := ensureFindingTransition(f.Status, status, force); err != nil {
		return f, err
	}
	oldStatus := f.Status
	nowStr := e.nowStr()
	f.Status = status
	f.UpdatedAt = nowStr
	if status == "communicated" && f.CommunicationDate == nil {
		date := e.now().UTC().Format("2006-01-02")
		f.CommunicationDate = &date
	}
	findings, err := e.Repo.ListFindings(ctx, tenantID, f.EngagementID)
	if err != nil {
		return f, err
	}
	for i := range findings {
		if findings[i].ID == f.ID {
			findings[i].Status = status
		}
	}
	findingsScore := phase.FindingsScore(findings)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateFindingTx(ctx, tx, tenantID, f); err != nil {
		return f, err
	}
	if err := e.Repo.SetPhaseCompletenessTx(ctx, tx, tenantID, f.EngagementID, phase.Findings, findingsScore, nowStr); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "finding.status_changed", tenantID, f.EngagementID, "finding", f.ID, userID, events.EventPayload{"from": oldStatus, "to": status}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	return f, nil
}

// UpdateFinding replaces the descriptive fields of a finding. Status changes
// go through SetFindingStatus.
func (e Engine) UpdateFinding(ctx context.Context, tenantID string, f domain.Finding, userID string) (domain.Finding, error) {
	current, err := e.Repo.GetFinding(ctx, tenantID, f.ID)
	if err != nil {
		return current, err
	}
	if f.Title == "" {
		return current, errors.New("title is required")
	}
	f.EngagementID = current.EngagementID
	f.Status = current.Status
	f.CommunicationDate = current.CommunicationDate
	f.CreatedAt = current.CreatedAt
	f.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateFindingTx(ctx, tx, tenantID, f); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "finding.updated", tenantID, f.EngagementID, "finding", f.ID, userID, events.EventPayload{"title": f.Title}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	return f, nil
}

func (e Engine) ListFindings(ctx context.Context, tenantID, engagementID string) ([]domain.Finding, error) {
	return e.Repo.ListFindings(ctx, tenantID, engagementID)
}

func (e Engine) ListWorkItems(ctx context.Context, tenantID, engagementID string) ([]domain.WorkItem, error) {
	return e.Repo.ListWorkItems(ctx, tenantID, engagementID)
}
