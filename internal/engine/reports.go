package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"auditline/internal/domain"
	"auditline/internal/events"
	"auditline/internal/phase"
)

// ErrReportPublished marks content edits against a published or distributed
// report. Published reports are immutable history; use NewReportVersion.
var ErrReportPublished = errors.New("report is published; create a new version")

// ReportCreateOptions are parameters for generating a report draft.
type ReportCreateOptions struct {
	ID               string
	Type             string
	Title            string
	ExecutiveSummary string
	ComplianceScore  int
	Recipients       []string
	UserID           string
}

// CreateReport registers a new draft and snapshots the finding counts into
// the denormalized report columns.
func (e Engine) CreateReport(ctx context.Context, tenantID, engagementID string, opts ReportCreateOptions) (domain.Report, error) {
	if opts.Title == "" {
		return domain.Report{}, errors.New("title is required")
	}
	switch opts.Type {
	case "executive", "technical", "compliance", "followup":
	default:
		return domain.Report{}, fmt.Errorf("invalid report type %q", opts.Type)
	}
	if _, err := e.Repo.GetEngagement(ctx, tenantID, engagementID); err != nil {
		return domain.Report{}, err
	}
	findings, err := e.Repo.ListFindings(ctx, tenantID, engagementID)
	if err != nil {
		return domain.Report{}, err
	}
	critical := 0
	for _, f := range findings {
		if f.Criticality == "critical" {
			critical++
		}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	rep := domain.Report{
		ID:               opts.ID,
		EngagementID:     engagementID,
		TenantID:         tenantID,
		Type:             opts.Type,
		Title:            opts.Title,
		Status:           "draft",
		Version:          "1.0",
		CreatedAt:        e.nowStr(),
		ExecutiveSummary: opts.ExecutiveSummary,
		TotalFindings:    len(findings),
		CriticalFindings: critical,
		ComplianceScore:  opts.ComplianceScore,
		Recipients:       opts.Recipients,
	}
	reports, err := e.Repo.ListReports(ctx, tenantID, engagementID)
	if err != nil {
		return rep, err
	}
	reportingScore := phase.ReportingScore(append(reports, rep))
	nowStr := e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReportTx(ctx, tx, rep); err != nil {
		return rep, err
	}
	if err := e.Repo.SetPhaseCompletenessTx(ctx, tx, tenantID, engagementID, phase.Reporting, reportingScore, nowStr); err != nil {
		return rep, err
	}
	if err := e.Events.Append(ctx, tx, "report.created", tenantID, engagementID, "report", rep.ID, opts.UserID, events.EventPayload{"type": rep.Type, "version": rep.Version}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	return rep, nil
}

func ensureReportTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "draft":
		if newStatus == "review" {
			return nil
		}
	case "review":
		if newStatus == "approved" || newStatus == "draft" {
			return nil
		}
	case "approved":
		if newStatus == "published" {
			return nil
		}
	case "published":
		if newStatus == "distributed" {
			return nil
		}
	}
	return fmt.Errorf("invalid report status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) SetReportStatus(ctx context.Context, tenantID, id, status, userID string, force bool) (domain.Report, error) {
	rep, err := e.Repo.GetReport(ctx, tenantID, id)
	if err != nil {
		return rep, err
	}
	if err := ensureReportTransition(rep.Status, status, force); err != nil {
		return rep, err
	}
	oldStatus := rep.Status
	rep.Status = status
	if status == "approved" {
		nowStr := e.nowStr()
		rep.ApprovedAt = &nowStr
		if userID != "" {
			rep.ApprovedBy = &userID
		}
	}
	reports, err := e.Repo.ListReports(ctx, tenantID, rep.EngagementID)
	if err != nil {
		return rep, err
	}
	for i := range reports {
		if reports[i].ID == rep.ID {
			reports[i].Status = status
		}
	}
	reportingScore := phase.ReportingScore(reports)
	nowStr := e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateReportTx(ctx, tx, rep); err != nil {
		return rep, err
	}
	if err := e.Repo.SetPhaseCompletenessTx(ctx, tx, tenantID, rep.EngagementID, phase.Reporting, reportingScore, nowStr); err != nil {
		return rep, err
	}
	if err := e.Events.Append(ctx, tx, "report.status_changed", tenantID, rep.EngagementID, "report", rep.ID, userID, events.EventPayload{"from": oldStatus, "to": status}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	return rep, nil
}

// UpdateReport edits the content of a draft or in-review report.
func (e Engine) UpdateReport(ctx context.Context, tenantID string, rep domain.Report, userID string) (domain.Report, error) {
	current, err := e.Repo.GetReport(ctx, tenantID, rep.ID)
	if err != nil {
		return current, err
	}
	if current.Status == "published" || current.Status == "distributed" {
		return current, ErrReportPublished
	}
	if rep.Title == "" {
		return current, errors.New("title is required")
	}
	rep.EngagementID = current.EngagementID
	rep.TenantID = tenantID
	rep.Status = current.Status
	rep.Version = current.Version
	rep.CreatedAt = current.CreatedAt
	rep.ApprovedAt = current.ApprovedAt
	rep.ApprovedBy = current.ApprovedBy

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateReportTx(ctx, tx, rep); err != nil {
		return rep, err
	}
	if err := e.Events.Append(ctx, tx, "report.updated", tenantID, rep.EngagementID, "report", rep.ID, userID, events.EventPayload{"title": rep.Title}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	return rep, nil
}

// NewReportVersion clones a published report into a fresh draft row with a
// bumped version. The source row is left untouched.
func (e Engine) NewReportVersion(ctx context.Context, tenantID, id, userID string) (domain.Report, error) {
	src, err := e.Repo.GetReport(ctx, tenantID, id)
	if err != nil {
		return src, err
	}
	if src.Status != "published" && src.Status != "distributed" {
		return src, fmt.Errorf("report %s is %s; only published reports are versioned", src.ID, src.Status)
	}
	clone := src
	clone.ID = uuid.NewString()
	clone.Status = "draft"
	clone.Version = bumpVersion(src.Version)
	clone.CreatedAt = e.nowStr()
	clone.ApprovedAt = nil
	clone.ApprovedBy = nil

	reports, err := e.Repo.ListReports(ctx, tenantID, src.EngagementID)
	if err != nil {
		return clone, err
	}
	reportingScore := phase.ReportingScore(append(reports, clone))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return clone, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReportTx(ctx, tx, clone); err != nil {
		return clone, err
	}
	if err := e.Repo.SetPhaseCompletenessTx(ctx, tx, tenantID, src.EngagementID, phase.Reporting, reportingScore, clone.CreatedAt); err != nil {
		return clone, err
	}
	if err := e.Events.Append(ctx, tx, "report.versioned", tenantID, src.EngagementID, "report", clone.ID, userID, events.EventPayload{"source": src.ID, "version": clone.Version}); err != nil {
		return clone, err
	}
	if err := tx.Commit(); err != nil {
		return clone, err
	}
	return clone, nil
}

func bumpVersion(v string) string {
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return v + ".1"
	}
	return strconv.Itoa(n+1) + ".0"
}

func (e Engine) ListReports(ctx context.Context, tenantID, engagementID string) ([]domain.Report, error) {
	return e.Repo.ListReports(ctx, tenantID, engagementID)
}
