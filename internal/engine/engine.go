package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"auditline/internal/config"
	"auditline/internal/domain"
	"auditline/internal/events"
	"auditline/internal/phase"
	"auditline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// EngagementCreateOptions are parameters for registering an engagement.
type EngagementCreateOptions struct {
	ID              string
	TenantID        string
	Code            string
	Title           string
	Description     string
	LeadAuditor     string
	StartDate       string
	ExpectedEndDate string
	Priority        string
	AuditedArea     string
	AuditType       string
	UserID          string
}

func (e Engine) CreateEngagement(ctx context.Context, opts EngagementCreateOptions) (domain.Engagement, error) {
	if opts.TenantID == "" {
		return domain.Engagement{}, errors.New("tenant is required")
	}
	if opts.Title == "" {
		return domain.Engagement{}, errors.New("title is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Code == "" {
		opts.Code = "AUD-" + strings.ToUpper(opts.ID[:8])
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	nowStr := e.nowStr()
	eng := domain.Engagement{
		ID:              opts.ID,
		TenantID:        opts.TenantID,
		Code:            opts.Code,
		Title:           opts.Title,
		Description:     opts.Description,
		Status:          "planning",
		CurrentPhase:    string(phase.Planning),
		VisitedPhases:   []string{string(phase.Planning)},
		MaxPhaseReached: string(phase.Planning),
		LeadAuditor:     opts.LeadAuditor,
		StartDate:       opts.StartDate,
		ExpectedEndDate: opts.ExpectedEndDate,
		Priority:        opts.Priority,
		AuditedArea:     opts.AuditedArea,
		AuditType:       opts.AuditType,
		CreatedAt:       nowStr,
		UpdatedAt:       nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Engagement{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureTenant(ctx, tx, eng.TenantID, e.tenantName(eng.TenantID), nowStr); err != nil {
		return domain.Engagement{}, fmt.Errorf("ensure tenant: %w", err)
	}
	if err := e.Repo.InsertEngagementTx(ctx, tx, eng); err != nil {
		return domain.Engagement{}, fmt.Errorf("insert engagement: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "engagement.created", eng.TenantID, eng.ID, "engagement", eng.ID, opts.UserID, events.EventPayload{"code": eng.Code, "status": eng.Status}); err != nil {
		return domain.Engagement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Engagement{}, err
	}
	return eng, nil
}

func (e Engine) tenantName(tenantID string) string {
	if e.Config != nil && e.Config.Tenant.ID == tenantID && e.Config.Tenant.Name != "" {
		return e.Config.Tenant.Name
	}
	return tenantID
}

func (e Engine) GetEngagement(ctx context.Context, tenantID, id string) (domain.Engagement, error) {
	return e.Repo.GetEngagement(ctx, tenantID, id)
}

func (e Engine) ListEngagements(ctx context.Context, tenantID string, f repo.EngagementFilters) ([]domain.Engagement, error) {
	return e.Repo.ListEngagements(ctx, tenantID, f)
}

// EngagementUpdateOptions carries the mutable header fields; nil means keep.
type EngagementUpdateOptions struct {
	Title       *string
	Description *string
	LeadAuditor *string
	Priority    *string
	UserID      string
}

func (e Engine) UpdateEngagement(ctx context.Context, tenantID, id string, opts EngagementUpdateOptions) (domain.Engagement, error) {
	if opts.Title != nil && *opts.Title == "" {
		return domain.Engagement{}, errors.New("title must not be empty")
	}
	if opts.Priority != nil {
		switch *opts.Priority {
		case "low", "medium", "high", "critical":
		default:
			return domain.Engagement{}, fmt.Errorf("invalid priority %q", *opts.Priority)
		}
	}
	if err := e.Repo.UpdateEngagementMeta(ctx, tenantID, id, opts.Title, opts.Description, opts.LeadAuditor, opts.Priority, e.nowStr()); err != nil {
		return domain.Engagement{}, err
	}
	return e.Repo.GetEngagement(ctx, tenantID, id)
}

func ensureEngagementStatusTransition(oldStatus, newStatus string, force bool) error {
	if force || oldStatus == newStatus {
		return nil
	}
	phaseStatuses := map[string]bool{
		"planning": true, "execution": true, "findings": true, "reporting": true, "followup": true,
	}
	switch {
	case oldStatus == "completed":
		// terminal
	case newStatus == "suspended":
		return nil
	case oldStatus == "suspended" && (phaseStatuses[newStatus] || newStatus == "completed"):
		return nil
	case phaseStatuses[oldStatus] && phaseStatuses[newStatus]:
		return nil
	case newStatus == "completed" && (oldStatus == "reporting" || oldStatus == "followup"):
		return nil
	}
	return fmt.Errorf("invalid engagement status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) SetEngagementStatus(ctx context.Context, tenantID, id, status, userID string, force bool) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, tenantID, id)
	if err != nil {
		return eng, err
	}
	if err := ensureEngagementStatusTransition(eng.Status, status, force); err != nil {
		return eng, err
	}
	nowStr := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return eng, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE engagements SET status=?, updated_at=? WHERE id=? AND tenant_id=?`, status, nowStr, id, tenantID); err != nil {
		return eng, err
	}
	if err := e.Events.Append(ctx, tx, "engagement.status_changed", tenantID, id, "engagement", id, userID, events.EventPayload{"from": eng.Status, "to": status}); err != nil {
		return eng, err
	}
	if err := tx.Commit(); err != nil {
		return eng, err
	}
	eng.Status = status
	eng.UpdatedAt = nowStr
	return eng, nil
}

// ChangePhase validates the target phase, extends the visited list and the
// maximum phase reached, and persists the navigation change with an audit
// event. Navigation is permissive: any known phase is reachable from any
// other.
func (e Engine) ChangePhase(ctx context.Context, tenantID, id string, target phase.ID, userID string) (domain.Engagement, error) {
	if _, err := phase.Lookup(target); err != nil {
		return domain.Engagement{}, err
	}
	eng, err := e.Repo.GetEngagement(ctx, tenantID, id)
	if err != nil {
		return eng, err
	}
	if eng.CurrentPhase == string(target) {
		return eng, nil
	}
	visited := eng.VisitedPhases
	if !containsPhase(visited, string(target)) {
		visited = append(visited, string(target))
	}
	maxReached := eng.MaxPhaseReached
	if target.Ordinal() > phase.ID(maxReached).Ordinal() {
		maxReached = string(target)
	}
	nowStr := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return eng, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePhaseTx(ctx, tx, tenantID, id, string(target), visited, maxReached, nowStr); err != nil {
		return eng, err
	}
	if err := e.Events.Append(ctx, tx, "engagement.phase_changed", tenantID, id, "engagement", id, userID, events.EventPayload{"from": eng.CurrentPhase, "to": string(target)}); err != nil {
		return eng, err
	}
	if err := tx.Commit(); err != nil {
		return eng, err
	}
	eng.CurrentPhase = string(target)
	eng.VisitedPhases = visited
	eng.MaxPhaseReached = maxReached
	eng.UpdatedAt = nowStr
	return eng, nil
}

// PlanningSaveOptions carries the planning-phase draft fields.
type PlanningSaveOptions struct {
	Objectives     []string
	Scope          string
	Methodology    string
	Criteria       []string
	Resources      []domain.Resource
	Schedule       []domain.ScheduleItem
	BudgetEstimate float64
	UserID         string
}

// SavePlanning writes the planning draft and recomputes the planning
// completeness in the same transaction.
func (e Engine) SavePlanning(ctx context.Context, tenantID, id string, opts PlanningSaveOptions) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, tenantID, id)
	if err != nil {
		return eng, err
	}
	eng.Objectives = opts.Objectives
	eng.Scope = opts.Scope
	eng.Methodology = opts.Methodology
	eng.Criteria = opts.Criteria
	eng.Resources = opts.Resources
	eng.Schedule = opts.Schedule
	eng.BudgetEstimate = opts.BudgetEstimate
	eng.PlanningCompleteness = phase.PlanningScore(eng)
	eng.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return eng, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePlanningTx(ctx, tx, eng); err != nil {
		return eng, err
	}
	if err := e.Events.Append(ctx, tx, "engagement.planning_saved", tenantID, id, "engagement", id, opts.UserID, events.EventPayload{"completeness": eng.PlanningCompleteness}); err != nil {
		return eng, err
	}
	if err := tx.Commit(); err != nil {
		return eng, err
	}
	return eng, nil
}

// ExecutionSaveOptions carries the execution-phase flags.
type ExecutionSaveOptions struct {
	AnalysisConcluded  bool
	ClassificationDone bool
	UserID             string
}

// SaveExecution writes the execution flags and recomputes the execution
// completeness from the current work program.
func (e Engine) SaveExecution(ctx context.Context, tenantID, id string, opts ExecutionSaveOptions) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, tenantID, id)
	if err != nil {
		return eng, err
	}
	items, err := e.Repo.ListWorkItems(ctx, tenantID, id)
	if err != nil {
		return eng, err
	}
	findingCount, err := e.Repo.CountFindings(ctx, tenantID, id)
	if err != nil {
		return eng, err
	}
	eng.AnalysisConcluded = opts.AnalysisConcluded
	eng.ClassificationDone = opts.ClassificationDone
	eng.ExecutionCompleteness = phase.ExecutionScore(items, findingCount, eng)
	eng.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return eng, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateExecutionTx(ctx, tx, eng); err != nil {
		return eng, err
	}
	if err := e.Events.Append(ctx, tx, "engagement.execution_saved", tenantID, id, "engagement", id, opts.UserID, events.EventPayload{"completeness": eng.ExecutionCompleteness}); err != nil {
		return eng, err
	}
	if err := tx.Commit(); err != nil {
		return eng, err
	}
	return eng, nil
}

// PhaseProgress returns the effective completeness per phase: the stored
// value, or the freshly computed one where nothing has been stored yet.
func (e Engine) PhaseProgress(ctx context.Context, tenantID, id string) (map[phase.ID]int, error) {
	stored, err := e.Repo.PhaseCompleteness(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return e.EffectiveProgress(ctx, tenantID, id, stored)
}

// EffectiveProgress merges caller-supplied stored values, typically a
// progress.Tracker snapshot, with freshly computed scores.
func (e Engine) EffectiveProgress(ctx context.Context, tenantID, id string, stored map[phase.ID]int) (map[phase.ID]int, error) {
	eng, err := e.Repo.GetEngagement(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	items, err := e.Repo.ListWorkItems(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	findings, err := e.Repo.ListFindings(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	plans, err := e.Repo.ListActionPlans(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	reports, err := e.Repo.ListReports(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return map[phase.ID]int{
		phase.Planning:  phase.Effective(stored[phase.Planning], phase.PlanningScore(eng)),
		phase.Execution: phase.Effective(stored[phase.Execution], phase.ExecutionScore(items, len(findings), eng)),
		phase.Findings:  phase.Effective(stored[phase.Findings], phase.FindingsScore(findings)),
		phase.Reporting: phase.Effective(stored[phase.Reporting], phase.ReportingScore(reports)),
		phase.Followup:  phase.Effective(stored[phase.Followup], phase.FollowupScore(plans)),
	}, nil
}

func containsPhase(list []string, p string) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
