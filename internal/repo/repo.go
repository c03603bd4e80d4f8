package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"auditline/internal/domain"
	"auditline/internal/phase"
)

// Repo is the persistence gateway. Every engagement-scoped query includes the
// tenant id in its predicate; rows without a tenant column are scoped through
// their engagement.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) EnsureTenant(ctx context.Context, tx *sql.Tx, tenantID, name, now string) error {
	if name == "" {
		name = tenantID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tenants(id, name, created_at) VALUES (?,?,?)`, tenantID, name, now)
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, created_at FROM tenants WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

const engagementColumns = `id,tenant_id,code,title,description,status,current_phase,visited_phases_json,max_phase_reached,
planning_completeness,execution_completeness,findings_completeness,reporting_completeness,followup_completeness,
lead_auditor,start_date,expected_end_date,priority,audited_area,audit_type,
objectives_json,scope,methodology,criteria_json,resources_json,schedule_json,budget_estimate,
analysis_concluded,classification_done,created_at,updated_at`

func scanEngagement(row scanner) (domain.Engagement, error) {
	var e domain.Engagement
	var description, leadAuditor, startDate, expectedEnd, auditedArea, auditType sql.NullString
	var visitedJSON string
	var objectivesJSON, scope, methodology, criteriaJSON, resourcesJSON, scheduleJSON sql.NullString
	var analysisConcluded, classificationDone int
	err := row.Scan(
		&e.ID, &e.TenantID, &e.Code, &e.Title, &description, &e.Status, &e.CurrentPhase, &visitedJSON, &e.MaxPhaseReached,
		&e.PlanningCompleteness, &e.ExecutionCompleteness, &e.FindingsCompleteness, &e.ReportingCompleteness, &e.FollowupCompleteness,
		&leadAuditor, &startDate, &expectedEnd, &e.Priority, &auditedArea, &auditType,
		&objectivesJSON, &scope, &methodology, &criteriaJSON, &resourcesJSON, &scheduleJSON, &e.BudgetEstimate,
		&analysisConcluded, &classificationDone, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Description = stringValue(description)
	e.LeadAuditor = stringValue(leadAuditor)
	e.StartDate = stringValue(startDate)
	e.ExpectedEndDate = stringValue(expectedEnd)
	e.AuditedArea = stringValue(auditedArea)
	e.AuditType = stringValue(auditType)
	e.Scope = stringValue(scope)
	e.Methodology = stringValue(methodology)
	e.AnalysisConcluded = analysisConcluded != 0
	e.ClassificationDone = classificationDone != 0
	if err := json.Unmarshal([]byte(visitedJSON), &e.VisitedPhases); err != nil {
		return e, fmt.Errorf("decode visited phases: %w", err)
	}
	if err := decodeJSON(objectivesJSON, &e.Objectives); err != nil {
		return e, err
	}
	if err := decodeJSON(criteriaJSON, &e.Criteria); err != nil {
		return e, err
	}
	if err := decodeJSON(resourcesJSON, &e.Resources); err != nil {
		return e, err
	}
	if err := decodeJSON(scheduleJSON, &e.Schedule); err != nil {
		return e, err
	}
	return e, nil
}

func (r Repo) InsertEngagementTx(ctx context.Context, tx *sql.Tx, e domain.Engagement) error {
	visited, err := encodeJSON(e.VisitedPhases)
	if err != nil {
		return err
	}
	if visited == nil {
		visited = `["planning"]`
	}
	objectives, err := encodeJSON(e.Objectives)
	if err != nil {
		return err
	}
	criteria, err := encodeJSON(e.Criteria)
	if err != nil {
		return err
	}
	resources, err := encodeJSON(e.Resources)
	if err != nil {
		return err
	}
	schedule, err := encodeJSON(e.Schedule)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO engagements(`+engagementColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TenantID, e.Code, e.Title, nullable(e.Description), e.Status, e.CurrentPhase, visited, e.MaxPhaseReached,
		e.PlanningCompleteness, e.ExecutionCompleteness, e.FindingsCompleteness, e.ReportingCompleteness, e.FollowupCompleteness,
		nullable(e.LeadAuditor), nullable(e.StartDate), nullable(e.ExpectedEndDate), e.Priority, nullable(e.AuditedArea), nullable(e.AuditType),
		objectives, nullable(e.Scope), nullable(e.Methodology), criteria, resources, schedule, e.BudgetEstimate,
		boolInt(e.AnalysisConcluded), boolInt(e.ClassificationDone), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) GetEngagement(ctx context.Context, tenantID, id string) (domain.Engagement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+engagementColumns+` FROM engagements WHERE id=? AND tenant_id=?`, id, tenantID)
	return scanEngagement(row)
}

type EngagementFilters struct {
	Status string
	Phase  string
	Limit  int
}

func (r Repo) ListEngagements(ctx context.Context, tenantID string, f EngagementFilters) ([]domain.Engagement, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{tenantID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Phase != "" {
		clauses = append(clauses, "current_phase=?")
		args = append(args, f.Phase)
	}
	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// UpdatePlanningTx writes the planning draft fields plus the planning
// completeness in one statement.
func (r Repo) UpdatePlanningTx(ctx context.Context, tx *sql.Tx, e domain.Engagement) error {
	objectives, err := encodeJSON(e.Objectives)
	if err != nil {
		return err
	}
	criteria, err := encodeJSON(e.Criteria)
	if err != nil {
		return err
	}
	resources, err := encodeJSON(e.Resources)
	if err != nil {
		return err
	}
	schedule, err := encodeJSON(e.Schedule)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE engagements SET objectives_json=?, scope=?, methodology=?, criteria_json=?, resources_json=?, schedule_json=?, budget_estimate=?, planning_completeness=?, updated_at=? WHERE id=? AND tenant_id=?`,
		objectives, nullable(e.Scope), nullable(e.Methodology), criteria, resources, schedule, e.BudgetEstimate,
		e.PlanningCompleteness, e.UpdatedAt, e.ID, e.TenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateExecutionTx writes the execution flags plus the execution
// completeness.
func (r Repo) UpdateExecutionTx(ctx context.Context, tx *sql.Tx, e domain.Engagement) error {
	res, err := tx.ExecContext(ctx, `UPDATE engagements SET analysis_concluded=?, classification_done=?, execution_completeness=?, updated_at=? WHERE id=? AND tenant_id=?`,
		boolInt(e.AnalysisConcluded), boolInt(e.ClassificationDone), e.ExecutionCompleteness, e.UpdatedAt, e.ID, e.TenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdatePhaseTx persists an accepted phase transition.
func (r Repo) UpdatePhaseTx(ctx context.Context, tx *sql.Tx, tenantID, id, current string, visited []string, maxReached, updatedAt string) error {
	visitedJSON, err := json.Marshal(visited)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE engagements SET current_phase=?, visited_phases_json=?, max_phase_reached=?, updated_at=? WHERE id=? AND tenant_id=?`,
		current, string(visitedJSON), maxReached, updatedAt, id, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetPhaseCompletenessTx persists one phase's completeness value.
func (r Repo) SetPhaseCompletenessTx(ctx context.Context, tx *sql.Tx, tenantID, id string, p phase.ID, value int, updatedAt string) error {
	column, ok := completenessColumns[p]
	if !ok {
		return fmt.Errorf("%w: %q", phase.ErrUnknownPhase, p)
	}
	res, err := tx.ExecContext(ctx, `UPDATE engagements SET `+column+`=?, updated_at=? WHERE id=? AND tenant_id=?`,
		value, updatedAt, id, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

var completenessColumns = map[phase.ID]string{
	phase.Planning:  "planning_completeness",
	phase.Execution: "execution_completeness",
	phase.Findings:  "findings_completeness",
	phase.Reporting: "reporting_completeness",
	phase.Followup:  "followup_completeness",
}

// PhaseCompleteness reads the five persisted completeness values. Implements
// the progress.Fetcher contract.
func (r Repo) PhaseCompleteness(ctx context.Context, tenantID, id string) (map[phase.ID]int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT planning_completeness,execution_completeness,findings_completeness,reporting_completeness,followup_completeness FROM engagements WHERE id=? AND tenant_id=?`, id, tenantID)
	var planning, execution, findings, reporting, followup int
	err := row.Scan(&planning, &execution, &findings, &reporting, &followup)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return map[phase.ID]int{
		phase.Planning:  planning,
		phase.Execution: execution,
		phase.Findings:  findings,
		phase.Reporting: reporting,
		phase.Followup:  followup,
	}, nil
}

func (r Repo) UpdateEngagementMeta(ctx context.Context, tenantID, id string, title, description, leadAuditor, priority *string, updatedAt string) error {
	var fields []string
	var args []any
	if title != nil {
		fields = append(fields, "title=?")
		args = append(args, *title)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if leadAuditor != nil {
		fields = append(fields, "lead_auditor=?")
		args = append(args, nullable(*leadAuditor))
	}
	if priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *priority)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id, tenantID)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE engagements SET %s WHERE id=? AND tenant_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteEngagement is an administrative operation, not part of the workflow
// subsystem.
func (r Repo) DeleteEngagement(ctx context.Context, tenantID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM engagements WHERE id=? AND tenant_id=?`, id, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- helpers ---

func requireRow(res sql.Result) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeJSON marshals slices/structs into a column value, nil for empties.
func encodeJSON(v any) (any, error) {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case []domain.Resource:
		if len(t) == 0 {
			return nil, nil
		}
	case []domain.ScheduleItem:
		if len(t) == 0 {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSON(col sql.NullString, out any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), out)
}

func stringValue(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}
