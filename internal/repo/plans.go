package repo

import (
	"context"
	"database/sql"

	"auditline/internal/domain"
)

const planScope = `engagement_id IN (SELECT id FROM engagements WHERE tenant_id=?)`

const planColumns = `id,engagement_id,finding_id,code,title,description,responsible,deadline,status,priority,progress,start_date,completion_date,evidence,notes,implementation_cost,created_at,updated_at`

func (r Repo) InsertActionPlanTx(ctx context.Context, tx *sql.Tx, p domain.ActionPlan) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO action_plans(`+planColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.EngagementID, p.FindingID, nullable(p.Code), p.Title, nullable(p.Description),
		nullable(p.Responsible), nullable(p.Deadline), p.Status, p.Priority, p.Progress,
		nullableStringPtr(p.StartDate), nullableStringPtr(p.CompletionDate),
		nullable(p.Evidence), nullable(p.Notes), nullableFloatPtr(p.ImplementationCost),
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetActionPlan(ctx context.Context, tenantID, id string) (domain.ActionPlan, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM action_plans WHERE id=? AND `+planScope, id, tenantID)
	return scanActionPlan(row)
}

func (r Repo) ListActionPlans(ctx context.Context, tenantID, engagementID string) ([]domain.ActionPlan, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+planColumns+` FROM action_plans WHERE engagement_id=? AND `+planScope+` ORDER BY created_at, id`, engagementID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionPlan
	for rows.Next() {
		p, err := scanActionPlan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ListActionPlansByFinding(ctx context.Context, tenantID, findingID string) ([]domain.ActionPlan, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+planColumns+` FROM action_plans WHERE finding_id=? AND `+planScope+` ORDER BY created_at, id`, findingID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionPlan
	for rows.Next() {
		p, err := scanActionPlan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateActionPlanTx(ctx context.Context, tx *sql.Tx, tenantID string, p domain.ActionPlan) error {
	res, err := tx.ExecContext(ctx, `UPDATE action_plans SET code=?, title=?, description=?, responsible=?, deadline=?, status=?, priority=?, progress=?, start_date=?, completion_date=?, evidence=?, notes=?, implementation_cost=?, updated_at=? WHERE id=? AND `+planScope,
		nullable(p.Code), p.Title, nullable(p.Description), nullable(p.Responsible), nullable(p.Deadline),
		p.Status, p.Priority, p.Progress,
		nullableStringPtr(p.StartDate), nullableStringPtr(p.CompletionDate),
		nullable(p.Evidence), nullable(p.Notes), nullableFloatPtr(p.ImplementationCost),
		p.UpdatedAt, p.ID, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanActionPlan(row scanner) (domain.ActionPlan, error) {
	var p domain.ActionPlan
	var code, description, responsible, deadline, startDate, completionDate, evidence, notes sql.NullString
	var implementationCost sql.NullFloat64
	err := row.Scan(&p.ID, &p.EngagementID, &p.FindingID, &code, &p.Title, &description,
		&responsible, &deadline, &p.Status, &p.Priority, &p.Progress,
		&startDate, &completionDate, &evidence, &notes, &implementationCost,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Code = stringValue(code)
	p.Description = stringValue(description)
	p.Responsible = stringValue(responsible)
	p.Deadline = stringValue(deadline)
	p.Evidence = stringValue(evidence)
	p.Notes = stringValue(notes)
	if startDate.Valid {
		p.StartDate = &startDate.String
	}
	if completionDate.Valid {
		p.CompletionDate = &completionDate.String
	}
	if implementationCost.Valid {
		p.ImplementationCost = &implementationCost.Float64
	}
	return p, nil
}
