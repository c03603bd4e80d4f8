package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"auditline/internal/domain"
)

const findingScope = `engagement_id IN (SELECT id FROM engagements WHERE tenant_id=?)`

const findingColumns = `id,engagement_id,code,title,description,criticality,category,status,root_cause,impact,recommendation,responsible_area,identification_date,communication_date,evidence_json,work_item_id,monetary_impact,likelihood,created_at,updated_at`

func (r Repo) InsertFindingTx(ctx context.Context, tx *sql.Tx, f domain.Finding) error {
	evidence, err := encodeJSON(f.Evidence)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO findings(`+findingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.EngagementID, nullable(f.Code), f.Title, nullable(f.Description), f.Criticality, nullable(f.Category), f.Status,
		nullable(f.RootCause), nullable(f.Impact), nullable(f.Recommendation), nullable(f.ResponsibleArea),
		nullable(f.IdentificationDate), nullableStringPtr(f.CommunicationDate), evidence,
		nullableStringPtr(f.WorkItemID), nullableFloatPtr(f.MonetaryImpact), nullable(f.Likelihood),
		f.CreatedAt, f.UpdatedAt)
	return err
}

func (r Repo) GetFinding(ctx context.Context, tenantID, id string) (domain.Finding, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+findingColumns+` FROM findings WHERE id=? AND `+findingScope, id, tenantID)
	return scanFinding(row)
}

func (r Repo) ListFindings(ctx context.Context, tenantID, engagementID string) ([]domain.Finding, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+findingColumns+` FROM findings WHERE engagement_id=? AND `+findingScope+` ORDER BY created_at, id`, engagementID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) UpdateFindingTx(ctx context.Context, tx *sql.Tx, tenantID string, f domain.Finding) error {
	evidence, err := encodeJSON(f.Evidence)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE findings SET code=?, title=?, description=?, criticality=?, category=?, status=?, root_cause=?, impact=?, recommendation=?, responsible_area=?, identification_date=?, communication_date=?, evidence_json=?, work_item_id=?, monetary_impact=?, likelihood=?, updated_at=? WHERE id=? AND `+findingScope,
		nullable(f.Code), f.Title, nullable(f.Description), f.Criticality, nullable(f.Category), f.Status,
		nullable(f.RootCause), nullable(f.Impact), nullable(f.Recommendation), nullable(f.ResponsibleArea),
		nullable(f.IdentificationDate), nullableStringPtr(f.CommunicationDate), evidence,
		nullableStringPtr(f.WorkItemID), nullableFloatPtr(f.MonetaryImpact), nullable(f.Likelihood),
		f.UpdatedAt, f.ID, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r Repo) CountFindings(ctx context.Context, tenantID, engagementID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM findings WHERE engagement_id=? AND `+findingScope, engagementID, tenantID).Scan(&n)
	return n, err
}

func scanFinding(row scanner) (domain.Finding, error) {
	var f domain.Finding
	var code, description, category, rootCause, impact, recommendation, responsibleArea sql.NullString
	var identificationDate, communicationDate, evidenceJSON, workItemID, likelihood sql.NullString
	var monetaryImpact sql.NullFloat64
	err := row.Scan(&f.ID, &f.EngagementID, &code, &f.Title, &description, &f.Criticality, &category, &f.Status,
		&rootCause, &impact, &recommendation, &responsibleArea,
		&identificationDate, &communicationDate, &evidenceJSON,
		&workItemID, &monetaryImpact, &likelihood,
		&f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	f.Code = stringValue(code)
	f.Description = stringValue(description)
	f.Category = stringValue(category)
	f.RootCause = stringValue(rootCause)
	f.Impact = stringValue(impact)
	f.Recommendation = stringValue(recommendation)
	f.ResponsibleArea = stringValue(responsibleArea)
	f.IdentificationDate = stringValue(identificationDate)
	f.Likelihood = stringValue(likelihood)
	if communicationDate.Valid {
		f.CommunicationDate = &communicationDate.String
	}
	if workItemID.Valid {
		f.WorkItemID = &workItemID.String
	}
	if monetaryImpact.Valid {
		f.MonetaryImpact = &monetaryImpact.Float64
	}
	if evidenceJSON.Valid && evidenceJSON.String != "" {
		if err := json.Unmarshal([]byte(evidenceJSON.String), &f.Evidence); err != nil {
			return f, err
		}
	}
	return f, nil
}
