package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"auditline/internal/domain"
)

const reportColumns = `id,engagement_id,tenant_id,type,title,status,version,created_at,approved_at,approved_by,executive_summary,total_findings,critical_findings,compliance_score,recipients_json`

func (r Repo) InsertReportTx(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	recipients, err := encodeJSON(rep.Recipients)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO reports(`+reportColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.EngagementID, rep.TenantID, rep.Type, rep.Title, rep.Status, rep.Version, rep.CreatedAt,
		nullableStringPtr(rep.ApprovedAt), nullableStringPtr(rep.ApprovedBy), nullable(rep.ExecutiveSummary),
		rep.TotalFindings, rep.CriticalFindings, rep.ComplianceScore, recipients)
	return err
}

func (r Repo) GetReport(ctx context.Context, tenantID, id string) (domain.Report, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=? AND tenant_id=?`, id, tenantID)
	return scanReport(row)
}

func (r Repo) ListReports(ctx context.Context, tenantID, engagementID string) ([]domain.Report, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE engagement_id=? AND tenant_id=? ORDER BY created_at, id`, engagementID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

func (r Repo) UpdateReportTx(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	recipients, err := encodeJSON(rep.Recipients)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE reports SET title=?, status=?, version=?, approved_at=?, approved_by=?, executive_summary=?, total_findings=?, critical_findings=?, compliance_score=?, recipients_json=? WHERE id=? AND tenant_id=?`,
		rep.Title, rep.Status, rep.Version,
		nullableStringPtr(rep.ApprovedAt), nullableStringPtr(rep.ApprovedBy), nullable(rep.ExecutiveSummary),
		rep.TotalFindings, rep.CriticalFindings, rep.ComplianceScore, recipients,
		rep.ID, rep.TenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanReport(row scanner) (domain.Report, error) {
	var rep domain.Report
	var approvedAt, approvedBy, summary, recipientsJSON sql.NullString
	err := row.Scan(&rep.ID, &rep.EngagementID, &rep.TenantID, &rep.Type, &rep.Title, &rep.Status, &rep.Version, &rep.CreatedAt,
		&approvedAt, &approvedBy, &summary, &rep.TotalFindings, &rep.CriticalFindings, &rep.ComplianceScore, &recipientsJSON)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	if approvedAt.Valid {
		rep.ApprovedAt = &approvedAt.String
	}
	if approvedBy.Valid {
		rep.ApprovedBy = &approvedBy.String
	}
	rep.ExecutiveSummary = stringValue(summary)
	if recipientsJSON.Valid && recipientsJSON.String != "" {
		if err := json.Unmarshal([]byte(recipientsJSON.String), &rep.Recipients); err != nil {
			return rep, err
		}
	}
	return rep, nil
}
