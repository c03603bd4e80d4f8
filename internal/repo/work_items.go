package repo

import (
	"context"
	"database/sql"

	"auditline/internal/domain"
)

// Work items belong to an engagement; tenant scoping goes through the
// engagement row.
const workItemScope = `engagement_id IN (SELECT id FROM engagements WHERE tenant_id=?)`

func (r Repo) InsertWorkItemTx(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_items(id,engagement_id,code,title,status,owner,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		w.ID, w.EngagementID, nullable(w.Code), w.Title, w.Status, nullable(w.Owner), w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorkItem(ctx context.Context, tenantID, id string) (domain.WorkItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,engagement_id,code,title,status,owner,created_at,updated_at FROM work_items WHERE id=? AND `+workItemScope, id, tenantID)
	return scanWorkItem(row)
}

func (r Repo) ListWorkItems(ctx context.Context, tenantID, engagementID string) ([]domain.WorkItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,engagement_id,code,title,status,owner,created_at,updated_at FROM work_items WHERE engagement_id=? AND `+workItemScope+` ORDER BY created_at, id`, engagementID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) UpdateWorkItemStatusTx(ctx context.Context, tx *sql.Tx, tenantID, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET status=?, updated_at=? WHERE id=? AND `+workItemScope, status, updatedAt, id, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanWorkItem(row scanner) (domain.WorkItem, error) {
	var w domain.WorkItem
	var code, owner sql.NullString
	err := row.Scan(&w.ID, &w.EngagementID, &code, &w.Title, &w.Status, &owner, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Code = stringValue(code)
	w.Owner = stringValue(owner)
	return w, nil
}
