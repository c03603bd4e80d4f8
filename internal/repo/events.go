package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"auditline/internal/domain"
)

const eventColumns = `id,ts,type,tenant_id,engagement_id,entity_kind,entity_id,user_id,payload_json`

func (r Repo) LatestEvents(ctx context.Context, tenantID string, limit int, engagementID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, tenantID, limit, 0, engagementID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, tenantID string, limit int, cursor int64, engagementID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{tenantID}
	if engagementID != "" {
		clauses = append(clauses, "engagement_id=?")
		args = append(args, engagementID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT `+eventColumns+` FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, tenantID string, limit int, cursor int64, engagementID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"tenant_id=?"}
	args := []any{tenantID}
	if engagementID != "" {
		clauses = append(clauses, "engagement_id=?")
		args = append(args, engagementID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT `+eventColumns+` FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID for a tenant.
func (r Repo) LatestEventID(ctx context.Context, tenantID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE tenant_id=?`, tenantID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var engagementID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TenantID, &engagementID, &e.EntityKind, &entityID, &e.UserID, &payload); err != nil {
			return nil, err
		}
		e.EngagementID = stringValue(engagementID)
		e.EntityID = stringValue(entityID)
		e.Payload = stringValue(payload)
		res = append(res, e)
	}
	return res, rows.Err()
}
