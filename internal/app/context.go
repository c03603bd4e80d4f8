package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"auditline/internal/config"
	"auditline/internal/repo"
)

// ResolveTenantAndConfig picks the active tenant and loads the workspace
// config, seeding a default config when none exists on disk. The tenant row
// is created on first use so engagement inserts always have a parent.
func ResolveTenantAndConfig(ctx context.Context, workspace, tenantOverride string, r repo.Repo) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	tenantID := strings.TrimSpace(tenantOverride)
	if tenantID == "" && cfg != nil {
		tenantID = cfg.Tenant.ID
	}
	if tenantID == "" {
		return "", nil, fmt.Errorf("tenant not specified; use --tenant or create %s", config.Path(workspace))
	}
	if cfg == nil {
		cfg = config.Default(tenantID)
	}
	cfg.Tenant.ID = tenantID
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback()
	if err := r.EnsureTenant(ctx, tx, tenantID, cfg.Tenant.Name, now); err != nil {
		return "", nil, fmt.Errorf("ensure tenant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", nil, err
	}
	return tenantID, cfg, nil
}
