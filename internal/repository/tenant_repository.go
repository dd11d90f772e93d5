package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
)

const tenantColumns = `id, name, display_name, active, storage_quota_bytes, storage_used_bytes,
	max_users, plan, plan_expires_at, settings, language, timezone, country,
	custom_domain, subdomain, sso_provider, sso_metadata_url,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, version`

// PostgresTenantRepository implements domain.TenantRepository using PostgreSQL
type PostgresTenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
	opts   []domain.Option
}

// NewPostgresTenantRepository creates a new tenant repository. opts are applied
// to every rehydrated tenant.
func NewPostgresTenantRepository(db *sql.DB, logger *slog.Logger, opts ...domain.Option) *PostgresTenantRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTenantRepository{db: db, logger: logger, opts: opts}
}

// Create inserts a new tenant
func (r *PostgresTenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	args, err := tenantArgs(tenant.Record())
	if err != nil {
		return err
	}
	query := `INSERT INTO tenants (` + tenantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: tenant %s", domain.ErrDuplicate, tenant.ID())
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by ID
func (r *PostgresTenantRepository) GetByID(ctx context.Context, id string, opts ...domain.QueryOption) (*domain.Tenant, error) {
	o := domain.ApplyQueryOptions(opts)
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1` + notDeleted(o.IncludeDeleted)
	return r.getOne(ctx, "get tenant", query, id)
}

// GetByName retrieves a live tenant by name, ignoring case
func (r *PostgresTenantRepository) GetByName(ctx context.Context, name string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE lower(name) = lower($1) AND deleted_at IS NULL`
	return r.getOne(ctx, "get tenant by name", query, name)
}

// GetByHost retrieves the live tenant owning a custom domain or subdomain
func (r *PostgresTenantRepository) GetByHost(ctx context.Context, kind domain.DomainKind, host string) (*domain.Tenant, error) {
	var column string
	switch kind {
	case domain.DomainKindCustom:
		column = "custom_domain"
	case domain.DomainKindSubdomain:
		column = "subdomain"
	default:
		return nil, fmt.Errorf("%w: unknown domain kind %q", domain.ErrInvalidArgument, kind)
	}
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE ` + column + ` = lower($1) AND deleted_at IS NULL`
	return r.getOne(ctx, "get tenant by host", query, host)
}

// ListActive lists active, live tenants ordered by name
func (r *PostgresTenantRepository) ListActive(ctx context.Context) ([]*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE active AND deleted_at IS NULL ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []*domain.Tenant{}
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}

// Update writes every column of tenant
func (r *PostgresTenantRepository) Update(ctx context.Context, tenant *domain.Tenant) error {
	args, err := tenantArgs(tenant.Record())
	if err != nil {
		return err
	}
	query := `UPDATE tenants SET
		name = $2, display_name = $3, active = $4, storage_quota_bytes = $5, storage_used_bytes = $6,
		max_users = $7, plan = $8, plan_expires_at = $9, settings = $10, language = $11,
		timezone = $12, country = $13, custom_domain = $14, subdomain = $15, sso_provider = $16,
		sso_metadata_url = $17, created_at = $18, created_by = $19, updated_at = $20,
		updated_by = $21, deleted_at = $22, deleted_by = $23,
		version = version + 1
		WHERE id = $1 AND version = $24`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: tenant %s conflicts on name or host", domain.ErrDuplicate, tenant.ID())
		}
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if err := expectVersion(res, "tenant", tenant.ID(), tenant.Version()); err != nil {
		return err
	}
	tenant.SetVersion(tenant.Version() + 1)
	return nil
}

// Exists reports whether a live tenant has the given ID
func (r *PostgresTenantRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1 AND deleted_at IS NULL)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant: %w", err)
	}
	return exists, nil
}

func (r *PostgresTenantRepository) getOne(ctx context.Context, op, query string, args ...any) (*domain.Tenant, error) {
	t, err := r.scan(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tenant %v", domain.ErrNotFound, args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return t, nil
}

func (r *PostgresTenantRepository) scan(row rowScanner) (*domain.Tenant, error) {
	var rec domain.TenantRecord
	var settings []byte
	var customDomain, subdomain, ssoProvider, ssoURL sql.NullString
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.DisplayName, &rec.Active, &rec.StorageQuotaBytes, &rec.StorageUsedBytes,
		&rec.MaxUsers, &rec.Plan, &rec.PlanExpiresAt, &settings, &rec.Language, &rec.Timezone, &rec.Country,
		&customDomain, &subdomain, &ssoProvider, &ssoURL,
		&rec.CreatedAt, &rec.CreatedBy, &rec.UpdatedAt, &rec.UpdatedBy, &rec.DeletedAt, &rec.DeletedBy, &rec.Version,
	)
	if err != nil {
		return nil, err
	}

	rec.TenantID = rec.ID
	rec.CustomDomain = customDomain.String
	rec.Subdomain = subdomain.String
	if ssoProvider.Valid {
		rec.SSO = &domain.SSOConfig{Provider: ssoProvider.String, MetadataURL: ssoURL.String}
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &rec.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings of tenant %s: %w", rec.ID, err)
		}
	}

	t, err := domain.RehydrateTenant(rec, r.opts...)
	if err != nil {
		r.logger.Error("stored tenant violates domain rules",
			slog.String("tenant_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to load tenant %s: %w", rec.ID, err)
	}
	return t, nil
}

func tenantArgs(rec domain.TenantRecord) ([]any, error) {
	settings := rec.Settings
	if settings == nil {
		settings = map[string]string{}
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	var ssoProvider, ssoURL sql.NullString
	if rec.SSO != nil {
		ssoProvider = nullString(rec.SSO.Provider)
		ssoURL = nullString(rec.SSO.MetadataURL)
	}
	return []any{
		rec.ID, rec.Name, rec.DisplayName, rec.Active, rec.StorageQuotaBytes, rec.StorageUsedBytes,
		rec.MaxUsers, rec.Plan, rec.PlanExpiresAt, string(settingsJSON), rec.Language, rec.Timezone, rec.Country,
		nullString(rec.CustomDomain), nullString(rec.Subdomain), ssoProvider, ssoURL,
		rec.CreatedAt, rec.CreatedBy, rec.UpdatedAt, rec.UpdatedBy, rec.DeletedAt, rec.DeletedBy, rec.Version,
	}, nil
}
