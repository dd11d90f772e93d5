package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
)

const userColumns = `id, tenant_id, email, first_name, last_name, password_hash, active,
	last_login_at, last_activity_at, failed_login_attempts, locked_at, lockout_expires_at,
	lockout_manual, lockout_reason, language, timezone,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, version`

// PostgresUserRepository implements domain.UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db     *sql.DB
	logger *slog.Logger
	opts   []domain.Option
}

// NewPostgresUserRepository creates a new user repository
func NewPostgresUserRepository(db *sql.DB, logger *slog.Logger, opts ...domain.Option) *PostgresUserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresUserRepository{db: db, logger: logger, opts: opts}
}

// GetByID retrieves a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string, opts ...domain.QueryOption) (*domain.User, error) {
	o := domain.ApplyQueryOptions(opts)
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1` + notDeleted(o.IncludeDeleted)
	return r.getOne(ctx, "get user", query, id)
}

// GetByEmail retrieves a live user of a tenant by email
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, tenantID, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND email = lower($2) AND deleted_at IS NULL`
	return r.getOne(ctx, "get user by email", query, tenantID, email)
}

// GetAll lists the live users of a tenant
func (r *PostgresUserRepository) GetAll(ctx context.Context, tenantID string) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY email`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*domain.User{}
	for rows.Next() {
		u, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *PostgresUserRepository) Find(ctx context.Context, tenantID string, pred func(*domain.User) bool) ([]*domain.User, error) {
	all, err := r.GetAll(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return filter(all, pred), nil
}

// Add inserts a new user
func (r *PostgresUserRepository) Add(ctx context.Context, u *domain.User) error {
	query := `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
	if _, err := r.db.ExecContext(ctx, query, userArgs(u.Record())...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", domain.ErrDuplicate, u.Email())
		}
		return fmt.Errorf("failed to add user: %w", err)
	}
	return nil
}

// Update writes every column of u, including its tenant
func (r *PostgresUserRepository) Update(ctx context.Context, u *domain.User) error {
	query := `UPDATE users SET
		tenant_id = $2, email = $3, first_name = $4, last_name = $5, password_hash = $6, active = $7,
		last_login_at = $8, last_activity_at = $9, failed_login_attempts = $10, locked_at = $11,
		lockout_expires_at = $12, lockout_manual = $13, lockout_reason = $14, language = $15,
		timezone = $16, created_at = $17, created_by = $18, updated_at = $19, updated_by = $20,
		deleted_at = $21, deleted_by = $22,
		version = version + 1
		WHERE id = $1 AND version = $23`
	res, err := r.db.ExecContext(ctx, query, userArgs(u.Record())...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email %s is taken in tenant %s", domain.ErrDuplicate, u.Email(), u.TenantID())
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if err := expectVersion(res, "user", u.ID(), u.Version()); err != nil {
		return err
	}
	u.SetVersion(u.Version() + 1)
	return nil
}

// Delete persists a soft delete applied with MarkDeleted
func (r *PostgresUserRepository) Delete(ctx context.Context, u *domain.User) error {
	if !u.IsDeleted() {
		return fmt.Errorf("%w: user %s is not marked deleted", domain.ErrInvalidState, u.ID())
	}
	return r.Update(ctx, u)
}

func (r *PostgresUserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND deleted_at IS NULL)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

func (r *PostgresUserRepository) Count(ctx context.Context, tenantID string, pred func(*domain.User) bool) (int, error) {
	if pred == nil {
		var n int
		err := r.db.QueryRowContext(ctx,
			`SELECT count(*) FROM users WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID,
		).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count users: %w", err)
		}
		return n, nil
	}
	found, err := r.Find(ctx, tenantID, pred)
	if err != nil {
		return 0, err
	}
	return len(found), nil
}

func (r *PostgresUserRepository) getOne(ctx context.Context, op, query string, args ...any) (*domain.User, error) {
	u, err := r.scan(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %v", domain.ErrNotFound, args[len(args)-1])
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return u, nil
}

func (r *PostgresUserRepository) scan(row rowScanner) (*domain.User, error) {
	var rec domain.UserRecord
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Email, &rec.FirstName, &rec.LastName, &rec.PasswordHash, &rec.Active,
		&rec.LastLoginAt, &rec.LastActivityAt, &rec.FailedLoginAttempts, &rec.LockedAt, &rec.LockoutExpiresAt,
		&rec.LockoutManual, &rec.LockoutReason, &rec.Language, &rec.Timezone,
		&rec.CreatedAt, &rec.CreatedBy, &rec.UpdatedAt, &rec.UpdatedBy, &rec.DeletedAt, &rec.DeletedBy, &rec.Version,
	)
	if err != nil {
		return nil, err
	}

	u, err := domain.RehydrateUser(rec, r.opts...)
	if err != nil {
		r.logger.Error("stored user violates domain rules",
			slog.String("user_id", rec.ID),
			slog.String("tenant_id", rec.TenantID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to load user %s: %w", rec.ID, err)
	}
	return u, nil
}

func userArgs(rec domain.UserRecord) []any {
	return []any{
		rec.ID, rec.TenantID, rec.Email, rec.FirstName, rec.LastName, rec.PasswordHash, rec.Active,
		rec.LastLoginAt, rec.LastActivityAt, rec.FailedLoginAttempts, rec.LockedAt, rec.LockoutExpiresAt,
		rec.LockoutManual, rec.LockoutReason, rec.Language, rec.Timezone,
		rec.CreatedAt, rec.CreatedBy, rec.UpdatedAt, rec.UpdatedBy, rec.DeletedAt, rec.DeletedBy, rec.Version,
	}
}
