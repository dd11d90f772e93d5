package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
)

const productColumns = `id, tenant_id, name, description, price, sku, active, stock, category, tags,
	weight, dimensions, min_stock, max_stock, featured, view_count, last_viewed_at,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, version`

// PostgresProductRepository implements domain.ProductRepository using PostgreSQL
type PostgresProductRepository struct {
	db     *sql.DB
	logger *slog.Logger
	opts   []domain.Option
}

// NewPostgresProductRepository creates a new product repository
func NewPostgresProductRepository(db *sql.DB, logger *slog.Logger, opts ...domain.Option) *PostgresProductRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresProductRepository{db: db, logger: logger, opts: opts}
}

func (r *PostgresProductRepository) GetByID(ctx context.Context, id string, opts ...domain.QueryOption) (*domain.Product, error) {
	o := domain.ApplyQueryOptions(opts)
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1` + notDeleted(o.IncludeDeleted)
	p, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (r *PostgresProductRepository) GetAll(ctx context.Context, tenantID string) ([]*domain.Product, error) {
	return r.list(ctx, `WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at, id`, tenantID)
}

func (r *PostgresProductRepository) Find(ctx context.Context, tenantID string, pred func(*domain.Product) bool) ([]*domain.Product, error) {
	all, err := r.GetAll(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return filter(all, pred), nil
}

// ListActive lists live, active products of a tenant ordered by name
func (r *PostgresProductRepository) ListActive(ctx context.Context, tenantID string) ([]*domain.Product, error) {
	return r.list(ctx, `WHERE tenant_id = $1 AND active AND deleted_at IS NULL ORDER BY name, id`, tenantID)
}

// Search matches term against name, description, SKU and tags, ignoring case
func (r *PostgresProductRepository) Search(ctx context.Context, tenantID, term string) ([]*domain.Product, error) {
	return r.list(ctx, `WHERE tenant_id = $1 AND deleted_at IS NULL AND (
			name ILIKE $2 OR description ILIKE $2 OR sku ILIKE $2
			OR EXISTS (SELECT 1 FROM unnest(tags) AS tag WHERE tag ILIKE $2)
		) ORDER BY name, id`, tenantID, likePattern(term))
}

func (r *PostgresProductRepository) ExistsBySKU(ctx context.Context, tenantID, sku string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE tenant_id = $1 AND sku = $2 AND deleted_at IS NULL)`,
		tenantID, sku,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check sku: %w", err)
	}
	return exists, nil
}

func (r *PostgresProductRepository) Add(ctx context.Context, p *domain.Product) error {
	args, err := productArgs(p.Record())
	if err != nil {
		return err
	}
	query := `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: product %s or its SKU already exists", domain.ErrDuplicate, p.ID())
		}
		return fmt.Errorf("failed to add product: %w", err)
	}
	return nil
}

func (r *PostgresProductRepository) Update(ctx context.Context, p *domain.Product) error {
	args, err := productArgs(p.Record())
	if err != nil {
		return err
	}
	query := `UPDATE products SET
		tenant_id = $2, name = $3, description = $4, price = $5, sku = $6, active = $7, stock = $8,
		category = $9, tags = $10, weight = $11, dimensions = $12, min_stock = $13, max_stock = $14,
		featured = $15, view_count = $16, last_viewed_at = $17, created_at = $18, created_by = $19,
		updated_at = $20, updated_by = $21, deleted_at = $22, deleted_by = $23,
		version = version + 1
		WHERE id = $1 AND version = $24`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sku %s is taken", domain.ErrDuplicate, p.SKU())
		}
		return fmt.Errorf("failed to update product: %w", err)
	}
	if err := expectVersion(res, "product", p.ID(), p.Version()); err != nil {
		return err
	}
	p.SetVersion(p.Version() + 1)
	return nil
}

// Delete persists a soft delete applied with MarkDeleted
func (r *PostgresProductRepository) Delete(ctx context.Context, p *domain.Product) error {
	if !p.IsDeleted() {
		return fmt.Errorf("%w: product %s is not marked deleted", domain.ErrInvalidState, p.ID())
	}
	return r.Update(ctx, p)
}

func (r *PostgresProductRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND deleted_at IS NULL)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check product: %w", err)
	}
	return exists, nil
}

func (r *PostgresProductRepository) Count(ctx context.Context, tenantID string, pred func(*domain.Product) bool) (int, error) {
	if pred == nil {
		var n int
		err := r.db.QueryRowContext(ctx,
			`SELECT count(*) FROM products WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID,
		).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count products: %w", err)
		}
		return n, nil
	}
	found, err := r.Find(ctx, tenantID, pred)
	if err != nil {
		return 0, err
	}
	return len(found), nil
}

func (r *PostgresProductRepository) list(ctx context.Context, where string, args ...any) ([]*domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (r *PostgresProductRepository) scan(row rowScanner) (*domain.Product, error) {
	var rec domain.ProductRecord
	var sku sql.NullString
	var dims []byte
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Name, &rec.Description, &rec.Price, &sku, &rec.Active, &rec.Stock,
		&rec.Category, pq.Array(&rec.Tags), &rec.Weight, &dims, &rec.MinStock, &rec.MaxStock,
		&rec.Featured, &rec.ViewCount, &rec.LastViewedAt,
		&rec.CreatedAt, &rec.CreatedBy, &rec.UpdatedAt, &rec.UpdatedBy, &rec.DeletedAt, &rec.DeletedBy, &rec.Version,
	)
	if err != nil {
		return nil, err
	}

	rec.SKU = sku.String
	if len(dims) > 0 {
		rec.Dimensions = &domain.Dimensions{}
		if err := json.Unmarshal(dims, rec.Dimensions); err != nil {
			return nil, fmt.Errorf("failed to decode dimensions of product %s: %w", rec.ID, err)
		}
	}

	p, err := domain.RehydrateProduct(rec, r.opts...)
	if err != nil {
		r.logger.Error("stored product violates domain rules",
			slog.String("product_id", rec.ID),
			slog.String("tenant_id", rec.TenantID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to load product %s: %w", rec.ID, err)
	}
	return p, nil
}

func productArgs(rec domain.ProductRecord) ([]any, error) {
	var dims sql.NullString
	if rec.Dimensions != nil {
		b, err := json.Marshal(rec.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to encode dimensions: %w", err)
		}
		dims = nullString(string(b))
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		rec.ID, rec.TenantID, rec.Name, rec.Description, rec.Price, nullString(rec.SKU), rec.Active, rec.Stock,
		rec.Category, pq.Array(tags), rec.Weight, dims, rec.MinStock, rec.MaxStock,
		rec.Featured, rec.ViewCount, rec.LastViewedAt,
		rec.CreatedAt, rec.CreatedBy, rec.UpdatedAt, rec.UpdatedBy, rec.DeletedAt, rec.DeletedBy, rec.Version,
	}, nil
}
