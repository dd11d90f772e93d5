package domain

import "context"

// QueryOption adjusts repository reads.
type QueryOption func(*QueryOptions)

// QueryOptions is the resolved form of a set of QueryOption values.
type QueryOptions struct {
	IncludeDeleted bool
}

// IncludeDeleted makes soft-deleted rows visible to the read.
func IncludeDeleted() QueryOption {
	return func(o *QueryOptions) { o.IncludeDeleted = true }
}

// ApplyQueryOptions resolves opts for repository implementations.
func ApplyQueryOptions(opts []QueryOption) QueryOptions {
	var o QueryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Repository is the persistence contract shared by tenant-scoped aggregates.
// Soft-deleted entities are hidden from every read unless IncludeDeleted is
// passed. GetByID returns ErrNotFound for unknown ids; Add returns ErrDuplicate
// for ids that already exist. Delete persists a soft delete that the caller has
// applied with MarkDeleted.
type Repository[T any] interface {
	GetByID(ctx context.Context, id string, opts ...QueryOption) (T, error)
	GetAll(ctx context.Context, tenantID string) ([]T, error)
	Find(ctx context.Context, tenantID string, pred func(T) bool) ([]T, error)
	Add(ctx context.Context, entity T) error
	Update(ctx context.Context, entity T) error
	Delete(ctx context.Context, entity T) error
	Exists(ctx context.Context, id string) (bool, error)
	// Count counts matching entities; a nil pred counts all of them.
	Count(ctx context.Context, tenantID string, pred func(T) bool) (int, error)
}

type ProductRepository interface {
	Repository[*Product]
	ListActive(ctx context.Context, tenantID string) ([]*Product, error)
	// Search matches term case-insensitively against name, description, SKU
	// and tags.
	Search(ctx context.Context, tenantID, term string) ([]*Product, error)
	ExistsBySKU(ctx context.Context, tenantID, sku string) (bool, error)
}

// TenantRepository stores tenants. Tenants are not tenant-scoped themselves,
// so the contract is separate from Repository.
type TenantRepository interface {
	GetByID(ctx context.Context, id string, opts ...QueryOption) (*Tenant, error)
	GetByName(ctx context.Context, name string) (*Tenant, error)
	// GetByHost finds the tenant owning a custom domain or subdomain.
	GetByHost(ctx context.Context, kind DomainKind, host string) (*Tenant, error)
	ListActive(ctx context.Context) ([]*Tenant, error)
	Create(ctx context.Context, tenant *Tenant) error
	Update(ctx context.Context, tenant *Tenant) error
	Exists(ctx context.Context, id string) (bool, error)
}

type UserRepository interface {
	Repository[*User]
	GetByEmail(ctx context.Context, tenantID, email string) (*User, error)
}

// DomainKind distinguishes the two host-based tenant lookups.
type DomainKind string

const (
	DomainKindCustom    DomainKind = "domain"
	DomainKindSubdomain DomainKind = "subdomain"
)

// TenantDomainIndex maps custom domains and subdomains to tenant ids.
// Resolve returns ErrNotFound for unbound hosts; Bind returns ErrDuplicate when
// the host belongs to another tenant. Unbind only releases hosts still bound to
// tenantID.
type TenantDomainIndex interface {
	Bind(ctx context.Context, kind DomainKind, host, tenantID string) error
	Resolve(ctx context.Context, kind DomainKind, host string) (string, error)
	Unbind(ctx context.Context, kind DomainKind, host, tenantID string) error
}
