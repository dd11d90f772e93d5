package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
)

// The fakes store records and rehydrate on every read so that services only
// see changes they persisted.

type memTenantRepo struct {
	clock     clockwork.Clock
	rows      map[string]domain.TenantRecord
	updateErr error
}

func newMemTenantRepo(clock clockwork.Clock) *memTenantRepo {
	return &memTenantRepo{clock: clock, rows: map[string]domain.TenantRecord{}}
}

func (m *memTenantRepo) load(rec domain.TenantRecord) *domain.Tenant {
	t, err := domain.RehydrateTenant(rec, domain.WithClock(m.clock))
	if err != nil {
		panic(err)
	}
	return t
}

func (m *memTenantRepo) GetByID(_ context.Context, id string, opts ...domain.QueryOption) (*domain.Tenant, error) {
	rec, ok := m.rows[strings.ToLower(strings.TrimSpace(id))]
	if !ok || (rec.DeletedAt != nil && !domain.ApplyQueryOptions(opts).IncludeDeleted) {
		return nil, domain.ErrNotFound
	}
	return m.load(rec), nil
}

func (m *memTenantRepo) GetByName(_ context.Context, name string) (*domain.Tenant, error) {
	for _, rec := range m.rows {
		if rec.DeletedAt == nil && strings.EqualFold(rec.Name, strings.TrimSpace(name)) {
			return m.load(rec), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memTenantRepo) GetByHost(_ context.Context, kind domain.DomainKind, host string) (*domain.Tenant, error) {
	for _, rec := range m.rows {
		value := rec.CustomDomain
		if kind == domain.DomainKindSubdomain {
			value = rec.Subdomain
		}
		if rec.DeletedAt == nil && value != "" && strings.EqualFold(value, host) {
			return m.load(rec), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memTenantRepo) ListActive(_ context.Context) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	for _, rec := range m.rows {
		if rec.Active && rec.DeletedAt == nil {
			out = append(out, m.load(rec))
		}
	}
	return out, nil
}

func (m *memTenantRepo) Create(_ context.Context, t *domain.Tenant) error {
	if _, ok := m.rows[t.ID()]; ok {
		return domain.ErrDuplicate
	}
	m.rows[t.ID()] = t.Record()
	return nil
}

func (m *memTenantRepo) Update(_ context.Context, t *domain.Tenant) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	rec, ok := m.rows[t.ID()]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Version != t.Version() {
		return domain.ErrConcurrentUpdate
	}
	t.SetVersion(t.Version() + 1)
	m.rows[t.ID()] = t.Record()
	return nil
}

func (m *memTenantRepo) Exists(_ context.Context, id string) (bool, error) {
	rec, ok := m.rows[id]
	return ok && rec.DeletedAt == nil, nil
}

type memProductRepo struct {
	clock clockwork.Clock
	rows  map[string]domain.ProductRecord
}

func newMemProductRepo(clock clockwork.Clock) *memProductRepo {
	return &memProductRepo{clock: clock, rows: map[string]domain.ProductRecord{}}
}

func (m *memProductRepo) load(rec domain.ProductRecord) *domain.Product {
	p, err := domain.RehydrateProduct(rec, domain.WithClock(m.clock))
	if err != nil {
		panic(err)
	}
	return p
}

func (m *memProductRepo) GetByID(_ context.Context, id string, opts ...domain.QueryOption) (*domain.Product, error) {
	rec, ok := m.rows[id]
	if !ok || (rec.DeletedAt != nil && !domain.ApplyQueryOptions(opts).IncludeDeleted) {
		return nil, domain.ErrNotFound
	}
	return m.load(rec), nil
}

func (m *memProductRepo) GetAll(ctx context.Context, tenantID string) ([]*domain.Product, error) {
	return m.Find(ctx, tenantID, nil)
}

func (m *memProductRepo) Find(_ context.Context, tenantID string, pred func(*domain.Product) bool) ([]*domain.Product, error) {
	var out []*domain.Product
	for _, rec := range m.rows {
		if rec.TenantID != tenantID || rec.DeletedAt != nil {
			continue
		}
		if p := m.load(rec); pred == nil || pred(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProductRepo) Add(_ context.Context, p *domain.Product) error {
	if _, ok := m.rows[p.ID()]; ok {
		return domain.ErrDuplicate
	}
	m.rows[p.ID()] = p.Record()
	return nil
}

func (m *memProductRepo) Update(_ context.Context, p *domain.Product) error {
	rec, ok := m.rows[p.ID()]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Version != p.Version() {
		return domain.ErrConcurrentUpdate
	}
	p.SetVersion(p.Version() + 1)
	m.rows[p.ID()] = p.Record()
	return nil
}

func (m *memProductRepo) Delete(ctx context.Context, p *domain.Product) error {
	if !p.IsDeleted() {
		return domain.ErrInvalidState
	}
	return m.Update(ctx, p)
}

func (m *memProductRepo) Exists(_ context.Context, id string) (bool, error) {
	rec, ok := m.rows[id]
	return ok && rec.DeletedAt == nil, nil
}

func (m *memProductRepo) Count(ctx context.Context, tenantID string, pred func(*domain.Product) bool) (int, error) {
	found, err := m.Find(ctx, tenantID, pred)
	return len(found), err
}

func (m *memProductRepo) ListActive(ctx context.Context, tenantID string) ([]*domain.Product, error) {
	return m.Find(ctx, tenantID, (*domain.Product).IsActive)
}

func (m *memProductRepo) Search(ctx context.Context, tenantID, term string) ([]*domain.Product, error) {
	term = strings.ToLower(term)
	return m.Find(ctx, tenantID, func(p *domain.Product) bool {
		return strings.Contains(strings.ToLower(p.Name()), term) || strings.Contains(strings.ToLower(p.SKU()), term)
	})
}

func (m *memProductRepo) ExistsBySKU(ctx context.Context, tenantID, sku string) (bool, error) {
	n, err := m.Count(ctx, tenantID, func(p *domain.Product) bool { return p.SKU() == sku })
	return n > 0, err
}

type memUserRepo struct {
	clock clockwork.Clock
	rows  map[string]domain.UserRecord
}

func newMemUserRepo(clock clockwork.Clock) *memUserRepo {
	return &memUserRepo{clock: clock, rows: map[string]domain.UserRecord{}}
}

func (m *memUserRepo) load(rec domain.UserRecord) *domain.User {
	u, err := domain.RehydrateUser(rec, domain.WithClock(m.clock))
	if err != nil {
		panic(err)
	}
	return u
}

func (m *memUserRepo) GetByID(_ context.Context, id string, opts ...domain.QueryOption) (*domain.User, error) {
	rec, ok := m.rows[id]
	if !ok || (rec.DeletedAt != nil && !domain.ApplyQueryOptions(opts).IncludeDeleted) {
		return nil, domain.ErrNotFound
	}
	return m.load(rec), nil
}

func (m *memUserRepo) GetByEmail(_ context.Context, tenantID, email string) (*domain.User, error) {
	for _, rec := range m.rows {
		if rec.DeletedAt == nil && rec.TenantID == tenantID && strings.EqualFold(rec.Email, email) {
			return m.load(rec), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) GetAll(ctx context.Context, tenantID string) ([]*domain.User, error) {
	return m.Find(ctx, tenantID, nil)
}

func (m *memUserRepo) Find(_ context.Context, tenantID string, pred func(*domain.User) bool) ([]*domain.User, error) {
	var out []*domain.User
	for _, rec := range m.rows {
		if rec.TenantID != tenantID || rec.DeletedAt != nil {
			continue
		}
		if u := m.load(rec); pred == nil || pred(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUserRepo) Add(_ context.Context, u *domain.User) error {
	if _, ok := m.rows[u.ID()]; ok {
		return domain.ErrDuplicate
	}
	m.rows[u.ID()] = u.Record()
	return nil
}

func (m *memUserRepo) Update(_ context.Context, u *domain.User) error {
	rec, ok := m.rows[u.ID()]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Version != u.Version() {
		return domain.ErrConcurrentUpdate
	}
	u.SetVersion(u.Version() + 1)
	m.rows[u.ID()] = u.Record()
	return nil
}

func (m *memUserRepo) Delete(ctx context.Context, u *domain.User) error {
	if !u.IsDeleted() {
		return domain.ErrInvalidState
	}
	return m.Update(ctx, u)
}

func (m *memUserRepo) Exists(_ context.Context, id string) (bool, error) {
	rec, ok := m.rows[id]
	return ok && rec.DeletedAt == nil, nil
}

func (m *memUserRepo) Count(ctx context.Context, tenantID string, pred func(*domain.User) bool) (int, error) {
	found, err := m.Find(ctx, tenantID, pred)
	return len(found), err
}

type memDomainIndex struct {
	hosts map[string]string
	err   error
	calls int
}

func newMemDomainIndex() *memDomainIndex {
	return &memDomainIndex{hosts: map[string]string{}}
}

func (m *memDomainIndex) key(kind domain.DomainKind, host string) string {
	return string(kind) + ":" + strings.ToLower(host)
}

func (m *memDomainIndex) Bind(_ context.Context, kind domain.DomainKind, host, tenantID string) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	if owner, ok := m.hosts[m.key(kind, host)]; ok && owner != tenantID {
		return domain.ErrDuplicate
	}
	m.hosts[m.key(kind, host)] = tenantID
	return nil
}

func (m *memDomainIndex) Resolve(_ context.Context, kind domain.DomainKind, host string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	id, ok := m.hosts[m.key(kind, host)]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

func (m *memDomainIndex) Unbind(_ context.Context, kind domain.DomainKind, host, tenantID string) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	if m.hosts[m.key(kind, host)] == tenantID {
		delete(m.hosts, m.key(kind, host))
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func adminCtx() context.Context {
	return security.WithCaller(context.Background(), security.Caller{UserID: "root", Role: security.RoleAdmin})
}

func callerCtx(tenantID, userID string, role security.Role) context.Context {
	return security.WithCaller(context.Background(), security.Caller{TenantID: tenantID, UserID: userID, Role: role})
}

// seedTenant stores an active tenant directly.
func seedTenant(t *testing.T, repo *memTenantRepo, id string, opts ...domain.Option) *domain.Tenant {
	t.Helper()
	opts = append([]domain.Option{domain.WithClock(repo.clock)}, opts...)
	tenant, err := domain.NewTenant(id, id+" inc", "", opts...)
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := repo.Create(context.Background(), tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	return tenant
}

// racingTenantRepo runs interleave once, right after the next tenant read, so
// another writer stores its change between that read and the matching write.
type racingTenantRepo struct {
	*memTenantRepo
	interleave func()
}

func (r *racingTenantRepo) GetByID(ctx context.Context, id string, opts ...domain.QueryOption) (*domain.Tenant, error) {
	t, err := r.memTenantRepo.GetByID(ctx, id, opts...)
	if fn := r.interleave; fn != nil {
		r.interleave = nil
		fn()
	}
	return t, err
}

// racingUserRepo does the same for the email lookup used by logins.
type racingUserRepo struct {
	*memUserRepo
	interleave func()
}

func (r *racingUserRepo) GetByEmail(ctx context.Context, tenantID, email string) (*domain.User, error) {
	u, err := r.memUserRepo.GetByEmail(ctx, tenantID, email)
	if fn := r.interleave; fn != nil {
		r.interleave = nil
		fn()
	}
	return u, err
}
