package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/domainerr"
	"github.com/aryan0dhankhar/tenantcatalog/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantcatalog/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/tenantcatalog/internal/result"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
)

const deactivationReasonExpired = "subscription expired"

// CreateTenantInput describes a new tenant. Zero limits keep the defaults.
type CreateTenantInput struct {
	ID                string
	Name              string
	DisplayName       string
	Plan              string
	ExpiresAt         *time.Time
	MaxUsers          int
	StorageQuotaBytes int64
}

// TenantService orchestrates tenant operations. The domain index is optional;
// without it host lookups go straight to the repository.
type TenantService struct {
	base
	tenants domain.TenantRepository
	index   domain.TenantDomainIndex
	breaker *circuitbreaker.CircuitBreaker
}

// NewTenantService creates a tenant service. index may be nil.
func NewTenantService(
	tenants domain.TenantRepository,
	index domain.TenantDomainIndex,
	guard *security.TenantGuard,
	logger *slog.Logger,
	clock clockwork.Clock,
	indexTimeout time.Duration,
) *TenantService {
	b := newBase(logger, guard, clock)
	breaker := circuitbreaker.NewCircuitBreaker(5, 2, indexTimeout, b.clock)
	breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		metrics.SetBreakerState("domain_index", int(to))
		b.logger.Warn("domain index circuit changed state",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})
	return &TenantService{base: b, tenants: tenants, index: index, breaker: breaker}
}

// Create registers a tenant. Only platform admins may create tenants.
func (s *TenantService) Create(ctx context.Context, in CreateTenantInput) result.Result[*domain.Tenant] {
	ctx, o := s.begin(ctx, "tenant", "create")
	t, err := s.create(ctx, in)
	return finish(o, t, err)
}

func (s *TenantService) create(ctx context.Context, in CreateTenantInput) (*domain.Tenant, error) {
	res := security.Resource{Type: security.ResourceTenant, ID: in.ID, Name: in.Name, TenantID: in.ID}
	caller, err := s.guard.Authorize(ctx, res, domainerr.AccessAdmin)
	if err != nil {
		return nil, err
	}

	opts := []domain.Option{domain.WithClock(s.clock), domain.CreatedBy(caller.Actor())}
	if in.Plan != "" || in.ExpiresAt != nil {
		opts = append(opts, domain.WithSubscription(in.Plan, in.ExpiresAt))
	}
	if in.MaxUsers > 0 {
		opts = append(opts, domain.WithMaxUsers(in.MaxUsers))
	}
	if in.StorageQuotaBytes > 0 {
		opts = append(opts, domain.WithStorageQuota(in.StorageQuotaBytes))
	}
	t, err := domain.NewTenant(in.ID, in.Name, in.DisplayName, opts...)
	if err != nil {
		return nil, err
	}

	if err := s.ensureNameFree(ctx, t.Name(), t.ID()); err != nil {
		return nil, err
	}
	if err := s.tenants.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create tenant %s: %w", t.ID(), err)
	}
	s.logger.InfoContext(ctx, "tenant created",
		slog.String("tenant_id", t.ID()),
		slog.String("name", t.Name()),
		slog.String("plan", t.Plan()),
	)
	return t, nil
}

func (s *TenantService) ensureNameFree(ctx context.Context, name, ownID string) error {
	existing, err := s.tenants.GetByName(ctx, name)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check tenant name: %w", err)
	case existing.ID() != ownID:
		return fmt.Errorf("tenant name %q is taken: %w", name, domain.ErrDuplicate)
	}
	return nil
}

// Get returns a tenant the caller may read.
func (s *TenantService) Get(ctx context.Context, id string) result.Result[*domain.Tenant] {
	ctx, o := s.begin(ctx, "tenant", "get")
	t, err := s.read(ctx, id)
	return finish(o, t, err)
}

func (s *TenantService) read(ctx context.Context, id string) (*domain.Tenant, error) {
	t, err := loadTenant(ctx, s.tenants, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.guard.Authorize(ctx, tenantResource(t), domainerr.AccessRead); err != nil {
		return nil, err
	}
	return t, nil
}

// GetByName looks a tenant up by its case-insensitive name.
func (s *TenantService) GetByName(ctx context.Context, name string) result.Result[*domain.Tenant] {
	ctx, o := s.begin(ctx, "tenant", "get_by_name")
	t, err := s.tenants.GetByName(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return finish(o, (*domain.Tenant)(nil), tenantNotFound(ctx, domainerr.SearchByName, name, false))
	}
	if err != nil {
		return finish(o, (*domain.Tenant)(nil), fmt.Errorf("load tenant by name: %w", err))
	}
	if _, err := s.guard.Authorize(ctx, tenantResource(t), domainerr.AccessRead); err != nil {
		return finish(o, (*domain.Tenant)(nil), err)
	}
	return finish(o, t, nil)
}

// ResolveHost returns the id of the active tenant serving host. It needs no
// caller since it runs before one is known.
func (s *TenantService) ResolveHost(ctx context.Context, kind domain.DomainKind, host string) result.Result[string] {
	ctx, o := s.begin(ctx, "tenant", "resolve_host")
	id, err := s.resolveHost(ctx, kind, strings.ToLower(strings.TrimSpace(host)))
	return finish(o, id, err)
}

func (s *TenantService) resolveHost(ctx context.Context, kind domain.DomainKind, host string) (string, error) {
	if id, ok := s.resolveCached(ctx, kind, host); ok {
		return id, nil
	}

	t, err := s.tenants.GetByHost(ctx, kind, host)
	if errors.Is(err, domain.ErrNotFound) {
		return "", tenantNotFound(ctx, searchTypeFor(kind), host, false)
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s %s: %w", kind, host, err)
	}
	if !t.IsActive() {
		return "", tenantNotFound(ctx, searchTypeFor(kind), host, false)
	}
	s.bindHost(ctx, kind, host, t.ID())
	return t.ID(), nil
}

// resolveCached consults the index and verifies the hit against the
// repository, dropping stale bindings.
func (s *TenantService) resolveCached(ctx context.Context, kind domain.DomainKind, host string) (string, bool) {
	if s.index == nil {
		return "", false
	}
	var id string
	err := s.breaker.Execute(func() error {
		var err error
		id, err = s.index.Resolve(ctx, kind, host)
		return err
	}, isIndexFailure)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "domain index lookup failed",
				slog.String("host", host),
				slog.String("error", err.Error()),
			)
		}
		return "", false
	}

	t, err := s.tenants.GetByID(ctx, id)
	if err == nil && t.IsActive() && hostOf(t, kind) == host {
		return id, true
	}
	s.unbindHost(ctx, kind, host, id)
	return "", false
}

func (s *TenantService) bindHost(ctx context.Context, kind domain.DomainKind, host, tenantID string) {
	if s.index == nil || host == "" {
		return
	}
	err := s.breaker.Execute(func() error {
		return s.index.Bind(ctx, kind, host, tenantID)
	}, isIndexFailure)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to bind host in domain index",
			slog.String("kind", string(kind)),
			slog.String("host", host),
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *TenantService) unbindHost(ctx context.Context, kind domain.DomainKind, host, tenantID string) {
	if s.index == nil || host == "" {
		return
	}
	err := s.breaker.Execute(func() error {
		return s.index.Unbind(ctx, kind, host, tenantID)
	}, isIndexFailure)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to unbind host from domain index",
			slog.String("kind", string(kind)),
			slog.String("host", host),
			slog.String("error", err.Error()),
		)
	}
}

func isIndexFailure(err error) bool {
	return !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrDuplicate)
}

func searchTypeFor(kind domain.DomainKind) domainerr.SearchType {
	if kind == domain.DomainKindSubdomain {
		return domainerr.SearchBySubdomain
	}
	return domainerr.SearchByDomain
}

func hostOf(t *domain.Tenant, kind domain.DomainKind) string {
	if kind == domain.DomainKindSubdomain {
		return t.Subdomain()
	}
	return t.CustomDomain()
}

func tenantResource(t *domain.Tenant) security.Resource {
	return security.Resource{Type: security.ResourceTenant, ID: t.ID(), Name: t.Name(), TenantID: t.ID()}
}

// mutate loads a tenant, authorizes access, applies fn and persists.
func (s *TenantService) mutate(ctx context.Context, name, id string, access domainerr.AccessType, fn func(t *domain.Tenant, actor string) error) result.Result[*domain.Tenant] {
	ctx, o := s.begin(ctx, "tenant", name)
	t, err := s.apply(ctx, id, access, fn)
	return finish(o, t, err)
}

// apply loads, changes and stores a tenant. A lost version race replays the
// change on the fresh tenant, so quota checks see every stored adjustment.
func (s *TenantService) apply(ctx context.Context, id string, access domainerr.AccessType, fn func(t *domain.Tenant, actor string) error) (*domain.Tenant, error) {
	return retryOnConflict(ctx, func() (*domain.Tenant, error) {
		return s.applyOnce(ctx, id, access, fn)
	})
}

func (s *TenantService) applyOnce(ctx context.Context, id string, access domainerr.AccessType, fn func(t *domain.Tenant, actor string) error) (*domain.Tenant, error) {
	t, err := loadTenant(ctx, s.tenants, id)
	if err != nil {
		return nil, err
	}
	caller, err := s.guard.Authorize(ctx, tenantResource(t), access)
	if err != nil {
		return nil, err
	}
	if err := fn(t, caller.Actor()); err != nil {
		return nil, err
	}
	if err := s.tenants.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("save tenant %s: %w", t.ID(), err)
	}
	return t, nil
}

// Activate re-enables a tenant. Expired subscriptions block activation.
func (s *TenantService) Activate(ctx context.Context, id string) result.Result[*domain.Tenant] {
	return s.mutate(ctx, "activate", id, domainerr.AccessAdmin, func(t *domain.Tenant, actor string) error {
		return t.Activate(actor)
	})
}

// Deactivate disables a tenant and records reason in its settings.
func (s *TenantService) Deactivate(ctx context.Context, id, reason string) result.Result[*domain.Tenant] {
	return s.mutate(ctx, "deactivate", id, domainerr.AccessAdmin, func(t *domain.Tenant, actor string) error {
		t.Deactivate(reason, actor)
		return nil
	})
}

func (s *TenantService) UpdateSubscription(ctx context.Context, id string, change domain.SubscriptionChange) result.Result[*domain.Tenant] {
	return s.mutate(ctx, "update_subscription", id, domainerr.AccessAdmin, func(t *domain.Tenant, actor string) error {
		return t.UpdateSubscription(change, actor)
	})
}

// AdjustStorage changes the storage usage by delta bytes.
func (s *TenantService) AdjustStorage(ctx context.Context, id string, delta int64) result.Result[*domain.Tenant] {
	return s.mutate(ctx, "adjust_storage", id, domainerr.AccessWrite, func(t *domain.Tenant, _ string) error {
		err := t.UpdateStorageUsage(delta)
		if errors.Is(err, domain.ErrStorageQuotaExceeded) {
			metrics.ObserveQuotaRejection()
		}
		return err
	})
}

func (s *TenantService) SetSetting(ctx context.Context, id, key, value string) result.Result[*domain.Tenant] {
	return s.mutate(ctx, "set_setting", id, domainerr.AccessWrite, func(t *domain.Tenant, actor string) error {
		return t.SetSetting(key, value, actor)
	})
}

// RemoveSetting deletes key. Removing an unknown key succeeds without a write.
func (s *TenantService) RemoveSetting(ctx context.Context, id, key string) result.Result[bool] {
	ctx, o := s.begin(ctx, "tenant", "remove_setting")
	removed := false
	_, err := s.apply(ctx, id, domainerr.AccessWrite, func(t *domain.Tenant, actor string) error {
		var err error
		removed, err = t.RemoveSetting(key, actor)
		return err
	})
	return finish(o, removed, err)
}

func (s *TenantService) UpdateSettings(ctx context.Context, id string, values map[string]string) result.Result[*domain.Tenant] {
	return s.mutate(ctx, "update_settings", id, domainerr.AccessWrite, func(t *domain.Tenant, actor string) error {
		return t.UpdateSettings(values, actor)
	})
}

func (s *TenantService) UpdateLocalization(ctx context.Context, id, language, timezone, country string) result.Result[*domain.Tenant] {
	return s.mutate(ctx, "update_localization", id, domainerr.AccessWrite, func(t *domain.Tenant, actor string) error {
		return t.UpdateLocalization(language, timezone, country, actor)
	})
}

// Rename changes the tenant's name, which must stay unique.
func (s *TenantService) Rename(ctx context.Context, id, name, displayName string) result.Result[*domain.Tenant] {
	return s.mutate(ctx, "rename", id, domainerr.AccessWrite, func(t *domain.Tenant, actor string) error {
		if err := t.Rename(name, displayName, actor); err != nil {
			return err
		}
		return s.ensureNameFree(ctx, t.Name(), t.ID())
	})
}

// SetCustomDomain points host at the tenant. An empty host clears it.
func (s *TenantService) SetCustomDomain(ctx context.Context, id, host string) result.Result[*domain.Tenant] {
	return s.setHost(ctx, "set_custom_domain", id, domain.DomainKindCustom, func(t *domain.Tenant, actor string) error {
		return t.SetCustomDomain(host, actor)
	})
}

// SetSubdomain points a subdomain label at the tenant. An empty label clears
// it.
func (s *TenantService) SetSubdomain(ctx context.Context, id, label string) result.Result[*domain.Tenant] {
	return s.setHost(ctx, "set_subdomain", id, domain.DomainKindSubdomain, func(t *domain.Tenant, actor string) error {
		return t.SetSubdomain(label, actor)
	})
}

// setHost persists the host change first; the repository's unique index is
// authoritative and the domain index follows it.
func (s *TenantService) setHost(ctx context.Context, name, id string, kind domain.DomainKind, fn func(*domain.Tenant, string) error) result.Result[*domain.Tenant] {
	ctx, o := s.begin(ctx, "tenant", name)
	var previous string
	t, err := s.apply(ctx, id, domainerr.AccessWrite, func(t *domain.Tenant, actor string) error {
		previous = hostOf(t, kind)
		return fn(t, actor)
	})
	if err == nil {
		if current := hostOf(t, kind); current != previous {
			s.unbindHost(ctx, kind, previous, t.ID())
			s.bindHost(ctx, kind, current, t.ID())
		}
	}
	return finish(o, t, err)
}

func (s *TenantService) ConfigureSSO(ctx context.Context, id, provider, metadataURL string) result.Result[*domain.Tenant] {
	return s.mutate(ctx, "configure_sso", id, domainerr.AccessWrite, func(t *domain.Tenant, actor string) error {
		return t.ConfigureSSO(provider, metadataURL, actor)
	})
}

func (s *TenantService) DisableSSO(ctx context.Context, id string) result.Result[*domain.Tenant] {
	return s.mutate(ctx, "disable_sso", id, domainerr.AccessWrite, func(t *domain.Tenant, actor string) error {
		t.DisableSSO(actor)
		return nil
	})
}

// Delete soft-deletes a tenant and releases its hosts.
func (s *TenantService) Delete(ctx context.Context, id string) result.Result[result.Unit] {
	ctx, o := s.begin(ctx, "tenant", "delete")
	t, err := s.apply(ctx, id, domainerr.AccessAdmin, func(t *domain.Tenant, actor string) error {
		t.MarkDeleted(actor)
		return nil
	})
	if err == nil {
		s.unbindHost(ctx, domain.DomainKindCustom, t.CustomDomain(), t.ID())
		s.unbindHost(ctx, domain.DomainKindSubdomain, t.Subdomain(), t.ID())
		s.logger.InfoContext(ctx, "tenant deleted", slog.String("tenant_id", t.ID()))
	}
	return finish(o, result.Unit{}, err)
}

// Restore undoes a soft delete. The tenant stays inactive until activated.
func (s *TenantService) Restore(ctx context.Context, id string) result.Result[*domain.Tenant] {
	ctx, o := s.begin(ctx, "tenant", "restore")
	t, err := retryOnConflict(ctx, func() (*domain.Tenant, error) { return s.restore(ctx, id) })
	return finish(o, t, err)
}

func (s *TenantService) restore(ctx context.Context, id string) (*domain.Tenant, error) {
	t, err := s.tenants.GetByID(ctx, id, domain.IncludeDeleted())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, tenantNotFound(ctx, domainerr.SearchByID, id, false)
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", id, err)
	}
	caller, err := s.guard.Authorize(ctx, tenantResource(t), domainerr.AccessAdmin)
	if err != nil {
		return nil, err
	}
	if !t.IsDeleted() {
		return t, nil
	}
	t.Restore(caller.Actor())
	if err := s.ensureNameFree(ctx, t.Name(), t.ID()); err != nil {
		return nil, err
	}
	if err := s.tenants.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("save tenant %s: %w", t.ID(), err)
	}
	return t, nil
}

// ListActive lists every active tenant. Platform admins only.
func (s *TenantService) ListActive(ctx context.Context) result.Result[[]*domain.Tenant] {
	ctx, o := s.begin(ctx, "tenant", "list_active")
	if _, err := s.guard.Authorize(ctx, security.Resource{Type: security.ResourceTenant}, domainerr.AccessAdmin); err != nil {
		return finish(o, []*domain.Tenant(nil), err)
	}
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		err = fmt.Errorf("list tenants: %w", err)
	}
	return finish(o, tenants, err)
}

// DeactivateExpired deactivates every active tenant whose subscription has
// expired and returns how many were changed. It runs as the system caller.
// Failures on single tenants do not stop the sweep.
func (s *TenantService) DeactivateExpired(ctx context.Context) (int, error) {
	ctx = security.WithCaller(ctx, security.System())
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}

	var errs []error
	expired := 0
	for _, t := range tenants {
		if t.IsSubscriptionActive() {
			continue
		}
		t.Deactivate(deactivationReasonExpired, security.SystemActor)
		if err := s.tenants.Update(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("deactivate tenant %s: %w", t.ID(), err))
			continue
		}
		expired++
		s.logger.InfoContext(ctx, "tenant deactivated",
			slog.String("tenant_id", t.ID()),
			slog.String("reason", deactivationReasonExpired),
		)
	}
	return expired, errors.Join(errs...)
}
