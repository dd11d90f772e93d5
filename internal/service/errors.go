package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/domainerr"
	"github.com/aryan0dhankhar/tenantcatalog/internal/infrastructure/logger"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is locked")
	ErrTooManyAttempts    = errors.New("too many login attempts, try again later")
)

// loadTenant reads a live tenant. A missing tenant becomes a
// TenantNotFoundError that tells a soft-deleted tenant apart from an unknown
// one.
func loadTenant(ctx context.Context, repo domain.TenantRepository, id string) (*domain.Tenant, error) {
	t, err := repo.GetByID(ctx, id)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load tenant %s: %w", id, err)
	}
	deleted := false
	if d, derr := repo.GetByID(ctx, id, domain.IncludeDeleted()); derr == nil && d.IsDeleted() {
		deleted = true
	}
	return nil, tenantNotFound(ctx, domainerr.SearchByID, id, deleted)
}

func tenantNotFound(ctx context.Context, by domainerr.SearchType, value string, deleted bool) *domainerr.TenantNotFoundError {
	nf := domainerr.NewTenantNotFound(by, value, deleted)
	if id, ok := logger.CorrelationID(ctx); ok {
		nf.WithCorrelationID(id)
	}
	return nf
}

// requireActiveTenant rejects work inside a deactivated tenant.
func requireActiveTenant(t *domain.Tenant, op string) error {
	if !t.IsActive() {
		return &domain.StateError{Op: op, Reason: fmt.Sprintf("tenant %s is inactive", t.ID())}
	}
	return nil
}
