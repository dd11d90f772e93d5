package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/infrastructure/redis"
)

const domainIndexPrefix = "tenantcatalog:host:"

// RedisDomainIndex implements domain.TenantDomainIndex with one Redis key per
// bound host.
type RedisDomainIndex struct {
	redis  *redis.Client
	logger *slog.Logger
}

// NewRedisDomainIndex creates a new domain index
func NewRedisDomainIndex(redisClient *redis.Client, logger *slog.Logger) *RedisDomainIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDomainIndex{redis: redisClient, logger: logger}
}

// Bind claims host for tenantID. Binding a host twice to the same tenant is a
// no-op.
func (r *RedisDomainIndex) Bind(ctx context.Context, kind domain.DomainKind, host, tenantID string) error {
	key := hostKey(kind, host)
	ok, err := r.redis.SetNX(ctx, key, tenantID, 0)
	if err != nil {
		return fmt.Errorf("failed to bind %s %s: %w", kind, host, err)
	}
	if ok {
		r.logger.DebugContext(ctx, "host bound",
			slog.String("kind", string(kind)),
			slog.String("host", host),
			slog.String("tenant_id", tenantID),
		)
		return nil
	}

	owner, err := r.Resolve(ctx, kind, host)
	if err != nil {
		return err
	}
	if owner != tenantID {
		return fmt.Errorf("%w: %s %s is bound to another tenant", domain.ErrDuplicate, kind, host)
	}
	return nil
}

// Resolve returns the tenant id bound to host
func (r *RedisDomainIndex) Resolve(ctx context.Context, kind domain.DomainKind, host string) (string, error) {
	owner, err := r.redis.Get(ctx, hostKey(kind, host))
	if errors.Is(err, redis.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, host)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s %s: %w", kind, host, err)
	}
	return owner, nil
}

// Unbind releases host if it is still bound to tenantID
func (r *RedisDomainIndex) Unbind(ctx context.Context, kind domain.DomainKind, host, tenantID string) error {
	removed, err := r.redis.DeleteIfEquals(ctx, hostKey(kind, host), tenantID)
	if err != nil {
		return fmt.Errorf("failed to unbind %s %s: %w", kind, host, err)
	}
	if !removed {
		r.logger.DebugContext(ctx, "host not bound to tenant, nothing to unbind",
			slog.String("kind", string(kind)),
			slog.String("host", host),
			slog.String("tenant_id", tenantID),
		)
	}
	return nil
}

func hostKey(kind domain.DomainKind, host string) string {
	return domainIndexPrefix + string(kind) + ":" + strings.ToLower(strings.TrimSpace(host))
}
