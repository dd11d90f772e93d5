// Package service holds the application layer. Every operation resolves the
// caller, loads one aggregate, checks tenant isolation, invokes one domain
// operation, persists and returns a result.Result.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/domainerr"
	"github.com/aryan0dhankhar/tenantcatalog/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantcatalog/internal/observability/tracing"
	"github.com/aryan0dhankhar/tenantcatalog/internal/result"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
)

// Kind classifies a failed operation for metrics and transport mapping.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindState        Kind = "state"
	KindRule         Kind = "rule"
	KindNotFound     Kind = "not_found"
	KindDuplicate    Kind = "duplicate"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindAuth         Kind = "auth"
	KindInternal     Kind = "internal"
)

// Classify maps err onto a Kind. Errors that match nothing known are internal.
func Classify(err error) Kind {
	var denied *domainerr.UnauthorizedTenantAccessError
	var missing *domainerr.TenantNotFoundError
	switch {
	case errors.As(err, &denied):
		return KindUnauthorized
	case errors.Is(err, security.ErrForbidden):
		return KindForbidden
	case errors.As(err, &missing), errors.Is(err, domain.ErrNotFound):
		return KindNotFound
	case errors.Is(err, domain.ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return KindConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return KindValidation
	case errors.Is(err, domain.ErrInvalidState):
		return KindState
	case errors.Is(err, domain.ErrBusinessRule):
		return KindRule
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountLocked), errors.Is(err, ErrTooManyAttempts):
		return KindAuth
	default:
		return KindInternal
	}
}

// maxUpdateAttempts bounds how often a read-modify-write is replayed after
// another writer stored a newer version of the aggregate.
const maxUpdateAttempts = 3

// retryOnConflict runs fn again while it fails with domain.ErrConcurrentUpdate.
// fn must load the aggregate itself so every attempt starts from the stored
// version and re-checks the domain rules against it.
func retryOnConflict[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var v T
	var err error
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		v, err = fn()
		if !errors.Is(err, domain.ErrConcurrentUpdate) || ctx.Err() != nil {
			return v, err
		}
	}
	return v, err
}

// base carries the dependencies every service shares.
type base struct {
	logger *slog.Logger
	guard  *security.TenantGuard
	clock  clockwork.Clock
}

func newBase(logger *slog.Logger, guard *security.TenantGuard, clock clockwork.Clock) base {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = security.NewTenantGuard(logger, nil)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return base{logger: logger, guard: guard, clock: clock}
}

// op tracks one service call from begin to finish.
type op struct {
	ctx       context.Context
	span      trace.Span
	logger    *slog.Logger
	aggregate string
	name      string
	clock     clockwork.Clock
	start     time.Time
}

func (b *base) begin(ctx context.Context, aggregate, name string) (context.Context, *op) {
	ctx, span := tracing.Tracer().Start(ctx, aggregate+"."+name)
	if c, ok := security.CallerFrom(ctx); ok {
		span.SetAttributes(
			attribute.String("tenant.id", c.TenantID),
			attribute.String("user.id", c.UserID),
			attribute.String("user.role", string(c.Role)),
		)
	}
	return ctx, &op{
		ctx:       ctx,
		span:      span,
		logger:    b.logger,
		aggregate: aggregate,
		name:      name,
		clock:     b.clock,
		start:     b.clock.Now(),
	}
}

func (o *op) elapsed() time.Duration {
	return o.clock.Since(o.start)
}

// finish records the outcome of o and wraps v and err into a Result.
func finish[T any](o *op, v T, err error) result.Result[T] {
	outcome := "success"
	if err != nil {
		kind := Classify(err)
		outcome = string(kind)
		o.report(err, kind)
	}
	metrics.ObserveOperation(o.aggregate, o.name, outcome, o.elapsed())
	tracing.End(o.span, err)
	return result.FromError(v, err)
}

func (o *op) report(err error, kind Kind) {
	attrs := []slog.Attr{
		slog.String("operation", o.aggregate+"."+o.name),
		slog.String("kind", string(kind)),
	}

	if de, ok := domainerr.As(err); ok {
		if c, ok := security.CallerFrom(o.ctx); ok {
			if de.CorrelationID == "" {
				de.WithCorrelationID(c.CorrelationID)
			}
			if de.UserID == "" {
				de.WithUser(c.UserID)
			}
		}
		metrics.ObserveDomainError(string(kind), de.Code)
		if de.ShouldLog {
			level := slog.LevelWarn
			if de.Severity >= domainerr.SeverityHigh {
				level = slog.LevelError
			}
			o.logger.LogAttrs(o.ctx, level, "operation rejected", append(attrs, slog.Any("error", de))...)
		}
		return
	}

	code := string(kind)
	var rule *domain.RuleError
	if errors.As(err, &rule) {
		code = rule.Code
	}
	metrics.ObserveDomainError(string(kind), code)

	if kind == KindInternal {
		o.logger.LogAttrs(o.ctx, slog.LevelError, "operation failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	o.logger.LogAttrs(o.ctx, slog.LevelDebug, "operation rejected", append(attrs, slog.String("error", err.Error()))...)
}
