package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/domainerr"
	"github.com/aryan0dhankhar/tenantcatalog/internal/infrastructure/logger"
)

// Logger writes the audit trail as structured log lines tagged audit=true.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{logger: l.With(slog.Bool("audit", true))}
}

func (al *Logger) LogAction(ctx context.Context, tenantID, userID, action, resource, resourceID, status, details string) {
	correlationID, _ := logger.CorrelationID(ctx)

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("tenant_id", tenantID),
		slog.String("user_id", userID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", correlationID),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// LogDenied records a rejected tenant access with its classified context.
func (al *Logger) LogDenied(ctx context.Context, err *domainerr.UnauthorizedTenantAccessError) {
	level := slog.LevelWarn
	if err.Severity >= domainerr.SeverityCritical {
		level = slog.LevelError
	}
	al.logger.LogAttrs(ctx, level, "audit",
		slog.String("action", "access_denied"),
		slog.String("resource", err.ResourceType),
		slog.String("resource_id", err.ResourceID),
		slog.String("tenant_id", err.CallerTenantID),
		slog.String("attempted_tenant_id", err.AttemptedTenantID),
		slog.String("status", "denied"),
		slog.Bool("suspicious", err.IsSuspicious),
		slog.Any("error", err.Base()),
	)
}

// LogLockout records an account lock, automatic or manual.
func (al *Logger) LogLockout(ctx context.Context, u *domain.User, actor string) {
	l := u.Lockout()
	if l == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("action", "account_locked"),
		slog.String("resource", "user"),
		slog.String("resource_id", u.ID()),
		slog.String("tenant_id", u.TenantID()),
		slog.String("user_id", actor),
		slog.String("status", "success"),
		slog.Bool("manual", l.Manual),
		slog.String("reason", l.Reason),
		slog.Int("failed_attempts", u.FailedLoginAttempts()),
	}
	if l.ExpiresAt != nil {
		attrs = append(attrs, slog.Time("expires_at", *l.ExpiresAt))
	}
	al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
}

// LogReassignment records a user moving between tenants.
func (al *Logger) LogReassignment(ctx context.Context, move domain.TenantReassignment) {
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("action", "tenant_reassignment"),
		slog.String("resource", "user"),
		slog.String("resource_id", move.UserID),
		slog.String("tenant_id", move.To),
		slog.String("previous_tenant_id", move.From),
		slog.String("user_id", move.By),
		slog.String("status", "success"),
		slog.Time("at", move.At),
	)
}
