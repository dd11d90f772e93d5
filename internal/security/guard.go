package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domainerr"
	"github.com/aryan0dhankhar/tenantcatalog/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/audit"
)

// ErrForbidden is matched by errors for callers whose role is too weak for the
// requested access inside their own tenant.
var ErrForbidden = errors.New("forbidden")

// ResourceType identifies the kind of resource being accessed
type ResourceType string

const (
	ResourceTenant  ResourceType = "tenant"
	ResourceProduct ResourceType = "product"
	ResourceUser    ResourceType = "user"
)

// Resource is the target of an access check.
type Resource struct {
	Type     ResourceType
	ID       string
	Name     string
	TenantID string
}

// ForbiddenError reports a role that may not perform an access.
type ForbiddenError struct {
	Role     Role
	Required Role
	Access   domainerr.AccessType
	Resource ResourceType
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("permission denied: %s role cannot %s %s (requires %s)", e.Role, e.Access, e.Resource, e.Required)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// TenantGuard enforces tenant isolation and role checks for service
// operations.
type TenantGuard struct {
	logger *slog.Logger
	audit  *audit.Logger
}

func NewTenantGuard(logger *slog.Logger, auditLogger *audit.Logger) *TenantGuard {
	if logger == nil {
		logger = slog.Default()
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogger(logger)
	}
	return &TenantGuard{logger: logger, audit: auditLogger}
}

// Authorize checks that the caller in ctx may perform access on res and
// returns that caller. Platform admins pass every check. Everyone else must
// belong to the resource's tenant and hold the role the access requires.
func (g *TenantGuard) Authorize(ctx context.Context, res Resource, access domainerr.AccessType) (Caller, error) {
	caller, ok := CallerFrom(ctx)
	if caller.IsAdmin() {
		return caller, nil
	}

	if !ok || caller.TenantID == "" || !strings.EqualFold(caller.TenantID, res.TenantID) || access == domainerr.AccessAdmin {
		err := domainerr.NewUnauthorizedTenantAccess(domainerr.AccessAttempt{
			AttemptedTenantID: res.TenantID,
			CallerTenantID:    caller.TenantID,
			UserID:            caller.UserID,
			ResourceType:      string(res.Type),
			ResourceID:        res.ID,
			ResourceName:      res.Name,
			AccessType:        access,
			IPAddress:         caller.IPAddress,
			UserAgent:         caller.UserAgent,
			CorrelationID:     caller.CorrelationID,
		})
		g.audit.LogDenied(ctx, err)
		metrics.ObserveAccessDenied(err.Severity.String(), err.IsSuspicious)
		return caller, err
	}

	required := requiredRole(res.Type, access)
	if isSelf(caller, res, access) {
		required = RoleUser
	}
	if !caller.Role.AtLeast(required) {
		err := &ForbiddenError{Role: caller.Role, Required: required, Access: access, Resource: res.Type}
		g.logger.WarnContext(ctx, "permission denied",
			slog.String("role", string(caller.Role)),
			slog.String("required", string(required)),
			slog.String("access", string(access)),
			slog.String("resource_type", string(res.Type)),
			slog.String("resource_id", res.ID),
		)
		g.audit.LogAction(ctx, caller.TenantID, caller.UserID, "access_denied", string(res.Type), res.ID, "denied", err.Error())
		metrics.ObserveAccessDenied(domainerr.SeverityMedium.String(), false)
		return caller, err
	}
	return caller, nil
}

// requiredRole is the weakest role allowed to perform access on rt inside its
// own tenant.
func requiredRole(rt ResourceType, access domainerr.AccessType) Role {
	switch {
	case access == domainerr.AccessAdmin:
		return RoleAdmin
	case access == domainerr.AccessDelete:
		return RoleTenantAdmin
	case access == domainerr.AccessWrite && (rt == ResourceUser || rt == ResourceTenant):
		return RoleTenantAdmin
	default:
		return RoleUser
	}
}

// isSelf lets users read and edit their own account.
func isSelf(c Caller, res Resource, access domainerr.AccessType) bool {
	return res.Type == ResourceUser && res.ID != "" && res.ID == c.UserID &&
		(access == domainerr.AccessRead || access == domainerr.AccessWrite)
}
