package security

import (
	"context"
	"strings"

	"github.com/aryan0dhankhar/tenantcatalog/internal/infrastructure/logger"
)

// Role represents a user role
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleUser        Role = "user"
)

// rank orders roles by privilege; unknown roles rank below RoleUser.
func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleTenantAdmin:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r grants everything min does.
func (r Role) AtLeast(min Role) bool {
	return r.rank() > 0 && r.rank() >= min.rank()
}

// ParseRole maps a role name to a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.rank() > 0
}

// SystemActor is recorded as the actor of background work.
const SystemActor = "system"

// Caller is the identity an operation runs as.
type Caller struct {
	TenantID      string
	UserID        string
	Role          Role
	IPAddress     string
	UserAgent     string
	CorrelationID string
}

// System returns the caller used by background workers.
func System() Caller {
	return Caller{UserID: SystemActor, Role: RoleAdmin}
}

// Actor is the name stamped into audit fields.
func (c Caller) Actor() string {
	if c.UserID == "" {
		return SystemActor
	}
	return c.UserID
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

type callerKey struct{}

// WithCaller attaches c to ctx. A missing correlation id is generated so that
// every log line of the operation can be tied together.
func WithCaller(ctx context.Context, c Caller) context.Context {
	c.TenantID = strings.ToLower(strings.TrimSpace(c.TenantID))
	if c.CorrelationID == "" {
		if id, ok := logger.CorrelationID(ctx); ok {
			c.CorrelationID = id
		} else {
			c.CorrelationID = logger.NewCorrelationID()
		}
	}
	ctx = logger.WithCorrelationID(ctx, c.CorrelationID)
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
