package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantcatalog/internal/result"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/audit"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/auth"
)

// LoginPolicy controls lockout and token lifetime.
type LoginPolicy struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	TokenTTL        time.Duration
}

// Throttle limits login attempts per key.
type Throttle interface {
	Allow(key string) bool
	Reset(key string)
}

// LoginInput is a credential check request.
type LoginInput struct {
	TenantID  string
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult carries the issued session token.
type LoginResult struct {
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginService verifies credentials and drives the account lockout state
// machine.
type LoginService struct {
	base
	users    domain.UserRepository
	tenants  domain.TenantRepository
	tokens   *auth.TokenManager
	throttle Throttle
	audit    *audit.Logger
	policy   LoginPolicy
}

// NewLoginService creates a login service. throttle may be nil.
func NewLoginService(
	users domain.UserRepository,
	tenants domain.TenantRepository,
	tokens *auth.TokenManager,
	throttle Throttle,
	auditLogger *audit.Logger,
	logger *slog.Logger,
	clock clockwork.Clock,
	policy LoginPolicy,
) *LoginService {
	b := newBase(logger, nil, clock)
	if auditLogger == nil {
		auditLogger = audit.NewLogger(b.logger)
	}
	if policy.TokenTTL <= 0 {
		policy.TokenTTL = 15 * time.Minute
	}
	return &LoginService{
		base:     b,
		users:    users,
		tenants:  tenants,
		tokens:   tokens,
		throttle: throttle,
		audit:    auditLogger,
		policy:   policy,
	}
}

// Login checks the credentials of a user in a tenant. Unknown tenants, unknown
// emails and wrong passwords all fail with ErrInvalidCredentials.
func (s *LoginService) Login(ctx context.Context, in LoginInput) result.Result[*LoginResult] {
	ctx, o := s.begin(ctx, "user", "login")
	res, outcome, err := s.login(ctx, in)
	metrics.ObserveLogin(outcome)
	return finish(o, res, err)
}

func (s *LoginService) login(ctx context.Context, in LoginInput) (*LoginResult, string, error) {
	tenantID := strings.ToLower(strings.TrimSpace(in.TenantID))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if tenantID == "" || email == "" || in.Password == "" {
		return nil, "invalid", &domain.ValidationError{Field: "credentials", Reason: "tenant, email and password are required"}
	}

	key := tenantID + ":" + email
	if s.throttle != nil && !s.throttle.Allow(key) {
		s.logger.WarnContext(ctx, "login throttled",
			slog.String("tenant_id", tenantID),
			slog.String("ip", in.IPAddress),
		)
		return nil, "throttled", ErrTooManyAttempts
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !tenant.IsActive()) {
		s.logger.InfoContext(ctx, "login attempt for unknown or inactive tenant", slog.String("tenant_id", tenantID))
		return nil, "failure", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "error", fmt.Errorf("load tenant %s: %w", tenantID, err)
	}

	u, err := s.users.GetByEmail(ctx, tenant.ID(), email)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.InfoContext(ctx, "login attempt with non-existent email", slog.String("tenant_id", tenantID))
		return nil, "failure", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "error", fmt.Errorf("load user: %w", err)
	}

	if u.IsLockedOut() {
		s.logger.InfoContext(ctx, "login attempt on locked account", slog.String("user_id", u.ID()))
		return nil, "locked", ErrAccountLocked
	}
	if !u.CanLogin() || !u.HasPassword() {
		return nil, "failure", ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash()), []byte(in.Password)) != nil {
		return s.rejectPassword(ctx, u)
	}

	u, _, err = s.saveOutcome(ctx, u, func(u *domain.User) (bool, error) {
		u.RecordSuccessfulLogin()
		return false, nil
	})
	if err != nil {
		return nil, "error", err
	}
	if s.throttle != nil {
		s.throttle.Reset(key)
	}

	caller := security.Caller{TenantID: u.TenantID(), UserID: u.ID(), Role: security.RoleUser}
	token, expiresAt, err := s.tokens.GenerateToken(caller, u.Email(), s.policy.TokenTTL)
	if err != nil {
		return nil, "error", err
	}
	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", u.ID()),
		slog.String("tenant_id", u.TenantID()),
	)
	return &LoginResult{
		UserID:    u.ID(),
		TenantID:  u.TenantID(),
		Email:     u.Email(),
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
	}, "success", nil
}

func (s *LoginService) rejectPassword(ctx context.Context, u *domain.User) (*LoginResult, string, error) {
	u, locked, err := s.saveOutcome(ctx, u, func(u *domain.User) (bool, error) {
		locked, err := u.RecordFailedLogin(s.policy.LockoutDuration, s.policy.MaxAttempts)
		if err != nil {
			return false, fmt.Errorf("record failed login: %w", err)
		}
		return locked, nil
	})
	if err != nil {
		return nil, "error", err
	}
	s.logger.InfoContext(ctx, "login failed with wrong password",
		slog.String("user_id", u.ID()),
		slog.Int("failed_attempts", u.FailedLoginAttempts()),
	)
	if locked {
		s.audit.LogLockout(ctx, u, security.SystemActor)
		metrics.ObserveLockout("automatic")
		return nil, "locked", ErrAccountLocked
	}
	return nil, "failure", ErrInvalidCredentials
}

// saveOutcome applies record to u and stores it. When another login stored the
// account first, the account is reloaded and the attempt recorded again so no
// failed attempt is lost.
func (s *LoginService) saveOutcome(ctx context.Context, u *domain.User, record func(*domain.User) (bool, error)) (*domain.User, bool, error) {
	current := u
	var flagged bool
	saved, err := retryOnConflict(ctx, func() (*domain.User, error) {
		if current == nil {
			fresh, err := s.users.GetByID(ctx, u.ID())
			if err != nil {
				return nil, fmt.Errorf("reload user %s: %w", u.ID(), err)
			}
			current = fresh
		}
		var err error
		if flagged, err = record(current); err != nil {
			return nil, err
		}
		if err := s.users.Update(ctx, current); err != nil {
			current = nil
			return nil, fmt.Errorf("save user %s: %w", u.ID(), err)
		}
		return current, nil
	})
	if err != nil {
		return u, false, err
	}
	return saved, flagged, nil
}
