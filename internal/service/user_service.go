package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/domainerr"
	"github.com/aryan0dhankhar/tenantcatalog/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantcatalog/internal/result"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/audit"
)

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// PasswordPolicy controls how credentials are checked and hashed.
type PasswordPolicy struct {
	MinLength  int
	BcryptCost int
}

func (p PasswordPolicy) hash(password string) (string, error) {
	if n := utf8.RuneCountInString(password); n < p.MinLength {
		return "", &domain.ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", p.MinLength)}
	}
	if len(password) > maxPasswordBytes {
		return "", &domain.ValidationError{Field: "password", Reason: fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)}
	}
	cost := p.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// RegisterUserInput describes a new account.
type RegisterUserInput struct {
	TenantID  string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// UserService orchestrates account management.
type UserService struct {
	base
	users    domain.UserRepository
	tenants  domain.TenantRepository
	audit    *audit.Logger
	password PasswordPolicy
}

func NewUserService(
	users domain.UserRepository,
	tenants domain.TenantRepository,
	guard *security.TenantGuard,
	auditLogger *audit.Logger,
	logger *slog.Logger,
	clock clockwork.Clock,
	password PasswordPolicy,
) *UserService {
	b := newBase(logger, guard, clock)
	if auditLogger == nil {
		auditLogger = audit.NewLogger(b.logger)
	}
	return &UserService{base: b, users: users, tenants: tenants, audit: auditLogger, password: password}
}

// Register creates an account in an active tenant that still has room for
// another user. Emails are unique per tenant.
func (s *UserService) Register(ctx context.Context, in RegisterUserInput) result.Result[*domain.User] {
	ctx, o := s.begin(ctx, "user", "register")
	u, err := s.register(ctx, in)
	return finish(o, u, err)
}

func (s *UserService) register(ctx context.Context, in RegisterUserInput) (*domain.User, error) {
	res := security.Resource{Type: security.ResourceUser, Name: in.Email, TenantID: in.TenantID}
	caller, err := s.guard.Authorize(ctx, res, domainerr.AccessWrite)
	if err != nil {
		return nil, err
	}
	tenant, err := loadTenant(ctx, s.tenants, in.TenantID)
	if err != nil {
		return nil, err
	}

	actor := caller.Actor()
	u, err := domain.NewUser(in.Email, in.FirstName, in.LastName, tenant.ID(), domain.WithClock(s.clock), domain.CreatedBy(actor))
	if err != nil {
		return nil, err
	}
	hash, err := s.password.hash(in.Password)
	if err != nil {
		return nil, err
	}
	if err := u.SetPasswordHash(hash, actor); err != nil {
		return nil, err
	}

	if err := s.ensureRoom(ctx, tenant); err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, tenant.ID(), u.Email()); err != nil {
		return nil, err
	}
	if err := s.users.Add(ctx, u); err != nil {
		return nil, fmt.Errorf("add user: %w", err)
	}
	s.audit.LogAction(ctx, u.TenantID(), actor, "user_registered", "user", u.ID(), "success", "")
	return u, nil
}

func (s *UserService) ensureRoom(ctx context.Context, tenant *domain.Tenant) error {
	if err := requireActiveTenant(tenant, "add user"); err != nil {
		return err
	}
	count, err := s.users.Count(ctx, tenant.ID(), nil)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if !tenant.CanAddUser(count) {
		return fmt.Errorf("tenant %s has %d of %d users: %w", tenant.ID(), count, tenant.MaxUsers(), domain.ErrUserLimitReached)
	}
	return nil
}

func (s *UserService) ensureEmailFree(ctx context.Context, tenantID, email string) error {
	_, err := s.users.GetByEmail(ctx, tenantID, email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check email: %w", err)
	}
	return fmt.Errorf("email %q is already registered in tenant %s: %w", email, tenantID, domain.ErrDuplicate)
}

func userResource(u *domain.User) security.Resource {
	return security.Resource{Type: security.ResourceUser, ID: u.ID(), Name: u.Email(), TenantID: u.TenantID()}
}

func (s *UserService) load(ctx context.Context, id string, access domainerr.AccessType, opts ...domain.QueryOption) (*domain.User, security.Caller, error) {
	u, err := s.users.GetByID(ctx, id, opts...)
	if err != nil {
		return nil, security.Caller{}, fmt.Errorf("load user %s: %w", id, err)
	}
	caller, err := s.guard.Authorize(ctx, userResource(u), access)
	if err != nil {
		return nil, caller, err
	}
	return u, caller, nil
}

func (s *UserService) Get(ctx context.Context, id string) result.Result[*domain.User] {
	ctx, o := s.begin(ctx, "user", "get")
	u, _, err := s.load(ctx, id, domainerr.AccessRead)
	return finish(o, u, err)
}

func (s *UserService) mutate(ctx context.Context, name, id string, access domainerr.AccessType, fn func(u *domain.User, actor string) error) result.Result[*domain.User] {
	ctx, o := s.begin(ctx, "user", name)
	u, err := s.apply(ctx, id, access, fn)
	return finish(o, u, err)
}

func (s *UserService) apply(ctx context.Context, id string, access domainerr.AccessType, fn func(u *domain.User, actor string) error) (*domain.User, error) {
	return retryOnConflict(ctx, func() (*domain.User, error) {
		return s.applyOnce(ctx, id, access, fn)
	})
}

func (s *UserService) applyOnce(ctx context.Context, id string, access domainerr.AccessType, fn func(u *domain.User, actor string) error) (*domain.User, error) {
	u, caller, err := s.load(ctx, id, access)
	if err != nil {
		return nil, err
	}
	if err := fn(u, caller.Actor()); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("save user %s: %w", u.ID(), err)
	}
	return u, nil
}

// Lock locks an account by hand. A zero duration locks until Unlock.
func (s *UserService) Lock(ctx context.Context, id string, duration time.Duration, reason string) result.Result[*domain.User] {
	ctx, o := s.begin(ctx, "user", "lock")
	var actor string
	u, err := s.apply(ctx, id, domainerr.AccessWrite, func(u *domain.User, a string) error {
		actor = a
		return u.LockAccount(duration, reason, a)
	})
	if err == nil {
		s.audit.LogLockout(ctx, u, actor)
		metrics.ObserveLockout("manual")
	}
	return finish(o, u, err)
}

func (s *UserService) Unlock(ctx context.Context, id string) result.Result[*domain.User] {
	ctx, o := s.begin(ctx, "user", "unlock")
	u, err := s.apply(ctx, id, domainerr.AccessWrite, func(u *domain.User, actor string) error {
		u.UnlockAccount(actor)
		return nil
	})
	if err == nil {
		s.audit.LogAction(ctx, u.TenantID(), callerActor(ctx), "account_unlocked", "user", u.ID(), "success", "")
	}
	return finish(o, u, err)
}

// ChangeTenant moves a user to another active tenant. Platform admins only.
func (s *UserService) ChangeTenant(ctx context.Context, id, newTenantID string) result.Result[*domain.User] {
	ctx, o := s.begin(ctx, "user", "change_tenant")
	u, err := retryOnConflict(ctx, func() (*domain.User, error) { return s.changeTenant(ctx, id, newTenantID) })
	return finish(o, u, err)
}

func (s *UserService) changeTenant(ctx context.Context, id, newTenantID string) (*domain.User, error) {
	u, caller, err := s.load(ctx, id, domainerr.AccessAdmin)
	if err != nil {
		return nil, err
	}
	target, err := loadTenant(ctx, s.tenants, newTenantID)
	if err != nil {
		return nil, err
	}
	if target.ID() != u.TenantID() {
		if err := s.ensureRoom(ctx, target); err != nil {
			return nil, err
		}
		if err := s.ensureEmailFree(ctx, target.ID(), u.Email()); err != nil {
			return nil, err
		}
	}

	move, changed, err := u.ChangeTenant(target.ID(), caller.Actor())
	if err != nil {
		return nil, err
	}
	if !changed {
		return u, nil
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("save user %s: %w", u.ID(), err)
	}
	s.audit.LogReassignment(ctx, move)
	return u, nil
}

// UpdateProfile changes the names. Users may edit their own profile.
func (s *UserService) UpdateProfile(ctx context.Context, id, firstName, lastName string) result.Result[*domain.User] {
	return s.mutate(ctx, "update_profile", id, domainerr.AccessWrite, func(u *domain.User, actor string) error {
		return u.UpdateProfile(firstName, lastName, actor)
	})
}

func (s *UserService) UpdateLocalization(ctx context.Context, id, language, timezone string) result.Result[*domain.User] {
	return s.mutate(ctx, "update_localization", id, domainerr.AccessWrite, func(u *domain.User, actor string) error {
		return u.UpdateLocalization(language, timezone, actor)
	})
}

// ChangePassword replaces the password after verifying the current one.
func (s *UserService) ChangePassword(ctx context.Context, id, current, next string) result.Result[result.Unit] {
	ctx, o := s.begin(ctx, "user", "change_password")
	_, err := s.apply(ctx, id, domainerr.AccessWrite, func(u *domain.User, actor string) error {
		if !u.HasPassword() || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash()), []byte(current)) != nil {
			return ErrInvalidCredentials
		}
		hash, err := s.password.hash(next)
		if err != nil {
			return err
		}
		return u.SetPasswordHash(hash, actor)
	})
	if err == nil {
		s.logger.InfoContext(ctx, "user changed password", slog.String("user_id", id))
	}
	return finish(o, result.Unit{}, err)
}

func (s *UserService) Activate(ctx context.Context, id string) result.Result[*domain.User] {
	return s.mutate(ctx, "activate", id, domainerr.AccessWrite, func(u *domain.User, actor string) error {
		return u.Activate(actor)
	})
}

func (s *UserService) Deactivate(ctx context.Context, id string) result.Result[*domain.User] {
	return s.mutate(ctx, "deactivate", id, domainerr.AccessWrite, func(u *domain.User, actor string) error {
		u.Deactivate(actor)
		return nil
	})
}

// Delete soft-deletes an account.
func (s *UserService) Delete(ctx context.Context, id string) result.Result[result.Unit] {
	ctx, o := s.begin(ctx, "user", "delete")
	_, err := retryOnConflict(ctx, func() (result.Unit, error) { return result.Unit{}, s.delete(ctx, id) })
	return finish(o, result.Unit{}, err)
}

func (s *UserService) delete(ctx context.Context, id string) error {
	u, caller, err := s.load(ctx, id, domainerr.AccessDelete)
	if err != nil {
		return err
	}
	u.MarkDeleted(caller.Actor())
	if err := s.users.Delete(ctx, u); err != nil {
		return fmt.Errorf("delete user %s: %w", u.ID(), err)
	}
	return nil
}

// Restore undoes a soft delete unless the email was reused meanwhile.
func (s *UserService) Restore(ctx context.Context, id string) result.Result[*domain.User] {
	ctx, o := s.begin(ctx, "user", "restore")
	u, err := retryOnConflict(ctx, func() (*domain.User, error) { return s.restore(ctx, id) })
	return finish(o, u, err)
}

func (s *UserService) restore(ctx context.Context, id string) (*domain.User, error) {
	u, caller, err := s.load(ctx, id, domainerr.AccessDelete, domain.IncludeDeleted())
	if err != nil {
		return nil, err
	}
	if !u.IsDeleted() {
		return u, nil
	}
	if err := s.ensureEmailFree(ctx, u.TenantID(), u.Email()); err != nil {
		return nil, err
	}
	u.Restore(caller.Actor())
	if err := s.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("save user %s: %w", u.ID(), err)
	}
	return u, nil
}

// List returns the live users of a tenant.
func (s *UserService) List(ctx context.Context, tenantID string) result.Result[[]*domain.User] {
	ctx, o := s.begin(ctx, "user", "list")
	res := security.Resource{Type: security.ResourceUser, TenantID: tenantID}
	if _, err := s.guard.Authorize(ctx, res, domainerr.AccessRead); err != nil {
		return finish(o, []*domain.User(nil), err)
	}
	users, err := s.users.GetAll(ctx, tenantID)
	if err != nil {
		err = fmt.Errorf("list users: %w", err)
	}
	return finish(o, users, err)
}

func callerActor(ctx context.Context) string {
	c, _ := security.CallerFrom(ctx)
	return c.Actor()
}
