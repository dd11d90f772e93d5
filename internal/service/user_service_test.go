package service

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/audit"
)

var testPasswords = PasswordPolicy{MinLength: 8, BcryptCost: bcrypt.MinCost}

type userFixture struct {
	svc     *UserService
	users   *memUserRepo
	tenants *memTenantRepo
	clock   *clockwork.FakeClock
	audit   *bytes.Buffer
	admin   context.Context
}

func newUserFixture(t *testing.T, tenantOpts ...domain.Option) *userFixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	tenants := newMemTenantRepo(clock)
	users := newMemUserRepo(clock)
	seedTenant(t, tenants, "acme-1", tenantOpts...)
	var buf bytes.Buffer
	auditLogger := audit.NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	return &userFixture{
		svc:     NewUserService(users, tenants, nil, auditLogger, quietLogger(), clock, testPasswords),
		users:   users,
		tenants: tenants,
		clock:   clock,
		audit:   &buf,
		admin:   callerCtx("acme-1", "owner", security.RoleTenantAdmin),
	}
}

func (f *userFixture) register(t *testing.T, email string) *domain.User {
	t.Helper()
	res := f.svc.Register(f.admin, RegisterUserInput{
		TenantID:  "acme-1",
		Email:     email,
		FirstName: "Jane",
		LastName:  "Doe",
		Password:  "Password123",
	})
	require.True(t, res.IsSuccess(), res.Error())
	return res.MustValue()
}

func TestUserService_Register(t *testing.T) {
	f := newUserFixture(t)

	u := f.register(t, "Jane@Example.com")

	assert.Equal(t, "jane@example.com", u.Email())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash()), []byte("Password123")))
	assert.Contains(t, f.audit.String(), `"action":"user_registered"`)
}

func TestUserService_Register_Rejections(t *testing.T) {
	f := newUserFixture(t)
	f.register(t, "jane@example.com")

	tests := []struct {
		name  string
		ctx   context.Context
		input RegisterUserInput
		kind  Kind
	}{
		{
			name:  "duplicate email",
			ctx:   f.admin,
			input: RegisterUserInput{TenantID: "acme-1", Email: "JANE@example.com", FirstName: "J", LastName: "D", Password: "Password123"},
			kind:  KindDuplicate,
		},
		{
			name:  "short password",
			ctx:   f.admin,
			input: RegisterUserInput{TenantID: "acme-1", Email: "bob@example.com", FirstName: "Bob", LastName: "D", Password: "short"},
			kind:  KindValidation,
		},
		{
			name:  "plain user",
			ctx:   callerCtx("acme-1", "u-1", security.RoleUser),
			input: RegisterUserInput{TenantID: "acme-1", Email: "bob@example.com", FirstName: "Bob", LastName: "D", Password: "Password123"},
			kind:  KindForbidden,
		},
		{
			name:  "unknown tenant",
			ctx:   adminCtx(),
			input: RegisterUserInput{TenantID: "globex", Email: "bob@example.com", FirstName: "Bob", LastName: "D", Password: "Password123"},
			kind:  KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.svc.Register(tt.ctx, tt.input)
			require.True(t, res.IsFailure())
			assert.Equal(t, tt.kind, Classify(res.Err()))
		})
	}
}

func TestUserService_Register_UserLimit(t *testing.T) {
	f := newUserFixture(t, domain.WithMaxUsers(1))
	f.register(t, "jane@example.com")

	res := f.svc.Register(f.admin, RegisterUserInput{TenantID: "acme-1", Email: "bob@example.com", FirstName: "Bob", LastName: "D", Password: "Password123"})

	assert.ErrorIs(t, res.Err(), domain.ErrUserLimitReached)
}

func TestUserService_LockAndUnlock(t *testing.T) {
	f := newUserFixture(t)
	u := f.register(t, "jane@example.com")

	locked := f.svc.Lock(f.admin, u.ID(), time.Hour, "suspicious activity")
	require.True(t, locked.IsSuccess(), locked.Error())
	assert.True(t, locked.MustValue().IsLockedOut())
	assert.Contains(t, f.audit.String(), `"action":"account_locked"`)

	f.clock.Advance(2 * time.Hour)
	stored, _ := f.users.GetByID(context.Background(), u.ID())
	assert.False(t, stored.IsLockedOut())

	require.True(t, f.svc.Lock(f.admin, u.ID(), 0, "manual").IsSuccess())
	unlocked := f.svc.Unlock(f.admin, u.ID())
	require.True(t, unlocked.IsSuccess(), unlocked.Error())
	assert.Nil(t, unlocked.MustValue().Lockout())
}

func TestUserService_ChangeTenant(t *testing.T) {
	f := newUserFixture(t)
	seedTenant(t, f.tenants, "globex")
	u := f.register(t, "jane@example.com")

	denied := f.svc.ChangeTenant(f.admin, u.ID(), "globex")
	assert.Equal(t, KindUnauthorized, Classify(denied.Err()))

	moved := f.svc.ChangeTenant(adminCtx(), u.ID(), "GLOBEX")
	require.True(t, moved.IsSuccess(), moved.Error())
	assert.Equal(t, "globex", moved.MustValue().TenantID())
	assert.Contains(t, f.audit.String(), `"action":"tenant_reassignment"`)
	assert.Contains(t, f.audit.String(), `"previous_tenant_id":"acme-1"`)

	missing := f.svc.ChangeTenant(adminCtx(), u.ID(), "initech")
	assert.Equal(t, KindNotFound, Classify(missing.Err()))
}

func TestUserService_UpdateProfile_Self(t *testing.T) {
	f := newUserFixture(t)
	u := f.register(t, "jane@example.com")
	other := f.register(t, "bob@example.com")
	self := callerCtx("acme-1", u.ID(), security.RoleUser)

	own := f.svc.UpdateProfile(self, u.ID(), "Janet", "Doe")
	foreign := f.svc.UpdateProfile(self, other.ID(), "Bobby", "Doe")

	require.True(t, own.IsSuccess(), own.Error())
	assert.Equal(t, "Janet Doe", own.MustValue().FullName())
	assert.ErrorIs(t, foreign.Err(), security.ErrForbidden)
}

func TestUserService_ChangePassword(t *testing.T) {
	f := newUserFixture(t)
	u := f.register(t, "jane@example.com")
	self := callerCtx("acme-1", u.ID(), security.RoleUser)

	wrong := f.svc.ChangePassword(self, u.ID(), "bad", "NewPass123")
	ok := f.svc.ChangePassword(self, u.ID(), "Password123", "NewPass123")

	assert.ErrorIs(t, wrong.Err(), ErrInvalidCredentials)
	require.True(t, ok.IsSuccess(), ok.Error())
	stored, _ := f.users.GetByID(context.Background(), u.ID())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash()), []byte("NewPass123")))
}

func TestUserService_DeleteAndRestore(t *testing.T) {
	f := newUserFixture(t)
	u := f.register(t, "jane@example.com")

	require.True(t, f.svc.Delete(f.admin, u.ID()).IsSuccess())
	assert.Empty(t, f.svc.List(f.admin, "acme-1").MustValue())

	restored := f.svc.Restore(f.admin, u.ID())
	require.True(t, restored.IsSuccess(), restored.Error())
	assert.Len(t, f.svc.List(f.admin, "acme-1").MustValue(), 1)
}

func TestUserService_Restore_EmailReused(t *testing.T) {
	f := newUserFixture(t)
	u := f.register(t, "jane@example.com")
	require.True(t, f.svc.Delete(f.admin, u.ID()).IsSuccess())
	f.register(t, "jane@example.com")

	res := f.svc.Restore(f.admin, u.ID())

	assert.ErrorIs(t, res.Err(), domain.ErrDuplicate)
}
