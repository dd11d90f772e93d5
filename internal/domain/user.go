package domain

import (
	"strings"
	"time"
)

const autoLockReason = "too many failed login attempts"

// Lockout describes an active or expired account lock. A nil ExpiresAt locks
// the account until it is unlocked explicitly.
type Lockout struct {
	LockedAt  time.Time
	ExpiresAt *time.Time
	Manual    bool
	Reason    string
}

// TenantReassignment records a user moving between tenants.
type TenantReassignment struct {
	UserID string
	From   string
	To     string
	By     string
	At     time.Time
}

// User is a tenant-scoped account.
type User struct {
	Entity

	email               string
	firstName           string
	lastName            string
	passwordHash        string
	active              bool
	lastLoginAt         *time.Time
	lastActivityAt      *time.Time
	failedLoginAttempts int
	lockout             *Lockout
	language            string
	timezone            string
}

var (
	_ Auditable     = (*User)(nil)
	_ TenantScoped  = (*User)(nil)
	_ SoftDeletable = (*User)(nil)
)

// NewUser returns an active, unlocked user owned by tenantID.
func NewUser(email, firstName, lastName, tenantID string, opts ...Option) (*User, error) {
	o := buildOptions(opts)

	normalizedEmail, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	first, err := normalizePersonName("first_name", firstName)
	if err != nil {
		return nil, err
	}
	last, err := normalizePersonName("last_name", lastName)
	if err != nil {
		return nil, err
	}
	tenant, err := NormalizeTenantID(tenantID)
	if err != nil {
		return nil, err
	}

	return &User{
		Entity:    newEntity(o.id, tenant, o),
		email:     normalizedEmail,
		firstName: first,
		lastName:  last,
		active:    true,
		language:  DefaultLanguage,
		timezone:  DefaultTimezone,
	}, nil
}

func (u *User) Email() string              { return u.email }
func (u *User) FirstName() string          { return u.firstName }
func (u *User) LastName() string           { return u.lastName }
func (u *User) PasswordHash() string       { return u.passwordHash }
func (u *User) IsActive() bool             { return u.active }
func (u *User) LastLoginAt() *time.Time    { return copyTime(u.lastLoginAt) }
func (u *User) LastActivityAt() *time.Time { return copyTime(u.lastActivityAt) }
func (u *User) FailedLoginAttempts() int   { return u.failedLoginAttempts }
func (u *User) Language() string           { return u.language }
func (u *User) Timezone() string           { return u.timezone }
func (u *User) FullName() string           { return u.firstName + " " + u.lastName }
func (u *User) Equal(other *User) bool     { return other != nil && u.SameIdentity(other) }
func (u *User) HasPassword() bool          { return u.passwordHash != "" }

// Lockout returns a copy of the current lock, or nil.
func (u *User) Lockout() *Lockout {
	if u.lockout == nil {
		return nil
	}
	l := *u.lockout
	l.ExpiresAt = copyTime(u.lockout.ExpiresAt)
	return &l
}

// IsLockedOut reports a lock that has not yet expired.
func (u *User) IsLockedOut() bool {
	if u.lockout == nil {
		return false
	}
	return u.lockout.ExpiresAt == nil || u.lockout.ExpiresAt.After(u.now())
}

// CanLogin is true for active, undeleted users without a current lock.
func (u *User) CanLogin() bool {
	return u.active && !u.IsDeleted() && !u.IsLockedOut()
}

// RecordSuccessfulLogin resets the failure counter and clears an automatic
// lock. A manual lock stays in place until UnlockAccount.
func (u *User) RecordSuccessfulLogin() {
	now := u.now()
	u.failedLoginAttempts = 0
	if u.lockout != nil && !u.lockout.Manual {
		u.lockout = nil
	}
	u.lastLoginAt = &now
	at := now
	u.lastActivityAt = &at
}

// RecordFailedLogin counts a failed attempt. Once the counter reaches
// maxAttempts the account is locked for lockoutDuration, or until unlocked when
// lockoutDuration is zero, and true is returned.
func (u *User) RecordFailedLogin(lockoutDuration time.Duration, maxAttempts int) (bool, error) {
	if maxAttempts < 1 {
		return false, invalid("max_attempts", "must be at least 1, got %d", maxAttempts)
	}
	if lockoutDuration < 0 {
		return false, invalid("lockout_duration", "must not be negative, got %s", lockoutDuration)
	}

	u.failedLoginAttempts++
	if u.failedLoginAttempts < maxAttempts || u.IsLockedOut() {
		return false, nil
	}
	u.lock(lockoutDuration, autoLockReason, false)
	u.touch()
	return true, nil
}

// LockAccount locks the account regardless of the failure counter. A zero
// duration locks until UnlockAccount.
func (u *User) LockAccount(duration time.Duration, reason, actor string) error {
	if duration < 0 {
		return invalid("lockout_duration", "must not be negative, got %s", duration)
	}
	u.lock(duration, strings.TrimSpace(reason), true)
	u.MarkUpdated(actor)
	return nil
}

// UnlockAccount clears any lock and the failure counter.
func (u *User) UnlockAccount(actor string) {
	if u.lockout == nil && u.failedLoginAttempts == 0 {
		return
	}
	u.lockout = nil
	u.failedLoginAttempts = 0
	u.MarkUpdated(actor)
}

func (u *User) lock(duration time.Duration, reason string, manual bool) {
	now := u.now()
	l := &Lockout{LockedAt: now, Manual: manual, Reason: reason}
	if duration > 0 {
		expires := now.Add(duration)
		l.ExpiresAt = &expires
	}
	u.lockout = l
}

// ChangeTenant moves the user to another tenant. It reports false without
// changes when newTenantID names the current tenant in any letter case.
func (u *User) ChangeTenant(newTenantID, actor string) (TenantReassignment, bool, error) {
	target, err := NormalizeTenantID(newTenantID)
	if err != nil {
		return TenantReassignment{}, false, err
	}
	if strings.EqualFold(u.TenantID(), target) {
		return TenantReassignment{}, false, nil
	}
	from := u.TenantID()
	u.reassignTenant(target)
	u.MarkUpdated(actor)
	return TenantReassignment{
		UserID: u.ID(),
		From:   from,
		To:     target,
		By:     actor,
		At:     *u.updatedAt,
	}, true, nil
}

// UpdateProfile replaces first and last name together.
func (u *User) UpdateProfile(firstName, lastName, actor string) error {
	first, err := normalizePersonName("first_name", firstName)
	if err != nil {
		return err
	}
	last, err := normalizePersonName("last_name", lastName)
	if err != nil {
		return err
	}
	u.firstName, u.lastName = first, last
	u.MarkUpdated(actor)
	return nil
}

// UpdateEmail changes the address. Uniqueness within the tenant is checked by
// the caller.
func (u *User) UpdateEmail(email, actor string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	u.email = normalized
	u.MarkUpdated(actor)
	return nil
}

func (u *User) UpdateLocalization(language, timezone, actor string) error {
	language = strings.TrimSpace(language)
	timezone = strings.TrimSpace(timezone)
	if err := validateLanguage(language); err != nil {
		return err
	}
	if err := validateTimezone(timezone); err != nil {
		return err
	}
	u.language, u.timezone = language, timezone
	u.MarkUpdated(actor)
	return nil
}

// SetPasswordHash stores an already hashed credential.
func (u *User) SetPasswordHash(hash, actor string) error {
	if strings.TrimSpace(hash) == "" {
		return invalid("password_hash", "must not be blank")
	}
	u.passwordHash = hash
	u.MarkUpdated(actor)
	return nil
}

func (u *User) Activate(actor string) error {
	if u.active {
		return nil
	}
	if u.IsDeleted() {
		return &StateError{Op: "activate user", Reason: "user is deleted"}
	}
	u.active = true
	u.MarkUpdated(actor)
	return nil
}

func (u *User) Deactivate(actor string) {
	if !u.active {
		return
	}
	u.active = false
	u.MarkUpdated(actor)
}

// RecordActivity stamps the last activity time only.
func (u *User) RecordActivity() {
	now := u.now()
	u.lastActivityAt = &now
}

func (u *User) IsValid() bool {
	return u.validate() == nil
}

func (u *User) validate() error {
	if err := u.Entity.validate(); err != nil {
		return err
	}
	if _, err := normalizeEmail(u.email); err != nil {
		return err
	}
	if _, err := normalizePersonName("first_name", u.firstName); err != nil {
		return err
	}
	if _, err := normalizePersonName("last_name", u.lastName); err != nil {
		return err
	}
	if u.failedLoginAttempts < 0 {
		return invalid("failed_login_attempts", "must not be negative")
	}
	if u.lockout != nil {
		if u.lockout.LockedAt.IsZero() {
			return invalid("locked_at", "must be set on a locked account")
		}
		if u.lockout.ExpiresAt != nil && u.lockout.ExpiresAt.Before(u.lockout.LockedAt) {
			return invalid("lockout_expires_at", "must not precede locked_at")
		}
	}
	return nil
}

// UserRecord is the persisted form of a User. LockedAt nil means unlocked.
type UserRecord struct {
	EntityRecord
	Email               string
	FirstName           string
	LastName            string
	PasswordHash        string
	Active              bool
	LastLoginAt         *time.Time
	LastActivityAt      *time.Time
	FailedLoginAttempts int
	LockedAt            *time.Time
	LockoutExpiresAt    *time.Time
	LockoutManual       bool
	LockoutReason       string
	Language            string
	Timezone            string
}

func (u *User) Record() UserRecord {
	r := UserRecord{
		EntityRecord:        u.record(),
		Email:               u.email,
		FirstName:           u.firstName,
		LastName:            u.lastName,
		PasswordHash:        u.passwordHash,
		Active:              u.active,
		LastLoginAt:         copyTime(u.lastLoginAt),
		LastActivityAt:      copyTime(u.lastActivityAt),
		FailedLoginAttempts: u.failedLoginAttempts,
		Language:            u.language,
		Timezone:            u.timezone,
	}
	if u.lockout != nil {
		lockedAt := u.lockout.LockedAt
		r.LockedAt = &lockedAt
		r.LockoutExpiresAt = copyTime(u.lockout.ExpiresAt)
		r.LockoutManual = u.lockout.Manual
		r.LockoutReason = u.lockout.Reason
	}
	return r
}

func RehydrateUser(r UserRecord, opts ...Option) (*User, error) {
	o := buildOptions(opts)
	e, err := entityFromRecord(r.EntityRecord, o)
	if err != nil {
		return nil, err
	}
	u := &User{
		Entity:              e,
		email:               r.Email,
		firstName:           r.FirstName,
		lastName:            r.LastName,
		passwordHash:        r.PasswordHash,
		active:              r.Active,
		lastLoginAt:         copyTime(r.LastLoginAt),
		lastActivityAt:      copyTime(r.LastActivityAt),
		failedLoginAttempts: r.FailedLoginAttempts,
		language:            orDefault(r.Language, DefaultLanguage),
		timezone:            orDefault(r.Timezone, DefaultTimezone),
	}
	if r.LockedAt != nil {
		u.lockout = &Lockout{
			LockedAt:  r.LockedAt.UTC(),
			ExpiresAt: copyTime(r.LockoutExpiresAt),
			Manual:    r.LockoutManual,
			Reason:    r.LockoutReason,
		}
	}
	if err := u.validate(); err != nil {
		return nil, err
	}
	return u, nil
}
