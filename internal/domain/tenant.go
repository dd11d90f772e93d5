package domain

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	MinTenantIDLength        = 3
	MaxTenantIDLength        = 450
	MinTenantNameLength      = 2
	MaxTenantNameLength      = 100
	MaxDisplayNameLength     = 200
	MaxPlanLength            = 50
	MaxSettingKeyLength      = 200
	MaxSettingValueLength    = 4000
	DefaultStorageQuotaBytes = int64(1 << 30)
	DefaultMaxUsers          = 10
	DefaultPlan              = "free"
	DefaultLanguage          = "en"
	DefaultTimezone          = "UTC"
	DefaultCountry           = "US"
)

const (
	settingLastModifiedSuffix   = "_LastModified"
	settingLastModifiedBySuffix = "_LastModifiedBy"
	systemActor                 = "system"
)

// Setting keys written by the tenant itself.
const (
	SettingDeactivationReason = "DeactivationReason"
	SettingDeactivatedBy      = "DeactivatedBy"
	SettingDeactivatedAt      = "DeactivatedAt"
	SettingSubscriptionPlan   = "Subscription_Plan"
	SettingSubscriptionExpiry = "Subscription_ExpiresAt"
	SettingSubscriptionUsers  = "Subscription_MaxUsers"
	SettingSubscriptionQuota  = "Subscription_StorageQuotaBytes"
	SettingSubscriptionAt     = "Subscription_UpdatedAt"
	SettingSubscriptionBy     = "Subscription_UpdatedBy"
)

// SSOConfig points a tenant at an external identity provider.
type SSOConfig struct {
	Provider    string
	MetadataURL string
}

// SubscriptionChange describes a subscription update. Nil fields keep their
// current value; ExpiresAt nil means the subscription never expires.
type SubscriptionChange struct {
	Plan              string
	ExpiresAt         *time.Time
	MaxUsers          *int
	StorageQuotaBytes *int64
}

// Tenant is an isolated customer organization. Its id is its natural key and
// also its tenant id.
type Tenant struct {
	Entity

	name              string
	displayName       string
	active            bool
	storageQuotaBytes int64
	storageUsedBytes  int64
	maxUsers          int
	plan              string
	planExpiresAt     *time.Time
	settings          map[string]string
	language          string
	timezone          string
	country           string
	customDomain      string
	subdomain         string
	sso               *SSOConfig
}

var (
	_ Auditable     = (*Tenant)(nil)
	_ TenantScoped  = (*Tenant)(nil)
	_ SoftDeletable = (*Tenant)(nil)
)

// NewTenant validates and normalizes id, name and display name and returns an
// active tenant. A blank display name falls back to the name.
func NewTenant(id, name, displayName string, opts ...Option) (*Tenant, error) {
	o := buildOptions(opts)

	normalizedID, err := NormalizeTenantID(id)
	if err != nil {
		return nil, err
	}
	normalizedName, err := normalizeTenantName(name)
	if err != nil {
		return nil, err
	}
	normalizedDisplay, err := normalizeDisplayName(displayName, normalizedName)
	if err != nil {
		return nil, err
	}

	quota := DefaultStorageQuotaBytes
	if o.storageQuota != nil {
		quota = *o.storageQuota
		if quota < 0 {
			return nil, invalid("storage_quota", "must not be negative")
		}
	}
	maxUsers := DefaultMaxUsers
	if o.maxUsers != nil {
		maxUsers = *o.maxUsers
		if maxUsers < 1 {
			return nil, invalid("max_users", "must be at least 1, got %d", maxUsers)
		}
	}
	plan := DefaultPlan
	if o.plan != "" {
		if plan, err = normalizePlan(o.plan); err != nil {
			return nil, err
		}
	}

	return &Tenant{
		Entity:            newEntity(normalizedID, normalizedID, o),
		name:              normalizedName,
		displayName:       normalizedDisplay,
		active:            true,
		storageQuotaBytes: quota,
		maxUsers:          maxUsers,
		plan:              plan,
		planExpiresAt:     copyTime(o.planExpiry),
		settings:          map[string]string{},
		language:          DefaultLanguage,
		timezone:          DefaultTimezone,
		country:           DefaultCountry,
	}, nil
}

func (t *Tenant) Name() string              { return t.name }
func (t *Tenant) DisplayName() string       { return t.displayName }
func (t *Tenant) IsActive() bool            { return t.active }
func (t *Tenant) StorageQuotaBytes() int64  { return t.storageQuotaBytes }
func (t *Tenant) StorageUsedBytes() int64   { return t.storageUsedBytes }
func (t *Tenant) MaxUsers() int             { return t.maxUsers }
func (t *Tenant) Plan() string              { return t.plan }
func (t *Tenant) PlanExpiresAt() *time.Time { return copyTime(t.planExpiresAt) }
func (t *Tenant) Language() string          { return t.language }
func (t *Tenant) Timezone() string          { return t.timezone }
func (t *Tenant) Country() string           { return t.country }
func (t *Tenant) CustomDomain() string      { return t.customDomain }
func (t *Tenant) Subdomain() string         { return t.subdomain }
func (t *Tenant) Equal(other *Tenant) bool  { return other != nil && t.SameIdentity(other) }

// SSO returns a copy of the SSO configuration, or nil when SSO is disabled.
func (t *Tenant) SSO() *SSOConfig {
	if t.sso == nil {
		return nil
	}
	c := *t.sso
	return &c
}

// Settings returns a copy of the settings map including shadow entries.
func (t *Tenant) Settings() map[string]string {
	out := make(map[string]string, len(t.settings))
	for k, v := range t.settings {
		out[k] = v
	}
	return out
}

// IsSubscriptionActive is true when no expiry is set or it lies in the future.
func (t *Tenant) IsSubscriptionActive() bool {
	return t.planExpiresAt == nil || t.planExpiresAt.After(t.now())
}

// Activate is rejected for deleted tenants and expired subscriptions.
func (t *Tenant) Activate(actor string) error {
	if t.IsDeleted() {
		return &StateError{Op: "activate tenant", Reason: "tenant is deleted"}
	}
	if !t.IsSubscriptionActive() {
		return ErrSubscriptionExpired.withf("subscription of tenant %s expired at %s",
			t.ID(), t.planExpiresAt.Format(time.RFC3339))
	}
	if t.active {
		return nil
	}
	t.active = true
	t.MarkUpdated(actor)
	return nil
}

// Deactivate disables the tenant. A non-blank reason is recorded in the
// settings together with the actor and time.
func (t *Tenant) Deactivate(reason, actor string) {
	if !t.active {
		return
	}
	t.active = false
	t.MarkUpdated(actor)
	if reason = strings.TrimSpace(reason); reason != "" {
		t.settings[SettingDeactivationReason] = reason
		t.settings[SettingDeactivatedBy] = actorOrSystem(actor)
		t.settings[SettingDeactivatedAt] = t.updatedAt.Format(time.RFC3339Nano)
	}
}

// MarkDeleted soft-deletes and deactivates the tenant.
func (t *Tenant) MarkDeleted(actor string) {
	if t.IsDeleted() {
		return
	}
	t.active = false
	t.Entity.MarkDeleted(actor)
}

// UpdateSubscription applies plan, expiry and optional limits together. A
// storage quota below current usage is accepted; further growth is then
// rejected by UpdateStorageUsage.
func (t *Tenant) UpdateSubscription(change SubscriptionChange, actor string) error {
	plan, err := normalizePlan(change.Plan)
	if err != nil {
		return err
	}
	if change.MaxUsers != nil && *change.MaxUsers < 1 {
		return invalid("max_users", "must be at least 1, got %d", *change.MaxUsers)
	}
	if change.StorageQuotaBytes != nil && *change.StorageQuotaBytes < 0 {
		return invalid("storage_quota", "must not be negative, got %d", *change.StorageQuotaBytes)
	}

	t.plan = plan
	t.planExpiresAt = copyTime(change.ExpiresAt)
	if t.planExpiresAt != nil {
		utc := t.planExpiresAt.UTC()
		t.planExpiresAt = &utc
	}
	if change.MaxUsers != nil {
		t.maxUsers = *change.MaxUsers
	}
	if change.StorageQuotaBytes != nil {
		t.storageQuotaBytes = *change.StorageQuotaBytes
	}
	t.MarkUpdated(actor)

	t.settings[SettingSubscriptionPlan] = plan
	if t.planExpiresAt != nil {
		t.settings[SettingSubscriptionExpiry] = t.planExpiresAt.Format(time.RFC3339Nano)
	} else {
		delete(t.settings, SettingSubscriptionExpiry)
	}
	t.settings[SettingSubscriptionUsers] = strconv.Itoa(t.maxUsers)
	t.settings[SettingSubscriptionQuota] = strconv.FormatInt(t.storageQuotaBytes, 10)
	t.settings[SettingSubscriptionAt] = t.updatedAt.Format(time.RFC3339Nano)
	t.settings[SettingSubscriptionBy] = actorOrSystem(actor)
	return nil
}

// UpdateStorageUsage adds delta bytes to the usage. Growth past the quota is
// rejected; shrinking below zero clamps to zero. Only the update time is
// stamped since usage changes are not attributed to an actor.
func (t *Tenant) UpdateStorageUsage(delta int64) error {
	if delta == 0 {
		return nil
	}
	if delta > 0 {
		if t.storageUsedBytes > math.MaxInt64-delta {
			return ErrStorageQuotaExceeded.withf("storage usage overflows adding %d bytes", delta)
		}
		next := t.storageUsedBytes + delta
		if next > t.storageQuotaBytes {
			return ErrStorageQuotaExceeded.withf("adding %d bytes would use %d of %d bytes",
				delta, next, t.storageQuotaBytes)
		}
		t.storageUsedBytes = next
	} else {
		next := t.storageUsedBytes + delta
		if next < 0 || delta == math.MinInt64 {
			next = 0
		}
		t.storageUsedBytes = next
	}
	t.touch()
	return nil
}

// StorageUsagePercent is the used share of the quota in percent. A zero quota
// reports 100 once anything is used.
func (t *Tenant) StorageUsagePercent() float64 {
	if t.storageQuotaBytes == 0 {
		if t.storageUsedBytes > 0 {
			return 100
		}
		return 0
	}
	return float64(t.storageUsedBytes) / float64(t.storageQuotaBytes) * 100
}

// RemainingStorageBytes never goes below zero, even when a quota was lowered
// under the current usage.
func (t *Tenant) RemainingStorageBytes() int64 {
	if rem := t.storageQuotaBytes - t.storageUsedBytes; rem > 0 {
		return rem
	}
	return 0
}

// CanAddUser reports whether a tenant with currentUsers users may add one more.
func (t *Tenant) CanAddUser(currentUsers int) bool {
	return t.active && !t.IsDeleted() && currentUsers < t.maxUsers
}

// GetSetting returns the value stored under key.
func (t *Tenant) GetSetting(key string) (string, bool) {
	v, ok := t.settings[strings.TrimSpace(key)]
	return v, ok
}

// SetSetting stores value under key along with <key>_LastModified and
// <key>_LastModifiedBy shadow entries.
func (t *Tenant) SetSetting(key, value, actor string) error {
	key, err := validateSetting(key, value)
	if err != nil {
		return err
	}
	t.MarkUpdated(actor)
	t.putSetting(key, value, actor)
	return nil
}

// RemoveSetting deletes key and its shadow entries. It reports whether the key
// existed.
func (t *Tenant) RemoveSetting(key, actor string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, invalid("setting_key", "must not be blank")
	}
	if _, ok := t.settings[key]; !ok {
		return false, nil
	}
	delete(t.settings, key)
	delete(t.settings, key+settingLastModifiedSuffix)
	delete(t.settings, key+settingLastModifiedBySuffix)
	t.MarkUpdated(actor)
	return true, nil
}

// UpdateSettings sets every entry of values. All keys and values are checked
// before any is written.
func (t *Tenant) UpdateSettings(values map[string]string, actor string) error {
	if len(values) == 0 {
		return nil
	}
	validated := make(map[string]string, len(values))
	for k, v := range values {
		key, err := validateSetting(k, v)
		if err != nil {
			return err
		}
		if _, dup := validated[key]; dup {
			return invalid("setting_key", "%q is given more than once after trimming", key)
		}
		validated[key] = v
	}

	keys := make([]string, 0, len(validated))
	for k := range validated {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t.MarkUpdated(actor)
	for _, k := range keys {
		t.putSetting(k, validated[k], actor)
	}
	return nil
}

func (t *Tenant) putSetting(key, value, actor string) {
	if t.settings == nil {
		t.settings = map[string]string{}
	}
	t.settings[key] = value
	t.settings[key+settingLastModifiedSuffix] = t.updatedAt.Format(time.RFC3339Nano)
	t.settings[key+settingLastModifiedBySuffix] = actorOrSystem(actor)
}

// UpdateLocalization validates all three values before applying any.
func (t *Tenant) UpdateLocalization(language, timezone, country, actor string) error {
	language = strings.TrimSpace(language)
	timezone = strings.TrimSpace(timezone)
	country = strings.TrimSpace(country)
	if err := validateLanguage(language); err != nil {
		return err
	}
	if err := validateTimezone(timezone); err != nil {
		return err
	}
	if err := validateCountry(country); err != nil {
		return err
	}
	t.language, t.timezone, t.country = language, timezone, country
	t.MarkUpdated(actor)
	return nil
}

// Rename changes name and display name. Name uniqueness is checked by the
// caller against the repository.
func (t *Tenant) Rename(name, displayName, actor string) error {
	normalizedName, err := normalizeTenantName(name)
	if err != nil {
		return err
	}
	normalizedDisplay, err := normalizeDisplayName(displayName, normalizedName)
	if err != nil {
		return err
	}
	t.name, t.displayName = normalizedName, normalizedDisplay
	t.MarkUpdated(actor)
	return nil
}

// SetCustomDomain sets a lower-cased host name. An empty value clears it.
func (t *Tenant) SetCustomDomain(domain, actor string) error {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain != "" && (len(domain) > 253 || !hostnamePattern.MatchString(domain)) {
		return invalid("custom_domain", "%q is not a valid host name", domain)
	}
	t.customDomain = domain
	t.MarkUpdated(actor)
	return nil
}

// SetSubdomain sets a single DNS label. An empty value clears it.
func (t *Tenant) SetSubdomain(subdomain, actor string) error {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if subdomain != "" && !subdomainPattern.MatchString(subdomain) {
		return invalid("subdomain", "%q is not a valid DNS label", subdomain)
	}
	t.subdomain = subdomain
	t.MarkUpdated(actor)
	return nil
}

// ConfigureSSO enables SSO. The metadata URL must be absolute https.
func (t *Tenant) ConfigureSSO(provider, metadataURL, actor string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return invalid("sso_provider", "must not be blank")
	}
	metadataURL = strings.TrimSpace(metadataURL)
	u, err := url.Parse(metadataURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return invalid("sso_metadata_url", "%q must be an absolute https URL", metadataURL)
	}
	t.sso = &SSOConfig{Provider: provider, MetadataURL: metadataURL}
	t.MarkUpdated(actor)
	return nil
}

func (t *Tenant) DisableSSO(actor string) {
	if t.sso == nil {
		return
	}
	t.sso = nil
	t.MarkUpdated(actor)
}

func (t *Tenant) IsValid() bool {
	return t.validate() == nil
}

func (t *Tenant) validate() error {
	if err := t.Entity.validate(); err != nil {
		return err
	}
	if _, err := NormalizeTenantID(t.ID()); err != nil {
		return err
	}
	if t.ID() != t.TenantID() {
		return invalid("tenant_id", "must equal the tenant id %q", t.ID())
	}
	if _, err := normalizeTenantName(t.name); err != nil {
		return err
	}
	if err := validateLength("display_name", t.displayName, 1, MaxDisplayNameLength); err != nil {
		return err
	}
	if t.storageQuotaBytes < 0 {
		return invalid("storage_quota", "must not be negative")
	}
	if t.storageUsedBytes < 0 {
		return invalid("storage_used", "must not be negative")
	}
	if t.maxUsers < 1 {
		return invalid("max_users", "must be at least 1")
	}
	if _, err := normalizePlan(t.plan); err != nil {
		return err
	}
	if t.active && t.IsDeleted() {
		return invalid("active", "a deleted tenant cannot be active")
	}
	return nil
}

// NormalizeTenantID trims and lower-cases id and checks its format.
func NormalizeTenantID(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if err := validateLength("tenant_id", id, MinTenantIDLength, MaxTenantIDLength); err != nil {
		return "", err
	}
	if !tenantIDPattern.MatchString(id) {
		return "", invalid("tenant_id", "%q may only contain a-z, 0-9, '.', '_' and '-'", id)
	}
	return id, nil
}

func normalizeTenantName(name string) (string, error) {
	name = collapseSpaces(name)
	if err := validateLength("name", name, MinTenantNameLength, MaxTenantNameLength); err != nil {
		return "", err
	}
	if !tenantNamePattern.MatchString(name) {
		return "", invalid("name", "%q contains unsupported characters", name)
	}
	return name, nil
}

func normalizeDisplayName(displayName, fallback string) (string, error) {
	displayName = collapseSpaces(displayName)
	if displayName == "" {
		displayName = fallback
	}
	if err := validateLength("display_name", displayName, 1, MaxDisplayNameLength); err != nil {
		return "", err
	}
	return displayName, nil
}

func normalizePlan(plan string) (string, error) {
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return "", invalid("plan", "must not be blank")
	}
	if runeLen(plan) > MaxPlanLength {
		return "", invalid("plan", "must be at most %d characters", MaxPlanLength)
	}
	return plan, nil
}

func validateSetting(key, value string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", invalid("setting_key", "must not be blank")
	}
	if runeLen(key) > MaxSettingKeyLength {
		return "", invalid("setting_key", "%q is longer than %d characters", key, MaxSettingKeyLength)
	}
	if runeLen(value) > MaxSettingValueLength {
		return "", invalid("setting_value", "value for %q is longer than %d characters", key, MaxSettingValueLength)
	}
	return key, nil
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return systemActor
	}
	return actor
}

// TenantRecord is the persisted form of a Tenant.
type TenantRecord struct {
	EntityRecord
	Name              string
	DisplayName       string
	Active            bool
	StorageQuotaBytes int64
	StorageUsedBytes  int64
	MaxUsers          int
	Plan              string
	PlanExpiresAt     *time.Time
	Settings          map[string]string
	Language          string
	Timezone          string
	Country           string
	CustomDomain      string
	Subdomain         string
	SSO               *SSOConfig
}

func (t *Tenant) Record() TenantRecord {
	return TenantRecord{
		EntityRecord:      t.record(),
		Name:              t.name,
		DisplayName:       t.displayName,
		Active:            t.active,
		StorageQuotaBytes: t.storageQuotaBytes,
		StorageUsedBytes:  t.storageUsedBytes,
		MaxUsers:          t.maxUsers,
		Plan:              t.plan,
		PlanExpiresAt:     copyTime(t.planExpiresAt),
		Settings:          t.Settings(),
		Language:          t.language,
		Timezone:          t.timezone,
		Country:           t.country,
		CustomDomain:      t.customDomain,
		Subdomain:         t.subdomain,
		SSO:               t.SSO(),
	}
}

// RehydrateTenant rebuilds a Tenant from storage. Missing localization fields
// fall back to the defaults.
func RehydrateTenant(r TenantRecord, opts ...Option) (*Tenant, error) {
	o := buildOptions(opts)
	if r.TenantID == "" {
		r.TenantID = r.ID
	}
	e, err := entityFromRecord(r.EntityRecord, o)
	if err != nil {
		return nil, err
	}
	t := &Tenant{
		Entity:            e,
		name:              r.Name,
		displayName:       r.DisplayName,
		active:            r.Active,
		storageQuotaBytes: r.StorageQuotaBytes,
		storageUsedBytes:  r.StorageUsedBytes,
		maxUsers:          r.MaxUsers,
		plan:              r.Plan,
		planExpiresAt:     copyTime(r.PlanExpiresAt),
		settings:          make(map[string]string, len(r.Settings)),
		language:          orDefault(r.Language, DefaultLanguage),
		timezone:          orDefault(r.Timezone, DefaultTimezone),
		country:           orDefault(r.Country, DefaultCountry),
		customDomain:      r.CustomDomain,
		subdomain:         r.Subdomain,
	}
	for k, v := range r.Settings {
		t.settings[k] = v
	}
	if r.SSO != nil {
		c := *r.SSO
		t.sso = &c
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
