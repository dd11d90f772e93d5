package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/domainerr"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
)

func newTenantFixture(t *testing.T) (*TenantService, *memTenantRepo, *memDomainIndex, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	repo := newMemTenantRepo(clock)
	index := newMemDomainIndex()
	svc := NewTenantService(repo, index, nil, quietLogger(), clock, 30*time.Second)
	return svc, repo, index, clock
}

func TestTenantService_Create(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)

	res := svc.Create(adminCtx(), CreateTenantInput{ID: "Acme-1", Name: "Acme", Plan: "pro", MaxUsers: 3})

	require.True(t, res.IsSuccess(), res.Error())
	tenant := res.MustValue()
	assert.Equal(t, "acme-1", tenant.ID())
	assert.Equal(t, "pro", tenant.Plan())
	assert.Equal(t, 3, tenant.MaxUsers())
	assert.Equal(t, "root", tenant.CreatedBy())
	assert.Contains(t, repo.rows, "acme-1")
}

func TestTenantService_Create_RequiresPlatformAdmin(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)

	res := svc.Create(callerCtx("acme-1", "u-1", security.RoleTenantAdmin), CreateTenantInput{ID: "acme-1", Name: "Acme"})

	require.True(t, res.IsFailure())
	var denied *domainerr.UnauthorizedTenantAccessError
	assert.ErrorAs(t, res.Err(), &denied)
	assert.Equal(t, KindUnauthorized, Classify(res.Err()))
	assert.Empty(t, repo.rows)
}

func TestTenantService_Create_Duplicates(t *testing.T) {
	svc, _, _, _ := newTenantFixture(t)
	require.True(t, svc.Create(adminCtx(), CreateTenantInput{ID: "acme-1", Name: "Acme"}).IsSuccess())

	sameID := svc.Create(adminCtx(), CreateTenantInput{ID: "acme-1", Name: "Other"})
	sameName := svc.Create(adminCtx(), CreateTenantInput{ID: "acme-2", Name: "ACME"})

	assert.ErrorIs(t, sameID.Err(), domain.ErrDuplicate)
	assert.ErrorIs(t, sameName.Err(), domain.ErrDuplicate)
}

func TestTenantService_Create_Invalid(t *testing.T) {
	svc, _, _, _ := newTenantFixture(t)

	res := svc.Create(adminCtx(), CreateTenantInput{ID: "a", Name: "Acme"})

	assert.ErrorIs(t, res.Err(), domain.ErrInvalidArgument)
	assert.Equal(t, KindValidation, Classify(res.Err()))
}

func TestTenantService_Get_TenantIsolation(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")

	own := svc.Get(callerCtx("acme-1", "u-1", security.RoleUser), "acme-1")
	other := svc.Get(callerCtx("globex", "u-2", security.RoleUser), "acme-1")

	require.True(t, own.IsSuccess(), own.Error())
	require.True(t, other.IsFailure())
	var denied *domainerr.UnauthorizedTenantAccessError
	require.ErrorAs(t, other.Err(), &denied)
	assert.Equal(t, "globex", denied.CallerTenantID)
}

func TestTenantService_Get_NotFoundDistinguishesDeleted(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")
	require.True(t, svc.Delete(adminCtx(), "acme-1").IsSuccess())

	deleted := svc.Get(adminCtx(), "acme-1")
	unknown := svc.Get(adminCtx(), "nobody")

	var nf *domainerr.TenantNotFoundError
	require.ErrorAs(t, deleted.Err(), &nf)
	assert.True(t, nf.MayHaveBeenDeleted)
	require.ErrorAs(t, unknown.Err(), &nf)
	assert.False(t, nf.MayHaveBeenDeleted)
	assert.Equal(t, domainerr.SearchByID, nf.SearchType)
	assert.Equal(t, KindNotFound, Classify(unknown.Err()))
}

func TestTenantService_GetByName(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")

	found := svc.GetByName(adminCtx(), "ACME-1 INC")
	missing := svc.GetByName(adminCtx(), "globex")

	require.True(t, found.IsSuccess(), found.Error())
	assert.Equal(t, "acme-1", found.MustValue().ID())
	var nf *domainerr.TenantNotFoundError
	require.ErrorAs(t, missing.Err(), &nf)
	assert.Equal(t, domainerr.SearchByName, nf.SearchType)
}

func TestTenantService_ActivateRejectsExpiredSubscription(t *testing.T) {
	svc, repo, _, clock := newTenantFixture(t)
	expires := clock.Now().Add(time.Hour)
	seedTenant(t, repo, "acme-1", domain.WithSubscription("pro", &expires))
	require.True(t, svc.Deactivate(adminCtx(), "acme-1", "billing").IsSuccess())

	clock.Advance(2 * time.Hour)
	res := svc.Activate(adminCtx(), "acme-1")

	assert.ErrorIs(t, res.Err(), domain.ErrSubscriptionExpired)
	assert.Equal(t, KindRule, Classify(res.Err()))
	stored, _ := repo.GetByID(context.Background(), "acme-1")
	assert.False(t, stored.IsActive())
	reason, _ := stored.GetSetting(domain.SettingDeactivationReason)
	assert.Equal(t, "billing", reason)
}

func TestTenantService_AdjustStorage(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1", domain.WithStorageQuota(100))
	ctx := callerCtx("acme-1", "u-1", security.RoleTenantAdmin)

	ok := svc.AdjustStorage(ctx, "acme-1", 60)
	over := svc.AdjustStorage(ctx, "acme-1", 50)

	require.True(t, ok.IsSuccess(), ok.Error())
	assert.ErrorIs(t, over.Err(), domain.ErrStorageQuotaExceeded)
	stored, _ := repo.GetByID(context.Background(), "acme-1")
	assert.Equal(t, int64(60), stored.StorageUsedBytes())
}

func TestTenantService_AdjustStorage_ConcurrentWritersRespectQuota(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := &racingTenantRepo{memTenantRepo: newMemTenantRepo(clock)}
	svc := NewTenantService(repo, nil, nil, quietLogger(), clock, time.Second)
	seedTenant(t, repo.memTenantRepo, "acme-1", domain.WithStorageQuota(1_000_000))
	ctx := callerCtx("acme-1", "u-1", security.RoleTenantAdmin)
	require.True(t, svc.AdjustStorage(ctx, "acme-1", 600_000).IsSuccess())

	var inner error
	repo.interleave = func() { inner = svc.AdjustStorage(ctx, "acme-1", 300_000).Err() }
	outer := svc.AdjustStorage(ctx, "acme-1", 300_000)

	require.NoError(t, inner)
	assert.ErrorIs(t, outer.Err(), domain.ErrStorageQuotaExceeded)
	stored, _ := repo.GetByID(context.Background(), "acme-1")
	assert.Equal(t, int64(900_000), stored.StorageUsedBytes())
	assert.Equal(t, int64(3), stored.Version())
}

func TestTenantService_PersistentConflictIsReported(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")
	repo.updateErr = domain.ErrConcurrentUpdate

	res := svc.SetSetting(adminCtx(), "acme-1", "theme", "dark")

	assert.ErrorIs(t, res.Err(), domain.ErrConcurrentUpdate)
	assert.Equal(t, KindConflict, Classify(res.Err()))
}

func TestTenantService_SettingsRequireTenantAdmin(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")

	denied := svc.SetSetting(callerCtx("acme-1", "u-1", security.RoleUser), "acme-1", "theme", "dark")
	allowed := svc.SetSetting(callerCtx("acme-1", "u-2", security.RoleTenantAdmin), "acme-1", "theme", "dark")

	assert.ErrorIs(t, denied.Err(), security.ErrForbidden)
	assert.Equal(t, KindForbidden, Classify(denied.Err()))
	require.True(t, allowed.IsSuccess(), allowed.Error())
	by, _ := allowed.MustValue().GetSetting("theme_LastModifiedBy")
	assert.Equal(t, "u-2", by)

	removed := svc.RemoveSetting(callerCtx("acme-1", "u-2", security.RoleTenantAdmin), "acme-1", "theme")
	again := svc.RemoveSetting(callerCtx("acme-1", "u-2", security.RoleTenantAdmin), "acme-1", "theme")
	assert.True(t, removed.MustValue())
	assert.False(t, again.MustValue())
}

func TestTenantService_SetCustomDomain_MaintainsIndex(t *testing.T) {
	svc, repo, index, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")
	ctx := callerCtx("acme-1", "u-1", security.RoleTenantAdmin)

	require.True(t, svc.SetCustomDomain(ctx, "acme-1", "Shop.Acme.io").IsSuccess())
	assert.Equal(t, "acme-1", index.hosts["domain:shop.acme.io"])

	require.True(t, svc.SetCustomDomain(ctx, "acme-1", "store.acme.io").IsSuccess())
	assert.NotContains(t, index.hosts, "domain:shop.acme.io")
	assert.Equal(t, "acme-1", index.hosts["domain:store.acme.io"])
}

func TestTenantService_ResolveHost(t *testing.T) {
	svc, repo, index, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")
	require.True(t, svc.SetSubdomain(adminCtx(), "acme-1", "acme").IsSuccess())
	delete(index.hosts, "subdomain:acme")

	first := svc.ResolveHost(context.Background(), domain.DomainKindSubdomain, "ACME")
	require.True(t, first.IsSuccess(), first.Error())
	assert.Equal(t, "acme-1", first.MustValue())
	assert.Equal(t, "acme-1", index.hosts["subdomain:acme"], "repository hit should warm the index")

	missing := svc.ResolveHost(context.Background(), domain.DomainKindSubdomain, "globex")
	var nf *domainerr.TenantNotFoundError
	require.ErrorAs(t, missing.Err(), &nf)
	assert.Equal(t, domainerr.SearchBySubdomain, nf.SearchType)
}

func TestTenantService_ResolveHost_DropsStaleBinding(t *testing.T) {
	svc, repo, index, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")
	index.hosts["domain:old.acme.io"] = "acme-1"

	res := svc.ResolveHost(context.Background(), domain.DomainKindCustom, "old.acme.io")

	assert.Equal(t, KindNotFound, Classify(res.Err()))
	assert.NotContains(t, index.hosts, "domain:old.acme.io")
}

func TestTenantService_ResolveHost_FallsBackWhenIndexFails(t *testing.T) {
	svc, repo, index, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")
	require.True(t, svc.SetCustomDomain(adminCtx(), "acme-1", "shop.acme.io").IsSuccess())
	index.err = errors.New("connection refused")

	for i := 0; i < 6; i++ {
		res := svc.ResolveHost(context.Background(), domain.DomainKindCustom, "shop.acme.io")
		require.True(t, res.IsSuccess(), res.Error())
	}

	calls := index.calls
	svc.ResolveHost(context.Background(), domain.DomainKindCustom, "shop.acme.io")
	assert.Equal(t, calls, index.calls, "open circuit should skip the index")
}

func TestTenantService_DeleteAndRestore(t *testing.T) {
	svc, repo, index, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")
	require.True(t, svc.SetSubdomain(adminCtx(), "acme-1", "acme").IsSuccess())

	require.True(t, svc.Delete(adminCtx(), "acme-1").IsSuccess())
	assert.NotContains(t, index.hosts, "subdomain:acme")

	res := svc.Restore(adminCtx(), "acme-1")
	require.True(t, res.IsSuccess(), res.Error())
	assert.False(t, res.MustValue().IsDeleted())
	assert.False(t, res.MustValue().IsActive())
}

func TestTenantService_DeleteRequiresPlatformAdmin(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")

	res := svc.Delete(callerCtx("acme-1", "u-1", security.RoleTenantAdmin), "acme-1")

	assert.Equal(t, KindUnauthorized, Classify(res.Err()))
}

func TestTenantService_ListActive(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")
	seedTenant(t, repo, "globex")

	assert.Len(t, svc.ListActive(adminCtx()).MustValue(), 2)
	assert.True(t, svc.ListActive(callerCtx("acme-1", "u-1", security.RoleTenantAdmin)).IsFailure())
}

func TestTenantService_DeactivateExpired(t *testing.T) {
	svc, repo, _, clock := newTenantFixture(t)
	soon := clock.Now().Add(time.Hour)
	later := clock.Now().Add(48 * time.Hour)
	seedTenant(t, repo, "acme-1", domain.WithSubscription("pro", &soon))
	seedTenant(t, repo, "globex", domain.WithSubscription("pro", &later))
	seedTenant(t, repo, "initech")

	clock.Advance(2 * time.Hour)
	n, err := svc.DeactivateExpired(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	acme, _ := repo.GetByID(context.Background(), "acme-1")
	assert.False(t, acme.IsActive())
	by, _ := acme.GetSetting(domain.SettingDeactivatedBy)
	assert.Equal(t, security.SystemActor, by)
	globex, _ := repo.GetByID(context.Background(), "globex")
	assert.True(t, globex.IsActive())
}

func TestTenantService_UpdateFailureIsInternal(t *testing.T) {
	svc, repo, _, _ := newTenantFixture(t)
	seedTenant(t, repo, "acme-1")
	repo.updateErr = errors.New("connection reset")

	res := svc.SetSetting(adminCtx(), "acme-1", "theme", "dark")

	assert.Equal(t, KindInternal, Classify(res.Err()))
	assert.Contains(t, res.Error(), "connection reset")
}
