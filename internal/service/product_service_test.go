package service

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/domainerr"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
)

type productFixture struct {
	svc      *ProductService
	products *memProductRepo
	tenants  *memTenantRepo
	clock    *clockwork.FakeClock
	ctx      context.Context
}

func newProductFixture(t *testing.T) *productFixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	tenants := newMemTenantRepo(clock)
	products := newMemProductRepo(clock)
	seedTenant(t, tenants, "acme-1")
	return &productFixture{
		svc:      NewProductService(products, tenants, nil, quietLogger(), clock),
		products: products,
		tenants:  tenants,
		clock:    clock,
		ctx:      callerCtx("acme-1", "u-1", security.RoleUser),
	}
}

func (f *productFixture) create(t *testing.T, name, price, sku string) *domain.Product {
	t.Helper()
	res := f.svc.Create(f.ctx, CreateProductInput{
		TenantID: "acme-1",
		Name:     name,
		Price:    decimal.RequireFromString(price),
		SKU:      sku,
	})
	require.True(t, res.IsSuccess(), res.Error())
	return res.MustValue()
}

func TestProductService_Create(t *testing.T) {
	f := newProductFixture(t)

	res := f.svc.Create(f.ctx, CreateProductInput{
		TenantID:     "acme-1",
		Name:         "  Blue   Widget ",
		Description:  "A widget",
		Price:        decimal.RequireFromString("19.99"),
		SKU:          "wid-001",
		Category:     "widgets",
		Tags:         []string{"blue", "Sale"},
		InitialStock: 40,
	})

	require.True(t, res.IsSuccess(), res.Error())
	p := res.MustValue()
	assert.Equal(t, "Blue Widget", p.Name())
	assert.Equal(t, "WID-001", p.SKU())
	assert.Equal(t, 40, p.Stock())
	assert.Equal(t, "u-1", p.CreatedBy())
	assert.Contains(t, f.products.rows, p.ID())
}

func TestProductService_Create_DuplicateSKU(t *testing.T) {
	f := newProductFixture(t)
	f.create(t, "Widget", "10", "WID-001")

	res := f.svc.Create(f.ctx, CreateProductInput{TenantID: "acme-1", Name: "Gadget", Price: decimal.NewFromInt(5), SKU: "wid-001"})

	require.True(t, res.IsFailure())
	assert.ErrorIs(t, res.Err(), domain.ErrDuplicate)
	assert.Len(t, f.products.rows, 1)
}

func TestProductService_Create_InactiveTenant(t *testing.T) {
	f := newProductFixture(t)
	tenant, _ := f.tenants.GetByID(context.Background(), "acme-1")
	tenant.Deactivate("", "root")
	require.NoError(t, f.tenants.Update(context.Background(), tenant))

	res := f.svc.Create(f.ctx, CreateProductInput{TenantID: "acme-1", Name: "Widget", Price: decimal.NewFromInt(5)})

	assert.ErrorIs(t, res.Err(), domain.ErrInvalidState)
	assert.Equal(t, KindState, Classify(res.Err()))
}

func TestProductService_Create_OtherTenant(t *testing.T) {
	f := newProductFixture(t)

	res := f.svc.Create(callerCtx("globex", "u-9", security.RoleTenantAdmin), CreateProductInput{TenantID: "acme-1", Name: "Widget", Price: decimal.NewFromInt(5)})

	var denied *domainerr.UnauthorizedTenantAccessError
	require.ErrorAs(t, res.Err(), &denied)
	assert.Equal(t, "product", denied.ResourceType)
	assert.Empty(t, f.products.rows)
}

func TestProductService_UpdatePrice(t *testing.T) {
	f := newProductFixture(t)
	p := f.create(t, "Widget", "10.00", "")

	ok := f.svc.UpdatePrice(f.ctx, p.ID(), decimal.RequireFromString("12.50"))
	tooHigh := f.svc.UpdatePrice(f.ctx, p.ID(), decimal.RequireFromString("80"))

	require.True(t, ok.IsSuccess(), ok.Error())
	assert.ErrorIs(t, tooHigh.Err(), domain.ErrPriceChangeTooLarge)
	stored, _ := f.products.GetByID(context.Background(), p.ID())
	assert.True(t, decimal.RequireFromString("12.50").Equal(stored.Price()))
}

func TestProductService_ApplyDiscount(t *testing.T) {
	f := newProductFixture(t)
	p := f.create(t, "Widget", "20.00", "")

	res := f.svc.ApplyDiscount(f.ctx, p.ID(), decimal.NewFromInt(25))

	require.True(t, res.IsSuccess(), res.Error())
	assert.Equal(t, "15.00", res.MustValue().Price().StringFixed(2))
}

func TestProductService_StockMovements(t *testing.T) {
	f := newProductFixture(t)
	p := f.create(t, "Widget", "10", "")

	restocked := f.svc.Restock(f.ctx, p.ID(), 10)
	reserved := f.svc.Reserve(f.ctx, p.ID(), 4)
	oversold := f.svc.Reserve(f.ctx, p.ID(), 7)
	adjusted := f.svc.AdjustStock(f.ctx, p.ID(), -6, "damaged")

	require.True(t, restocked.IsSuccess(), restocked.Error())
	assert.Equal(t, 10, restocked.MustValue().After)
	assert.Equal(t, 6, reserved.MustValue().After)
	assert.ErrorIs(t, oversold.Err(), domain.ErrInsufficientStock)
	movement := adjusted.MustValue()
	assert.Equal(t, 0, movement.After)
	assert.Equal(t, "damaged", movement.Reason)
	assert.Equal(t, "u-1", movement.By)
}

func TestProductService_LifecycleFlags(t *testing.T) {
	f := newProductFixture(t)
	p := f.create(t, "Widget", "10", "")

	require.True(t, f.svc.Feature(f.ctx, p.ID()).IsSuccess())
	require.True(t, f.svc.Deactivate(f.ctx, p.ID()).IsSuccess())
	stored, _ := f.products.GetByID(context.Background(), p.ID())
	assert.False(t, stored.IsActive())

	require.True(t, f.svc.Activate(f.ctx, p.ID()).IsSuccess())
	require.True(t, f.svc.Unfeature(f.ctx, p.ID()).IsSuccess())
	stored, _ = f.products.GetByID(context.Background(), p.ID())
	assert.True(t, stored.IsActive())
	assert.False(t, stored.IsFeatured())
}

func TestProductService_UpdateSKU(t *testing.T) {
	f := newProductFixture(t)
	f.create(t, "Widget", "10", "WID-001")
	p := f.create(t, "Gadget", "10", "GAD-001")

	taken := f.svc.UpdateSKU(f.ctx, p.ID(), "wid-001")
	same := f.svc.UpdateSKU(f.ctx, p.ID(), "gad-001")

	assert.ErrorIs(t, taken.Err(), domain.ErrDuplicate)
	require.True(t, same.IsSuccess(), same.Error())
	stored, _ := f.products.GetByID(context.Background(), p.ID())
	assert.Equal(t, "GAD-001", stored.SKU())
}

func TestProductService_RecordView(t *testing.T) {
	f := newProductFixture(t)
	p := f.create(t, "Widget", "10", "")

	f.svc.RecordView(f.ctx, p.ID())
	res := f.svc.RecordView(f.ctx, p.ID())

	require.True(t, res.IsSuccess(), res.Error())
	assert.Equal(t, int64(2), res.MustValue().ViewCount())
}

func TestProductService_DeleteAndRestore(t *testing.T) {
	f := newProductFixture(t)
	p := f.create(t, "Widget", "10", "WID-001")
	admin := callerCtx("acme-1", "u-2", security.RoleTenantAdmin)

	denied := f.svc.Delete(f.ctx, p.ID())
	assert.ErrorIs(t, denied.Err(), security.ErrForbidden)

	require.True(t, f.svc.Delete(admin, p.ID()).IsSuccess())
	assert.Equal(t, KindNotFound, Classify(f.svc.Get(f.ctx, p.ID()).Err()))

	f.create(t, "Replacement", "10", "WID-001")
	blocked := f.svc.Restore(admin, p.ID())
	assert.ErrorIs(t, blocked.Err(), domain.ErrDuplicate)
}

func TestProductService_Restore(t *testing.T) {
	f := newProductFixture(t)
	p := f.create(t, "Widget", "10", "")
	admin := callerCtx("acme-1", "u-2", security.RoleTenantAdmin)
	require.True(t, f.svc.Delete(admin, p.ID()).IsSuccess())

	res := f.svc.Restore(admin, p.ID())

	require.True(t, res.IsSuccess(), res.Error())
	assert.False(t, res.MustValue().IsDeleted())
	assert.True(t, f.svc.Get(f.ctx, p.ID()).IsSuccess())
}

func TestProductService_Queries(t *testing.T) {
	f := newProductFixture(t)
	widget := f.create(t, "Blue Widget", "10", "WID-001")
	f.create(t, "Red Gadget", "10", "GAD-001")
	require.True(t, f.svc.Restock(f.ctx, widget.ID(), 5).IsSuccess())

	assert.Len(t, f.svc.ListActive(f.ctx, "acme-1").MustValue(), 2)
	search := f.svc.Search(f.ctx, "acme-1", "widget").MustValue()
	require.Len(t, search, 1)
	assert.Equal(t, widget.ID(), search[0].ID())
	low := f.svc.LowStock(f.ctx, "acme-1").MustValue()
	require.Len(t, low, 1)
	assert.Equal(t, "Red Gadget", low[0].Name())

	other := f.svc.ListActive(callerCtx("globex", "u-9", security.RoleUser), "acme-1")
	assert.Equal(t, KindUnauthorized, Classify(other.Err()))
}
