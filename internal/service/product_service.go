package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/domainerr"
	"github.com/aryan0dhankhar/tenantcatalog/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantcatalog/internal/result"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
)

// CreateProductInput describes a new product.
type CreateProductInput struct {
	TenantID     string
	Name         string
	Description  string
	Price        decimal.Decimal
	SKU          string
	Category     string
	Tags         []string
	InitialStock int
}

// ProductService orchestrates catalog operations inside a tenant.
type ProductService struct {
	base
	products domain.ProductRepository
	tenants  domain.TenantRepository
}

func NewProductService(
	products domain.ProductRepository,
	tenants domain.TenantRepository,
	guard *security.TenantGuard,
	logger *slog.Logger,
	clock clockwork.Clock,
) *ProductService {
	return &ProductService{base: newBase(logger, guard, clock), products: products, tenants: tenants}
}

// Create adds a product to an active tenant. SKUs are unique per tenant.
func (s *ProductService) Create(ctx context.Context, in CreateProductInput) result.Result[*domain.Product] {
	ctx, o := s.begin(ctx, "product", "create")
	p, err := s.create(ctx, in)
	return finish(o, p, err)
}

func (s *ProductService) create(ctx context.Context, in CreateProductInput) (*domain.Product, error) {
	res := security.Resource{Type: security.ResourceProduct, Name: in.Name, TenantID: in.TenantID}
	caller, err := s.guard.Authorize(ctx, res, domainerr.AccessWrite)
	if err != nil {
		return nil, err
	}
	tenant, err := loadTenant(ctx, s.tenants, in.TenantID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveTenant(tenant, "create product"); err != nil {
		return nil, err
	}

	actor := caller.Actor()
	p, err := domain.NewProduct(in.Name, in.Price, tenant.ID(), domain.WithClock(s.clock), domain.CreatedBy(actor))
	if err != nil {
		return nil, err
	}
	if err := s.initialize(p, in, actor); err != nil {
		return nil, err
	}
	if p.SKU() != "" {
		if err := s.ensureSKUFree(ctx, p.TenantID(), p.SKU()); err != nil {
			return nil, err
		}
	}
	if err := s.products.Add(ctx, p); err != nil {
		return nil, fmt.Errorf("add product: %w", err)
	}
	s.logger.InfoContext(ctx, "product created",
		slog.String("tenant_id", p.TenantID()),
		slog.String("product_id", p.ID()),
		slog.String("sku", p.SKU()),
	)
	return p, nil
}

func (s *ProductService) initialize(p *domain.Product, in CreateProductInput, actor string) error {
	if in.Description != "" {
		if err := p.UpdateDetails(p.Name(), in.Description, actor); err != nil {
			return err
		}
	}
	if in.SKU != "" {
		if err := p.UpdateSKU(in.SKU, actor); err != nil {
			return err
		}
	}
	if in.Category != "" {
		if err := p.UpdateCategory(in.Category, actor); err != nil {
			return err
		}
	}
	if len(in.Tags) > 0 {
		if err := p.UpdateTags(in.Tags, actor); err != nil {
			return err
		}
	}
	if in.InitialStock != 0 {
		if _, err := p.Restock(in.InitialStock, actor); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProductService) ensureSKUFree(ctx context.Context, tenantID, sku string) error {
	taken, err := s.products.ExistsBySKU(ctx, tenantID, sku)
	if err != nil {
		return fmt.Errorf("check sku: %w", err)
	}
	if taken {
		return fmt.Errorf("sku %q is already used in tenant %s: %w", sku, tenantID, domain.ErrDuplicate)
	}
	return nil
}

func productResource(p *domain.Product) security.Resource {
	return security.Resource{Type: security.ResourceProduct, ID: p.ID(), Name: p.Name(), TenantID: p.TenantID()}
}

func (s *ProductService) load(ctx context.Context, id string, access domainerr.AccessType, opts ...domain.QueryOption) (*domain.Product, security.Caller, error) {
	p, err := s.products.GetByID(ctx, id, opts...)
	if err != nil {
		return nil, security.Caller{}, fmt.Errorf("load product %s: %w", id, err)
	}
	caller, err := s.guard.Authorize(ctx, productResource(p), access)
	if err != nil {
		return nil, caller, err
	}
	return p, caller, nil
}

// Get returns a product the caller may read.
func (s *ProductService) Get(ctx context.Context, id string) result.Result[*domain.Product] {
	ctx, o := s.begin(ctx, "product", "get")
	p, _, err := s.load(ctx, id, domainerr.AccessRead)
	return finish(o, p, err)
}

func (s *ProductService) mutate(ctx context.Context, name, id string, fn func(p *domain.Product, actor string) error) result.Result[*domain.Product] {
	ctx, o := s.begin(ctx, "product", name)
	p, err := s.apply(ctx, id, domainerr.AccessWrite, fn)
	return finish(o, p, err)
}

// apply loads, changes and stores a product, replaying the change when another
// writer stored the product first.
func (s *ProductService) apply(ctx context.Context, id string, access domainerr.AccessType, fn func(p *domain.Product, actor string) error) (*domain.Product, error) {
	return retryOnConflict(ctx, func() (*domain.Product, error) {
		return s.applyOnce(ctx, id, access, fn)
	})
}

func (s *ProductService) applyOnce(ctx context.Context, id string, access domainerr.AccessType, fn func(p *domain.Product, actor string) error) (*domain.Product, error) {
	p, caller, err := s.load(ctx, id, access)
	if err != nil {
		return nil, err
	}
	if err := fn(p, caller.Actor()); err != nil {
		return nil, err
	}
	if err := s.products.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("save product %s: %w", p.ID(), err)
	}
	return p, nil
}

func (s *ProductService) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) result.Result[*domain.Product] {
	return s.mutate(ctx, "update_price", id, func(p *domain.Product, actor string) error {
		return p.UpdatePrice(price, actor)
	})
}

// ApplyDiscount lowers the price by percent.
func (s *ProductService) ApplyDiscount(ctx context.Context, id string, percent decimal.Decimal) result.Result[*domain.Product] {
	return s.mutate(ctx, "apply_discount", id, func(p *domain.Product, actor string) error {
		return p.ApplyDiscount(percent, actor)
	})
}

// AdjustStock applies delta and returns the recorded movement.
func (s *ProductService) AdjustStock(ctx context.Context, id string, delta int, reason string) result.Result[domain.StockMovement] {
	return s.move(ctx, "adjust_stock", id, func(p *domain.Product, actor string) (domain.StockMovement, error) {
		return p.AdjustStock(delta, actor, reason)
	})
}

// Reserve takes quantity units out of stock.
func (s *ProductService) Reserve(ctx context.Context, id string, quantity int) result.Result[domain.StockMovement] {
	return s.move(ctx, "reserve", id, func(p *domain.Product, actor string) (domain.StockMovement, error) {
		return p.ReserveStock(quantity, actor)
	})
}

func (s *ProductService) Restock(ctx context.Context, id string, quantity int) result.Result[domain.StockMovement] {
	return s.move(ctx, "restock", id, func(p *domain.Product, actor string) (domain.StockMovement, error) {
		return p.Restock(quantity, actor)
	})
}

func (s *ProductService) move(ctx context.Context, name, id string, fn func(*domain.Product, string) (domain.StockMovement, error)) result.Result[domain.StockMovement] {
	ctx, o := s.begin(ctx, "product", name)
	var movement domain.StockMovement
	_, err := s.apply(ctx, id, domainerr.AccessWrite, func(p *domain.Product, actor string) error {
		var err error
		movement, err = fn(p, actor)
		return err
	})
	if err == nil && movement.Delta != 0 {
		metrics.ObserveStockMovement(movement.Delta)
		if movement.After <= 0 {
			s.logger.WarnContext(ctx, "product out of stock",
				slog.String("product_id", movement.ProductID),
				slog.String("reason", movement.Reason),
			)
		}
	}
	return finish(o, movement, err)
}

func (s *ProductService) Activate(ctx context.Context, id string) result.Result[*domain.Product] {
	return s.mutate(ctx, "activate", id, func(p *domain.Product, actor string) error {
		return p.Activate(actor)
	})
}

func (s *ProductService) Deactivate(ctx context.Context, id string) result.Result[*domain.Product] {
	return s.mutate(ctx, "deactivate", id, func(p *domain.Product, actor string) error {
		p.Deactivate(actor)
		return nil
	})
}

func (s *ProductService) Feature(ctx context.Context, id string) result.Result[*domain.Product] {
	return s.mutate(ctx, "feature", id, func(p *domain.Product, actor string) error {
		return p.MarkFeatured(actor)
	})
}

func (s *ProductService) Unfeature(ctx context.Context, id string) result.Result[*domain.Product] {
	return s.mutate(ctx, "unfeature", id, func(p *domain.Product, actor string) error {
		p.UnmarkFeatured(actor)
		return nil
	})
}

func (s *ProductService) UpdateTags(ctx context.Context, id string, tags []string) result.Result[*domain.Product] {
	return s.mutate(ctx, "update_tags", id, func(p *domain.Product, actor string) error {
		return p.UpdateTags(tags, actor)
	})
}

func (s *ProductService) UpdateDetails(ctx context.Context, id, name, description string) result.Result[*domain.Product] {
	return s.mutate(ctx, "update_details", id, func(p *domain.Product, actor string) error {
		return p.UpdateDetails(name, description, actor)
	})
}

// UpdateSKU changes the SKU, which must stay unique in the tenant.
func (s *ProductService) UpdateSKU(ctx context.Context, id, sku string) result.Result[*domain.Product] {
	return s.mutate(ctx, "update_sku", id, func(p *domain.Product, actor string) error {
		previous := p.SKU()
		if err := p.UpdateSKU(sku, actor); err != nil {
			return err
		}
		if p.SKU() == "" || p.SKU() == previous {
			return nil
		}
		return s.ensureSKUFree(ctx, p.TenantID(), p.SKU())
	})
}

func (s *ProductService) SetStockThresholds(ctx context.Context, id string, minStock int, maxStock *int) result.Result[*domain.Product] {
	return s.mutate(ctx, "set_stock_thresholds", id, func(p *domain.Product, actor string) error {
		return p.SetStockThresholds(minStock, maxStock, actor)
	})
}

// RecordView counts a view. Readers may record views.
func (s *ProductService) RecordView(ctx context.Context, id string) result.Result[*domain.Product] {
	ctx, o := s.begin(ctx, "product", "record_view")
	p, err := s.apply(ctx, id, domainerr.AccessRead, func(p *domain.Product, _ string) error {
		p.RecordView()
		return nil
	})
	return finish(o, p, err)
}

// Delete soft-deletes a product.
func (s *ProductService) Delete(ctx context.Context, id string) result.Result[result.Unit] {
	ctx, o := s.begin(ctx, "product", "delete")
	_, err := retryOnConflict(ctx, func() (result.Unit, error) { return result.Unit{}, s.delete(ctx, id) })
	return finish(o, result.Unit{}, err)
}

func (s *ProductService) delete(ctx context.Context, id string) error {
	p, caller, err := s.load(ctx, id, domainerr.AccessDelete)
	if err != nil {
		return err
	}
	p.MarkDeleted(caller.Actor())
	if err := s.products.Delete(ctx, p); err != nil {
		return fmt.Errorf("delete product %s: %w", p.ID(), err)
	}
	return nil
}

// Restore undoes a soft delete. A SKU reused in the meantime blocks it.
func (s *ProductService) Restore(ctx context.Context, id string) result.Result[*domain.Product] {
	ctx, o := s.begin(ctx, "product", "restore")
	p, err := retryOnConflict(ctx, func() (*domain.Product, error) { return s.restore(ctx, id) })
	return finish(o, p, err)
}

func (s *ProductService) restore(ctx context.Context, id string) (*domain.Product, error) {
	p, caller, err := s.load(ctx, id, domainerr.AccessDelete, domain.IncludeDeleted())
	if err != nil {
		return nil, err
	}
	if !p.IsDeleted() {
		return p, nil
	}
	if p.SKU() != "" {
		if err := s.ensureSKUFree(ctx, p.TenantID(), p.SKU()); err != nil {
			return nil, err
		}
	}
	p.Restore(caller.Actor())
	if err := s.products.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("save product %s: %w", p.ID(), err)
	}
	return p, nil
}

func (s *ProductService) ListActive(ctx context.Context, tenantID string) result.Result[[]*domain.Product] {
	return s.list(ctx, "list_active", tenantID, func(ctx context.Context) ([]*domain.Product, error) {
		return s.products.ListActive(ctx, tenantID)
	})
}

// Search matches term against name, description, SKU and tags.
func (s *ProductService) Search(ctx context.Context, tenantID, term string) result.Result[[]*domain.Product] {
	return s.list(ctx, "search", tenantID, func(ctx context.Context) ([]*domain.Product, error) {
		return s.products.Search(ctx, tenantID, term)
	})
}

// LowStock lists products at or below their minimum stock.
func (s *ProductService) LowStock(ctx context.Context, tenantID string) result.Result[[]*domain.Product] {
	return s.list(ctx, "low_stock", tenantID, func(ctx context.Context) ([]*domain.Product, error) {
		return s.products.Find(ctx, tenantID, (*domain.Product).IsLowStock)
	})
}

func (s *ProductService) list(ctx context.Context, name, tenantID string, fetch func(context.Context) ([]*domain.Product, error)) result.Result[[]*domain.Product] {
	ctx, o := s.begin(ctx, "product", name)
	res := security.Resource{Type: security.ResourceProduct, TenantID: tenantID}
	if _, err := s.guard.Authorize(ctx, res, domainerr.AccessRead); err != nil {
		return finish(o, []*domain.Product(nil), err)
	}
	products, err := fetch(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return finish(o, []*domain.Product(nil), fmt.Errorf("%s products: %w", name, err))
	}
	return finish(o, products, nil)
}
