package domain

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinProductNameLength = 2
	MaxProductNameLength = 200
	MaxDescriptionLength = 2000
	MaxSKULength         = 50
	MaxCategoryLength    = 100
	MaxTags              = 20
	MaxTagLength         = 50
	PriceDecimalPlaces   = 2

	// MaxStockQuantity leaves headroom below the int32 limit used by storage.
	MaxStockQuantity = math.MaxInt32 - 1000
)

var (
	// MaxPrice is the absolute price ceiling.
	MaxPrice = decimal.RequireFromString("999999.99")
	// MaxWeight is the heaviest weight a product may declare.
	MaxWeight = decimal.NewFromInt(100000)

	maxPriceIncreaseFactor = decimal.NewFromInt(5)
	minPriceDecreaseFactor = decimal.New(1, -1) // 0.1
	hundred                = decimal.NewFromInt(100)
)

// Dimensions of a product package. Unit is free-form (cm, in).
type Dimensions struct {
	Length decimal.Decimal
	Width  decimal.Decimal
	Height decimal.Decimal
	Unit   string
}

// StockMovement describes an applied stock adjustment.
type StockMovement struct {
	ProductID string
	Delta     int
	Before    int
	After     int
	Reason    string
	By        string
	At        time.Time
}

// Product is a tenant's catalog item.
type Product struct {
	Entity

	name         string
	description  string
	price        decimal.Decimal
	sku          string
	active       bool
	stock        int
	category     string
	tags         []string
	weight       decimal.NullDecimal
	dimensions   *Dimensions
	minStock     int
	maxStock     *int
	featured     bool
	viewCount    int64
	lastViewedAt *time.Time
}

var (
	_ Auditable     = (*Product)(nil)
	_ TenantScoped  = (*Product)(nil)
	_ SoftDeletable = (*Product)(nil)
)

// NewProduct validates name, price and tenant together and returns an active
// product with zero stock.
func NewProduct(name string, price decimal.Decimal, tenantID string, opts ...Option) (*Product, error) {
	o := buildOptions(opts)

	normalizedName, err := normalizeProductName(name)
	if err != nil {
		return nil, err
	}
	if err := validatePrice(price); err != nil {
		return nil, err
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, invalid("tenant_id", "must not be blank")
	}

	return &Product{
		Entity: newEntity(o.id, tenantID, o),
		name:   normalizedName,
		price:  price,
		active: true,
	}, nil
}

func (p *Product) Name() string                { return p.name }
func (p *Product) Description() string         { return p.description }
func (p *Product) Price() decimal.Decimal      { return p.price }
func (p *Product) SKU() string                 { return p.sku }
func (p *Product) IsActive() bool              { return p.active }
func (p *Product) Stock() int                  { return p.stock }
func (p *Product) Category() string            { return p.category }
func (p *Product) Weight() decimal.NullDecimal { return p.weight }
func (p *Product) MinStock() int               { return p.minStock }
func (p *Product) IsFeatured() bool            { return p.featured }
func (p *Product) ViewCount() int64            { return p.viewCount }
func (p *Product) LastViewedAt() *time.Time    { return copyTime(p.lastViewedAt) }
func (p *Product) Equal(other *Product) bool   { return other != nil && p.SameIdentity(other) }
func (p *Product) Tags() []string              { return append([]string(nil), p.tags...) }
func (p *Product) IsOutOfStock() bool          { return p.stock == 0 }
func (p *Product) IsLowStock() bool            { return p.stock <= p.minStock }

func (p *Product) Dimensions() *Dimensions {
	if p.dimensions == nil {
		return nil
	}
	d := *p.dimensions
	return &d
}

// MaxStock returns the upper stock threshold, or nil when unbounded.
func (p *Product) MaxStock() *int {
	if p.maxStock == nil {
		return nil
	}
	v := *p.maxStock
	return &v
}

// IsOverstocked reports stock above a bounded maximum.
func (p *Product) IsOverstocked() bool {
	return p.maxStock != nil && p.stock > *p.maxStock
}

// UpdatePrice changes the price. Besides the absolute bounds, a single change
// may not exceed 5x the current price or drop below a tenth of it.
func (p *Product) UpdatePrice(newPrice decimal.Decimal, actor string) error {
	if err := validatePrice(newPrice); err != nil {
		return err
	}
	if p.price.IsPositive() {
		if newPrice.GreaterThan(p.price.Mul(maxPriceIncreaseFactor)) {
			return ErrPriceChangeTooLarge.withf("price %s is more than %s times the current price %s",
				newPrice.StringFixed(PriceDecimalPlaces), maxPriceIncreaseFactor, p.price.StringFixed(PriceDecimalPlaces))
		}
		if newPrice.LessThan(p.price.Mul(minPriceDecreaseFactor)) {
			return ErrPriceChangeTooLarge.withf("price %s is a decrease of more than 90%% from %s",
				newPrice.StringFixed(PriceDecimalPlaces), p.price.StringFixed(PriceDecimalPlaces))
		}
	}
	p.price = newPrice
	p.MarkUpdated(actor)
	return nil
}

// ApplyDiscount lowers the price by percent (0 to 100) through UpdatePrice, so
// every price rule still applies. The result is rounded to cents.
func (p *Product) ApplyDiscount(percent decimal.Decimal, actor string) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return invalid("discount", "percent must be between 0 and 100, got %s", percent)
	}
	factor := hundred.Sub(percent).Div(hundred)
	return p.UpdatePrice(p.price.Mul(factor).Round(PriceDecimalPlaces), actor)
}

// AdjustStock applies delta to the stock level. A zero delta changes nothing.
func (p *Product) AdjustStock(delta int, actor, reason string) (StockMovement, error) {
	if delta == 0 {
		return StockMovement{ProductID: p.ID(), Before: p.stock, After: p.stock, Reason: reason, By: actor}, nil
	}
	next := int64(p.stock) + int64(delta)
	if next < 0 {
		return StockMovement{}, ErrInsufficientStock.withf("cannot remove %d units, only %d in stock", -delta, p.stock)
	}
	if next > MaxStockQuantity {
		return StockMovement{}, ErrStockCeilingExceeded.withf("stock of %d would exceed the ceiling of %d", next, MaxStockQuantity)
	}

	before := p.stock
	p.stock = int(next)
	p.MarkUpdated(actor)
	return StockMovement{
		ProductID: p.ID(),
		Delta:     delta,
		Before:    before,
		After:     p.stock,
		Reason:    reason,
		By:        actor,
		At:        *p.updatedAt,
	}, nil
}

// ReserveStock removes quantity units. quantity must be positive.
func (p *Product) ReserveStock(quantity int, actor string) (StockMovement, error) {
	if quantity <= 0 {
		return StockMovement{}, invalid("quantity", "reservation must be positive, got %d", quantity)
	}
	return p.AdjustStock(-quantity, actor, "reservation")
}

// Restock adds quantity units. quantity must be positive.
func (p *Product) Restock(quantity int, actor string) (StockMovement, error) {
	if quantity <= 0 {
		return StockMovement{}, invalid("quantity", "restock must be positive, got %d", quantity)
	}
	return p.AdjustStock(quantity, actor, "restock")
}

// Activate makes the product sellable. It is rejected while the name or price
// are invalid or the product is deleted.
func (p *Product) Activate(actor string) error {
	if p.active {
		return nil
	}
	if p.IsDeleted() {
		return &StateError{Op: "activate product", Reason: "product is deleted"}
	}
	if _, err := normalizeProductName(p.name); err != nil {
		return &StateError{Op: "activate product", Reason: err.Error()}
	}
	if err := validatePrice(p.price); err != nil {
		return &StateError{Op: "activate product", Reason: err.Error()}
	}
	p.active = true
	p.MarkUpdated(actor)
	return nil
}

// Deactivate hides the product. An inactive product cannot stay featured.
func (p *Product) Deactivate(actor string) {
	if !p.active {
		return
	}
	p.active = false
	p.featured = false
	p.MarkUpdated(actor)
}

// MarkFeatured is rejected for inactive products.
func (p *Product) MarkFeatured(actor string) error {
	if !p.active {
		return &StateError{Op: "feature product", Reason: "product is inactive"}
	}
	if p.featured {
		return nil
	}
	p.featured = true
	p.MarkUpdated(actor)
	return nil
}

func (p *Product) UnmarkFeatured(actor string) {
	if !p.featured {
		return
	}
	p.featured = false
	p.MarkUpdated(actor)
}

// UpdateTags replaces the tag set. Tags are trimmed, lowercased and
// de-duplicated; blank entries are dropped. Either every tag is valid and the
// whole set is applied, or nothing changes.
func (p *Product) UpdateTags(tags []string, actor string) error {
	normalized, err := normalizeTags(tags)
	if err != nil {
		return err
	}
	p.tags = normalized
	p.MarkUpdated(actor)
	return nil
}

// HasTag reports whether tag (case-insensitive) is set.
func (p *Product) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range p.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RecordView counts a view. Views are not business changes, so the update
// stamp is left alone.
func (p *Product) RecordView() {
	p.viewCount++
	now := p.now()
	p.lastViewedAt = &now
}

// UpdateDetails replaces name and description together.
func (p *Product) UpdateDetails(name, description, actor string) error {
	normalizedName, err := normalizeProductName(name)
	if err != nil {
		return err
	}
	description = strings.TrimSpace(description)
	if runeLen(description) > MaxDescriptionLength {
		return invalid("description", "must be at most %d characters", MaxDescriptionLength)
	}
	p.name = normalizedName
	p.description = description
	p.MarkUpdated(actor)
	return nil
}

// UpdateSKU sets the SKU in upper case. An empty value clears it. Uniqueness
// within the tenant is checked by the caller against the repository.
func (p *Product) UpdateSKU(sku, actor string) error {
	normalized, err := NormalizeSKU(sku)
	if err != nil {
		return err
	}
	p.sku = normalized
	p.MarkUpdated(actor)
	return nil
}

func (p *Product) UpdateCategory(category, actor string) error {
	category = collapseSpaces(category)
	if category != "" {
		if runeLen(category) > MaxCategoryLength {
			return invalid("category", "must be at most %d characters", MaxCategoryLength)
		}
		if !categoryPattern.MatchString(category) {
			return invalid("category", "%q contains unsupported characters", category)
		}
	}
	p.category = category
	p.MarkUpdated(actor)
	return nil
}

// SetStockThresholds sets the low-stock level and an optional maximum. A nil
// maximum means unbounded.
func (p *Product) SetStockThresholds(minStock int, maxStock *int, actor string) error {
	if err := validateThresholds(minStock, maxStock); err != nil {
		return err
	}
	p.minStock = minStock
	if maxStock == nil {
		p.maxStock = nil
	} else {
		v := *maxStock
		p.maxStock = &v
	}
	p.MarkUpdated(actor)
	return nil
}

// SetWeight sets or, with an invalid NullDecimal, clears the weight.
func (p *Product) SetWeight(weight decimal.NullDecimal, actor string) error {
	if weight.Valid {
		if weight.Decimal.IsNegative() || weight.Decimal.GreaterThan(MaxWeight) {
			return invalid("weight", "must be between 0 and %s", MaxWeight)
		}
	}
	p.weight = weight
	p.MarkUpdated(actor)
	return nil
}

// SetDimensions sets or, with nil, clears the package dimensions.
func (p *Product) SetDimensions(d *Dimensions, actor string) error {
	if d != nil {
		sides := []struct {
			name  string
			value decimal.Decimal
		}{{"length", d.Length}, {"width", d.Width}, {"height", d.Height}}
		for _, side := range sides {
			if !side.value.IsPositive() {
				return invalid("dimensions", "%s must be positive", side.name)
			}
		}
		c := *d
		c.Unit = strings.TrimSpace(c.Unit)
		d = &c
	}
	p.dimensions = d
	p.MarkUpdated(actor)
	return nil
}

// IsValid re-checks every field invariant.
func (p *Product) IsValid() bool {
	return p.validate() == nil
}

func (p *Product) validate() error {
	if err := p.Entity.validate(); err != nil {
		return err
	}
	if _, err := normalizeProductName(p.name); err != nil {
		return err
	}
	if runeLen(p.description) > MaxDescriptionLength {
		return invalid("description", "must be at most %d characters", MaxDescriptionLength)
	}
	if err := validatePrice(p.price); err != nil {
		return err
	}
	if p.sku != "" {
		if _, err := NormalizeSKU(p.sku); err != nil {
			return err
		}
	}
	if p.stock < 0 || p.stock > MaxStockQuantity {
		return invalid("stock", "must be between 0 and %d", MaxStockQuantity)
	}
	if err := validateThresholds(p.minStock, p.maxStock); err != nil {
		return err
	}
	if p.featured && !p.active {
		return invalid("featured", "inactive product cannot be featured")
	}
	if _, err := normalizeTags(p.tags); err != nil {
		return err
	}
	return nil
}

func normalizeProductName(name string) (string, error) {
	name = collapseSpaces(name)
	if err := validateLength("name", name, MinProductNameLength, MaxProductNameLength); err != nil {
		return "", err
	}
	if !productNamePattern.MatchString(name) {
		return "", invalid("name", "%q contains unsupported characters", name)
	}
	return name, nil
}

func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return invalid("price", "must be greater than zero, got %s", price)
	}
	if price.GreaterThan(MaxPrice) {
		return invalid("price", "must not exceed %s, got %s", MaxPrice.StringFixed(PriceDecimalPlaces), price)
	}
	if !price.Equal(price.Round(PriceDecimalPlaces)) {
		return invalid("price", "must have at most %d decimal places, got %s", PriceDecimalPlaces, price)
	}
	return nil
}

// NormalizeSKU trims and upper-cases sku and checks its format. An empty input
// is valid and means "no SKU".
func NormalizeSKU(sku string) (string, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return "", nil
	}
	if len(sku) > MaxSKULength {
		return "", invalid("sku", "must be at most %d characters", MaxSKULength)
	}
	if !skuPattern.MatchString(sku) {
		return "", invalid("sku", "%q may only contain A-Z, 0-9, '-' and '_'", sku)
	}
	return sku, nil
}

func normalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.ToLower(collapseSpaces(raw))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		if runeLen(tag) > MaxTagLength {
			return nil, invalid("tags", "tag %q is longer than %d characters", tag, MaxTagLength)
		}
		if !tagPattern.MatchString(tag) {
			return nil, invalid("tags", "tag %q contains unsupported characters", tag)
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > MaxTags {
		return nil, invalid("tags", "at most %d tags are allowed, got %d", MaxTags, len(out))
	}
	return out, nil
}

func validateThresholds(minStock int, maxStock *int) error {
	if minStock < 0 {
		return invalid("min_stock", "must not be negative")
	}
	if maxStock != nil {
		if *maxStock < 0 {
			return invalid("max_stock", "must not be negative")
		}
		if minStock > *maxStock {
			return invalid("max_stock", "must be at least min_stock (%d), got %d", minStock, *maxStock)
		}
	}
	return nil
}

// ProductRecord is the persisted form of a Product.
type ProductRecord struct {
	EntityRecord
	Name         string
	Description  string
	Price        decimal.Decimal
	SKU          string
	Active       bool
	Stock        int
	Category     string
	Tags         []string
	Weight       decimal.NullDecimal
	Dimensions   *Dimensions
	MinStock     int
	MaxStock     *int
	Featured     bool
	ViewCount    int64
	LastViewedAt *time.Time
}

// Record returns the persisted form of p.
func (p *Product) Record() ProductRecord {
	return ProductRecord{
		EntityRecord: p.record(),
		Name:         p.name,
		Description:  p.description,
		Price:        p.price,
		SKU:          p.sku,
		Active:       p.active,
		Stock:        p.stock,
		Category:     p.category,
		Tags:         p.Tags(),
		Weight:       p.weight,
		Dimensions:   p.Dimensions(),
		MinStock:     p.minStock,
		MaxStock:     p.MaxStock(),
		Featured:     p.featured,
		ViewCount:    p.viewCount,
		LastViewedAt: copyTime(p.lastViewedAt),
	}
}

// RehydrateProduct rebuilds a Product from storage, rejecting records that
// break an invariant.
func RehydrateProduct(r ProductRecord, opts ...Option) (*Product, error) {
	o := buildOptions(opts)
	e, err := entityFromRecord(r.EntityRecord, o)
	if err != nil {
		return nil, err
	}
	p := &Product{
		Entity:       e,
		name:         r.Name,
		description:  r.Description,
		price:        r.Price,
		sku:          r.SKU,
		active:       r.Active,
		stock:        r.Stock,
		category:     r.Category,
		tags:         append([]string(nil), r.Tags...),
		weight:       r.Weight,
		dimensions:   r.Dimensions,
		minStock:     r.MinStock,
		maxStock:     r.MaxStock,
		featured:     r.Featured,
		viewCount:    r.ViewCount,
		lastViewedAt: copyTime(r.LastViewedAt),
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}
