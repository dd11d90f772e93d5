package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/result"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
	"github.com/aryan0dhankhar/tenantcatalog/internal/service"
)

// ProductResponse is the JSON view of a product.
type ProductResponse struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	Category    string          `json:"category,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	LowStock    bool            `json:"low_stock"`
	Active      bool            `json:"active"`
	Featured    bool            `json:"featured"`
	ViewCount   int64           `json:"view_count"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
}

func productView(p *domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID(),
		TenantID:    p.TenantID(),
		Name:        p.Name(),
		Description: p.Description(),
		SKU:         p.SKU(),
		Category:    p.Category(),
		Tags:        p.Tags(),
		Price:       p.Price(),
		Stock:       p.Stock(),
		LowStock:    p.IsLowStock(),
		Active:      p.IsActive(),
		Featured:    p.IsFeatured(),
		ViewCount:   p.ViewCount(),
		CreatedAt:   p.CreatedAt(),
		UpdatedAt:   p.UpdatedAt(),
	}
}

// CreateProductRequest is the body of POST /api/products.
type CreateProductRequest struct {
	TenantID     string          `json:"tenant_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	SKU          string          `json:"sku"`
	Category     string          `json:"category"`
	Tags         []string        `json:"tags"`
	InitialStock int             `json:"initial_stock"`
}

// StockRequest is the body of POST /api/products/{id}/stock.
type StockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// StockResponse reports a stock movement.
type StockResponse struct {
	ProductID string    `json:"product_id"`
	Delta     int       `json:"delta"`
	Before    int       `json:"before"`
	After     int       `json:"after"`
	Reason    string    `json:"reason,omitempty"`
	By        string    `json:"by"`
	At        time.Time `json:"at"`
}

// PriceRequest is the body of PUT /api/products/{id}/price.
type PriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// ProductHandler serves the catalog endpoints.
type ProductHandler struct {
	products *service.ProductService
	logger   *slog.Logger
}

// NewProductHandler creates a new product handler
func NewProductHandler(products *service.ProductService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{products: products, logger: logger}
}

// List handles GET /api/products. The tenant defaults to the caller's; q
// searches name and SKU, low_stock=true restricts to products at or below
// their minimum.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		caller, _ := security.CallerFrom(r.Context())
		tenantID = caller.TenantID
	}
	if tenantID == "" {
		badRequest(w, h.logger, "tenant is required")
		return
	}

	var res result.Result[[]*domain.Product]
	lowStock, _ := strconv.ParseBool(r.URL.Query().Get("low_stock"))
	switch q := r.URL.Query().Get("q"); {
	case q != "":
		res = h.products.Search(r.Context(), tenantID, q)
	case lowStock:
		res = h.products.LowStock(r.Context(), tenantID)
	default:
		res = h.products.ListActive(r.Context(), tenantID)
	}
	if res.IsFailure() {
		writeError(w, h.logger, res.Err())
		return
	}

	items := res.MustValue()
	out := make([]ProductResponse, 0, len(items))
	for _, p := range items {
		out = append(out, productView(p))
	}
	writeJSON(w, h.logger, http.StatusOK, out)
}

// Create handles POST /api/products.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, h.logger, "invalid request")
		return
	}
	if req.TenantID == "" {
		caller, _ := security.CallerFrom(r.Context())
		req.TenantID = caller.TenantID
	}

	res := h.products.Create(r.Context(), service.CreateProductInput{
		TenantID:     req.TenantID,
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		SKU:          req.SKU,
		Category:     req.Category,
		Tags:         req.Tags,
		InitialStock: req.InitialStock,
	})
	h.respondProduct(w, res, http.StatusCreated)
}

// Get handles GET /api/products/{id}.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respondProduct(w, h.products.Get(r.Context(), r.PathValue("id")), http.StatusOK)
}

// AdjustStock handles POST /api/products/{id}/stock.
func (h *ProductHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req StockRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, h.logger, "invalid request")
		return
	}

	res := h.products.AdjustStock(r.Context(), r.PathValue("id"), req.Delta, req.Reason)
	if res.IsFailure() {
		writeError(w, h.logger, res.Err())
		return
	}
	m := res.MustValue()
	writeJSON(w, h.logger, http.StatusOK, StockResponse{
		ProductID: m.ProductID,
		Delta:     m.Delta,
		Before:    m.Before,
		After:     m.After,
		Reason:    m.Reason,
		By:        m.By,
		At:        m.At,
	})
}

// UpdatePrice handles PUT /api/products/{id}/price.
func (h *ProductHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, h.logger, "invalid request")
		return
	}
	h.respondProduct(w, h.products.UpdatePrice(r.Context(), r.PathValue("id"), req.Price), http.StatusOK)
}

func (h *ProductHandler) respondProduct(w http.ResponseWriter, res result.Result[*domain.Product], status int) {
	if res.IsFailure() {
		writeError(w, h.logger, res.Err())
		return
	}
	writeJSON(w, h.logger, status, productView(res.MustValue()))
}
