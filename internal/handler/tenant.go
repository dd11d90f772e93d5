package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/service"
)

// TenantResponse is the JSON view of a tenant.
type TenantResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	DisplayName       string     `json:"display_name"`
	Active            bool       `json:"active"`
	Plan              string     `json:"plan"`
	PlanExpiresAt     *time.Time `json:"plan_expires_at,omitempty"`
	MaxUsers          int        `json:"max_users"`
	StorageQuotaBytes int64      `json:"storage_quota_bytes"`
	StorageUsedBytes  int64      `json:"storage_used_bytes"`
	StorageUsage      float64    `json:"storage_usage_percent"`
	CustomDomain      string     `json:"custom_domain,omitempty"`
	Subdomain         string     `json:"subdomain,omitempty"`
	Language          string     `json:"language"`
	Timezone          string     `json:"timezone"`
	Country           string     `json:"country,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func tenantView(t *domain.Tenant) TenantResponse {
	return TenantResponse{
		ID:                t.ID(),
		Name:              t.Name(),
		DisplayName:       t.DisplayName(),
		Active:            t.IsActive(),
		Plan:              t.Plan(),
		PlanExpiresAt:     t.PlanExpiresAt(),
		MaxUsers:          t.MaxUsers(),
		StorageQuotaBytes: t.StorageQuotaBytes(),
		StorageUsedBytes:  t.StorageUsedBytes(),
		StorageUsage:      t.StorageUsagePercent(),
		CustomDomain:      t.CustomDomain(),
		Subdomain:         t.Subdomain(),
		Language:          t.Language(),
		Timezone:          t.Timezone(),
		Country:           t.Country(),
		CreatedAt:         t.CreatedAt(),
	}
}

// ResolveResponse names the tenant that owns a host.
type ResolveResponse struct {
	Host     string `json:"host"`
	Kind     string `json:"kind"`
	TenantID string `json:"tenant_id"`
}

// TenantHandler serves tenant lookups.
type TenantHandler struct {
	tenants *service.TenantService
	logger  *slog.Logger
}

// NewTenantHandler creates a new tenant handler
func NewTenantHandler(tenants *service.TenantService, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{tenants: tenants, logger: logger}
}

// Get handles GET /api/tenants/{id}.
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	res := h.tenants.Get(r.Context(), r.PathValue("id"))
	if res.IsFailure() {
		writeError(w, h.logger, res.Err())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, tenantView(res.MustValue()))
}

// Resolve handles GET /api/resolve?host=...&kind=domain|subdomain. It needs
// no caller so that edge routing can use it before authentication.
func (h *TenantHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	kind := domain.DomainKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = domain.DomainKindCustom
	}
	if host == "" || (kind != domain.DomainKindCustom && kind != domain.DomainKindSubdomain) {
		badRequest(w, h.logger, "host and a kind of domain or subdomain are required")
		return
	}

	res := h.tenants.ResolveHost(r.Context(), kind, host)
	if res.IsFailure() {
		writeError(w, h.logger, res.Err())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ResolveResponse{Host: host, Kind: string(kind), TenantID: res.MustValue()})
}
