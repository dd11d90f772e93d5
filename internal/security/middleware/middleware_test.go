package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantcatalog/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/audit"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/auth"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/ratelimit"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTokens(t *testing.T) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager("0123456789abcdef0123456789abcdef", "", nil)
	require.NoError(t, err)
	return tm
}

func echoCaller(t *testing.T, got *security.Caller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := security.CallerFrom(r.Context())
		if ok {
			*got = c
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestJWTMiddleware(t *testing.T) {
	tm := newTokens(t)
	token, _, err := tm.GenerateToken(security.Caller{TenantID: "acme-1", UserID: "u-1", Role: security.RoleTenantAdmin}, "jane@example.com", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{name: "valid token", path: "/api/products", header: "Bearer " + token, status: http.StatusNoContent},
		{name: "missing header", path: "/api/products", status: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/api/products", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "tampered token", path: "/api/products", header: "Bearer " + token + "x", status: http.StatusUnauthorized},
		{name: "public path", path: "/api/login", status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got security.Caller
			h := JWTMiddleware(tm, PublicPaths("/api/login"), quiet())(echoCaller(t, &got))
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.name == "valid token" {
				assert.Equal(t, "acme-1", got.TenantID)
				assert.Equal(t, security.RoleTenantAdmin, got.Role)
				assert.Equal(t, "192.0.2.1", got.IPAddress)
			}
		})
	}
}

func TestCorrelationID(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logger.CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(CorrelationHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get(CorrelationHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get(CorrelationHeader))
	assert.Equal(t, seen, rec.Header().Get(CorrelationHeader))
}

func TestRateLimitMiddleware_KeysByTenant(t *testing.T) {
	limiter := ratelimit.NewLimiter(1, time.Minute, clockwork.NewFakeClock())
	t.Cleanup(limiter.Stop)
	h := RateLimitMiddleware(limiter, quiet())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(tenant string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		req = req.WithContext(security.WithCaller(req.Context(), security.Caller{TenantID: tenant, UserID: "u", Role: security.RoleUser}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("acme-1"))
	assert.Equal(t, http.StatusTooManyRequests, call("acme-1"))
	assert.Equal(t, http.StatusOK, call("globex"))
}

func TestAuditMiddleware_RecordsMutations(t *testing.T) {
	var buf bytes.Buffer
	auditLogger := audit.NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	h := AuditMiddleware(auditLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	get := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	h.ServeHTTP(httptest.NewRecorder(), get)
	assert.Empty(t, buf.String())

	put := httptest.NewRequest(http.MethodPut, "/api/products/p-1/price", nil)
	put = put.WithContext(security.WithCaller(put.Context(), security.Caller{TenantID: "acme-1", UserID: "u-1", Role: security.RoleUser}))
	h.ServeHTTP(httptest.NewRecorder(), put)

	out := buf.String()
	assert.Contains(t, out, `"action":"put"`)
	assert.Contains(t, out, `"status":"failed"`)
	assert.Contains(t, out, `"tenant_id":"acme-1"`)
}

func TestValidateJSONContentType(t *testing.T) {
	h := ValidateJSONContentType(quiet())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSanitizeInputs(t *testing.T) {
	h := SanitizeInputs(quiet())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for target, want := range map[string]int{
		"/api/products?q=tom%27s":            http.StatusOK,
		"/api/products?q=%3Cscript%3E":       http.StatusBadRequest,
		"/api/products/..%2F..%2Fetc/passwd": http.StatusBadRequest,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, want, rec.Code, target)
	}
}
