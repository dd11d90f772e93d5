package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/aryan0dhankhar/tenantcatalog/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/audit"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/auth"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/ratelimit"
)

// CorrelationHeader carries the request correlation id in and out.
const CorrelationHeader = "X-Correlation-ID"

// Public reports whether a request may proceed without a token.
type Public func(r *http.Request) bool

// PublicPaths treats the listed paths as public.
func PublicPaths(paths ...string) Public {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return func(r *http.Request) bool { return set[r.URL.Path] }
}

// CorrelationID reuses the inbound correlation id or mints one, and echoes
// it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(CorrelationHeader))
		if id == "" || len(id) > 128 {
			id = logger.NewCorrelationID()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithCorrelationID(r.Context(), id)))
	})
}

// JWTMiddleware verifies the bearer token and attaches the caller it names.
func JWTMiddleware(tm *auth.TokenManager, public Public, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public != nil && public(r) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing auth")
				return
			}

			tokenString, err := auth.ExtractToken(authHeader)
			if err != nil {
				unauthorized(w, "invalid auth")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				log.WarnContext(r.Context(), "rejected token",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				unauthorized(w, "invalid token")
				return
			}

			caller := claims.Caller()
			caller.IPAddress = ClientIP(r)
			caller.UserAgent = r.UserAgent()
			next.ServeHTTP(w, r.WithContext(security.WithCaller(r.Context(), caller)))
		})
	}
}

// RateLimitMiddleware limits requests per tenant, or per client address when
// no caller is known.
func RateLimitMiddleware(limiter *ratelimit.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + ClientIP(r)
			if c, ok := security.CallerFrom(r.Context()); ok && c.TenantID != "" {
				key = "tenant:" + c.TenantID
			}

			if !limiter.Allow(key) {
				log.WarnContext(r.Context(), "rate limit exceeded", slog.String("key", key))
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuditMiddleware records every mutating request with its outcome.
func AuditMiddleware(auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			caller, _ := security.CallerFrom(r.Context())
			status := "success"
			if rec.status >= http.StatusBadRequest {
				status = "failed"
			}
			auditLog.LogAction(r.Context(), caller.TenantID, caller.Actor(),
				strings.ToLower(r.Method), "http", r.URL.Path, status, strconv.Itoa(rec.status))
		})
	}
}

// ClientIP returns the remote address without its port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func unauthorized(w http.ResponseWriter, msg string) {
	http.Error(w, `{"error":"`+msg+`"}`, http.StatusUnauthorized)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
