package handler

import (
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/tenantcatalog/internal/security/middleware"
	"github.com/aryan0dhankhar/tenantcatalog/internal/service"
)

// LoginRequest represents login credentials
type LoginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler exchanges credentials for a bearer token.
type LoginHandler struct {
	logins *service.LoginService
	logger *slog.Logger
}

// NewLoginHandler creates a new login handler
func NewLoginHandler(logins *service.LoginService, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{logins: logins, logger: logger}
}

// ServeHTTP handles POST /api/login requests
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, h.logger, "invalid request")
		return
	}

	res := h.logins.Login(r.Context(), service.LoginInput{
		TenantID:  req.TenantID,
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if res.IsFailure() {
		writeError(w, h.logger, res.Err())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res.MustValue())
}
