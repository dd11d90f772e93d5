package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Caller converts verified claims into the caller identity services check.
func (c *Claims) Caller() security.Caller {
	role, ok := security.ParseRole(c.Role)
	if !ok {
		role = security.RoleUser
	}
	return security.Caller{TenantID: c.TenantID, UserID: c.UserID, Role: role}
}

type TokenManager struct {
	secret []byte
	issuer string
	clock  clockwork.Clock
}

// NewTokenManager signs HS256 tokens with secret. A nil clock means the real
// clock.
func NewTokenManager(secret, issuer string, clock clockwork.Clock) (*TokenManager, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	if issuer == "" {
		issuer = "tenantcatalog"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, clock: clock}, nil
}

// GenerateToken issues a token for caller valid for expiresIn.
func (tm *TokenManager) GenerateToken(caller security.Caller, email string, expiresIn time.Duration) (string, time.Time, error) {
	if caller.UserID == "" || (caller.TenantID == "" && !caller.IsAdmin()) {
		return "", time.Time{}, fmt.Errorf("tenant_id and user_id required")
	}
	now := tm.clock.Now()
	expires := now.Add(expiresIn)
	claims := Claims{
		TenantID: caller.TenantID,
		UserID:   caller.UserID,
		Email:    email,
		Role:     string(caller.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    tm.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func ExtractToken(authHeader string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return strings.TrimSpace(token), nil
}
