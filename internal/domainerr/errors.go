// Package domainerr provides audit-grade errors for security and multi-tenancy
// failures. Each error carries an id, timestamp, tenant and user ids, a machine
// readable code, a category, a severity and structured context so that logging
// and transport mapping can branch on a classification computed once.
package domainerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Severity ranks how urgently an error needs attention.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Categories used by the concrete errors in this package.
const (
	CategoryMultiTenancy = "MultiTenancy"
	CategorySecurity     = "Security"
)

// DomainError is the common base of every domain error.
type DomainError struct {
	ID            uuid.UUID
	OccurredAt    time.Time
	TenantID      string
	UserID        string
	Code          string
	Category      string
	Severity      Severity
	Message       string
	Context       map[string]any
	CorrelationID string
	Retryable     bool
	ShouldLog     bool
	Cause         error
}

// Now is the clock used for OccurredAt.
var Now = func() time.Time { return time.Now().UTC() }

// New creates a base error with a fresh id and timestamp.
func New(code, category string, severity Severity, message string) *DomainError {
	return &DomainError{
		ID:         uuid.New(),
		OccurredAt: Now(),
		Code:       code,
		Category:   category,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]any),
		ShouldLog:  true,
	}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Base returns e. Concrete errors embed *DomainError and inherit it, which lets As
// reach the shared fields of any leaf.
func (e *DomainError) Base() *DomainError {
	return e
}

// WithContext adds a structured context entry (chainable).
func (e *DomainError) WithContext(key string, value any) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) WithCorrelationID(id string) *DomainError {
	e.CorrelationID = id
	return e
}

func (e *DomainError) WithTenant(tenantID string) *DomainError {
	e.TenantID = tenantID
	return e
}

func (e *DomainError) WithUser(userID string) *DomainError {
	e.UserID = userID
	return e
}

func (e *DomainError) WithCause(err error) *DomainError {
	e.Cause = err
	return e
}

// ContextJSON serialises the context map.
func (e *DomainError) ContextJSON() (string, error) {
	if len(e.Context) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(e.Context)
	if err != nil {
		return "", fmt.Errorf("marshal error context: %w", err)
	}
	return string(b), nil
}

// LogValue renders the error as a slog group.
func (e *DomainError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("error_id", e.ID.String()),
		slog.String("code", e.Code),
		slog.String("category", e.Category),
		slog.String("severity", e.Severity.String()),
		slog.String("message", e.Message),
		slog.Time("occurred_at", e.OccurredAt),
		slog.Bool("retryable", e.Retryable),
	}
	if e.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", e.TenantID))
	}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	if e.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", e.CorrelationID))
	}
	if ctx, err := e.ContextJSON(); err == nil && ctx != "{}" {
		attrs = append(attrs, slog.String("context", ctx))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

type baser interface {
	Base() *DomainError
}

// As returns the base Error of the first domain error in err's chain.
func As(err error) (*DomainError, bool) {
	var b baser
	if errors.As(err, &b) {
		return b.Base(), true
	}
	return nil, false
}
