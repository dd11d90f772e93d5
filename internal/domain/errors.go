package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
	ErrBusinessRule    = errors.New("business rule violation")

	// ErrNotFound, ErrDuplicate and ErrConcurrentUpdate are returned by
	// repository implementations. ErrConcurrentUpdate means the stored version
	// moved on since the aggregate was loaded.
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("duplicate")
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// ValidationError reports a value rejected at the point of assignment.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StateError reports an operation that is not allowed in the aggregate's
// current state.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Op, e.Reason)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// RuleError reports a business rule violation. Errors with the same Code match
// under errors.Is, so callers can test against the exported values below.
type RuleError struct {
	Code    string
	Message string
}

func (e *RuleError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *RuleError) Unwrap() error { return ErrBusinessRule }

func (e *RuleError) Is(target error) bool {
	t, ok := target.(*RuleError)
	return ok && t.Code == e.Code
}

func (e *RuleError) withf(format string, args ...any) *RuleError {
	return &RuleError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrPriceChangeTooLarge  = &RuleError{Code: "PRICE_CHANGE_TOO_LARGE", Message: "price change exceeds the allowed ratio"}
	ErrInsufficientStock    = &RuleError{Code: "INSUFFICIENT_STOCK", Message: "stock would become negative"}
	ErrStockCeilingExceeded = &RuleError{Code: "STOCK_CEILING_EXCEEDED", Message: "stock would exceed the safety ceiling"}
	ErrStorageQuotaExceeded = &RuleError{Code: "STORAGE_QUOTA_EXCEEDED", Message: "storage usage would exceed the quota"}
	ErrSubscriptionExpired  = &RuleError{Code: "SUBSCRIPTION_EXPIRED", Message: "subscription has expired"}
	ErrUserLimitReached     = &RuleError{Code: "USER_LIMIT_REACHED", Message: "tenant has reached its user limit"}
)
