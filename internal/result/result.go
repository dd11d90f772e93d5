// Package result provides Result, a success-or-failure container returned at
// operation boundaries for expected business outcomes (not found, duplicate,
// validation failed) that should not unwind the caller.
package result

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync/atomic"
)

var (
	// ErrNilValue is the panic value when Success receives a nil payload.
	ErrNilValue = errors.New("result: success value must not be nil")
	// ErrEmptyFailure is the panic value when a failure carries no usable message.
	ErrEmptyFailure = errors.New("result: failure requires at least one non-blank error")
	// ErrUninitialized describes a zero Result, which counts as a failure.
	ErrUninitialized = errors.New("result: uninitialized result")
)

// Unit is the payload of a success that carries no value.
type Unit struct{}

// Result holds either a payload or a non-empty list of error messages, never both.
// The zero value is a failure reporting ErrUninitialized; build results with the
// constructors below.
type Result[T any] struct {
	value   T
	errs    []string
	cause   error
	success bool
}

// Success wraps v. A nil pointer, map, slice, channel, func or interface panics;
// use SuccessOrNil when nil is a meaningful payload.
func Success[T any](v T) Result[T] {
	if isNil(v) {
		panic(ErrNilValue)
	}
	return Result[T]{value: v, success: true}
}

// SuccessOrNil wraps v, accepting nil for nil-able payload types.
func SuccessOrNil[T any](v T) Result[T] {
	return Result[T]{value: v, success: true}
}

// Ok returns a success without payload.
func Ok() Result[Unit] {
	return Result[Unit]{success: true}
}

// Failure returns a failed result with a single message.
func Failure[T any](message string) Result[T] {
	return Failures[T](message)
}

// Failures returns a failed result. Blank messages are dropped; if none remain
// the call panics.
func Failures[T any](messages ...string) Result[T] {
	errs := make([]string, 0, len(messages))
	for _, m := range messages {
		if m = strings.TrimSpace(m); m != "" {
			errs = append(errs, m)
		}
	}
	if len(errs) == 0 {
		panic(ErrEmptyFailure)
	}
	return Result[T]{errs: errs}
}

// FailureFrom returns a failed result describing err. The error stays reachable
// through Err for errors.Is and errors.As.
func FailureFrom[T any](err error) Result[T] {
	if err == nil {
		panic(ErrEmptyFailure)
	}
	r := Failures[T](err.Error())
	r.cause = err
	return r
}

// FromError returns FailureFrom(err) when err is non-nil and SuccessOrNil(v)
// otherwise.
func FromError[T any](v T, err error) Result[T] {
	if err != nil {
		return FailureFrom[T](err)
	}
	return SuccessOrNil(v)
}

func (r Result[T]) IsSuccess() bool { return r.success }

func (r Result[T]) IsFailure() bool { return !r.success }

// Value returns the payload and whether the result is a success.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.success
}

// MustValue returns the payload or panics on failure.
func (r Result[T]) MustValue() T {
	if !r.success {
		panic(fmt.Sprintf("result: MustValue on failure: %s", r.Error()))
	}
	return r.value
}

// Errors returns a copy of the error messages. Empty on success.
func (r Result[T]) Errors() []string {
	if r.success {
		return nil
	}
	if len(r.errs) == 0 {
		return []string{ErrUninitialized.Error()}
	}
	out := make([]string, len(r.errs))
	copy(out, r.errs)
	return out
}

// Error joins the error messages with "; ".
func (r Result[T]) Error() string {
	return strings.Join(r.Errors(), "; ")
}

// Err returns nil on success. On failure it returns the original cause when one
// was supplied, otherwise an error built from the messages.
func (r Result[T]) Err() error {
	if r.success {
		return nil
	}
	if r.cause != nil {
		return r.cause
	}
	if len(r.errs) == 0 {
		return ErrUninitialized
	}
	return errors.New(r.Error())
}

// Equal reports whether both results have the same outcome and the same payload
// or error text.
func (r Result[T]) Equal(other Result[T]) bool {
	if r.success != other.success {
		return false
	}
	if r.success {
		return reflect.DeepEqual(r.value, other.value)
	}
	return r.Error() == other.Error()
}

func (r Result[T]) String() string {
	if r.success {
		return fmt.Sprintf("Success(%v)", r.value)
	}
	return fmt.Sprintf("Failure(%s)", r.Error())
}

// Map applies fn to the payload of a success. Failures pass through with the
// same errors and fn is not called. A panic inside fn becomes a failure.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	return TryMap(r, func(v T) (U, error) {
		return fn(v), nil
	})
}

// TryMap is Map for transforms that can fail.
func TryMap[T, U any](r Result[T], fn func(T) (U, error)) (out Result[U]) {
	if !r.success {
		return Result[U]{errs: r.Errors(), cause: r.cause}
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = Failure[U](fmt.Sprintf("mapping failed: %v", rec))
		}
	}()
	u, err := fn(r.value)
	if err != nil {
		return Failure[U]("mapping failed: " + err.Error())
	}
	return SuccessOrNil(u)
}

// OnSuccess runs fn with the payload when r is a success and returns r unchanged.
func (r Result[T]) OnSuccess(fn func(T)) Result[T] {
	if r.success {
		runHook("on_success", func() { fn(r.value) })
	}
	return r
}

// OnFailure runs fn with the error messages when r is a failure and returns r
// unchanged.
func (r Result[T]) OnFailure(fn func([]string)) Result[T] {
	if !r.success {
		runHook("on_failure", func() { fn(r.Errors()) })
	}
	return r
}

var hookLogger atomic.Pointer[slog.Logger]

// SetHookLogger sets the logger that receives panics recovered from OnSuccess
// and OnFailure hooks. nil restores slog.Default().
func SetHookLogger(logger *slog.Logger) {
	hookLogger.Store(logger)
}

func runHook(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logger := hookLogger.Load()
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("result hook panicked",
				slog.String("hook", name),
				slog.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	fn()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
