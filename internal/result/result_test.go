package result

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccess(t *testing.T) {
	r := Success(42)

	assert.True(t, r.IsSuccess())
	assert.False(t, r.IsFailure())
	v, ok := r.Value()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Empty(t, r.Errors())
	assert.NoError(t, r.Err())
}

func TestSuccess_NilPayloadPanics(t *testing.T) {
	var p *int
	assert.PanicsWithValue(t, ErrNilValue, func() { Success(p) })
	assert.PanicsWithValue(t, ErrNilValue, func() { Success[error](nil) })
	assert.PanicsWithValue(t, ErrNilValue, func() { Success[map[string]int](nil) })
}

func TestSuccessOrNil_AcceptsNil(t *testing.T) {
	var p *int
	r := SuccessOrNil(p)

	assert.True(t, r.IsSuccess())
	v, _ := r.Value()
	assert.Nil(t, v)
}

func TestOk(t *testing.T) {
	r := Ok()

	assert.True(t, r.IsSuccess())
	assert.Equal(t, Unit{}, r.MustValue())
}

func TestFailure(t *testing.T) {
	r := Failure[int]("not found")

	assert.True(t, r.IsFailure())
	assert.Equal(t, []string{"not found"}, r.Errors())
	v, ok := r.Value()
	assert.False(t, ok)
	assert.Zero(t, v)
	require.Error(t, r.Err())
	assert.Equal(t, "not found", r.Err().Error())
}

func TestFailures_DropsBlankMessages(t *testing.T) {
	r := Failures[string]("first", "  ", "second")

	assert.Equal(t, []string{"first", "second"}, r.Errors())
	assert.Equal(t, "first; second", r.Error())
}

func TestFailure_BlankPanics(t *testing.T) {
	assert.PanicsWithValue(t, ErrEmptyFailure, func() { Failure[int]("") })
	assert.PanicsWithValue(t, ErrEmptyFailure, func() { Failure[int]("   ") })
	assert.PanicsWithValue(t, ErrEmptyFailure, func() { Failures[int]() })
	assert.PanicsWithValue(t, ErrEmptyFailure, func() { Failures[int]("", " ") })
	assert.PanicsWithValue(t, ErrEmptyFailure, func() { FailureFrom[int](nil) })
}

func TestFailureFrom_KeepsCause(t *testing.T) {
	sentinel := errors.New("duplicate sku")
	r := FailureFrom[string](fmt.Errorf("create product: %w", sentinel))

	assert.True(t, r.IsFailure())
	assert.ErrorIs(t, r.Err(), sentinel)
	assert.Equal(t, "create product: duplicate sku", r.Error())
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError(1, nil).IsSuccess())
	assert.True(t, FromError(1, errors.New("boom")).IsFailure())
}

func TestZeroValueIsUninitializedFailure(t *testing.T) {
	var r Result[int]

	assert.True(t, r.IsFailure())
	assert.ErrorIs(t, r.Err(), ErrUninitialized)
	assert.Equal(t, []string{ErrUninitialized.Error()}, r.Errors())
	assert.Equal(t, ErrUninitialized.Error(), r.Error())
	assert.Equal(t, "Failure(result: uninitialized result)", r.String())

	mapped := Map(r, strconv.Itoa)
	assert.True(t, mapped.IsFailure())
	assert.Equal(t, r.Error(), mapped.Error())
}

func TestMustValue_PanicsOnFailure(t *testing.T) {
	assert.Panics(t, func() { Failure[int]("nope").MustValue() })
}

func TestMap_Success(t *testing.T) {
	double := func(v int) int { return v * 2 }

	for _, x := range []int{-3, 0, 1, 21} {
		got := Map(Success(x), double)
		assert.True(t, got.Equal(Success(double(x))), "x=%d", x)
	}
}

func TestMap_FailureSkipsTransform(t *testing.T) {
	called := false
	r := Map(Failures[int]("a", "b"), func(v int) string {
		called = true
		return strconv.Itoa(v)
	})

	assert.False(t, called)
	assert.True(t, r.Equal(Failures[string]("a", "b")))
}

func TestMap_PanicBecomesFailure(t *testing.T) {
	r := Map(Success(1), func(int) int { panic("kaboom") })

	assert.True(t, r.IsFailure())
	assert.Contains(t, r.Error(), "mapping failed")
	assert.Contains(t, r.Error(), "kaboom")
}

func TestTryMap_ErrorBecomesFailure(t *testing.T) {
	r := TryMap(Success("x"), func(s string) (int, error) { return strconv.Atoi(s) })

	assert.True(t, r.IsFailure())
	assert.Contains(t, r.Error(), "mapping failed")
}

func TestTryMap_PreservesCauseOnFailure(t *testing.T) {
	sentinel := errors.New("gone")
	r := TryMap(FailureFrom[int](sentinel), func(int) (int, error) { return 0, nil })

	assert.ErrorIs(t, r.Err(), sentinel)
}

func TestOnSuccess(t *testing.T) {
	var seen int
	r := Success(7).OnSuccess(func(v int) { seen = v }).OnFailure(func([]string) { seen = -1 })

	assert.Equal(t, 7, seen)
	assert.True(t, r.Equal(Success(7)))
}

func TestOnFailure(t *testing.T) {
	var seen []string
	r := Failure[int]("bad").OnSuccess(func(int) { t.Fatal("must not run") }).OnFailure(func(e []string) { seen = e })

	assert.Equal(t, []string{"bad"}, seen)
	assert.True(t, r.IsFailure())
}

func TestHookPanicIsLoggedAndSwallowed(t *testing.T) {
	var buf bytes.Buffer
	SetHookLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { SetHookLogger(nil) })

	r := Success(1).OnSuccess(func(int) { panic("hook bug") })

	assert.True(t, r.Equal(Success(1)))
	assert.Contains(t, buf.String(), "result hook panicked")
	assert.Contains(t, buf.String(), "hook bug")
}

func TestEqual(t *testing.T) {
	assert.True(t, Success([]int{1, 2}).Equal(Success([]int{1, 2})))
	assert.False(t, Success(1).Equal(Success(2)))
	assert.False(t, Success(0).Equal(Failure[int]("x")))
	assert.True(t, Failures[int]("a", "b").Equal(Failures[int]("a", "b")))
	assert.False(t, Failure[int]("a").Equal(Failure[int]("b")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "Success(3)", Success(3).String())
	assert.Equal(t, "Failure(x; y)", Failures[int]("x", "y").String())
}
