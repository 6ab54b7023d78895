package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop() Handler {
	return HandlerFunc(func(context.Context, Params, ExecutionContext) (Output, error) {
		return Output{"ok": true}, nil
	})
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("log", noop()))

	h, err := r.Resolve("log")
	require.NoError(t, err)
	out, err := h.Execute(context.Background(), nil, ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("log", noop()))

	err := r.Register("log", noop())
	var dup *DuplicateActionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "log", dup.ActionType)
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("missing")

	var unknown *UnknownActionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing", unknown.ActionType)
}

func TestRegistry_RejectsEmptyInput(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", noop()))
	assert.Error(t, r.Register("x", nil))
}

func TestRegistry_Freeze(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b", noop()))
	require.NoError(t, r.Register("a", noop()))
	r.Freeze()
	r.Freeze()

	assert.True(t, r.Frozen())
	assert.ErrorIs(t, r.Register("c", noop()), ErrRegistryFrozen)
	assert.Equal(t, []string{"a", "b"}, r.Types())

	_, err := r.Resolve("a")
	assert.NoError(t, err)
}

func TestRegistry_ConcurrentResolveAfterFreeze(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 10; i++ {
		r.MustRegister(fmt.Sprintf("a%d", i), noop())
	}
	r.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Resolve(fmt.Sprintf("a%d", i%10))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

func TestErrorMarkers(t *testing.T) {
	base := errors.New("boom")

	p := Permanent(base)
	assert.True(t, IsPermanent(p))
	assert.False(t, IsRetryable(p))
	assert.ErrorIs(t, p, base)
	assert.Equal(t, "boom", p.Error())

	r := Retryable(fmt.Errorf("dial: %w", base))
	assert.True(t, IsRetryable(r))
	assert.ErrorIs(t, r, base)

	assert.Nil(t, Permanent(nil))
	assert.Nil(t, Retryable(nil))
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("step a: %w", &ValidationError{Action: "log", Field: "message", Message: "is required"})
	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "message", ve.Field)
	assert.Equal(t, "invalid params for log: message: is required", ve.Error())
}
