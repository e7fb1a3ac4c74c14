package qcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestKeyNormalizesQueryText(t *testing.T) {
	params := Params{TopK: 5, Model: "gpt-4o"}

	assert.Equal(t,
		Key("alpha", "What is the budget?", params),
		Key("alpha", "  what   IS the\tbudget? ", params))

	assert.NotEqual(t,
		Key("alpha", "What is the budget?", params),
		Key("beta", "What is the budget?", params))

	assert.NotEqual(t,
		Key("alpha", "What is the budget?", Params{TopK: 5, Model: "gpt-4o"}),
		Key("alpha", "What is the budget?", Params{TopK: 10, Model: "gpt-4o"}))
}

func TestGetOrComputeCachesResult(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()
	params := Params{TopK: 5, Model: "gpt-4o"}

	calls := 0
	compute := func(context.Context) (string, error) {
		calls++
		return "the budget is $50,000", nil
	}

	first, cached, err := cache.GetOrCompute(ctx, "alpha", "What is the budget?", params, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "the budget is $50,000", first)

	second, cached, err := cache.GetOrCompute(ctx, "alpha", "what is the BUDGET?", params, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "compute must run exactly once")
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	_, _, err := cache.GetOrCompute(ctx, "alpha", "q", Params{TopK: 1}, func(context.Context) (string, error) {
		return "", assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	// A failed computation must not have been cached.
	calls := 0
	_, cached, err := cache.GetOrCompute(ctx, "alpha", "q", Params{TopK: 1}, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 1, calls)
}

func TestInvalidateProject(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()
	params := Params{TopK: 5, Model: "gpt-4o"}

	calls := 0
	compute := func(context.Context) (string, error) {
		calls++
		return "answer", nil
	}

	_, _, err := cache.GetOrCompute(ctx, "alpha", "q1", params, compute)
	require.NoError(t, err)
	_, _, err = cache.GetOrCompute(ctx, "beta", "q1", params, compute)
	require.NoError(t, err)

	require.NoError(t, cache.InvalidateProject(ctx, "alpha"))

	// Alpha recomputes after invalidation.
	_, cached, err := cache.GetOrCompute(ctx, "alpha", "q1", params, compute)
	require.NoError(t, err)
	assert.False(t, cached)

	// Beta is untouched.
	_, cached, err = cache.GetOrCompute(ctx, "beta", "q1", params, compute)
	require.NoError(t, err)
	assert.True(t, cached)

	assert.Equal(t, 3, calls)
}
