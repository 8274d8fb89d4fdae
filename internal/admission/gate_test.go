package admission

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGate(t *testing.T, limit int) (*miniredis.Miniredis, *Gate) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewGate(client, limit, nil)
}

func TestTryAdmitCeiling(t *testing.T) {
	_, gate := setupGate(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := gate.TryAdmit(ctx, "user-1", fmt.Sprintf("uploads/user-1/video-%d", i))
		require.NoError(t, err, "admission %d should succeed", i+1)
	}

	err := gate.TryAdmit(ctx, "user-1", "uploads/user-1/video-6")
	assert.ErrorIs(t, err, ErrDenied, "6th concurrent admission must be denied")

	// A different user is unaffected by user-1's queue.
	assert.NoError(t, gate.TryAdmit(ctx, "user-2", "uploads/user-2/video-0"))

	n, err := gate.Count(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestReleaseFreesSlot(t *testing.T) {
	_, gate := setupGate(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, gate.TryAdmit(ctx, "user-1", fmt.Sprintf("k%d", i)))
	}
	require.ErrorIs(t, gate.TryAdmit(ctx, "user-1", "k5"), ErrDenied)

	require.NoError(t, gate.Release(ctx, "user-1", "k0"))
	assert.NoError(t, gate.TryAdmit(ctx, "user-1", "k5"), "released slot should admit again")
}

func TestReleaseIdempotent(t *testing.T) {
	_, gate := setupGate(t, 5)
	ctx := context.Background()

	require.NoError(t, gate.TryAdmit(ctx, "user-1", "k0"))
	require.NoError(t, gate.Release(ctx, "user-1", "k0"))
	assert.NoError(t, gate.Release(ctx, "user-1", "k0"), "releasing a missing entry is a no-op")
	assert.NoError(t, gate.Release(ctx, "user-1", "never-admitted"))

	n, err := gate.Count(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDuplicateKeyDoesNotDoubleCount(t *testing.T) {
	_, gate := setupGate(t, 5)
	ctx := context.Background()

	require.NoError(t, gate.TryAdmit(ctx, "user-1", "same-key"))
	require.NoError(t, gate.TryAdmit(ctx, "user-1", "same-key"))

	n, err := gate.Count(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "hash semantics: same storage key is one entry")
}

func TestFailClosedWhenStoreUnreachable(t *testing.T) {
	mr, gate := setupGate(t, 5)
	mr.Close()

	err := gate.TryAdmit(context.Background(), "user-1", "k0")
	assert.Error(t, err, "unreachable store must deny admission")
	assert.NotErrorIs(t, err, ErrDenied)
}

func TestDefaultLimit(t *testing.T) {
	_, gate := setupGate(t, 0)
	ctx := context.Background()

	for i := 0; i < DefaultLimit; i++ {
		require.NoError(t, gate.TryAdmit(ctx, "u", fmt.Sprintf("k%d", i)))
	}
	assert.ErrorIs(t, gate.TryAdmit(ctx, "u", "overflow"), ErrDenied)
}
