package middleware

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQuotaManager_ReserveAndRefund(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryQuotaManager(100)

	require.NoError(t, m.Reserve(ctx, "run-1", 30))
	assert.Equal(t, 70, m.Remaining())

	require.NoError(t, m.Reserve(ctx, "run-2", 70))
	assert.Equal(t, 0, m.Remaining())

	err := m.Reserve(ctx, "run-3", 1)
	assert.ErrorIs(t, err, ErrQuotaExhausted)

	require.NoError(t, m.Refund(ctx, "run-1", 10))
	assert.Equal(t, 10, m.Remaining())
}

func TestMemoryQuotaManager_RefundBounds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryQuotaManager(50)

	require.NoError(t, m.Reserve(ctx, "run-1", 20))

	assert.Error(t, m.Refund(ctx, "run-1", 25))
	assert.NoError(t, m.Refund(ctx, "run-1", 0))
	assert.NoError(t, m.Refund(ctx, "run-1", 20))

	// Reservation fully released; a second refund has nothing to return.
	assert.Error(t, m.Refund(ctx, "run-1", 1))
	assert.Equal(t, 50, m.Remaining())
}

func TestMemoryQuotaManager_InvalidReservation(t *testing.T) {
	t.Parallel()

	m := NewMemoryQuotaManager(10)
	assert.Error(t, m.Reserve(context.Background(), "run-1", 0))
	assert.Error(t, m.Reserve(context.Background(), "run-1", -5))
}

func TestMemoryQuotaManager_Unlimited(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryQuotaManager(-1)

	require.NoError(t, m.Reserve(ctx, "run-1", 1_000_000))
	assert.Equal(t, -1, m.Remaining())
	require.NoError(t, m.Refund(ctx, "run-1", 1_000_000))
}

func TestMemoryQuotaManager_ConcurrentReservations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryQuotaManager(100)

	var wg sync.WaitGroup
	granted := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Reserve(ctx, "shared", 1); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, 100, count)
	assert.Equal(t, 0, m.Remaining())
}
