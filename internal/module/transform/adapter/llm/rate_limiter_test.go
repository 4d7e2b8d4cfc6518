package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
	testutil "github.com/jinford/survey-twin/internal/module/transform/testing"
)

func TestRateLimiter_Wait(t *testing.T) {
	rl := NewRateLimiter(10)

	require.NoError(t, rl.Wait(context.Background()))
	defer rl.Release()

	status := rl.Status()
	assert.Equal(t, 9, status.AvailableTokens)
	assert.Equal(t, 1, status.ActiveRequests)
}

func TestRateLimiter_ExhaustedTokensBlock(t *testing.T) {
	rl := NewRateLimiter(2)

	for i := 0; i < 2; i++ {
		require.NoError(t, rl.Wait(context.Background()))
		rl.Release()
	}

	// 3回目は次の補充まで待つ
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := rl.Wait(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Zero(t, rl.Status().ActiveRequests, "semaphore is released on cancellation")
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := newRateLimiter(1, 20*time.Millisecond)

	require.NoError(t, rl.Wait(context.Background()))
	rl.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	rl.Release()

	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Wait(context.Background()))
	defer rl.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, rl.Wait(ctx), context.Canceled)
}

func TestThrottledEngine(t *testing.T) {
	// Setup
	inner := &testutil.MockEngine{}
	engine := NewThrottledEngine(inner, 1)
	req := domain.EngineRequest{RowIndex: 0, Columns: []domain.ColumnValue{{Code: "q1", Label: "性別", Value: "1", ValueLabel: "女性"}}}

	// Execute
	sentences, err := engine.Transform(context.Background(), req)

	// Assert
	require.NoError(t, err)
	assert.Len(t, sentences, 1)
	assert.Len(t, inner.Calls(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = engine.Transform(ctx, req)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Len(t, inner.Calls(), 1)
}
