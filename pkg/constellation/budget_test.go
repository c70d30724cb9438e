package constellation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetRemainingIsMonotonic(t *testing.T) {
	b := NewBudget(100*time.Millisecond, 5*time.Millisecond)

	first := b.Remaining()
	assert.Greater(t, first, time.Duration(0))

	time.Sleep(10 * time.Millisecond)
	second := b.Remaining()
	assert.Less(t, second, first)
}

func TestBudgetExhaustion(t *testing.T) {
	b := NewBudget(20*time.Millisecond, 5*time.Millisecond)
	assert.False(t, b.Exhausted())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Exhausted())
	assert.Equal(t, time.Duration(0), b.Remaining())

	_, _, err := b.Context(context.Background(), 0)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestBudgetFloorStopsEarly(t *testing.T) {
	// 10ms left but the floor demands 50ms: no sub-operation may start.
	b := NewBudget(10*time.Millisecond, 50*time.Millisecond)
	assert.True(t, b.Exhausted())

	_, _, err := b.Context(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestBudgetContextCapsAtMax(t *testing.T) {
	b := NewBudget(10*time.Second, time.Millisecond)

	ctx, cancel, err := b.Context(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), 50*time.Millisecond)
}

func TestBudgetContextUsesRemainderByDefault(t *testing.T) {
	b := NewBudget(80*time.Millisecond, time.Millisecond)

	ctx, cancel, err := b.Context(context.Background(), 0)
	require.NoError(t, err)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), 80*time.Millisecond)
	assert.Greater(t, time.Until(deadline), 40*time.Millisecond)
}
