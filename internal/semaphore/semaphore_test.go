package semaphore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicAcquireTryRelease(t *testing.T) {
	s, err := NewAdjustableSemaphore(2)
	require.NoError(t, err)

	require.NoError(t, s.Acquire(context.Background(), 1))
	assert.True(t, s.TryAcquire(1))
	assert.False(t, s.TryAcquire(1))

	s.Release(2)
	assert.True(t, s.TryAcquire(2))
}

func TestAcquireWithLimitIncrease(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	require.NoError(t, s.Acquire(context.Background(), 1))
	require.NoError(t, s.SetLimit(2))
	assert.True(t, s.TryAcquire(1))
}

func TestAcquireWithLimitDecrease(t *testing.T) {
	s, err := NewAdjustableSemaphore(4)
	require.NoError(t, err)

	require.NoError(t, s.Acquire(context.Background(), 2))
	require.NoError(t, s.SetLimit(2))
	assert.False(t, s.TryAcquire(1))

	s.Release(2)
	assert.True(t, s.TryAcquire(2))
}

func TestAcquireErrorsOnNegativeN(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	err = s.Acquire(context.Background(), -1)
	assert.ErrorIs(t, err, ErrNonPositiveN)
}

func TestAcquireErrorsOnZeroN(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	err = s.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNonPositiveN)
}

func TestReleaseErrorsOnNegativeN(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	assert.Panics(t, func() { s.Release(-1) })
}

func TestReleaseErrorsOnZeroN(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	assert.Panics(t, func() { s.Release(0) })
}

func TestReleaseErrorsOnOverRelease(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	assert.Panics(t, func() { s.Release(1) })
}

func TestSetLimitErrorsOnNegativeLimit(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetLimit(-1), ErrNonPositiveLimit)
}

func TestSetLimitErrorsOnZeroLimit(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetLimit(0), ErrNonPositiveLimit)
}

func TestNewAdjustableSemaphoreErrorsOnNegativeLimit(t *testing.T) {
	_, err := NewAdjustableSemaphore(-1)
	assert.ErrorIs(t, err, ErrNonPositiveLimit)
}

func TestNewAdjustableSemaphoreErrorsOnZeroLimit(t *testing.T) {
	_, err := NewAdjustableSemaphore(0)
	assert.ErrorIs(t, err, ErrNonPositiveLimit)
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	require.NoError(t, s.Acquire(context.Background(), 1))

	acquired := make(chan struct{})
	go func() {
		_ = s.Acquire(context.Background(), 1)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	s.Release(1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should have unblocked after release")
	}
}

func TestAcquireUnblocksOnSetLimit(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	require.NoError(t, s.Acquire(context.Background(), 1))

	acquired := make(chan struct{})
	go func() {
		_ = s.Acquire(context.Background(), 1)
		close(acquired)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.SetLimit(2))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter should unblock once limit is raised to fit it")
	}
}

func TestAcquireRespectsContextCancel(t *testing.T) {
	s, err := NewAdjustableSemaphore(1)
	require.NoError(t, err)

	require.NoError(t, s.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = s.Acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentStressNoDeadlockOrRace(t *testing.T) {
	s, err := NewAdjustableSemaphore(4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			if err := s.Acquire(ctx, 1); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			s.Release(1)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stress test deadlocked")
	}
}
