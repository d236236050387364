package keyedmutex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_SerializesSameKey(t *testing.T) {
	km := New()

	var counter int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("proj-A")
			defer unlock()

			n := atomic.AddInt32(&counter, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur {
					break
				}
				if atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&counter, -1)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), maxObserved)
}

func TestLock_IndependentKeysDoNotBlock(t *testing.T) {
	km := New()

	unlockA := km.Lock("proj-A")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("proj-B")
		defer unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key should not block")
	}
}

func TestTryLock_ReportsContention(t *testing.T) {
	km := New()

	unlock := km.Lock("proj-A")

	_, ok := km.TryLock("proj-A")
	require.False(t, ok, "TryLock must fail while held")

	unlock()

	unlock2, ok := km.TryLock("proj-A")
	require.True(t, ok)
	unlock2()
}

func TestLock_MapIsGarbageCollectedAfterRelease(t *testing.T) {
	km := New()

	unlock := km.Lock("proj-A")
	unlock()

	km.mu.Lock()
	_, present := km.entries["proj-A"]
	km.mu.Unlock()

	assert.False(t, present, "entry should be removed once no holder remains")
}
