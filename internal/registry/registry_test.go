package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	r := New()

	release, err := r.Acquire("t1")
	require.NoError(t, err)
	assert.True(t, r.Running("t1"))

	_, err = r.Acquire("t1")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	release()
	release() // idempotent
	assert.False(t, r.Running("t1"))

	_, err = r.Acquire("t1")
	assert.NoError(t, err)
}

func TestStaleReleaseDoesNotRemoveNewRun(t *testing.T) {
	r := New()

	release1, err := r.Acquire("t1")
	require.NoError(t, err)
	release1()

	release2, err := r.Acquire("t1")
	require.NoError(t, err)
	defer release2()

	release1()
	assert.True(t, r.Running("t1"))
}

func TestAbort(t *testing.T) {
	r := New()

	assert.False(t, r.Abort("missing"))
	assert.False(t, r.Aborted("missing"))

	release, err := r.Acquire("t1")
	require.NoError(t, err)
	assert.False(t, r.Aborted("t1"))
	assert.True(t, r.Abort("t1"))
	assert.True(t, r.Aborted("t1"))

	release()
	assert.False(t, r.Aborted("t1"), "flag disappears with the entry")
}

func TestList(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Acquire(id)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.List())
}

func TestConcurrentAcquire(t *testing.T) {
	r := New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Acquire("shared"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
			r.Aborted(fmt.Sprintf("other-%d", i))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
