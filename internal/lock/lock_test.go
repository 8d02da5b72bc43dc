package lock

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexMap(t *testing.T) {
	m := NewMutexMap()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("task-1")
			counter++
			m.Unlock("task-1")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task-1.lock")

	first := NewFileLock(path)
	require.NoError(t, first.TryLock())

	// A second handle on the same path cannot acquire.
	second := NewFileLock(path)
	assert.Error(t, second.TryLock())

	require.NoError(t, first.Unlock())
	assert.NoError(t, second.TryLock())
	assert.NoError(t, second.Unlock())

	// Unlock on an unheld lock is a no-op.
	assert.NoError(t, first.Unlock())
}
