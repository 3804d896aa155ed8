package socketlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireIsExclusivePerKey(t *testing.T) {
	table := NewTable()
	key := Key{ChargePointID: 1, ConnectorID: 1}

	token, ok := table.Acquire(key)
	assert.True(t, ok)
	assert.True(t, table.Held(key))

	_, ok = table.Acquire(key)
	assert.False(t, ok, "second acquire on the same socket must fail fast")

	other := Key{ChargePointID: 1, ConnectorID: 2}
	_, ok = table.Acquire(other)
	assert.True(t, ok, "a different socket must not be serialized")

	assert.True(t, table.Release(key, token))
	assert.False(t, table.Held(key))
}

func TestReleaseRequiresOwnToken(t *testing.T) {
	table := NewTable()
	key := Key{ChargePointID: 7, ConnectorID: 1}

	token, ok := table.Acquire(key)
	assert.True(t, ok)

	assert.False(t, table.Release(key, token+1), "foreign token must not release the guard")
	assert.True(t, table.Held(key))

	assert.True(t, table.Release(key, token))
	assert.False(t, table.Release(key, token), "double release is a no-op")
}

func TestConcurrentAcquireAdmitsExactlyOne(t *testing.T) {
	table := NewTable()
	key := Key{ChargePointID: 3, ConnectorID: 1}

	const attempts = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := table.Acquire(key); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}
