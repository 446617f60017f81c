package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClockSequenceIsStrictlyIncreasing(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current(), "Current must not advance the clock")
}

func TestNewClockAtResumesAboveStart(t *testing.T) {
	c := NewClockAt(41)
	assert.Equal(t, int64(41), c.Current())
	assert.Equal(t, int64(42), c.Next())
}

func TestAdvanceToNeverMovesBack(t *testing.T) {
	c := NewClock()
	c.AdvanceTo(10)
	assert.Equal(t, int64(10), c.Current())

	c.AdvanceTo(5)
	assert.Equal(t, int64(10), c.Current(), "a lower target is a no-op")

	c.AdvanceTo(12)
	assert.Equal(t, int64(13), c.Next())
}

func TestClockConcurrentNextYieldsUniqueSequences(t *testing.T) {
	const workers, perWorker = 8, 200
	c := NewClock()

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seq := c.Next()
				mu.Lock()
				seen[seq] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, int64(workers*perWorker), c.Current())
}
