package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/kitchensync/internal/testutil"
)

func TestClock_NewClockAt(t *testing.T) {
	c := NewClockAt(100)
	assert.Equal(t, int64(100), c.Current())
	assert.Equal(t, int64(101), c.Next())
}

func TestClock_ThreadSafe(t *testing.T) {
	c := NewClock()
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	seqs := make(chan int64, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seqs <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "seq %d generated twice", s)
		seen[s] = true
	}
	assert.Equal(t, int64(goroutines*calls), c.Current())
}

func TestStamp_NeverDecreases(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	first := stamp(clock, time.Time{})
	assert.Equal(t, testutil.Epoch, first)

	clock.Set(testutil.Epoch.Add(-time.Hour))
	assert.Equal(t, first, stamp(clock, first))

	clock.Set(testutil.Epoch.Add(time.Hour))
	assert.Equal(t, testutil.Epoch.Add(time.Hour), stamp(clock, first))
}
