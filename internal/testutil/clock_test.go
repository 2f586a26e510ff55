package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_DefaultsToEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(Epoch)
	clock.Advance(90 * time.Second)
	assert.Equal(t, Epoch.Add(90*time.Second), clock.Now())
}

func TestFakeClock_SetCanMoveBackwards(t *testing.T) {
	clock := NewFakeClock(Epoch)
	clock.Set(Epoch.Add(-time.Hour))
	assert.Equal(t, Epoch.Add(-time.Hour), clock.Now())
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, "act-001", ids.Generate())
	assert.Equal(t, "act-002", ids.Generate())

	custom := NewSequentialIDs("sess")
	assert.Equal(t, "sess-001", custom.Generate())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	ids := NewSequentialIDs("x")
	seen := sync.Map{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, dup := seen.LoadOrStore(ids.Generate(), true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
}
