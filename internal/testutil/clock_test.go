package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDeterministicClock_StartsAtBase(t *testing.T) {
	clock := NewDeterministicClock(testBase, time.Minute)
	assert.Equal(t, testBase, clock.Peek())
	assert.Equal(t, testBase, clock.Now())
}

func TestDeterministicClock_AdvancesByStep(t *testing.T) {
	clock := NewDeterministicClock(testBase, time.Minute)

	assert.Equal(t, testBase, clock.Now())
	assert.Equal(t, testBase.Add(time.Minute), clock.Now())
	assert.Equal(t, testBase.Add(2*time.Minute), clock.Now())
	assert.Equal(t, testBase.Add(3*time.Minute), clock.Peek())
}

func TestDeterministicClock_DefaultStep(t *testing.T) {
	clock := NewDeterministicClock(testBase, 0)
	clock.Now()
	assert.Equal(t, testBase.Add(time.Second), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock(testBase, time.Hour)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, testBase, clock.Now())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock(testBase, time.Second)
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make([][]time.Time, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]time.Time, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = clock.Now()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[time.Time]bool)
	for _, rs := range results {
		for _, r := range rs {
			require.False(t, seen[r], "duplicate reading %s", r)
			seen[r] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}
