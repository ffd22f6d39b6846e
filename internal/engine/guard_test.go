package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardSet_SecondAcquireFails(t *testing.T) {
	g := newGuardSet()

	assert.True(t, g.tryAcquire("work"))
	assert.False(t, g.tryAcquire("work"))

	g.release("work")
	assert.True(t, g.tryAcquire("work"))
}

func TestGuardSet_AccountsAreIndependent(t *testing.T) {
	g := newGuardSet()

	assert.True(t, g.tryAcquire("work"))
	assert.True(t, g.tryAcquire("personal"))
}

func TestGuardSet_ConcurrentAcquire(t *testing.T) {
	g := newGuardSet()

	const attempts = 64

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if g.tryAcquire("work") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one concurrent trigger may win the guard")
}
