package credits

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpendInsufficientLeavesBalance(t *testing.T) {
	l := New(500)

	assert.False(t, l.Spend(1000))
	assert.Equal(t, int64(500), l.Balance())
}

func TestSpendAndAdd(t *testing.T) {
	l := New(10000)

	assert.True(t, l.Spend(500))
	assert.Equal(t, int64(9500), l.Balance())

	l.Add(5000)
	assert.Equal(t, int64(14500), l.Balance())

	assert.True(t, l.Spend(14500), "spending the exact balance")
	assert.Zero(t, l.Balance())
}

func TestInvalidAmounts(t *testing.T) {
	l := New(100)

	assert.False(t, l.Spend(-1))
	l.Add(-50)
	l.Add(0)

	assert.Equal(t, int64(100), l.Balance())
	assert.Zero(t, New(-10).Balance())
}

func TestConcurrentSpendNeverOverdraws(t *testing.T) {
	l := New(1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if l.Spend(100) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 10, granted)
	assert.Zero(t, l.Balance())
}
