package pool_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alpacahq/marketqueue/utils/pool"
)

func TestPool(t *testing.T) {
	// --- given ---
	var jobCount, running, peak int32
	job := func(input int) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		atomic.AddInt32(&jobCount, int32(input))
		atomic.AddInt32(&running, -1)
	}
	p := pool.NewPool(3, job)

	// --- when ---
	cc := make(chan int)
	go func() {
		for i := 0; i < 10; i++ {
			cc <- 1
		}
		close(cc)
	}()
	p.Work(cc)
	p.Wait()

	// --- then ---
	assert.Equal(t, int32(10), atomic.LoadInt32(&jobCount))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}
