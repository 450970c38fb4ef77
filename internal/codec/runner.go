package codec

import (
	"runtime"
	"sync"
)

// maxPoolThreads is the hard ceiling on worker fan-out.
const maxPoolThreads = 1024

// Pool is a bounded data-parallel worker pool for pixel kernels. The zero
// value is unusable; construct with NewPool. A Pool is resizable: callers
// typically size it to min(configured maximum, SuggestThreads(x, y)).
type Pool struct {
	mu sync.Mutex
	n  int
}

// NewPool returns a pool with max workers. max <= 0 selects all logical
// CPUs. The count is capped at 1024.
func NewPool(max int) *Pool {
	if max <= 0 {
		max = runtime.NumCPU()
	}
	if max > maxPoolThreads {
		max = maxPoolThreads
	}
	return &Pool{n: max}
}

// SetThreads resizes the pool.
func (p *Pool) SetThreads(n int) {
	if n < 1 {
		n = 1
	}
	if n > maxPoolThreads {
		n = maxPoolThreads
	}
	p.mu.Lock()
	p.n = n
	p.mu.Unlock()
}

// Threads reports the current worker count.
func (p *Pool) Threads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// SuggestThreads proposes a worker count for an image of the given
// dimensions, one worker per 256x256 pixel group.
func SuggestThreads(xsize, ysize uint32) uint32 {
	gx := (uint64(xsize) + 255) / 256
	gy := (uint64(ysize) + 255) / 256
	groups := gx * gy
	if groups < 1 {
		groups = 1
	}
	if groups > maxPoolThreads {
		groups = maxPoolThreads
	}
	return uint32(groups)
}

// Run executes fn(i) for i in [0, n), fanning out across the pool's workers
// and blocking until every call has returned.
func (p *Pool) Run(n int, fn func(i int)) {
	workers := p.Threads()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	next := make(chan int)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range next {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)
	wg.Wait()
}
