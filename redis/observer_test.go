package redis

import (
	"sync"
)

type observerCounts struct {
	hits      int
	misses    int
	acquired  int
	contended int
	allowed   int
	denied    int
	published int
	delivered int
	down      int
}

// recordingObserver counts events for assertions.
type recordingObserver struct {
	mu     sync.Mutex
	counts observerCounts
}

func (o *recordingObserver) record(f func(c *observerCounts)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f(&o.counts)
}

func (o *recordingObserver) CacheLookup(hit bool) {
	o.record(func(c *observerCounts) {
		if hit {
			c.hits++
			return
		}
		c.misses++
	})
}

func (o *recordingObserver) LockAcquire(acquired bool) {
	o.record(func(c *observerCounts) {
		if acquired {
			c.acquired++
			return
		}
		c.contended++
	})
}

func (o *recordingObserver) RateLimitDecision(allowed bool) {
	o.record(func(c *observerCounts) {
		if allowed {
			c.allowed++
			return
		}
		c.denied++
	})
}

func (o *recordingObserver) MessagePublished(string) {
	o.record(func(c *observerCounts) { c.published++ })
}

func (o *recordingObserver) MessageDelivered(string) {
	o.record(func(c *observerCounts) { c.delivered++ })
}

func (o *recordingObserver) StoreAvailable(up bool) {
	o.record(func(c *observerCounts) {
		if !up {
			c.down++
		}
	})
}

func (o *recordingObserver) snapshot() observerCounts {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts
}
