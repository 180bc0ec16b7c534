package redis

// Observer receives the high signal events of the coordination layer. It is
// called on hot paths and must not block. metrics.CoordinationObservers is
// the prometheus implementation.
type Observer interface {
	CacheLookup(hit bool)
	LockAcquire(acquired bool)
	RateLimitDecision(allowed bool)
	MessagePublished(channel string)
	MessageDelivered(channel string)
	StoreAvailable(up bool)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(bool)        {}
func (nopObserver) LockAcquire(bool)        {}
func (nopObserver) RateLimitDecision(bool)  {}
func (nopObserver) MessagePublished(string) {}
func (nopObserver) MessageDelivered(string) {}
func (nopObserver) StoreAvailable(bool)     {}
