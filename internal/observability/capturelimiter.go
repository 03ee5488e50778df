package observability

import (
	"hash/fnv"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// captureLimiter throttles Sentry uploads per distinct message.
//
// Message hashes map to last-capture times in an LRU cache, so memory stays
// bounded even if many distinct errors occur. A nil limiter allows
// everything.
type captureLimiter struct {
	cache       *lru.Cache
	minInterval time.Duration
}

func newCaptureLimiter(size int, minInterval time.Duration) *captureLimiter {
	cache, err := lru.New(size)
	if err != nil {
		return nil
	}
	return &captureLimiter{cache: cache, minInterval: minInterval}
}

// allow reports whether msg may be captured now, recording the capture time
// if so.
func (l *captureLimiter) allow(msg string) bool {
	if l == nil {
		return true
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(msg))
	key := h.Sum64()

	now := time.Now()
	if last, ok := l.cache.Get(key); ok {
		if now.Sub(last.(time.Time)) < l.minInterval {
			return false
		}
	}
	l.cache.Add(key, now)
	return true
}
