package workqueue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides how long a key waits before it is retried.
type RateLimiter interface {
	// When returns the delay before key is processed again and counts the
	// attempt.
	When(key string) time.Duration
	// NumRequeues returns how often key was retried since it was forgotten.
	NumRequeues(key string) int
	// Forget resets the retry count of key.
	Forget(key string)
}

// ExponentialBackoff doubles the delay of a key after every failure.
type ExponentialBackoff struct {
	mu       sync.Mutex
	failures map[string]int
	base     time.Duration
	max      time.Duration
}

// NewExponentialBackoff returns a limiter starting at base and capped at max.
func NewExponentialBackoff(base, max time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{failures: map[string]int{}, base: base, max: max}
}

func (r *ExponentialBackoff) When(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.failures[key]
	r.failures[key] = n + 1

	backoff := r.base
	for i := 0; i < n && backoff < r.max; i++ {
		backoff *= 2
	}
	if backoff > r.max {
		backoff = r.max
	}
	return backoff
}

func (r *ExponentialBackoff) NumRequeues(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[key]
}

func (r *ExponentialBackoff) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, key)
}

// Bucket bounds the overall retry rate with a token bucket.
type Bucket struct {
	limiter *rate.Limiter
}

// NewBucket returns a limiter allowing qps retries per second with burst.
func NewBucket(qps rate.Limit, burst int) *Bucket {
	return &Bucket{limiter: rate.NewLimiter(qps, burst)}
}

func (r *Bucket) When(string) time.Duration { return r.limiter.Reserve().Delay() }
func (r *Bucket) NumRequeues(string) int    { return 0 }
func (r *Bucket) Forget(string)             {}

// Max waits for the longest delay of its limiters.
type Max []RateLimiter

func (m Max) When(key string) time.Duration {
	var longest time.Duration
	for _, l := range m {
		if d := l.When(key); d > longest {
			longest = d
		}
	}
	return longest
}

func (m Max) NumRequeues(key string) int {
	var most int
	for _, l := range m {
		if n := l.NumRequeues(key); n > most {
			most = n
		}
	}
	return most
}

func (m Max) Forget(key string) {
	for _, l := range m {
		l.Forget(key)
	}
}

// DefaultRateLimiter backs off from 1s to 5m per key and allows at most 10
// retries per second overall.
func DefaultRateLimiter() RateLimiter {
	return Max{
		NewExponentialBackoff(time.Second, 5*time.Minute),
		NewBucket(rate.Limit(10), 100),
	}
}
