package runner

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiter applies a simple AIMD-style adaptive token bucket per
// rateKey, adapted from the teacher's AdaptiveRateLimiter
// (features/model/middleware.AdaptiveRateLimiter): whenever a handler's
// Invoke returns an error it halves the effective rate, on success it creeps
// back up. This
// drops the teacher's Pulse/rmap cross-process coordination: spec.md §5
// scopes the runner to a single process per movie, so a process-local
// limiter is sufficient (see DESIGN.md).
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	current  map[string]float64
	minRPS   float64
	maxRPS   float64
	recovery float64
}

// newRateLimiter returns a limiter keyed by JobDescriptor.RateKey. Every
// key's bucket starts at maxRPS; initialRPS sets the floor a backoff can
// reach and the recovery step (each 10% of initialRPS).
func newRateLimiter(initialRPS, maxRPS float64) *rateLimiter {
	if initialRPS <= 0 {
		initialRPS = 5
	}
	if maxRPS <= 0 || maxRPS < initialRPS {
		maxRPS = initialRPS
	}
	min := initialRPS * 0.1
	if min < 0.1 {
		min = 0.1
	}
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		current:  make(map[string]float64),
		minRPS:   min,
		maxRPS:   maxRPS,
		recovery: initialRPS * 0.1,
	}
}

func (r *rateLimiter) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	initial := r.maxRPS
	if initial <= 0 {
		initial = 5
	}
	l := rate.NewLimiter(rate.Limit(initial), int(initial)+1)
	r.limiters[key] = l
	r.current[key] = initial
	return l
}

// Wait blocks until key's limiter admits one request, or ctx is done. A
// key of "" is unthrottled.
func (r *rateLimiter) Wait(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return r.limiterFor(key).Wait(ctx)
}

// Backoff halves key's effective rate, down to its floor. The runner calls
// it after any failed Invoke, not only after a provider-reported throttle.
func (r *rateLimiter) Backoff(key string) {
	if key == "" {
		return
	}
	l := r.limiterFor(key)
	r.mu.Lock()
	next := r.current[key] * 0.5
	if next < r.minRPS {
		next = r.minRPS
	}
	r.current[key] = next
	r.mu.Unlock()
	l.SetLimit(rate.Limit(next))
	l.SetBurst(int(next) + 1)
}

// Recover nudges key's effective rate back toward its ceiling after a
// successful call.
func (r *rateLimiter) Recover(key string) {
	if key == "" {
		return
	}
	l := r.limiterFor(key)
	r.mu.Lock()
	next := r.current[key] + r.recovery
	if next > r.maxRPS {
		next = r.maxRPS
	}
	r.current[key] = next
	r.mu.Unlock()
	l.SetLimit(rate.Limit(next))
	l.SetBurst(int(next) + 1)
}
