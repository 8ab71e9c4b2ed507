package provider

import (
	"context"
	"fmt"
	"sync"
)

// cacheKey identifies one handler binding (spec.md §5: "a per-run map keyed
// by (mode, provider, model, environment) → handler; populated by
// warmStart before any job runs and read-only thereafter").
type cacheKey struct {
	Mode        Mode
	Provider    string
	Model       string
	Environment string
}

// Cache resolves a Descriptor to its Handler. It is built once per run via
// Warm and never mutated afterward; the mutex guards both the population
// phase and every Lookup.
type Cache struct {
	mu       sync.Mutex
	handlers map[cacheKey]Handler
	warmed   bool
}

// NewCache returns an empty Cache. Callers register handlers with Register
// before calling Warm.
func NewCache() *Cache {
	return &Cache{handlers: make(map[cacheKey]Handler)}
}

// Register binds a concrete Handler to every descriptor it serves. Register
// must be called before Warm; it panics if called afterward, since the
// cache is documented as read-only after warm-start (spec.md §5).
func (c *Cache) Register(h Handler, descriptors ...Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warmed {
		panic("provider: Register called after Warm")
	}
	for _, d := range descriptors {
		c.handlers[cacheKey(d)] = h
	}
}

// Warm calls WarmStart once on every distinct Handler registered, each with
// the full set of descriptors it was registered for, then freezes the
// cache against further registration.
func (c *Cache) Warm(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warmed {
		return nil
	}

	byHandler := make(map[Handler][]Descriptor)
	for key, h := range c.handlers {
		byHandler[h] = append(byHandler[h], Descriptor(key))
	}
	for h, descriptors := range byHandler {
		if err := h.WarmStart(ctx, descriptors); err != nil {
			return fmt.Errorf("provider: warm start: %w", err)
		}
	}
	c.warmed = true
	return nil
}

// Lookup returns the handler bound to d, or an error if nothing was
// registered for it.
func (c *Cache) Lookup(d Descriptor) (Handler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handlers[cacheKey(d)]
	if !ok {
		return nil, fmt.Errorf("provider: no handler registered for %+v", d)
	}
	return h, nil
}
