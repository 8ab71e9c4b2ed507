// Package catalog loads provider capability metadata — the declared
// input/output JSON Schemas and rate-limit keys a (provider, model) pair
// exposes — that blueprint expansion and the simulated provider.Handler
// consume. spec.md §1 lists "catalog loading" among the engine's external
// collaborators; this package is the optional, ambient home for it: a
// blueprint document may always inline its own ProducerDecl.OutputSchema,
// but a catalog lets many blueprints share one provider's declared schema
// instead of repeating it.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type (
	// Entry is one provider+model's declared capability: the JSON Schema
	// its inputs and outputs conform to, and the rate-limit bucket it
	// shares with other jobs under the same key.
	Entry struct {
		Provider     string          `json:"provider"`
		Model        string          `json:"model"`
		InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
		OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
		RateKey      string          `json:"rateKey,omitempty"`
	}

	// Source resolves a (provider, model) pair to its catalog Entry. ok is
	// false, with a nil error, when the pair is simply not catalogued
	// (callers fall back to a blueprint-inlined schema); a non-nil error
	// indicates the catalog backend itself failed.
	Source interface {
		Get(ctx context.Context, provider, model string) (entry *Entry, ok bool, err error)
	}
)

func key(provider, model string) string {
	return provider + "/" + model
}

// Memory is an in-process Source backed by a fixed map, for tests and for
// blueprints bundled with their own provider catalog file.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

var _ Source = (*Memory)(nil)

// NewMemory returns a Memory catalog seeded with entries.
func NewMemory(entries ...*Entry) *Memory {
	m := &Memory{entries: make(map[string]*Entry, len(entries))}
	for _, e := range entries {
		m.entries[key(e.Provider, e.Model)] = e
	}
	return m
}

// Put registers or replaces one entry.
func (m *Memory) Put(e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key(e.Provider, e.Model)] = e
}

// Get implements Source.
func (m *Memory) Get(_ context.Context, provider, model string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key(provider, model)]
	return e, ok, nil
}

// ErrNotConfigured is a sentinel for a catalog backend that lacks a required
// dependency. NewMongo and NewRedisCache fail fast in the constructor when a
// dependency is missing, but they report it with their own error values, not
// with this one.
var ErrNotConfigured = fmt.Errorf("catalog: backend not configured")
