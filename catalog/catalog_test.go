package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetMiss(t *testing.T) {
	m := NewMemory()
	_, ok, err := m.Get(context.Background(), "anthropic", "claude")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryPutAndGet(t *testing.T) {
	m := NewMemory()
	m.Put(&Entry{Provider: "anthropic", Model: "claude-image", OutputSchema: []byte(`{"type":"object"}`), RateKey: "anthropic:claude-image"})

	entry, ok, err := m.Get(context.Background(), "anthropic", "claude-image")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "anthropic:claude-image", entry.RateKey)
}

func TestMemorySeeded(t *testing.T) {
	m := NewMemory(&Entry{Provider: "openai", Model: "gpt-image"})
	_, ok, err := m.Get(context.Background(), "openai", "gpt-image")
	require.NoError(t, err)
	require.True(t, ok)
}
