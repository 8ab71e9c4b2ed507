package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimulatedInvokeWithoutSchemaReturnsPlaceholder(t *testing.T) {
	t.Parallel()
	s := &Simulated{}
	resp, err := s.Invoke(context.Background(), Request{
		JobID: "Producer:P", Produces: []string{"Artifact:P.Out"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Artefacts, 1)
	require.Equal(t, "succeeded", resp.Artefacts[0].Status)
	require.NotNil(t, resp.Artefacts[0].Blob)
}

func TestSimulatedInvokeConformsToSchema(t *testing.T) {
	t.Parallel()
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"count": {"type": "integer"}
		},
		"required": ["title", "count"]
	}`)
	s := &Simulated{OutputSchemas: map[string]json.RawMessage{"Artifact:P.Out": schema}}
	resp, err := s.Invoke(context.Background(), Request{
		JobID: "Producer:P", Produces: []string{"Artifact:P.Out"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Artefacts, 1)
	require.Equal(t, "succeeded", resp.Artefacts[0].Status)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(resp.Artefacts[0].Blob.Data, &decoded))
	require.Contains(t, decoded, "title")
	require.Contains(t, decoded, "count")
}

func TestSimulatedInvokeInvalidSchemaFails(t *testing.T) {
	t.Parallel()
	s := &Simulated{OutputSchemas: map[string]json.RawMessage{"Artifact:P.Out": json.RawMessage(`{not-json`)}}
	resp, err := s.Invoke(context.Background(), Request{
		JobID: "Producer:P", Produces: []string{"Artifact:P.Out"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Artefacts, 1)
	require.Equal(t, "failed", resp.Artefacts[0].Status)
}

func TestCacheWarmAndLookup(t *testing.T) {
	t.Parallel()
	c := NewCache()
	h := &Simulated{}
	d := Descriptor{Mode: ModeSimulated, Provider: "sim", Model: "x", Environment: "test"}
	c.Register(h, d)
	require.NoError(t, c.Warm(context.Background()))

	got, err := c.Lookup(d)
	require.NoError(t, err)
	require.Same(t, h, got)

	_, err = c.Lookup(Descriptor{Mode: ModeLive, Provider: "other"})
	require.Error(t, err)
}
