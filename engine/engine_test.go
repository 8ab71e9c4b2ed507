package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reelforge.design/reelforge/blueprint"
	"reelforge.design/reelforge/plan"
	"reelforge.design/reelforge/provider"
	"reelforge.design/reelforge/store/eventlog"
	"reelforge.design/reelforge/store/manifest"
	"reelforge.design/reelforge/store/memory"
)

// pngHandler always returns a fixed 3-byte "png" for every produced
// artifact, matching spec.md §8 scenario 1's stub producer.
type pngHandler struct{}

func (pngHandler) WarmStart(ctx context.Context, descriptors []provider.Descriptor) error { return nil }

func (pngHandler) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	resp := provider.Response{JobID: req.JobID, Status: "succeeded"}
	for _, id := range req.Produces {
		resp.Artefacts = append(resp.Artefacts, provider.ArtifactResult{
			ArtifactID: id,
			Status:     "succeeded",
			Blob:       &provider.BlobPayload{Data: []byte{0x89, 0x50, 0x4e}, MIMEType: "image/png"},
		})
	}
	return resp, nil
}

func themeBlueprint() *blueprint.Document {
	return &blueprint.Document{
		Producers: []blueprint.ProducerDecl{
			{Name: "P", Models: []blueprint.ModelVariant{{Provider: "img", Model: "v1"}}, Outputs: []string{"Image"}},
		},
		Artefacts: []blueprint.ArtefactDecl{{Name: "Image", Producer: "P"}},
		Edges:     []blueprint.EdgeDecl{{From: "Input:Theme", To: "P"}},
	}
}

func newHandlerCache(t *testing.T) *provider.Cache {
	t.Helper()
	cache := provider.NewCache()
	cache.Register(pngHandler{}, provider.Descriptor{Mode: provider.ModeLive, Provider: "img", Model: "v1"})
	require.NoError(t, cache.Warm(context.Background()))
	return cache
}

// TestFreshRunSingleLayer reproduces spec.md §8 scenario 1: a one-producer
// blueprint, a stub handler returning a 3-byte PNG, and the resulting
// manifest/summary assertions.
func TestFreshRunSingleLayer(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	log, err := eventlog.New(s, "movie-1", nil)
	require.NoError(t, err)

	doc := themeBlueprint()
	pr, err := GeneratePlan(ctx, "movie-1", doc, map[string]any{"Input:Theme": "sunset"}, s, log, plan.Scope{}, func() time.Time { return time.Unix(1, 0) }, nil)
	require.NoError(t, err)
	require.Len(t, pr.Plan.Layers, 1)
	require.Len(t, pr.Plan.Layers[0], 1)

	require.NoError(t, CommitInputEvents(ctx, log, pr.InputEvents, pr.Plan.Revision))

	g, err := blueprint.Expand(doc, pr.ResolvedInputs)
	require.NoError(t, err)

	rc := RunContext{MovieID: "movie-1", Manifest: pr.Manifest, Storage: s, EventLog: log, Handlers: newHandlerCache(t)}
	rr, err := ExecutePlan(ctx, pr.Plan, g, rc, pr.ResolvedInputs, ExecOptions{Concurrency: 1, Mode: provider.ModeLive})
	require.NoError(t, err)
	require.Equal(t, 1, rr.Succeeded)
	require.Equal(t, 0, rr.Failed)
	require.Equal(t, 0, rr.Skipped)

	m, err := BuildManifest(ctx, rc, pr.Plan.Revision, nil, time.Unix(2, 0))
	require.NoError(t, err)
	require.NotNil(t, m)

	hash, err := SaveManifest(ctx, rc, m, pr.ManifestHash)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	inputHash, err := eventlog.InputHash("sunset")
	require.NoError(t, err)
	require.Equal(t, inputHash, m.Inputs["Input:Theme"].Hash)

	art := m.Artefacts["Artifact:P.Image"]
	require.Equal(t, eventlog.StatusSucceeded, art.Status)
	require.NotNil(t, art.Blob)
	require.EqualValues(t, 3, art.Blob.Size)

	summary := Summarize(rr, hash)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 0, summary.Failed)
	require.Equal(t, 0, summary.Skipped)
}

// TestUnchangedRerunYieldsEmptyPlan reproduces spec.md §8 scenario 2.
func TestUnchangedRerunYieldsEmptyPlan(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	log, err := eventlog.New(s, "movie-1", nil)
	require.NoError(t, err)
	doc := themeBlueprint()

	pr, err := GeneratePlan(ctx, "movie-1", doc, map[string]any{"Input:Theme": "sunset"}, s, log, plan.Scope{}, func() time.Time { return time.Unix(1, 0) }, nil)
	require.NoError(t, err)
	require.NoError(t, CommitInputEvents(ctx, log, pr.InputEvents, pr.Plan.Revision))

	g, err := blueprint.Expand(doc, pr.ResolvedInputs)
	require.NoError(t, err)
	rc := RunContext{MovieID: "movie-1", Manifest: pr.Manifest, Storage: s, EventLog: log, Handlers: newHandlerCache(t)}
	rr, err := ExecutePlan(ctx, pr.Plan, g, rc, pr.ResolvedInputs, ExecOptions{Concurrency: 1, Mode: provider.ModeLive})
	require.NoError(t, err)
	require.Equal(t, 1, rr.Succeeded)

	m, err := BuildManifest(ctx, rc, pr.Plan.Revision, nil, time.Unix(2, 0))
	require.NoError(t, err)
	_, err = SaveManifest(ctx, rc, m, pr.ManifestHash)
	require.NoError(t, err)

	pr2, err := GeneratePlan(ctx, "movie-1", doc, map[string]any{"Input:Theme": "sunset"}, s, log, plan.Scope{}, func() time.Time { return time.Unix(3, 0) }, nil)
	require.NoError(t, err)
	require.Empty(t, pr2.Plan.Layers)
}
