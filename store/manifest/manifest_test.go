package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"reelforge.design/reelforge/store/eventlog"
	"reelforge.design/reelforge/store/memory"
)

func TestBuildCompactsLatestEventWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	log, err := eventlog.New(s, "movie-1", nil)
	require.NoError(t, err)

	require.NoError(t, log.AppendInput(ctx, &eventlog.InputEvent{
		ID: "Input:Theme", Hash: "h1", Payload: []byte(`"sunset"`),
		EditedBy: eventlog.EditedByUser, CreatedAt: time.Unix(1, 0),
	}))
	require.NoError(t, log.AppendArtifact(ctx, &eventlog.ArtifactEvent{
		ArtifactID: "Artifact:P.Image", InputsHash: "ih1", Status: eventlog.StatusSucceeded,
		Output:    eventlog.ArtifactOutput{Blob: &eventlog.BlobRef{Hash: "bh1", Size: 3, MIME: "image/png"}},
		CreatedAt: time.Unix(1, 0),
	}))

	m, err := Build(ctx, log, 0, -1, nil, time.Unix(2, 0))
	require.NoError(t, err)
	require.Equal(t, "h1", m.Inputs["Input:Theme"].Hash)
	require.Equal(t, "bh1", m.Artefacts["Artifact:P.Image"].Hash)
	require.Equal(t, "ih1", m.Artefacts["Artifact:P.Image"].InputsHash)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	m := &Manifest{Revision: 0, BaseRevision: -1, CreatedAt: time.Unix(1, 0),
		Inputs: map[string]InputEntry{}, Artefacts: map[string]ArtifactEntry{}}

	hash, err := Save(ctx, s, "movie-1", m, "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	loaded, ptr, err := Load(ctx, s, "movie-1")
	require.NoError(t, err)
	require.Equal(t, 0, loaded.Revision)
	require.Equal(t, hash, ptr.Hash)
}

func TestSaveFailsOnStalePreviousHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	m := &Manifest{Revision: 0, CreatedAt: time.Unix(1, 0), Inputs: map[string]InputEntry{}, Artefacts: map[string]ArtifactEntry{}}
	_, err := Save(ctx, s, "movie-1", m, "", nil)
	require.NoError(t, err)

	m2 := &Manifest{Revision: 1, CreatedAt: time.Unix(2, 0), Inputs: map[string]InputEntry{}, Artefacts: map[string]ArtifactEntry{}}
	_, err = Save(ctx, s, "movie-1", m2, "wrong-hash", nil)
	require.ErrorIs(t, err, ErrStale)
}

func TestLoadReturnsNilWhenManifestFileMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	// current.json points at a revision whose manifest file was never
	// written: must be treated as an empty store, not an error.
	require.NoError(t, s.Write(ctx, s.Resolve("movie-1", CurrentPointerPath),
		[]byte(`{"revision":0,"manifestPath":"manifests/rev-0000.json","hash":"x"}`)))

	m, ptr, err := Load(ctx, s, "movie-1")
	require.NoError(t, err)
	require.Nil(t, m)
	require.Nil(t, ptr)
}

func TestNextRevisionSkipsExistingFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Write(ctx, s.Resolve("movie-1", manifestPath(0)), []byte(`{}`)))
	require.NoError(t, s.Write(ctx, s.Resolve("movie-1", "runs/rev-0001-plan.json"), []byte(`{}`)))

	rev, err := NextRevision(ctx, s, "movie-1", nil)
	require.NoError(t, err)
	require.Equal(t, 2, rev)
}
