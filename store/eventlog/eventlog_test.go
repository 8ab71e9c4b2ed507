package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"reelforge.design/reelforge/store/memory"
)

func TestAppendAndLatestWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	l, err := New(s, "movie-1", nil)
	require.NoError(t, err)

	hash1, err := InputHash("sunset")
	require.NoError(t, err)
	require.NoError(t, l.AppendInput(ctx, &InputEvent{
		ID: "Input:Theme", Revision: 0, Hash: hash1,
		Payload: []byte(`"sunset"`), EditedBy: EditedByUser, CreatedAt: time.Unix(1, 0),
	}))

	hash2, err := InputHash("moonrise")
	require.NoError(t, err)
	require.NoError(t, l.AppendInput(ctx, &InputEvent{
		ID: "Input:Theme", Revision: 1, Hash: hash2,
		Payload: []byte(`"moonrise"`), EditedBy: EditedByUser, CreatedAt: time.Unix(2, 0),
	}))

	all, err := l.ReadInputs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2, "append-only log retains every prior event")

	latest, err := l.LatestInputs(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, hash2, latest["Input:Theme"].Hash)
}

func TestAppendArtifactRequiresBlobWhenSucceeded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	l, err := New(s, "movie-1", nil)
	require.NoError(t, err)

	err = l.AppendArtifact(ctx, &ArtifactEvent{
		ArtifactID: "Artifact:P.Image", Revision: 0, Status: StatusSucceeded, CreatedAt: time.Unix(1, 0),
	})
	require.Error(t, err)

	err = l.AppendArtifact(ctx, &ArtifactEvent{
		ArtifactID: "Artifact:P.Image", Revision: 0, Status: StatusSucceeded,
		Output:    ArtifactOutput{Blob: &BlobRef{Hash: "abc", Size: 3, MIME: "image/png"}},
		CreatedAt: time.Unix(1, 0),
	})
	require.NoError(t, err)
}

func TestReadSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	l, err := New(s, "movie-1", nil)
	require.NoError(t, err)

	require.NoError(t, l.AppendInput(ctx, &InputEvent{
		ID: "Input:A", Hash: "h", EditedBy: EditedByUser, CreatedAt: time.Unix(1, 0),
	}))
	require.NoError(t, s.AppendLine(ctx, s.Resolve("movie-1", InputsLogPath), []byte(`{not json`)))
	require.NoError(t, l.AppendInput(ctx, &InputEvent{
		ID: "Input:B", Hash: "h2", EditedBy: EditedByUser, CreatedAt: time.Unix(2, 0),
	}))

	events, err := l.ReadInputs(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestReadEmptyLogReturnsEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	l, err := New(s, "movie-1", nil)
	require.NoError(t, err)

	events, err := l.ReadInputs(ctx)
	require.NoError(t, err)
	require.Empty(t, events)
}
