package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"reelforge.design/reelforge/store/memory"
)

func TestExtensionForMIME(t *testing.T) {
	t.Parallel()

	require.Equal(t, "png", ExtensionForMIME("image/png"))
	require.Equal(t, "mp3", ExtensionForMIME("audio/mpeg"))
	require.Equal(t, "bin", ExtensionForMIME("application/x-unknown"))
}

func TestBlobPath(t *testing.T) {
	t.Parallel()

	p, err := BlobPath("abcdef0123", "image/png")
	require.NoError(t, err)
	require.Equal(t, "blobs/ab/abcdef0123.png", p)

	_, err = BlobPath("a", "image/png")
	require.Error(t, err)
}

func TestWriteBlobRejectsConflictingExtension(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	sum := sha256.Sum256([]byte("hello"))
	hash := hex.EncodeToString(sum[:])

	_, err := WriteBlob(ctx, s, "movie-1", []byte("hello"), "image/png", hash)
	require.NoError(t, err)

	_, err = WriteBlob(ctx, s, "movie-1", []byte("hello"), "image/jpeg", hash)
	require.ErrorIs(t, err, ErrHashExtensionConflict)
}

func TestWriteBlobIdempotentForSameHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	sum := sha256.Sum256([]byte("hello"))
	hash := hex.EncodeToString(sum[:])

	b1, err := WriteBlob(ctx, s, "movie-1", []byte("hello"), "image/png", hash)
	require.NoError(t, err)
	b2, err := WriteBlob(ctx, s, "movie-1", []byte("hello"), "image/png", hash)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestMemoryStoreAppendLine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.AppendLine(ctx, "events/inputs.log", []byte(`{"a":1}`)))
	require.NoError(t, s.AppendLine(ctx, "events/inputs.log", []byte(`{"a":2}`)))

	b, err := s.Read(ctx, "events/inputs.log")
	require.NoError(t, err)
	require.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(b))
}
