// Package store defines the content-addressed, per-movie byte store
// described in spec.md §4.1: a blob store keyed by content hash, plus the
// path layout shared by every other persisted artifact (event logs,
// manifests, plans). Two backends implement Store: store/fs (local
// filesystem, durable) and store/memory (in-memory, used by the planner so
// planning never touches disk until the user confirms a run).
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MIME-to-extension mapping from spec.md §6. Unknown MIME types map to "bin".
var mimeExtensions = map[string]string{
	"application/json":       "json",
	"image/png":              "png",
	"image/jpeg":             "jpg",
	"audio/mpeg":             "mp3",
	"audio/wav":               "wav",
	"video/mp4":              "mp4",
	"application/octet-stream": "bin",
}

// ExtensionForMIME returns the file extension registered for mime, or "bin"
// for an unrecognized MIME type.
func ExtensionForMIME(mime string) string {
	if ext, ok := mimeExtensions[mime]; ok {
		return ext
	}
	return "bin"
}

// ErrHashExtensionConflict is returned when a write targets a blob hash that
// already exists under a different extension. Per spec.md §4.1, the same
// hash with a different extension is a consistency bug: the first two hex
// characters are the sharding key and a hash may only ever resolve to one
// filename under that shard.
var ErrHashExtensionConflict = errors.New("store: blob hash already exists with a different extension")

type (
	// Blob identifies content-addressed bytes: a SHA-256 content hash, the
	// byte length, and a MIME type used to derive the stored file extension.
	Blob struct {
		Hash string
		Size int64
		MIME string
	}

	// Store is the content-addressed, per-movie byte store. Implementations
	// must be safe for concurrent reads; concurrent writes to the same path
	// are not required to be safe (spec.md §5: single writer per movie per
	// process).
	Store interface {
		// Write persists bytes under path, which is typically produced by
		// Resolve or BlobPath. Write is expected to be idempotent for blob
		// paths: writing identical bytes to the same hash-derived path more
		// than once succeeds silently (spec.md §5).
		Write(ctx context.Context, path string, data []byte) error

		// Read returns the bytes previously written at path, or an error if
		// no write has occurred. The fs backend wraps the os error, so
		// errors.Is(err, io/fs.ErrNotExist) holds; the memory backend
		// returns a plain error with no sentinel.
		Read(ctx context.Context, path string) ([]byte, error)

		// FileExists reports whether a write has occurred at path.
		FileExists(ctx context.Context, path string) (bool, error)

		// Resolve joins parts into a store-relative path using the store's
		// path separator convention, without performing any I/O.
		Resolve(parts ...string) string

		// TemporaryURL returns a URL a downstream consumer (ffmpeg, OTIO
		// export, a browser viewer) can use to fetch the blob at path
		// without going through the Store interface. The memory backend
		// returns an error: in-memory blobs have no externally reachable
		// URL, by design, since planning must never leak bytes outside the
		// process.
		TemporaryURL(ctx context.Context, path string) (string, error)
	}

	// Appender is implemented by Store backends that can append a single
	// line to a file atomically with respect to concurrent readers: either
	// the full line is visible or it is not (spec.md §5, event-log append).
	// Both store/fs and store/memory implement it; the event log requires
	// it of whatever Store it is given.
	Appender interface {
		AppendLine(ctx context.Context, path string, line []byte) error
	}
)

// BlobPath derives the store-relative path for a blob with the given
// content hash and MIME type, per spec.md §4.1:
// "<movie>/blobs/<h[0:2]>/<h>.<ext>". The movie segment is not included
// here; callers join it via Store.Resolve.
func BlobPath(hash, mime string) (string, error) {
	if len(hash) < 2 {
		return "", fmt.Errorf("store: hash %q is too short to shard", hash)
	}
	ext := ExtensionForMIME(mime)
	return strings.Join([]string{"blobs", hash[:2], hash + "." + ext}, "/"), nil
}

// WriteBlob writes data under its content-addressed path, deriving the hash
// from the bytes (SHA-256, hex) when hash is empty, and returns the resulting Blob
// descriptor. WriteBlob rejects a write to a hash that already exists under
// a conflicting extension (ErrHashExtensionConflict), enforcing that the
// two-hex-character shard directory is never asked to serve two different
// extensions for the same hash.
func WriteBlob(ctx context.Context, s Store, movieRoot string, data []byte, mime, hash string) (Blob, error) {
	if hash == "" {
		sum := sha256.Sum256(data)
		hash = hex.EncodeToString(sum[:])
	}
	path, err := BlobPath(hash, mime)
	if err != nil {
		return Blob{}, err
	}
	full := s.Resolve(movieRoot, path)

	if err := checkNoConflictingExtension(ctx, s, movieRoot, hash, mime); err != nil {
		return Blob{}, err
	}

	if err := s.Write(ctx, full, data); err != nil {
		return Blob{}, fmt.Errorf("store: write blob %s: %w", hash, err)
	}
	return Blob{Hash: hash, Size: int64(len(data)), MIME: mime}, nil
}

// checkNoConflictingExtension scans the small set of known extensions for
// the given hash's shard and fails if one is already present under a
// different extension than the one mime would derive.
func checkNoConflictingExtension(ctx context.Context, s Store, movieRoot, hash, mime string) error {
	want := ExtensionForMIME(mime)
	for ext := range extensionSet() {
		if ext == want {
			continue
		}
		path, err := BlobPath(hash, extToSampleMIME(ext))
		if err != nil {
			continue
		}
		exists, err := s.FileExists(ctx, s.Resolve(movieRoot, path))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: hash %s already stored with extension %q, requested %q", ErrHashExtensionConflict, hash, ext, want)
		}
	}
	return nil
}

func extensionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(mimeExtensions))
	for _, ext := range mimeExtensions {
		set[ext] = struct{}{}
	}
	return set
}

func extToSampleMIME(ext string) string {
	for mime, e := range mimeExtensions {
		if e == ext {
			return mime
		}
	}
	return ""
}
