// Package fs implements store.Store on the local filesystem, rooted at
// <storage_root>/<base>/<movie_id>/ as described in spec.md §6.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"reelforge.design/reelforge/telemetry"
)

// Store is a local-filesystem-backed store.Store. Writes are not
// transactional at the OS level (spec.md §4.1): callers that need atomic
// visibility (the manifest pointer) must order their writes accordingly,
// which store/manifest does.
type Store struct {
	root   string
	logger telemetry.Logger
}

// New returns a Store rooted at root. root is created on first write if it
// does not exist.
func New(root string, logger telemetry.Logger) *Store {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Store{root: root, logger: logger}
}

// Resolve implements store.Store.
func (s *Store) Resolve(parts ...string) string {
	elems := append([]string{s.root}, parts...)
	return filepath.Join(elems...)
}

// Write implements store.Store.
func (s *Store) Write(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fs store: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("fs store: write %s: %w", path, err)
	}
	s.logger.Debug(ctx, "fs store write", "path", path, "bytes", len(data))
	return nil
}

// Read implements store.Store.
func (s *Store) Read(_ context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fs store: read %s: %w", path, err)
	}
	return b, nil
}

// FileExists implements store.Store.
func (s *Store) FileExists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("fs store: stat %s: %w", path, err)
}

// AppendLine implements store.Appender. It opens path for append (creating
// it and any parent directories if needed) and writes line followed by a
// newline in a single call, which POSIX guarantees is atomic with respect
// to other readers/writers for writes that fit within PIPE_BUF-sized
// regular-file I/O at this scale.
func (s *Store) AppendLine(ctx context.Context, path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fs store: mkdir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("fs store: open %s for append: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("fs store: append to %s: %w", path, err)
	}
	s.logger.Debug(ctx, "fs store append", "path", path, "bytes", len(buf))
	return nil
}

// TemporaryURL implements store.Store by returning a file:// URL. Real
// deployments that need HTTP-reachable URLs (for cloud-hosted providers)
// wrap Store behind a backend that uploads the blob and returns a signed
// URL; that upload/signing step is an external collaborator per spec.md §1
// and is not implemented here.
func (s *Store) TemporaryURL(_ context.Context, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("fs store: abs path for %s: %w", path, err)
	}
	return "file://" + abs, nil
}
