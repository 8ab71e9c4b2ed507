// Package manifest builds and persists the compacted latest-state view
// over a movie's event logs (spec.md §3, §4.6). The manifest is derived
// state: event logs remain the source of truth, and the manifest can
// always be rebuilt from them.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reelforge.design/reelforge/canon"
	"reelforge.design/reelforge/store"
	"reelforge.design/reelforge/store/eventlog"
	"reelforge.design/reelforge/telemetry"
)

// ErrStale is returned by Save when previousHash does not match the
// current pointer's hash, signaling a concurrent writer (spec.md §4.6).
// Callers must reload the manifest and retry; the engine never auto-retries
// manifest writes (spec.md §7).
var ErrStale = fmt.Errorf("manifest: stale previousHash, reload and retry")

type (
	// InputEntry is the compacted view of the latest InputEvent for one ID.
	InputEntry struct {
		Hash          string    `json:"hash"`
		PayloadDigest string    `json:"payloadDigest"`
		CreatedAt     time.Time `json:"createdAt"`
	}

	// ArtifactEntry is the compacted view of the latest ArtifactEvent for
	// one ID. Hash is the artifact's content hash: the blob hash when the
	// artifact succeeded, or its recorded InputsHash otherwise (no blob
	// exists to hash). InputsHash is always the producing job's recorded
	// inputsHash, independent of Hash, so the planner can compare it
	// against a fresh recomputation (spec.md §4.4).
	ArtifactEntry struct {
		Hash       string               `json:"hash"`
		InputsHash string               `json:"inputsHash"`
		Blob       *eventlog.BlobRef    `json:"blob,omitempty"`
		ProducedBy string               `json:"producedBy"`
		Status     eventlog.ArtifactStatus `json:"status"`
		CreatedAt  time.Time            `json:"createdAt"`
	}

	// RunConfig records the scope controls used to produce a run, for
	// observability (spec.md §6).
	RunConfig struct {
		UpToLayer         *int     `json:"upToLayer,omitempty"`
		ReRunFrom         *int     `json:"reRunFrom,omitempty"`
		TargetArtifactIDs []string `json:"targetArtifactIds,omitempty"`
		DryRun            bool     `json:"dryRun,omitempty"`
		Concurrency       int      `json:"concurrency,omitempty"`
	}

	// Manifest is the compacted latest-state view over one movie's event
	// logs at a given revision (spec.md §3).
	Manifest struct {
		Revision     int                      `json:"revision"`
		BaseRevision int                      `json:"baseRevision"`
		CreatedAt    time.Time                `json:"createdAt"`
		Inputs       map[string]InputEntry    `json:"inputs"`
		Artefacts    map[string]ArtifactEntry `json:"artefacts"`
		RunConfig    *RunConfig               `json:"runConfig,omitempty"`
		Timeline     json.RawMessage          `json:"timeline,omitempty"`
	}

	// Pointer is the content of current.json: which revision is current,
	// where its manifest lives, and its canonical hash (spec.md §6).
	Pointer struct {
		Revision     int       `json:"revision"`
		ManifestPath string    `json:"manifestPath"`
		Hash         string    `json:"hash"`
		UpdatedAt    time.Time `json:"updatedAt"`
	}
)

// Paths, relative to a movie root, per spec.md §6.
const (
	CurrentPointerPath = "current.json"
	ManifestsDir       = "manifests"
)

func manifestPath(revision int) string {
	return fmt.Sprintf("%s/rev-%04d.json", ManifestsDir, revision)
}

// RevisionString formats a revision as "rev-0000", "rev-0001", ... per
// spec.md §3.
func RevisionString(revision int) string {
	return fmt.Sprintf("rev-%04d", revision)
}

// Build streams both event logs and compacts them into a Manifest at the
// given revision. now is injected (rather than time.Now) so callers control
// determinism in tests and replays.
func Build(ctx context.Context, log eventlog.Log, revision, baseRevision int, runConfig *RunConfig, now time.Time) (*Manifest, error) {
	latestInputs, err := log.LatestInputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("manifest: compact input events: %w", err)
	}
	latestArtifacts, err := log.LatestArtifacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("manifest: compact artifact events: %w", err)
	}

	m := &Manifest{
		Revision:     revision,
		BaseRevision: baseRevision,
		CreatedAt:    now,
		Inputs:       make(map[string]InputEntry, len(latestInputs)),
		Artefacts:    make(map[string]ArtifactEntry, len(latestArtifacts)),
		RunConfig:    runConfig,
	}

	for id, e := range latestInputs {
		digest, err := canon.Hash(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("manifest: hash payload for %s: %w", id, err)
		}
		m.Inputs[id] = InputEntry{Hash: e.Hash, PayloadDigest: digest, CreatedAt: e.CreatedAt}
	}

	for id, e := range latestArtifacts {
		hash := e.InputsHash
		if e.Output.Blob != nil {
			hash = e.Output.Blob.Hash
		}
		m.Artefacts[id] = ArtifactEntry{
			Hash:       hash,
			InputsHash: e.InputsHash,
			Blob:       e.Output.Blob,
			ProducedBy: e.ProducedBy,
			Status:     e.Status,
			CreatedAt:  e.CreatedAt,
		}
	}

	return m, nil
}

// Load reads the current manifest for a movie, or (nil, nil, nil) if the
// movie has no manifest yet. Per spec.md §4.1, a reader that observes a
// current.json pointing at a revision whose manifest file does not yet
// exist must treat the store as empty for that movie rather than error.
func Load(ctx context.Context, s store.Store, movieRoot string) (*Manifest, *Pointer, error) {
	pointerPath := s.Resolve(movieRoot, CurrentPointerPath)
	exists, err := s.FileExists(ctx, pointerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: stat %s: %w", pointerPath, err)
	}
	if !exists {
		return nil, nil, nil
	}
	raw, err := s.Read(ctx, pointerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: read %s: %w", pointerPath, err)
	}
	var ptr Pointer
	if err := json.Unmarshal(raw, &ptr); err != nil {
		return nil, nil, fmt.Errorf("manifest: decode %s: %w", pointerPath, err)
	}

	mPath := s.Resolve(movieRoot, ptr.ManifestPath)
	mExists, err := s.FileExists(ctx, mPath)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: stat %s: %w", mPath, err)
	}
	if !mExists {
		return nil, nil, nil
	}
	mraw, err := s.Read(ctx, mPath)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: read %s: %w", mPath, err)
	}
	var m Manifest
	if err := json.Unmarshal(mraw, &m); err != nil {
		return nil, nil, fmt.Errorf("manifest: decode %s: %w", mPath, err)
	}
	return &m, &ptr, nil
}

// NextRevision picks a revision strictly greater than current's revision
// (0 if there is no current manifest) and not colliding with any
// already-persisted manifest or plan file, per spec.md §3's invariant.
func NextRevision(ctx context.Context, s store.Store, movieRoot string, current *Manifest) (int, error) {
	base := 0
	if current != nil {
		base = current.Revision + 1
	}
	for candidate := base; ; candidate++ {
		mExists, err := s.FileExists(ctx, s.Resolve(movieRoot, manifestPath(candidate)))
		if err != nil {
			return 0, fmt.Errorf("manifest: stat candidate revision %d: %w", candidate, err)
		}
		planExists, err := s.FileExists(ctx, s.Resolve(movieRoot, fmt.Sprintf("runs/%s-plan.json", RevisionString(candidate))))
		if err != nil {
			return 0, fmt.Errorf("manifest: stat candidate plan %d: %w", candidate, err)
		}
		if !mExists && !planExists {
			return candidate, nil
		}
	}
}

// Save writes m to manifests/<revision>.json, computes its canonical hash,
// then atomically repoints current.json at the new revision. If
// previousHash does not match the hash currently recorded in current.json,
// Save fails with ErrStale before writing anything: the check runs first,
// so neither the revision-named manifest file nor the pointer is written.
func Save(ctx context.Context, s store.Store, movieRoot string, m *Manifest, previousHash string, logger telemetry.Logger) (string, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if m == nil {
		return "", fmt.Errorf("manifest: manifest is required")
	}

	_, currentPtr, err := Load(ctx, s, movieRoot)
	if err != nil {
		return "", err
	}
	currentHash := ""
	if currentPtr != nil {
		currentHash = currentPtr.Hash
	}
	if currentHash != previousHash {
		return "", fmt.Errorf("%w: have %q, want %q", ErrStale, currentHash, previousHash)
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("manifest: marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("manifest: normalize: %w", err)
	}
	canonical, err := canon.Encode(generic)
	if err != nil {
		return "", fmt.Errorf("manifest: canonicalize: %w", err)
	}
	hash := canon.HashBytes(canonical)

	relPath := manifestPath(m.Revision)
	if err := s.Write(ctx, s.Resolve(movieRoot, relPath), canonical); err != nil {
		return "", fmt.Errorf("manifest: write %s: %w", relPath, err)
	}

	ptr := Pointer{Revision: m.Revision, ManifestPath: relPath, Hash: hash, UpdatedAt: m.CreatedAt}
	ptrRaw, err := json.Marshal(ptr)
	if err != nil {
		return "", fmt.Errorf("manifest: marshal pointer: %w", err)
	}
	if err := s.Write(ctx, s.Resolve(movieRoot, CurrentPointerPath), ptrRaw); err != nil {
		return "", fmt.Errorf("manifest: write pointer: %w", err)
	}

	logger.Info(ctx, "saved manifest", "revision", m.Revision, "hash", hash)
	return hash, nil
}
