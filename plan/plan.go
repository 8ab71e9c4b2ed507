// Package plan computes the layered, incremental execution plan from a
// producer graph, the current manifest, and the event log (spec.md §4.4).
// Generate touches the event log for reads only, never appends, and never
// writes to the blob store; ResolveInputs, the one writer in this package,
// writes blob-valued inputs to the store it is given.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"reelforge.design/reelforge/blueprint"
	"reelforge.design/reelforge/canon"
	"reelforge.design/reelforge/store"
	"reelforge.design/reelforge/store/eventlog"
	"reelforge.design/reelforge/store/manifest"
)

// Reason explains why a job was included in a plan (spec.md §4.4).
type Reason string

const (
	ReasonInitial              Reason = "initial"
	ReasonProducesMissing      Reason = "producesMissing"
	ReasonTouchesDirtyInput    Reason = "touchesDirtyInput"
	ReasonTouchesDirtyArtefact Reason = "touchesDirtyArtefact"
	ReasonInputsHashChanged    Reason = "inputsHashChanged"
	ReasonPropagated           Reason = "propagated"
	ReasonScopeReRunFrom       Reason = "scopeReRunFrom"
	ReasonScopeSurgical        Reason = "scopeSurgical"
)

type (
	// JobDescriptor is one scheduled unit of work within a plan (spec.md
	// §3). Context carries opaque planner-resolved details a provider
	// handler needs but the runner does not interpret.
	JobDescriptor struct {
		JobID         string          `json:"jobId"`
		Producer      string          `json:"producer"`
		Inputs        []string        `json:"inputs"`
		Produces      []string        `json:"produces"`
		Provider      string          `json:"provider"`
		ProviderModel string          `json:"providerModel"`
		RateKey       string          `json:"rateKey,omitempty"`
		Context       json.RawMessage `json:"context,omitempty"`
	}

	// Plan is the layered execution plan returned by Generate (spec.md §3).
	// Layers are mutually order-independent: the runner may execute jobs in
	// any order within a layer, but must finish layer i before starting
	// i+1.
	Plan struct {
		Revision            int               `json:"revision"`
		ManifestBaseHash    string            `json:"manifestBaseHash"`
		CreatedAt           time.Time         `json:"createdAt"`
		Layers              [][]JobDescriptor `json:"layers"`
		BlueprintLayerCount int               `json:"blueprintLayerCount"`
	}

	// Scope carries the optional scope controls applied after dirty
	// computation (spec.md §4.4).
	Scope struct {
		ReRunFrom         *int
		UpToLayer         *int
		TargetArtifactIDs []string
		PinnedArtifactIDs []string
	}

	// Result is Generate's full output: the plan plus the per-job reason it
	// was included, for observability and testing.
	Result struct {
		Plan    *Plan
		Reasons map[string]Reason
	}
)

// Generate computes the incremental plan for graph g given the current
// manifest m (nil for a movie with no prior run), the movie's artifact
// event log (read-only; consulted for the latest artifact hash, which may
// be fresher than the manifest), and already-resolved input values keyed by
// canonical Input: ID. revision is the target plan's revision, picked by
// the caller via manifest.NextRevision. s and movieRoot let dirty-set
// computation confirm a succeeded artifact's blob is still present in the
// store (spec.md §4.4: an artifact whose blob went missing is dirty even
// though its latest event still reads "succeeded").
func Generate(ctx context.Context, g *blueprint.Graph, m *manifest.Manifest, log eventlog.Log, resolvedInputs map[string]any, revision int, scope Scope, now time.Time, s store.Store, movieRoot string) (*Result, error) {
	latestArtifacts, err := log.LatestArtifacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("plan: read latest artifact events: %w", err)
	}

	dirty, reasons, err := computeDirtySet(ctx, g, m, latestArtifacts, resolvedInputs, s, movieRoot)
	if err != nil {
		return nil, err
	}

	fullLayerOf, layerCount, err := fullLayering(g)
	if err != nil {
		return nil, err
	}

	if err := applyScope(g, m, latestArtifacts, fullLayerOf, dirty, reasons, scope); err != nil {
		return nil, err
	}

	layerOf, err := dirtyLayering(g, dirty)
	if err != nil {
		return nil, err
	}

	if scope.UpToLayer != nil {
		for id, l := range layerOf {
			if l > *scope.UpToLayer {
				delete(dirty, id)
				delete(layerOf, id)
			}
		}
	}

	baseHash := ""
	if m != nil {
		if h, err := canon.Hash(m); err == nil {
			baseHash = h
		}
	}

	maxLayer := -1
	for _, l := range layerOf {
		if l > maxLayer {
			maxLayer = l
		}
	}
	layers := make([][]JobDescriptor, maxLayer+1)
	for id := range dirty {
		job := g.Jobs[id]
		layers[layerOf[id]] = append(layers[layerOf[id]], jobDescriptor(job))
	}
	for i := range layers {
		sort.Slice(layers[i], func(a, b int) bool { return layers[i][a].JobID < layers[i][b].JobID })
	}

	plan := &Plan{
		Revision:            revision,
		ManifestBaseHash:    baseHash,
		CreatedAt:           now,
		Layers:              layers,
		BlueprintLayerCount: layerCount,
	}
	return &Result{Plan: plan, Reasons: reasons}, nil
}

func jobDescriptor(j *blueprint.Job) JobDescriptor {
	d := JobDescriptor{
		JobID:    j.ID,
		Producer: j.ProducerAlias,
		Inputs:   j.Inputs,
		Produces: j.Produces,
	}
	if len(j.Models) > 0 {
		d.Provider = j.Models[0].Provider
		d.ProviderModel = j.Models[0].Model
		d.RateKey = j.Models[0].RateKey
	}
	return d
}

// computeDirtySet implements spec.md §4.4's dirty-set computation and
// propagation. It returns the set of dirty job IDs and, for each, the
// first reason it became dirty.
func computeDirtySet(ctx context.Context, g *blueprint.Graph, m *manifest.Manifest, latestArtifacts map[string]*eventlog.ArtifactEvent, resolvedInputs map[string]any, s store.Store, movieRoot string) (map[string]struct{}, map[string]Reason, error) {
	dirty := make(map[string]struct{})
	reasons := make(map[string]Reason)
	mark := func(id string, r Reason) {
		if _, ok := dirty[id]; ok {
			return
		}
		dirty[id] = struct{}{}
		reasons[id] = r
	}

	initialRun := m == nil || len(m.Inputs) == 0

	dirtyInputs, err := dirtyInputSet(m, resolvedInputs)
	if err != nil {
		return nil, nil, err
	}

	for _, jobID := range g.JobOrder {
		job := g.Jobs[jobID]

		if initialRun {
			mark(jobID, ReasonInitial)
			continue
		}

		for _, produced := range job.Produces {
			if m == nil {
				continue
			}
			if _, ok := m.Artefacts[produced]; !ok {
				mark(jobID, ReasonProducesMissing)
			}
		}

		for _, in := range job.Inputs {
			if canon.IsInputID(in) {
				if _, ok := dirtyInputs[in]; ok {
					mark(jobID, ReasonTouchesDirtyInput)
				}
			}
		}

		if isArtifactDirty(ctx, job, latestArtifacts, s, movieRoot) {
			mark(jobID, ReasonTouchesDirtyArtefact)
		}

		computed, err := computeInputsHash(job, resolvedInputs, latestArtifacts)
		if err != nil {
			return nil, nil, err
		}
		if m != nil {
			for _, produced := range job.Produces {
				if entry, ok := m.Artefacts[produced]; ok && entry.InputsHash != computed {
					mark(jobID, ReasonInputsHashChanged)
				}
			}
		}
	}

	propagateDirty(g, dirty, reasons)

	return dirty, reasons, nil
}

// dirtyInputSet returns the set of canonical input IDs whose current
// content hash differs from the manifest's recorded hash, or that are
// absent from the manifest.
func dirtyInputSet(m *manifest.Manifest, resolvedInputs map[string]any) (map[string]struct{}, error) {
	dirty := make(map[string]struct{})
	for id, v := range resolvedInputs {
		hash, err := contentHashOf(v)
		if err != nil {
			return nil, fmt.Errorf("plan: hash input %s: %w", id, err)
		}
		if m == nil {
			dirty[id] = struct{}{}
			continue
		}
		entry, ok := m.Inputs[id]
		if !ok || entry.Hash != hash {
			dirty[id] = struct{}{}
		}
	}
	return dirty, nil
}

// isArtifactDirty reports whether any artifact job produces has a latest
// event with status != succeeded, or whose recorded blob is missing from
// the store (spec.md §4.4: a succeeded event whose blob was deleted out
// from under the store is dirty, not trusted at face value).
func isArtifactDirty(ctx context.Context, job *blueprint.Job, latestArtifacts map[string]*eventlog.ArtifactEvent, s store.Store, movieRoot string) bool {
	for _, produced := range job.Produces {
		e, ok := latestArtifacts[produced]
		if !ok {
			continue // producesMissing already covers an artifact with no event at all
		}
		if e.Status != eventlog.StatusSucceeded {
			return true
		}
		if e.Output.Blob == nil || s == nil {
			continue
		}
		path, err := store.BlobPath(e.Output.Blob.Hash, e.Output.Blob.MIME)
		if err != nil {
			return true
		}
		exists, err := s.FileExists(ctx, s.Resolve(movieRoot, path))
		if err != nil || !exists {
			return true
		}
	}
	return false
}

// propagateDirty marks every downstream descendant of an already-dirty job
// as dirty (spec.md §4.4: "a job is also dirty if any of its transitive
// upstream producers is dirty").
func propagateDirty(g *blueprint.Graph, dirty map[string]struct{}, reasons map[string]Reason) {
	changed := true
	for changed {
		changed = false
		for _, jobID := range g.JobOrder {
			if _, ok := dirty[jobID]; ok {
				continue
			}
			for _, up := range g.UpstreamOf(jobID) {
				if _, ok := dirty[up]; ok {
					dirty[jobID] = struct{}{}
					reasons[jobID] = ReasonPropagated
					changed = true
					break
				}
			}
		}
	}
}

// ComputeInputsHash computes the deterministic digest over the content
// hashes of job's resolved inputs, in declaration order (spec.md §3
// invariant: "content-addressed input hashing"). Exported so the runner can
// recompute the same inputsHash it records in each ArtifactEvent, using the
// identical algorithm the planner used to decide dirtiness.
func ComputeInputsHash(job *blueprint.Job, resolvedInputs map[string]any, latestArtifacts map[string]*eventlog.ArtifactEvent) (string, error) {
	return computeInputsHash(job, resolvedInputs, latestArtifacts)
}

func computeInputsHash(job *blueprint.Job, resolvedInputs map[string]any, latestArtifacts map[string]*eventlog.ArtifactEvent) (string, error) {
	hashes := make([]string, 0, len(job.Inputs))
	for _, id := range job.Inputs {
		switch {
		case canon.IsInputID(id):
			v, ok := resolvedInputs[id]
			if !ok {
				hashes = append(hashes, "")
				continue
			}
			h, err := contentHashOf(v)
			if err != nil {
				return "", fmt.Errorf("plan: hash resolved input %s: %w", id, err)
			}
			hashes = append(hashes, h)
		case canon.IsArtifactID(id):
			if e, ok := latestArtifacts[id]; ok {
				if e.Output.Blob != nil {
					hashes = append(hashes, e.Output.Blob.Hash)
				} else {
					hashes = append(hashes, e.InputsHash)
				}
			} else {
				hashes = append(hashes, "")
			}
		default:
			hashes = append(hashes, "")
		}
	}
	return canon.Hash(hashes)
}

// contentHashOf returns the content hash for a resolved input value: a
// blob's hash for a blob reference, or the canonical hash of the value
// itself for a scalar.
func contentHashOf(v any) (string, error) {
	if ref, ok := v.(eventlog.BlobRef); ok {
		return ref.Hash, nil
	}
	if ref, ok := v.(*eventlog.BlobRef); ok && ref != nil {
		return ref.Hash, nil
	}
	return canon.Hash(v)
}

// dirtyLayering assigns each dirty job a longest-path-from-source layer
// index over the induced sub-graph of dirty jobs (spec.md §4.4): a job's
// layer depends only on its dirty upstream jobs, so dropping clean
// ancestors collapses the numbering relative to the full blueprint graph.
func dirtyLayering(g *blueprint.Graph, dirty map[string]struct{}) (map[string]int, error) {
	layerOf := make(map[string]int, len(dirty))
	var assign func(id string, visiting map[string]bool) (int, error)
	assign = func(id string, visiting map[string]bool) (int, error) {
		if l, ok := layerOf[id]; ok {
			return l, nil
		}
		if visiting[id] {
			return 0, fmt.Errorf("%w: producer %q", blueprint.ErrCycle, id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		max := -1
		for _, up := range g.UpstreamOf(id) {
			if _, ok := dirty[up]; !ok {
				continue
			}
			l, err := assign(up, visiting)
			if err != nil {
				return 0, err
			}
			if l > max {
				max = l
			}
		}
		layerOf[id] = max + 1
		return layerOf[id], nil
	}

	for id := range dirty {
		if _, err := assign(id, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	return layerOf, nil
}

// fullLayering assigns every job in g (dirty or not) a longest-path-from-
// source layer index over the whole blueprint graph, used as the stable
// reference frame for scope.ReRunFrom and reported as
// Plan.BlueprintLayerCount.
func fullLayering(g *blueprint.Graph) (map[string]int, int, error) {
	layerOf := make(map[string]int, len(g.Jobs))
	var assign func(id string, visiting map[string]bool) (int, error)
	assign = func(id string, visiting map[string]bool) (int, error) {
		if l, ok := layerOf[id]; ok {
			return l, nil
		}
		if visiting[id] {
			return 0, fmt.Errorf("%w: producer %q", blueprint.ErrCycle, id)
		}
		visiting[id] = true
		defer delete(visiting, id)
		max := -1
		for _, up := range g.UpstreamOf(id) {
			l, err := assign(up, visiting)
			if err != nil {
				return 0, err
			}
			if l > max {
				max = l
			}
		}
		layerOf[id] = max + 1
		return layerOf[id], nil
	}
	maxLayer := -1
	for id := range g.Jobs {
		l, err := assign(id, map[string]bool{})
		if err != nil {
			return nil, 0, err
		}
		if l > maxLayer {
			maxLayer = l
		}
	}
	return layerOf, maxLayer + 1, nil
}
