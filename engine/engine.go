// Package engine composes the leaf packages (blueprint, plan, runner,
// store, store/manifest, store/eventlog) into the control surface spec.md
// §6 describes: generatePlan, executePlan, buildManifest, saveManifest.
// Nothing here is new logic; engine only wires existing pure components in
// the order spec.md §2's "Composition" line prescribes:
//
//	CLI/API -> Planning -> (confirm) -> Runner -> Store & Event Log -> Manifest Builder -> Summary
package engine

import (
	"context"
	"fmt"
	"time"

	"reelforge.design/reelforge/blueprint"
	"reelforge.design/reelforge/canon"
	"reelforge.design/reelforge/plan"
	"reelforge.design/reelforge/progress"
	"reelforge.design/reelforge/provider"
	"reelforge.design/reelforge/runner"
	"reelforge.design/reelforge/store"
	"reelforge.design/reelforge/store/eventlog"
	"reelforge.design/reelforge/store/manifest"
	"reelforge.design/reelforge/telemetry"
)

type (
	// PlanResult is generatePlan's full output (spec.md §6).
	PlanResult struct {
		Plan           *plan.Plan
		Manifest       *manifest.Manifest
		InputEvents    []*eventlog.InputEvent
		ResolvedInputs map[string]any
		ManifestHash   string
		PlanPath       string
		TargetRevision int
	}

	// RunContext bundles the collaborators executePlan needs (spec.md §6).
	// Storage is the durable backend the confirmed run persists into; by
	// convention generatePlan is called against an in-memory store first
	// (spec.md §4.1) and executePlan is only called once the caller has
	// decided to commit, at which point Storage should be a durable
	// backend such as store/fs.
	RunContext struct {
		MovieID   string
		Manifest  *manifest.Manifest
		Storage   store.Store
		EventLog  eventlog.Log
		Handlers  *provider.Cache
		Bus       *progress.Bus
		Logger    telemetry.Logger
		Tracer    telemetry.Tracer
		Metrics   telemetry.Metrics
	}

	// ExecOptions configures one executePlan call (spec.md §6).
	ExecOptions struct {
		Concurrency int
		UpToLayer   *int
		ReRunFrom   *int
		Mode        provider.Mode
		Environment string
		Cancel      <-chan struct{}
	}
)

// GeneratePlan computes the incremental plan for one movie: it resolves raw
// inputs (writing any blob-valued inputs into storage), expands the
// blueprint tree into a producer graph, loads the movie's current manifest,
// and calls plan.Generate. storage is expected to be an in-memory backend
// (store/memory) until the caller confirms the run; nothing here appends to
// the event log or writes a manifest (spec.md §4.1, §4.4: planning is pure
// over its inputs).
func GeneratePlan(ctx context.Context, movieID string, tree *blueprint.Document, rawInputs map[string]any, storage store.Store, log eventlog.Log, scope plan.Scope, now func() time.Time, logger telemetry.Logger) (*PlanResult, error) {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	movieRoot := movieID

	resolvedInputs, inputEvents, err := plan.ResolveInputs(ctx, storage, movieRoot, rawInputs, now)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve inputs: %w", err)
	}

	g, err := blueprint.Expand(tree, resolvedInputs)
	if err != nil {
		return nil, fmt.Errorf("engine: expand blueprint: %w", err)
	}
	for _, id := range g.MissingVariables {
		logger.Warn(ctx, "declared variable missing from resolved inputs", "id", id)
	}

	currentManifest, _, err := manifest.Load(ctx, storage, movieRoot)
	if err != nil {
		return nil, fmt.Errorf("engine: load manifest: %w", err)
	}

	revision, err := manifest.NextRevision(ctx, storage, movieRoot, currentManifest)
	if err != nil {
		return nil, fmt.Errorf("engine: next revision: %w", err)
	}

	result, err := plan.Generate(ctx, g, currentManifest, log, resolvedInputs, revision, scope, now(), storage, movieRoot)
	if err != nil {
		return nil, err
	}

	manifestHash := ""
	if currentManifest != nil {
		manifestHash, _ = canon.Hash(currentManifest)
	}

	planPath := fmt.Sprintf("runs/%s-plan.json", manifest.RevisionString(revision))
	raw, err := canon.Encode(result.Plan)
	if err != nil {
		return nil, fmt.Errorf("engine: encode plan: %w", err)
	}
	if err := storage.Write(ctx, storage.Resolve(movieRoot, planPath), raw); err != nil {
		return nil, fmt.Errorf("engine: write plan: %w", err)
	}

	return &PlanResult{
		Plan:           result.Plan,
		Manifest:       currentManifest,
		InputEvents:    inputEvents,
		ResolvedInputs: resolvedInputs,
		ManifestHash:   manifestHash,
		PlanPath:       planPath,
		TargetRevision: revision,
	}, nil
}

// CommitInputEvents appends every InputEvent produced by GeneratePlan to
// the durable event log. Callers invoke this once they have decided to
// proceed with a plan (spec.md §2's "(confirm)" step), before ExecutePlan.
func CommitInputEvents(ctx context.Context, log eventlog.Log, events []*eventlog.InputEvent, revision int) error {
	for _, e := range events {
		e.Revision = revision
		if err := log.AppendInput(ctx, e); err != nil {
			return fmt.Errorf("engine: append input event %s: %w", e.ID, err)
		}
	}
	return nil
}

// ExecutePlan runs p against rc's collaborators and returns the run's
// outcome (spec.md §6). The blueprint graph must be the same one the plan
// was generated from; engine does not re-expand it so that a long-running
// confirm step can't silently change the plan's shape out from under
// execution.
func ExecutePlan(ctx context.Context, p *plan.Plan, g *blueprint.Graph, rc RunContext, resolvedInputs map[string]any, opts ExecOptions) (*runner.RunResult, error) {
	runnerOpts := runner.Options{
		Concurrency: opts.Concurrency,
		Mode:        opts.Mode,
		Environment: opts.Environment,
		Logger:      rc.Logger,
		Tracer:      rc.Tracer,
		Metrics:     rc.Metrics,
		Bus:         rc.Bus,
	}

	effectivePlan := p
	if opts.UpToLayer != nil {
		effectivePlan = withUpToLayer(p, *opts.UpToLayer, rc.Bus, rc.MovieID)
	}

	return runner.Execute(ctx, rc.MovieID, effectivePlan, g, rc.Storage, rc.EventLog, resolvedInputs, rc.Handlers, runnerOpts, opts.Cancel)
}

// withUpToLayer truncates p's layers to index k, emitting a layer-skipped
// progress event for every layer beyond k (spec.md §4.5 "Layer selection").
func withUpToLayer(p *plan.Plan, k int, bus *progress.Bus, movieID string) *plan.Plan {
	if k >= len(p.Layers)-1 {
		return p
	}
	truncated := *p
	for i := k + 1; i < len(p.Layers); i++ {
		if bus != nil {
			bus.Publish(progress.Event{Kind: progress.KindLayerSkipped, MovieID: movieID, Revision: p.Revision, LayerIndex: i})
		}
	}
	truncated.Layers = p.Layers[:k+1]
	return &truncated
}

// BuildManifest compacts rc's event log into a new Manifest for the run
// just executed (spec.md §4.6). runConfig records the scope controls used,
// for observability in the persisted manifest.
func BuildManifest(ctx context.Context, rc RunContext, revision int, runConfig *manifest.RunConfig, now time.Time) (*manifest.Manifest, error) {
	baseRevision := 0
	if rc.Manifest != nil {
		baseRevision = rc.Manifest.Revision
	}
	return manifest.Build(ctx, rc.EventLog, revision, baseRevision, runConfig, now)
}

// SaveManifest persists m and repoints current.json at it, or fails with
// manifest.ErrStale if another writer has moved the pointer since
// previousHash was observed (spec.md §4.6, §7).
func SaveManifest(ctx context.Context, rc RunContext, m *manifest.Manifest, previousHash string) (string, error) {
	return manifest.Save(ctx, rc.Storage, rc.MovieID, m, previousHash, rc.Logger)
}

// BuildSummary is the user-visible run outcome (spec.md §1, §7): counts,
// per-job errors, and where the manifest landed, so a caller can retry by
// supplying the same movie ID.
type BuildSummary struct {
	Revision     int
	Status       runner.Status
	Succeeded    int
	Failed       int
	Skipped      int
	Errors       []runner.JobError
	ManifestPath string
	ManifestHash string
}

// Summarize builds a BuildSummary from a RunResult and the manifest save
// outcome (spec.md §7: "the engine emits a summary containing counts ...
// a list of per-job errors, and the manifest path").
func Summarize(rr *runner.RunResult, manifestHash string) BuildSummary {
	return BuildSummary{
		Revision:     rr.Revision,
		Status:       rr.Status,
		Succeeded:    rr.Succeeded,
		Failed:       rr.Failed,
		Skipped:      rr.Skipped,
		Errors:       rr.Errors,
		ManifestPath: manifest.ManifestsDir + "/" + manifest.RevisionString(rr.Revision) + ".json",
		ManifestHash: manifestHash,
	}
}
