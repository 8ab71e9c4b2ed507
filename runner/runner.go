// Package runner executes a plan.Plan layer by layer against a pluggable
// provider.Handler, writing results into the content-addressed store and
// the event log (spec.md §4.5).
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"reelforge.design/reelforge/blueprint"
	"reelforge.design/reelforge/canon"
	"reelforge.design/reelforge/plan"
	"reelforge.design/reelforge/progress"
	"reelforge.design/reelforge/provider"
	"reelforge.design/reelforge/store"
	"reelforge.design/reelforge/store/eventlog"
	"reelforge.design/reelforge/telemetry"
)

// Status is a run's terminal outcome (spec.md §4.5).
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type (
	// JobError records one job's failure for the run summary (spec.md §7:
	// "a list of per-job errors").
	JobError struct {
		JobID   string
		Message string
	}

	// RunResult is Execute's outcome (spec.md §6's RunResult).
	RunResult struct {
		Revision  int
		Status    Status
		Succeeded int
		Failed    int
		Skipped   int
		Errors    []JobError
	}

	// Options configures one Execute call.
	Options struct {
		// Concurrency bounds the number of in-flight provider.Invoke calls
		// per layer (spec.md §4.5; default 1).
		Concurrency int
		// Mode selects which handler variant jobs run under; a run is
		// homogeneously live or simulated.
		Mode provider.Mode
		// Environment is passed through to Descriptor lookups (e.g.
		// "production", "staging").
		Environment string
		Logger      telemetry.Logger
		// Tracer spans every suspension point (spec.md §5): provider
		// invocation, blob write, event-log append. Defaults to a no-op
		// tracer so callers that have not configured OTEL still run.
		Tracer  telemetry.Tracer
		Metrics telemetry.Metrics
		Bus     *progress.Bus
	}
)

// Execute runs p's layers in order against graph g, using handlers to
// invoke each job's producer and s/log to persist results (spec.md §4.5).
// resolvedInputs supplies canonical Input: values; cancel, if non-nil, is
// checked between layers and before dispatching each job within a layer —
// once closed, no new job is dispatched, but jobs already dispatched are
// allowed to finish (spec.md §5's cancellation semantics).
func Execute(ctx context.Context, movieID string, p *plan.Plan, g *blueprint.Graph, s store.Store, log eventlog.Log, resolvedInputs map[string]any, handlers *provider.Cache, opts Options, cancel <-chan struct{}) (*RunResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	limiter := newRateLimiter(5, 20)

	result := &RunResult{Revision: p.Revision, Status: StatusSucceeded}
	cancelled := false

	for layerIndex, layer := range p.Layers {
		select {
		case <-cancel:
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		publish(opts.Bus, progress.Event{Kind: progress.KindLayerStart, MovieID: movieID, Revision: p.Revision, LayerIndex: layerIndex, LayerCount: len(p.Layers)})

		if len(layer) == 0 {
			publish(opts.Bus, progress.Event{Kind: progress.KindLayerEmpty, MovieID: movieID, Revision: p.Revision, LayerIndex: layerIndex})
			continue
		}

		latestArtifacts, err := log.LatestArtifacts(ctx)
		if err != nil {
			return nil, fmt.Errorf("runner: read latest artifact events before layer %d: %w", layerIndex, err)
		}

		outcomes := runLayer(ctx, movieID, p.Revision, layerIndex, layer, g, s, log, resolvedInputs, latestArtifacts, handlers, opts, limiter, logger, tracer, metrics, cancel, concurrency)

		for _, o := range outcomes {
			switch o.status {
			case eventlog.StatusSucceeded:
				result.Succeeded++
				metrics.IncCounter("runner.jobs.succeeded", 1, "jobId", o.jobID)
			case eventlog.StatusFailed:
				result.Failed++
				result.Errors = append(result.Errors, JobError{JobID: o.jobID, Message: o.errMessage})
				metrics.IncCounter("runner.jobs.failed", 1, "jobId", o.jobID)
			case eventlog.StatusSkipped:
				result.Skipped++
				metrics.IncCounter("runner.jobs.skipped", 1, "jobId", o.jobID)
			}
			if o.cancelled {
				cancelled = true
			}
		}

		publish(opts.Bus, progress.Event{Kind: progress.KindLayerComplete, MovieID: movieID, Revision: p.Revision, LayerIndex: layerIndex})

		if cancelled {
			break
		}
	}

	switch {
	case cancelled:
		result.Status = StatusCancelled
	case result.Failed > 0:
		result.Status = StatusFailed
	default:
		result.Status = StatusSucceeded
	}

	publish(opts.Bus, progress.Event{Kind: progress.KindExecutionComplete, MovieID: movieID, Revision: p.Revision, Status: string(result.Status)})

	return result, nil
}

type jobOutcome struct {
	jobID      string
	status     eventlog.ArtifactStatus
	errMessage string
	cancelled  bool
}

// runLayer dispatches every job in layer through a bounded worker pool and
// waits for all of them to terminate before returning: layer boundaries are
// hard barriers (spec.md §4.5).
func runLayer(ctx context.Context, movieID string, revision, layerIndex int, layer []plan.JobDescriptor, g *blueprint.Graph, s store.Store, log eventlog.Log, resolvedInputs map[string]any, latestArtifacts map[string]*eventlog.ArtifactEvent, handlers *provider.Cache, opts Options, limiter *rateLimiter, logger telemetry.Logger, tracer telemetry.Tracer, metrics telemetry.Metrics, cancel <-chan struct{}, concurrency int) []jobOutcome {
	jobs := make(chan plan.JobDescriptor, len(layer))
	for _, j := range layer {
		jobs <- j
	}
	close(jobs)

	outcomes := make([]jobOutcome, len(layer))
	var idx int32 = -1
	indexOf := make(map[string]int, len(layer))
	for i, j := range layer {
		indexOf[j.JobID] = i
	}

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jd := range jobs {
				select {
				case <-cancel:
					outcomes[indexOf[jd.JobID]] = jobOutcome{jobID: jd.JobID, cancelled: true}
					continue
				default:
				}
				outcome := runJob(ctx, movieID, revision, layerIndex, jd, g, s, log, resolvedInputs, latestArtifacts, handlers, opts, limiter, logger, tracer, metrics)
				outcomes[indexOf[jd.JobID]] = outcome
			}
			_ = atomic.AddInt32(&idx, 1)
		}()
	}
	wg.Wait()
	return outcomes
}

// runJob implements the per-job protocol of spec.md §4.5: resolve inputs
// from the event log (not the manifest), compute inputsHash, invoke the
// handler, persist blobs and artifact events, and emit progress.
func runJob(ctx context.Context, movieID string, revision, layerIndex int, jd plan.JobDescriptor, g *blueprint.Graph, s store.Store, log eventlog.Log, resolvedInputs map[string]any, latestArtifacts map[string]*eventlog.ArtifactEvent, handlers *provider.Cache, opts Options, limiter *rateLimiter, logger telemetry.Logger, tracer telemetry.Tracer, metrics telemetry.Metrics) jobOutcome {
	job := g.Jobs[jd.JobID]
	now := time.Now

	if blocker, ok := unmetUpstream(jd, latestArtifacts); ok {
		logger.Debug(ctx, "skipping job with unmet upstream", "jobId", jd.JobID, "upstream", blocker)
		return jobOutcome{jobID: jd.JobID}
	}

	if err := limiter.Wait(ctx, jd.RateKey); err != nil {
		return failJob(ctx, log, jd, revision, fmt.Sprintf("rate limit wait: %v", err), now)
	}

	assetBlobPaths := make(map[string]string)
	jobResolvedInputs := make(map[string]any, len(jd.Inputs))
	for _, inputID := range jd.Inputs {
		if canon.IsInputID(inputID) {
			if v, ok := resolvedInputs[inputID]; ok {
				jobResolvedInputs[inputID] = v
			}
			continue
		}
		if canon.IsArtifactID(inputID) {
			e, ok := latestArtifacts[inputID]
			if !ok || e.Output.Blob == nil {
				continue
			}
			path, err := store.BlobPath(e.Output.Blob.Hash, e.Output.Blob.MIME)
			if err != nil {
				continue
			}
			assetBlobPaths[inputID] = s.Resolve(movieID, path)
		}
	}

	inputsHash, err := plan.ComputeInputsHash(job, resolvedInputs, latestArtifacts)
	if err != nil {
		return failJob(ctx, log, jd, revision, fmt.Sprintf("compute inputsHash: %v", err), now)
	}

	descriptor := provider.Descriptor{Mode: opts.Mode, Provider: jd.Provider, Model: jd.ProviderModel, Environment: opts.Environment}
	handler, err := handlers.Lookup(descriptor)
	if err != nil {
		return failJob(ctx, log, jd, revision, fmt.Sprintf("lookup handler: %v", err), now)
	}

	attemptID := uuid.New().String()
	if logger != nil {
		logger.Debug(ctx, "dispatching job attempt", "jobId", jd.JobID, "attemptId", attemptID, "layer", layerIndex)
	}

	req := provider.Request{
		JobID: jd.JobID, Provider: jd.Provider, Model: jd.ProviderModel,
		Revision: revision, LayerIndex: layerIndex, Attempt: 1,
		Inputs: jd.Inputs, Produces: jd.Produces,
		Context: provider.RequestExtras{
			ResolvedInputs: jobResolvedInputs,
			PlannerContext: provider.PlannerContext{Index: job.Indices, ProducerAlias: job.ProducerAlias},
			AssetBlobPaths: assetBlobPaths,
		},
	}

	invokeCtx, invokeSpan := tracer.Start(ctx, "runner.invoke_provider")
	invokeStart := time.Now()
	resp, err := handler.Invoke(invokeCtx, req)
	metrics.RecordTimer("runner.invoke.duration", time.Since(invokeStart), "provider", jd.Provider, "model", jd.ProviderModel)
	if err != nil {
		invokeSpan.RecordError(err)
		invokeSpan.SetStatus(codes.Error, err.Error())
		invokeSpan.End()
		limiter.Backoff(jd.RateKey)
		return failJob(ctx, log, jd, revision, err.Error(), now)
	}
	invokeSpan.End()
	limiter.Recover(jd.RateKey)

	byArtifact := make(map[string]provider.ArtifactResult, len(resp.Artefacts))
	for _, a := range resp.Artefacts {
		byArtifact[a.ArtifactID] = a
	}

	worstStatus := eventlog.StatusSucceeded
	var lastErr string
	for _, artifactID := range jd.Produces {
		result, ok := byArtifact[artifactID]
		if !ok {
			result = provider.ArtifactResult{ArtifactID: artifactID, Status: "failed", Diagnostics: []byte(`{"error":"missing from response"}`)}
		}
		status := eventlog.ArtifactStatus(result.Status)
		if status == "" {
			status = eventlog.StatusSucceeded
		}

		event := &eventlog.ArtifactEvent{
			ArtifactID: artifactID, Revision: revision, InputsHash: inputsHash,
			Status: status, ProducedBy: jd.JobID, Diagnostics: result.Diagnostics, CreatedAt: now(),
		}

		if status == eventlog.StatusSucceeded {
			if result.Blob == nil {
				status = eventlog.StatusFailed
				event.Status = status
				event.Diagnostics = []byte(`{"error":"succeeded status with no blob"}`)
			} else {
				hash := canon.HashBytes(result.Blob.Data)
				writeCtx, writeSpan := tracer.Start(ctx, "runner.write_blob")
				blob, err := store.WriteBlob(writeCtx, s, movieID, result.Blob.Data, result.Blob.MIMEType, hash)
				if err != nil {
					writeSpan.RecordError(err)
					writeSpan.SetStatus(codes.Error, err.Error())
					status = eventlog.StatusFailed
					event.Status = status
					event.Diagnostics = mustJSON(map[string]any{"error": err.Error()})
				} else {
					event.Output.Blob = &eventlog.BlobRef{Hash: blob.Hash, Size: blob.Size, MIME: blob.MIME}
					metrics.RecordGauge("runner.blob.bytes_written", float64(blob.Size), "mime", blob.MIME)
				}
				writeSpan.End()
			}
		}

		appendCtx, appendSpan := tracer.Start(ctx, "runner.append_artifact")
		if err := log.AppendArtifact(appendCtx, event); err != nil {
			appendSpan.RecordError(err)
			appendSpan.SetStatus(codes.Error, err.Error())
			logger.Warn(ctx, "append artifact event failed", "artifactId", artifactID, "error", err.Error())
			status = eventlog.StatusFailed
		}
		appendSpan.End()

		if status != eventlog.StatusSucceeded {
			worstStatus = status
			if len(event.Diagnostics) > 0 {
				lastErr = string(event.Diagnostics)
			}
		}

		publish(opts.Bus, progress.Event{
			Kind: progress.KindJobStatus, MovieID: movieID, Revision: revision,
			LayerIndex: layerIndex, JobID: jd.JobID, Status: string(status),
		})
	}

	return jobOutcome{jobID: jd.JobID, status: worstStatus, errMessage: lastErr}
}

// unmetUpstream reports whether jd depends on an artifact whose latest event
// is missing or not succeeded. Per spec.md §4.5/§8 scenario 5, a job
// downstream of a failed producer is never dispatched and never gets an
// event of its own: the failure simply does not propagate an event, it
// withholds one.
func unmetUpstream(jd plan.JobDescriptor, latestArtifacts map[string]*eventlog.ArtifactEvent) (string, bool) {
	for _, inputID := range jd.Inputs {
		if !canon.IsArtifactID(inputID) {
			continue
		}
		e, ok := latestArtifacts[inputID]
		if !ok || e.Status != eventlog.StatusSucceeded {
			return inputID, true
		}
	}
	return "", false
}

// failJob appends a failed artifact event for every artifact the job was
// expected to produce (spec.md §4.5 step 5: "serialize the error ... append
// a failed artifact event for every artifact the job was expected to
// produce, and continue").
func failJob(ctx context.Context, log eventlog.Log, jd plan.JobDescriptor, revision int, message string, now func() time.Time) jobOutcome {
	diagnostics := mustJSON(map[string]any{"error": message})
	for _, artifactID := range jd.Produces {
		_ = log.AppendArtifact(ctx, &eventlog.ArtifactEvent{
			ArtifactID: artifactID, Revision: revision, Status: eventlog.StatusFailed,
			ProducedBy: jd.JobID, Diagnostics: diagnostics, CreatedAt: now(),
		})
	}
	return jobOutcome{jobID: jd.JobID, status: eventlog.StatusFailed, errMessage: message}
}

func publish(bus *progress.Bus, e progress.Event) {
	if bus == nil {
		return
	}
	bus.Publish(e)
}

func mustJSON(v map[string]any) []byte {
	b, err := canon.Encode(v)
	if err != nil {
		return nil
	}
	return b
}
