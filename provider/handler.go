// Package provider defines the pluggable producer-handler contract
// (spec.md §4.7): a handler pair of warmStart and invoke that the engine
// calls into for every job, without knowing anything about the underlying
// model or API. The engine owns concurrency and persistence; a handler owns
// external-API specifics. The engine makes a single Invoke attempt per job
// (Request.Attempt is always 1) and does not retry a failed job.
package provider

import (
	"context"
	"encoding/json"
)

// Mode distinguishes a handler that calls a real external provider from one
// that synthesizes schema-conformant fake outputs (spec.md §4.7).
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

type (
	// PlannerContext carries the loop-expansion details a handler may need
	// to shape its request without the engine interpreting them (spec.md
	// §4.7).
	PlannerContext struct {
		Index         []int  `json:"index,omitempty"`
		NamespacePath string `json:"namespacePath,omitempty"`
		ProducerAlias string `json:"producerAlias"`
	}

	// RequestExtras bundles the context a handler needs beyond the bare
	// input list: the fully resolved input values, planner metadata, the
	// blob paths of upstream artifacts (built from the latest artifact
	// events, never the manifest), and the mapping from canonical input ID
	// to whatever identifier the handler's own SDK expects.
	RequestExtras struct {
		ResolvedInputs  map[string]any    `json:"resolvedInputs"`
		PlannerContext  PlannerContext    `json:"plannerContext"`
		AssetBlobPaths  map[string]string `json:"assetBlobPaths,omitempty"`
		SDKMapping      map[string]string `json:"sdkMapping,omitempty"`
		DeclaredOutputs map[string]json.RawMessage `json:"declaredOutputs,omitempty"`
	}

	// Request is everything a handler's Invoke needs for one job attempt
	// (spec.md §4.7).
	Request struct {
		JobID      string        `json:"jobId"`
		Provider   string        `json:"provider"`
		Model      string        `json:"model"`
		Revision   int           `json:"revision"`
		LayerIndex int           `json:"layerIndex"`
		Attempt    int           `json:"attempt"`
		Inputs     []string      `json:"inputs"`
		Produces   []string      `json:"produces"`
		Context    RequestExtras `json:"context"`
	}

	// BlobPayload carries a produced artifact's raw bytes and MIME type,
	// before the engine writes it to the content-addressed store.
	BlobPayload struct {
		Data     []byte `json:"data"`
		MIMEType string `json:"mimeType"`
	}

	// ArtifactResult is one produced (or failed) artifact within a
	// Response. Status defaults to succeeded when Blob is set and omitted
	// otherwise.
	ArtifactResult struct {
		ArtifactID  string          `json:"artefactId"`
		Status      string          `json:"status,omitempty"`
		Blob        *BlobPayload    `json:"blob,omitempty"`
		Diagnostics json.RawMessage `json:"diagnostics,omitempty"`
	}

	// Response is a handler's Invoke result for one job attempt (spec.md
	// §4.7). The engine validates that every ID in the originating
	// Request.Produces appears in Artefacts; any missing ones are recorded
	// as failed events.
	Response struct {
		JobID       string           `json:"jobId"`
		Status      string           `json:"status,omitempty"`
		Artefacts   []ArtifactResult `json:"artefacts"`
		Diagnostics json.RawMessage  `json:"diagnostics,omitempty"`
	}

	// Descriptor identifies one handler binding for warmStart: the engine
	// calls WarmStart once per run with every descriptor the plan will
	// need, before any job executes.
	Descriptor struct {
		Mode        Mode
		Provider    string
		Model       string
		Environment string
	}

	// Handler is the small polymorphic interface every producer
	// implementation satisfies (spec.md §4.7, §9's "dynamic dispatch is a
	// two-method interface").
	Handler interface {
		// WarmStart is called once per run before any job executes, with
		// every descriptor this run's plan will need. Implementations that
		// need to pre-authenticate, open connections, or pre-fetch model
		// metadata do so here; it is never called per-job.
		WarmStart(ctx context.Context, descriptors []Descriptor) error

		// Invoke executes one job attempt and returns its result, or an
		// error if the call could not be completed at all (as opposed to
		// completing with a provider-reported failure, which is expressed
		// as a failed ArtifactResult, not a Go error).
		Invoke(ctx context.Context, req Request) (Response, error)
	}
)

// DiagnosticsRecoverable is the conventional diagnostics shape a handler
// may use to mark an error as recoverable (spec.md §4.7). The runner copies
// a handler's diagnostics into the artifact event as given; it does not
// read this field and does not retry.
type DiagnosticsRecoverable struct {
	ProviderRequestID string `json:"providerRequestId,omitempty"`
	Recoverable       bool   `json:"recoverable,omitempty"`
}
