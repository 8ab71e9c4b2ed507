package blueprint

import "errors"

// Sentinel expansion errors. Planning-phase callers surface these
// synchronously and persist nothing (spec.md §7).
var (
	// ErrCycle is returned when the producer/artifact dependency graph
	// contains a cycle; blueprints are a DAG by construction and expansion
	// rejects cycles (spec.md §9).
	ErrCycle = errors.New("blueprint: CYCLE_DETECTED")

	// ErrInvalidOutputSchema is returned when a producer's declared
	// OutputSchema is not valid JSON Schema, and an artifact requires it
	// for array decomposition (spec.md §4.4).
	ErrInvalidOutputSchema = errors.New("blueprint: INVALID_OUTPUT_SCHEMA_JSON")

	// ErrUnknownCountInput is returned when a loop or array decomposition
	// names a count-input that is absent from the resolved input values.
	ErrUnknownCountInput = errors.New("blueprint: unknown count input")

	// ErrUnresolvedEdge is returned when an edge's From reference does not
	// resolve to a declared input or producer output.
	ErrUnresolvedEdge = errors.New("blueprint: unresolved edge reference")
)
