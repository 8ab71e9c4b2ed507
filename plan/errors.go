package plan

import "fmt"

// Error codes for planning-phase user-input errors (spec.md §4.4, §7).
// These are surfaced synchronously; a plan with an Error is never persisted.
// INVALID_OUTPUT_SCHEMA_JSON is not among them: it is a blueprint-expansion
// failure, not a scope/pin validation failure, and is owned entirely by
// blueprint.ErrInvalidOutputSchema, the same as CYCLE_DETECTED.
const (
	CodeInvalidPinID          = "INVALID_PIN_ID"
	CodePinTargetNotReusable  = "PIN_TARGET_NOT_REUSABLE"
	CodeArtifactNotInManifest = "ARTIFACT_NOT_IN_MANIFEST"
	CodeArtifactJobNotFound   = "ARTIFACT_JOB_NOT_FOUND"
	CodeNonCanonicalInputID   = "NON_CANONICAL_INPUT_ID"
	CodePinTargetConflict     = "PIN_TARGET_CONFLICT"
)

// Error is a planning-phase user-input error: validation failures that must
// be surfaced synchronously without producing or persisting a plan.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("plan: %s: %s", e.Code, e.Message)
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
