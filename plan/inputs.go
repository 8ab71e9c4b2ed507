package plan

import (
	"context"
	"fmt"
	"time"

	"reelforge.design/reelforge/canon"
	"reelforge.design/reelforge/store"
	"reelforge.design/reelforge/store/eventlog"
)

// RawBlob marks a caller-supplied input value as raw bytes to be persisted
// to the blob store before planning proceeds (spec.md §4.4: "blob values
// replaced with BlobRefs"). A RawInputValues map may mix scalar JSON values
// and RawBlob values freely.
type RawBlob struct {
	Data []byte
	MIME string
}

// ResolveInputs normalizes raw, writes any RawBlob values to the store under
// their content hash, derives system inputs, and returns the resolved
// values keyed by canonical Input: ID alongside the InputEvent each should
// be appended as. Every key in raw must be a canonical Input: ID
// (CodeNonCanonicalInputID otherwise).
func ResolveInputs(ctx context.Context, s store.Store, movieRoot string, raw map[string]any, now func() time.Time) (map[string]any, []*eventlog.InputEvent, error) {
	resolved := make(map[string]any, len(raw))
	events := make([]*eventlog.InputEvent, 0, len(raw))

	for id, v := range raw {
		if err := canon.ValidateInputID(id); err != nil {
			return nil, nil, newError(CodeNonCanonicalInputID, "%s: %v", id, err)
		}

		value, event, err := resolveOne(ctx, s, movieRoot, id, v, eventlog.EditedByUser, now)
		if err != nil {
			return nil, nil, err
		}
		resolved[id] = value
		events = append(events, event)
	}

	derived, err := deriveSystemInputs(ctx, s, movieRoot, resolved, now)
	if err != nil {
		return nil, nil, err
	}
	events = append(events, derived...)

	return resolved, events, nil
}

func resolveOne(ctx context.Context, s store.Store, movieRoot, id string, v any, editedBy eventlog.EditedBy, now func() time.Time) (any, *eventlog.InputEvent, error) {
	if blob, ok := v.(RawBlob); ok {
		hash := canon.HashBytes(blob.Data)
		b, err := store.WriteBlob(ctx, s, movieRoot, blob.Data, blob.MIME, hash)
		if err != nil {
			return nil, nil, fmt.Errorf("plan: write blob for %s: %w", id, err)
		}
		ref := eventlog.BlobRef{Hash: b.Hash, Size: b.Size, MIME: b.MIME}
		event := &eventlog.InputEvent{
			ID: id, Hash: b.Hash, Blob: &ref, EditedBy: editedBy, CreatedAt: now(),
		}
		return ref, event, nil
	}

	h, err := eventlog.InputHash(v)
	if err != nil {
		return nil, nil, fmt.Errorf("plan: hash input %s: %w", id, err)
	}
	payload, err := canon.Encode(v)
	if err != nil {
		return nil, nil, fmt.Errorf("plan: encode input %s: %w", id, err)
	}
	event := &eventlog.InputEvent{
		ID: id, Hash: h, Payload: payload, EditedBy: editedBy, CreatedAt: now(),
	}
	return v, event, nil
}

// deriveSystemInputs injects inputs computable from other resolved inputs
// when absent. Per spec.md §9's documented open-question resolution,
// SegmentDuration is derived only when NumOfSegments is present and
// strictly positive; a zero or missing NumOfSegments means "do not derive"
// rather than a divide-by-zero error.
func deriveSystemInputs(ctx context.Context, s store.Store, movieRoot string, resolved map[string]any, now func() time.Time) ([]*eventlog.InputEvent, error) {
	const (
		durationID        = "Input:Duration"
		numSegmentsID     = "Input:NumOfSegments"
		segmentDurationID = "Input:SegmentDuration"
	)

	if _, exists := resolved[segmentDurationID]; exists {
		return nil, nil
	}
	durationV, hasDuration := resolved[durationID]
	numSegmentsV, hasNumSegments := resolved[numSegmentsID]
	if !hasDuration || !hasNumSegments {
		return nil, nil
	}

	duration, ok := asFloat(durationV)
	if !ok {
		return nil, nil
	}
	numSegments, ok := asFloat(numSegmentsV)
	if !ok || numSegments <= 0 {
		return nil, nil
	}

	segmentDuration := duration / numSegments
	value, event, err := resolveOne(ctx, s, movieRoot, segmentDurationID, segmentDuration, eventlog.EditedBySystem, now)
	if err != nil {
		return nil, err
	}
	resolved[segmentDurationID] = value
	return []*eventlog.InputEvent{event}, nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
