// Package eventlog implements the two append-only event logs that are the
// source of truth for a movie's state (spec.md §3, §4.1): the input event
// log and the artefact event log. Both are newline-delimited canonical JSON
// under events/inputs.log and events/artefacts.log. A parser that hits a
// malformed line skips it and continues; the engine itself writes only
// well-formed lines.
package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reelforge.design/reelforge/canon"
	"reelforge.design/reelforge/store"
	"reelforge.design/reelforge/telemetry"
)

// EditedBy distinguishes a user-supplied input value from one derived by
// the planner (spec.md §3, e.g. SegmentDuration).
type EditedBy string

const (
	EditedByUser   EditedBy = "user"
	EditedBySystem EditedBy = "system"
)

// ArtifactStatus is the terminal state of a produced artifact.
type ArtifactStatus string

const (
	StatusSucceeded ArtifactStatus = "succeeded"
	StatusFailed    ArtifactStatus = "failed"
	StatusSkipped   ArtifactStatus = "skipped"
)

type (
	// BlobRef references content-addressed bytes without inlining them, per
	// spec.md §3's "the event carries a BlobRef rather than inline bytes".
	BlobRef struct {
		Hash string `json:"hash"`
		Size int64  `json:"size"`
		MIME string `json:"mime"`
	}

	// InputEvent is an immutable record of one input value at one revision.
	InputEvent struct {
		ID        string          `json:"id"`
		Revision  int             `json:"revision"`
		Hash      string          `json:"hash"`
		Payload   json.RawMessage `json:"payload,omitempty"`
		Blob      *BlobRef        `json:"blob,omitempty"`
		EditedBy  EditedBy        `json:"editedBy"`
		CreatedAt time.Time       `json:"createdAt"`
	}

	// ArtifactOutput carries the succeeded output of a job for one
	// artifact. Failed/skipped artifacts carry no blob (spec.md §3
	// invariant: every succeeded artifact has a blob).
	ArtifactOutput struct {
		Blob *BlobRef `json:"blob,omitempty"`
	}

	// ArtifactEvent is an immutable record of one artifact's production
	// attempt at one revision.
	ArtifactEvent struct {
		ArtifactID  string          `json:"artefactId"`
		Revision    int             `json:"revision"`
		InputsHash  string          `json:"inputsHash"`
		Output      ArtifactOutput  `json:"output"`
		Status      ArtifactStatus  `json:"status"`
		ProducedBy  string          `json:"producedBy"`
		Diagnostics json.RawMessage `json:"diagnostics,omitempty"`
		CreatedAt   time.Time       `json:"createdAt"`
	}

	// Log is the append-only pair of event logs for one movie.
	//
	// Implementations must guarantee: appends are atomic with respect to
	// the log file (a full line or none), and reads observe every
	// previously completed append (latest-event-wins is computed by
	// callers over the full read).
	Log interface {
		AppendInput(ctx context.Context, e *InputEvent) error
		AppendArtifact(ctx context.Context, e *ArtifactEvent) error

		// ReadInputs returns every input event in append order. Malformed
		// lines are skipped, not returned as an error.
		ReadInputs(ctx context.Context) ([]*InputEvent, error)

		// ReadArtifacts returns every artifact event in append order.
		// Malformed lines are skipped, not returned as an error.
		ReadArtifacts(ctx context.Context) ([]*ArtifactEvent, error)

		// LatestInputs compacts ReadInputs into the latest event per ID.
		LatestInputs(ctx context.Context) (map[string]*InputEvent, error)

		// LatestArtifacts compacts ReadArtifacts into the latest event per
		// ID.
		LatestArtifacts(ctx context.Context) (map[string]*ArtifactEvent, error)
	}

	log struct {
		s          store.Store
		appender   store.Appender
		movieRoot  string
		inputsPath string
		artifacts  string
		logger     telemetry.Logger
	}
)

// Paths for the two event logs, relative to a movie root, per spec.md §6.
const (
	InputsLogPath    = "events/inputs.log"
	ArtifactsLogPath = "events/artefacts.log"
)

// New returns a Log backed by s, rooted at movieRoot. s must also implement
// store.Appender; both store/fs and store/memory do.
func New(s store.Store, movieRoot string, logger telemetry.Logger) (Log, error) {
	appender, ok := s.(store.Appender)
	if !ok {
		return nil, fmt.Errorf("eventlog: store %T does not implement store.Appender", s)
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &log{
		s:          s,
		appender:   appender,
		movieRoot:  movieRoot,
		inputsPath: s.Resolve(movieRoot, InputsLogPath),
		artifacts:  s.Resolve(movieRoot, ArtifactsLogPath),
		logger:     logger,
	}, nil
}

// InputHash computes an InputEvent's canonical-form hash from its payload.
// Per spec.md §3's invariant, hash(e) == canonicalHash(e.payload) for every
// input event; callers should set InputEvent.Hash from this before
// appending.
func InputHash(payload any) (string, error) {
	return canon.Hash(payload)
}

func (l *log) AppendInput(ctx context.Context, e *InputEvent) error {
	if e == nil {
		return fmt.Errorf("eventlog: input event is required")
	}
	if e.ID == "" {
		return fmt.Errorf("eventlog: input event id is required")
	}
	b, err := encodeCanonical(e)
	if err != nil {
		return fmt.Errorf("eventlog: encode input event %s: %w", e.ID, err)
	}
	if err := l.appender.AppendLine(ctx, l.inputsPath, b); err != nil {
		return fmt.Errorf("eventlog: append input event %s: %w", e.ID, err)
	}
	l.logger.Debug(ctx, "appended input event", "id", e.ID, "revision", e.Revision)
	return nil
}

func (l *log) AppendArtifact(ctx context.Context, e *ArtifactEvent) error {
	if e == nil {
		return fmt.Errorf("eventlog: artifact event is required")
	}
	if e.ArtifactID == "" {
		return fmt.Errorf("eventlog: artifact event id is required")
	}
	if e.Status == StatusSucceeded && e.Output.Blob == nil {
		return fmt.Errorf("eventlog: artifact event %s is succeeded but carries no blob", e.ArtifactID)
	}
	b, err := encodeCanonical(e)
	if err != nil {
		return fmt.Errorf("eventlog: encode artifact event %s: %w", e.ArtifactID, err)
	}
	if err := l.appender.AppendLine(ctx, l.artifacts, b); err != nil {
		return fmt.Errorf("eventlog: append artifact event %s: %w", e.ArtifactID, err)
	}
	l.logger.Debug(ctx, "appended artifact event", "id", e.ArtifactID, "revision", e.Revision, "status", e.Status)
	return nil
}

func (l *log) ReadInputs(ctx context.Context) ([]*InputEvent, error) {
	lines, err := readLines(ctx, l.s, l.inputsPath)
	if err != nil {
		return nil, err
	}
	events := make([]*InputEvent, 0, len(lines))
	for _, line := range lines {
		var e InputEvent
		if err := json.Unmarshal(line, &e); err != nil {
			l.logger.Warn(ctx, "skipping malformed input event line", "error", err.Error())
			continue
		}
		events = append(events, &e)
	}
	return events, nil
}

func (l *log) ReadArtifacts(ctx context.Context) ([]*ArtifactEvent, error) {
	lines, err := readLines(ctx, l.s, l.artifacts)
	if err != nil {
		return nil, err
	}
	events := make([]*ArtifactEvent, 0, len(lines))
	for _, line := range lines {
		var e ArtifactEvent
		if err := json.Unmarshal(line, &e); err != nil {
			l.logger.Warn(ctx, "skipping malformed artifact event line", "error", err.Error())
			continue
		}
		events = append(events, &e)
	}
	return events, nil
}

func (l *log) LatestInputs(ctx context.Context) (map[string]*InputEvent, error) {
	events, err := l.ReadInputs(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*InputEvent, len(events))
	for _, e := range events {
		latest[e.ID] = e
	}
	return latest, nil
}

func (l *log) LatestArtifacts(ctx context.Context) (map[string]*ArtifactEvent, error) {
	events, err := l.ReadArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*ArtifactEvent, len(events))
	for _, e := range events {
		latest[e.ArtifactID] = e
	}
	return latest, nil
}

// readLines returns path's contents split into non-empty lines, or an
// empty slice if the file has never been written (a fresh movie has no
// event history).
func readLines(ctx context.Context, s store.Store, path string) ([][]byte, error) {
	exists, err := s.FileExists(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: stat %s: %w", path, err)
	}
	if !exists {
		return nil, nil
	}
	raw, err := s.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: read %s: %w", path, err)
	}
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		cp := append([]byte(nil), line...)
		lines = append(lines, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: scan %s: %w", path, err)
	}
	return lines, nil
}

// encodeCanonical writes v in canonical form (sorted keys, no trailing
// whitespace) per spec.md §6.
func encodeCanonical(v any) ([]byte, error) {
	return canon.Encode(v)
}
