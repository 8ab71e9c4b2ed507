// Package mongo implements an optional durable eventlog.Log backend over
// MongoDB, adapted from features/runlog/mongo/clients/mongo/client.go's
// append-and-list pattern. The jsonl file backend (store/eventlog) remains
// the default per spec.md §4.1; this backend exists for deployments that
// want one shared, queryable event store across movies instead of
// per-movie files, while preserving the same append-only, latest-event-wins
// semantics (spec.md §3's invariants do not depend on the file layout).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"reelforge.design/reelforge/canon"
	"reelforge.design/reelforge/store/eventlog"
)

type inputDocument struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	MovieID   string        `bson:"movie_id"`
	Seq       int64         `bson:"seq"`
	InputID   string        `bson:"input_id"`
	Revision  int           `bson:"revision"`
	Hash      string        `bson:"hash"`
	Payload   []byte        `bson:"payload,omitempty"`
	BlobHash  string        `bson:"blob_hash,omitempty"`
	BlobSize  int64         `bson:"blob_size,omitempty"`
	BlobMIME  string        `bson:"blob_mime,omitempty"`
	EditedBy  string        `bson:"edited_by"`
	CreatedAt time.Time     `bson:"created_at"`
}

type artifactDocument struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	MovieID     string        `bson:"movie_id"`
	Seq         int64         `bson:"seq"`
	ArtifactID  string        `bson:"artifact_id"`
	Revision    int           `bson:"revision"`
	InputsHash  string        `bson:"inputs_hash"`
	BlobHash    string        `bson:"blob_hash,omitempty"`
	BlobSize    int64         `bson:"blob_size,omitempty"`
	BlobMIME    string        `bson:"blob_mime,omitempty"`
	Status      string        `bson:"status"`
	ProducedBy  string        `bson:"produced_by"`
	Diagnostics []byte        `bson:"diagnostics,omitempty"`
	CreatedAt   time.Time     `bson:"created_at"`
}

const defaultTimeout = 5 * time.Second

// Options configures a Mongo-backed Log.
type Options struct {
	Client   *mongodriver.Client
	Database string
	MovieID  string
	Timeout  time.Duration
}

// Log is a MongoDB-backed eventlog.Log scoped to one movie. Ordering within
// a movie is by a monotonically increasing Seq counter rather than
// insertion order in a file, since Mongo does not otherwise guarantee
// natural read order matches append order under concurrent writers.
type Log struct {
	client    *mongodriver.Client
	inputs    *mongodriver.Collection
	artifacts *mongodriver.Collection
	movieID   string
	timeout   time.Duration
}

var (
	_ eventlog.Log  = (*Log)(nil)
	_ health.Pinger = (*Log)(nil)
)

// New returns a Mongo-backed Log for one movie.
func New(opts Options) (*Log, error) {
	if opts.Client == nil {
		return nil, errors.New("eventlog/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("eventlog/mongo: database is required")
	}
	if opts.MovieID == "" {
		return nil, errors.New("eventlog/mongo: movie id is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	l := &Log{
		client:    opts.Client,
		inputs:    db.Collection("reelforge_input_events"),
		artifacts: db.Collection("reelforge_artifact_events"),
		movieID:   opts.MovieID,
		timeout:   timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	idx := mongodriver.IndexModel{Keys: bson.D{{Key: "movie_id", Value: 1}, {Key: "seq", Value: 1}}}
	if _, err := l.inputs.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("eventlog/mongo: ensure inputs index: %w", err)
	}
	if _, err := l.artifacts.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("eventlog/mongo: ensure artifacts index: %w", err)
	}
	return l, nil
}

func (l *Log) Name() string { return "eventlog-mongo" }

func (l *Log) Ping(ctx context.Context) error {
	return l.client.Ping(ctx, readpref.Primary())
}

func (l *Log) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeout)
}

func (l *Log) nextSeq(ctx context.Context, coll *mongodriver.Collection) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}).SetProjection(bson.D{{Key: "seq", Value: 1}})
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := coll.FindOne(ctx, bson.D{{Key: "movie_id", Value: l.movieID}}, opts).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Seq + 1, nil
}

// AppendInput implements eventlog.Log. A single append-then-insert is not
// perfectly atomic against a concurrent writer racing for the same Seq
// (spec.md §5 assumes a single writer per movie per process; this backend
// does not attempt cross-process serialization beyond that assumption).
func (l *Log) AppendInput(ctx context.Context, e *eventlog.InputEvent) error {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	seq, err := l.nextSeq(ctx, l.inputs)
	if err != nil {
		return fmt.Errorf("eventlog/mongo: next seq: %w", err)
	}
	doc := inputDocument{
		MovieID: l.movieID, Seq: seq, InputID: e.ID, Revision: e.Revision,
		Hash: e.Hash, Payload: append([]byte(nil), e.Payload...),
		EditedBy: string(e.EditedBy), CreatedAt: e.CreatedAt,
	}
	if e.Blob != nil {
		doc.BlobHash, doc.BlobSize, doc.BlobMIME = e.Blob.Hash, e.Blob.Size, e.Blob.MIME
	}
	if _, err := l.inputs.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("eventlog/mongo: insert input %s: %w", e.ID, err)
	}
	return nil
}

// AppendArtifact implements eventlog.Log.
func (l *Log) AppendArtifact(ctx context.Context, e *eventlog.ArtifactEvent) error {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	seq, err := l.nextSeq(ctx, l.artifacts)
	if err != nil {
		return fmt.Errorf("eventlog/mongo: next seq: %w", err)
	}
	doc := artifactDocument{
		MovieID: l.movieID, Seq: seq, ArtifactID: e.ArtifactID, Revision: e.Revision,
		InputsHash: e.InputsHash, Status: string(e.Status), ProducedBy: e.ProducedBy,
		Diagnostics: append([]byte(nil), e.Diagnostics...), CreatedAt: e.CreatedAt,
	}
	if e.Output.Blob != nil {
		doc.BlobHash, doc.BlobSize, doc.BlobMIME = e.Output.Blob.Hash, e.Output.Blob.Size, e.Output.Blob.MIME
	}
	if _, err := l.artifacts.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("eventlog/mongo: insert artifact %s: %w", e.ArtifactID, err)
	}
	return nil
}

func (l *Log) ReadInputs(ctx context.Context) ([]*eventlog.InputEvent, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	cur, err := l.inputs.Find(ctx, bson.D{{Key: "movie_id", Value: l.movieID}}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("eventlog/mongo: find inputs: %w", err)
	}
	defer cur.Close(ctx)

	var events []*eventlog.InputEvent
	for cur.Next(ctx) {
		var doc inputDocument
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		e := &eventlog.InputEvent{ID: doc.InputID, Revision: doc.Revision, Hash: doc.Hash, Payload: doc.Payload, EditedBy: eventlog.EditedBy(doc.EditedBy), CreatedAt: doc.CreatedAt}
		if doc.BlobHash != "" {
			e.Blob = &eventlog.BlobRef{Hash: doc.BlobHash, Size: doc.BlobSize, MIME: doc.BlobMIME}
		}
		events = append(events, e)
	}
	return events, cur.Err()
}

func (l *Log) ReadArtifacts(ctx context.Context) ([]*eventlog.ArtifactEvent, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	cur, err := l.artifacts.Find(ctx, bson.D{{Key: "movie_id", Value: l.movieID}}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("eventlog/mongo: find artifacts: %w", err)
	}
	defer cur.Close(ctx)

	var events []*eventlog.ArtifactEvent
	for cur.Next(ctx) {
		var doc artifactDocument
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		e := &eventlog.ArtifactEvent{
			ArtifactID: doc.ArtifactID, Revision: doc.Revision, InputsHash: doc.InputsHash,
			Status: eventlog.ArtifactStatus(doc.Status), ProducedBy: doc.ProducedBy,
			Diagnostics: doc.Diagnostics, CreatedAt: doc.CreatedAt,
		}
		if doc.BlobHash != "" {
			e.Output.Blob = &eventlog.BlobRef{Hash: doc.BlobHash, Size: doc.BlobSize, MIME: doc.BlobMIME}
		}
		events = append(events, e)
	}
	return events, cur.Err()
}

func (l *Log) LatestInputs(ctx context.Context) (map[string]*eventlog.InputEvent, error) {
	events, err := l.ReadInputs(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*eventlog.InputEvent, len(events))
	for _, e := range events {
		latest[e.ID] = e
	}
	return latest, nil
}

func (l *Log) LatestArtifacts(ctx context.Context) (map[string]*eventlog.ArtifactEvent, error) {
	events, err := l.ReadArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*eventlog.ArtifactEvent, len(events))
	for _, e := range events {
		latest[e.ArtifactID] = e
	}
	return latest, nil
}

// EncodeCanonicalPayload is a convenience for callers assembling an
// InputEvent's Payload field with the same canonical encoding the file
// backend uses (spec.md §6's "Canonical JSON for all persisted structures").
func EncodeCanonicalPayload(v any) ([]byte, error) {
	return canon.Encode(v)
}
