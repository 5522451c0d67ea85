// Package mongostore is a MongoDB implementation of the run ledger.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds configuration for the MongoDB store.
type Config struct {
	// RunsCollection is the collection storing runs (default: "reindex_runs").
	RunsCollection string

	// UnitsCollection is the collection storing unit events (default: "reindex_unit_events").
	UnitsCollection string
}

// Store is a MongoDB implementation of LedgerStore.
type Store struct {
	runs  *mongo.Collection
	units *mongo.Collection
}

// Compile-time check that Store implements store.LedgerStore.
var _ store.LedgerStore = (*Store)(nil)

// Connect establishes a connection to MongoDB with the given URI.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetConnectTimeout(10 * time.Second)
	clientOptions.SetRetryWrites(true)
	clientOptions.SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// New creates a new store in db.
// Applies default collection names if empty.
func New(db *mongo.Database, cfg Config) *Store {
	if cfg.RunsCollection == "" {
		cfg.RunsCollection = "reindex_runs"
	}
	if cfg.UnitsCollection == "" {
		cfg.UnitsCollection = "reindex_unit_events"
	}

	return &Store{
		runs:  db.Collection(cfg.RunsCollection),
		units: db.Collection(cfg.UnitsCollection),
	}
}

// EnsureIndexes creates the indexes the ledger queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "job", Value: 1}, {Key: "state", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create runs index: %w", err)
	}

	_, err = s.units.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "target", Value: 1}, {Key: "event", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create unit events indexes: %w", err)
	}

	return nil
}

type runDoc struct {
	ID            string     `bson:"_id"`
	Job           string     `bson:"job"`
	State         string     `bson:"state"`
	TotalUnits    int        `bson:"total_units"`
	StartedAt     time.Time  `bson:"started_at"`
	LastHeartbeat time.Time  `bson:"last_heartbeat"`
	FinishedAt    *time.Time `bson:"finished_at,omitempty"`
}

func (d runDoc) toRun() orchestrator.Run {
	run := orchestrator.Run{
		ID:            d.ID,
		Job:           d.Job,
		State:         orchestrator.RunState(d.State),
		TotalUnits:    d.TotalUnits,
		StartedAt:     d.StartedAt,
		LastHeartbeat: d.LastHeartbeat,
	}
	if d.FinishedAt != nil {
		run.FinishedAt = *d.FinishedAt
	}
	return run
}

type unitDoc struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	RunID            string             `bson:"run_id"`
	Event            string             `bson:"event"`
	Source           string             `bson:"source"`
	Kind             string             `bson:"kind"`
	Target           string             `bson:"target"`
	Handle           string             `bson:"handle"`
	Attempts         int                `bson:"attempts"`
	Created          int64              `bson:"created"`
	Updated          int64              `bson:"updated"`
	Deleted          int64              `bson:"deleted"`
	VersionConflicts int64              `bson:"version_conflicts"`
	Total            int64              `bson:"total"`
	RunningTimeNS    int64              `bson:"running_time_ns"`
	Error            string             `bson:"error,omitempty"`
	RecordedAt       time.Time          `bson:"recorded_at"`
}

func now() time.Time {
	// BSON dates carry millisecond precision
	return time.Now().UTC().Truncate(time.Millisecond)
}

func terminalStates() bson.A {
	return bson.A{
		string(orchestrator.RunStateFinished),
		string(orchestrator.RunStateAborted),
		string(orchestrator.RunStateAbandoned),
	}
}

// CreateRun records a new run of job in the Running state.
func (s *Store) CreateRun(ctx context.Context, job string, totalUnits int) (orchestrator.Run, error) {
	ts := now()
	doc := runDoc{
		ID:            uuid.New().String(),
		Job:           job,
		State:         string(orchestrator.RunStateRunning),
		TotalUnits:    totalUnits,
		StartedAt:     ts,
		LastHeartbeat: ts,
	}

	if _, err := s.runs.InsertOne(ctx, doc); err != nil {
		return orchestrator.Run{}, fmt.Errorf("failed to create run: %w", err)
	}

	return doc.toRun(), nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (orchestrator.Run, error) {
	var doc runDoc
	err := s.runs.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return orchestrator.Run{}, orchestrator.ErrRunNotFound
	}
	if err != nil {
		return orchestrator.Run{}, fmt.Errorf("failed to get run: %w", err)
	}

	return doc.toRun(), nil
}

// UpdateRunState moves a run to state. Terminal runs are never reopened.
func (s *Store) UpdateRunState(ctx context.Context, runID string, state orchestrator.RunState) error {
	set := bson.M{"state": string(state)}
	if state.Terminal() {
		set["finished_at"] = now()
	}

	filter := bson.M{"_id": runID, "state": bson.M{"$nin": terminalStates()}}
	result, err := s.runs.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return store.ErrRunClosed
}

// Heartbeat updates the last heartbeat time for a run that is not closed.
func (s *Store) Heartbeat(ctx context.Context, runID string) error {
	filter := bson.M{"_id": runID, "state": bson.M{"$nin": terminalStates()}}
	result, err := s.runs.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"last_heartbeat": now()}})
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return store.ErrRunClosed
}

// GetActiveRuns returns all non-terminal runs of job, oldest first.
func (s *Store) GetActiveRuns(ctx context.Context, job string) ([]orchestrator.Run, error) {
	filter := bson.M{"job": job, "state": bson.M{"$nin": terminalStates()}}
	cursor, err := s.runs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to get active runs: %w", err)
	}
	defer cursor.Close(ctx)

	runs := []orchestrator.Run{}
	for cursor.Next(ctx) {
		var doc runDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		runs = append(runs, doc.toRun())
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// MarkRunAbandoned marks a run as abandoned.
func (s *Store) MarkRunAbandoned(ctx context.Context, runID string) error {
	update := bson.M{"$set": bson.M{
		"state":       string(orchestrator.RunStateAbandoned),
		"finished_at": now(),
	}}

	result, err := s.runs.UpdateOne(ctx, bson.M{"_id": runID}, update)
	if err != nil {
		return fmt.Errorf("failed to mark run abandoned: %w", err)
	}
	if result.MatchedCount == 0 {
		return orchestrator.ErrRunNotFound
	}

	return nil
}

// RecordUnit appends a unit event. RecordedAt defaults to now.
func (s *Store) RecordUnit(ctx context.Context, record orchestrator.UnitRecord) error {
	if _, err := s.GetRun(ctx, record.RunID); err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			return store.ErrUnknownRun
		}
		return err
	}

	recordedAt := record.RecordedAt.UTC()
	if record.RecordedAt.IsZero() {
		recordedAt = now()
	}

	doc := unitDoc{
		RunID:            record.RunID,
		Event:            string(record.Event),
		Source:           record.Source,
		Kind:             record.Kind,
		Target:           record.Target,
		Handle:           string(record.Handle),
		Attempts:         record.Attempts,
		Created:          record.Stats.Created,
		Updated:          record.Stats.Updated,
		Deleted:          record.Stats.Deleted,
		VersionConflicts: record.Stats.VersionConflicts,
		Total:            record.Stats.Total,
		RunningTimeNS:    int64(record.RunningTime),
		Error:            record.Error,
		RecordedAt:       recordedAt,
	}

	if _, err := s.units.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to record unit: %w", err)
	}

	return nil
}

// ListUnits returns the unit events of a run in insertion order.
func (s *Store) ListUnits(ctx context.Context, runID string) ([]orchestrator.UnitRecord, error) {
	cursor, err := s.units.Find(ctx, bson.M{"run_id": runID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer cursor.Close(ctx)

	records := []orchestrator.UnitRecord{}
	for cursor.Next(ctx) {
		var doc unitDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode unit: %w", err)
		}
		records = append(records, orchestrator.UnitRecord{
			RunID:    doc.RunID,
			Event:    orchestrator.UnitEvent(doc.Event),
			Source:   doc.Source,
			Kind:     doc.Kind,
			Target:   doc.Target,
			Handle:   orchestrator.TaskHandle(doc.Handle),
			Attempts: doc.Attempts,
			Stats: orchestrator.TaskStats{
				Created:          doc.Created,
				Updated:          doc.Updated,
				Deleted:          doc.Deleted,
				VersionConflicts: doc.VersionConflicts,
				Total:            doc.Total,
			},
			RunningTime: time.Duration(doc.RunningTimeNS),
			Error:       doc.Error,
			RecordedAt:  doc.RecordedAt,
		})
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating units: %w", err)
	}

	return records, nil
}

// CompletedTargets returns the distinct targets completed by any run of job, sorted.
func (s *Store) CompletedTargets(ctx context.Context, job string) ([]string, error) {
	cursor, err := s.runs.Find(ctx, bson.M{"job": job}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to find runs: %w", err)
	}

	var ids []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	runIDs := make(bson.A, len(ids))
	for i, id := range ids {
		runIDs[i] = id.ID
	}

	values, err := s.units.Distinct(ctx, "target", bson.M{
		"run_id": bson.M{"$in": runIDs},
		"event":  string(orchestrator.UnitEventCompleted),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get completed targets: %w", err)
	}

	targets := make([]string, 0, len(values))
	for _, v := range values {
		if target, ok := v.(string); ok {
			targets = append(targets, target)
		}
	}
	sort.Strings(targets)

	return targets, nil
}
