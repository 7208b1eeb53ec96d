package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

/*
Collection: monitor_entries

{
    "_id": string,          // entry id
    "dispatch_id": string,
    "type": string,
    "event": string,
    "phase": string,
    "node": string,
    "handler": string,
    "bound": bool,
    "status": string,
    "error": string,
    "started_at": ISODate,
    "completed_at": ISODate,
    "duration_ms": int64,
    "trace_id": string,
    "span_id": string
}
*/

// MongoEntry is the document form of an Entry.
type MongoEntry struct {
	ID          string     `bson:"_id"`
	DispatchID  string     `bson:"dispatch_id"`
	Type        string     `bson:"type"`
	Event       string     `bson:"event"`
	Phase       string     `bson:"phase"`
	Node        string     `bson:"node"`
	Handler     string     `bson:"handler"`
	Bound       bool       `bson:"bound"`
	Status      string     `bson:"status"`
	Error       string     `bson:"error,omitempty"`
	StartedAt   time.Time  `bson:"started_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	DurationMs  *int64     `bson:"duration_ms,omitempty"`
	TraceID     string     `bson:"trace_id,omitempty"`
	SpanID      string     `bson:"span_id,omitempty"`
}

// ToEntry converts MongoEntry to Entry.
func (m *MongoEntry) ToEntry() *Entry {
	entry := &Entry{
		ID:          m.ID,
		DispatchID:  m.DispatchID,
		Type:        m.Type,
		Event:       m.Event,
		Phase:       m.Phase,
		Node:        m.Node,
		Handler:     m.Handler,
		Bound:       m.Bound,
		Status:      Status(m.Status),
		Error:       m.Error,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		TraceID:     m.TraceID,
		SpanID:      m.SpanID,
	}
	if m.DurationMs != nil {
		entry.Duration = time.Duration(*m.DurationMs) * time.Millisecond
	}
	return entry
}

// FromEntry creates a MongoEntry from Entry.
func FromEntry(e *Entry) *MongoEntry {
	var durationMs *int64
	if e.Duration > 0 {
		ms := e.Duration.Milliseconds()
		durationMs = &ms
	}
	return &MongoEntry{
		ID:          e.ID,
		DispatchID:  e.DispatchID,
		Type:        e.Type,
		Event:       e.Event,
		Phase:       e.Phase,
		Node:        e.Node,
		Handler:     e.Handler,
		Bound:       e.Bound,
		Status:      string(e.Status),
		Error:       e.Error,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		DurationMs:  durationMs,
		TraceID:     e.TraceID,
		SpanID:      e.SpanID,
	}
}

// MongoStore is a MongoDB-based monitor store.
type MongoStore struct {
	collection *mongo.Collection
	ttl        time.Duration
}

// NewMongoStore creates a new MongoDB monitor store.
//
//	client, _ := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
//	store := monitor.NewMongoStore(client.Database("qubes"))
//	_ = store.EnsureIndexes(ctx)
func NewMongoStore(db *mongo.Database, opts ...MongoOption) *MongoStore {
	o := &mongoOptions{collection: "monitor_entries"}
	for _, opt := range opts {
		opt(o)
	}
	return &MongoStore{
		collection: db.Collection(o.collection),
		ttl:        o.ttl,
	}
}

// Collection returns the underlying MongoDB collection.
func (s *MongoStore) Collection() *mongo.Collection {
	return s.collection
}

// Indexes returns the indexes the store queries rely on.
func (s *MongoStore) Indexes() []mongo.IndexModel {
	started := mongo.IndexModel{Keys: bson.D{{Key: "started_at", Value: 1}, {Key: "_id", Value: 1}}}
	if s.ttl > 0 {
		started = mongo.IndexModel{
			Keys:    bson.D{{Key: "started_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(s.ttl.Seconds())),
		}
	}
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "dispatch_id", Value: 1}}},
		{Keys: bson.D{{Key: "event", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		started,
	}
}

// EnsureIndexes creates the indexes returned by Indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, s.Indexes())
	return err
}

// Record creates or replaces a monitor entry.
func (s *MongoStore) Record(ctx context.Context, entry *Entry) error {
	doc := FromEntry(entry)
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("record monitor: %w", err)
	}
	return nil
}

// Get retrieves a monitor entry by id.
func (s *MongoStore) Get(ctx context.Context, id string) (*Entry, error) {
	var doc MongoEntry
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	return doc.ToEntry(), nil
}

// GetByDispatchID returns all entries of a firing call.
func (s *MongoStore) GetByDispatchID(ctx context.Context, dispatchID string) ([]*Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.collection.Find(ctx, bson.M{"dispatch_id": dispatchID}, opts)
	if err != nil {
		return nil, fmt.Errorf("get by dispatch id: %w", err)
	}
	return decodeAll(ctx, cur)
}

func decodeAll(ctx context.Context, cur *mongo.Cursor) ([]*Entry, error) {
	defer cur.Close(ctx)

	var entries []*Entry
	for cur.Next(ctx) {
		var doc MongoEntry
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, doc.ToEntry())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return entries, nil
}

// List returns a page of entries matching the filter.
func (s *MongoStore) List(ctx context.Context, filter Filter) (*Page, error) {
	query, err := listQuery(filter)
	if err != nil {
		return nil, err
	}

	limit := filter.EffectiveLimit()
	findOpts := options.Find().
		SetSort(sortOrder(filter.OrderDesc)).
		SetLimit(int64(limit + 1))

	cur, err := s.collection.Find(ctx, query, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list monitor: %w", err)
	}
	entries, err := decodeAll(ctx, cur)
	if err != nil {
		return nil, err
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	var nextCursor string
	if hasMore {
		last := entries[len(entries)-1]
		nextCursor = encodeCursor(cursor{StartedAt: last.StartedAt, ID: last.ID})
	}

	return &Page{
		Entries:    entries,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func sortOrder(desc bool) bson.D {
	order := 1
	if desc {
		order = -1
	}
	return bson.D{{Key: "started_at", Value: order}, {Key: "_id", Value: order}}
}

// listQuery combines the filter with the pagination cursor.
func listQuery(filter Filter) (bson.M, error) {
	query := buildFilter(filter)
	if filter.Cursor == "" {
		return query, nil
	}

	cur, err := decodeCursor(filter.Cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	op := "$gt"
	if filter.OrderDesc {
		op = "$lt"
	}
	cursorFilter := bson.M{
		"$or": []bson.M{
			{"started_at": bson.M{op: cur.StartedAt}},
			{"started_at": cur.StartedAt, "_id": bson.M{op: cur.ID}},
		},
	}
	if len(query) == 0 {
		return cursorFilter, nil
	}
	return bson.M{"$and": []bson.M{query, cursorFilter}}, nil
}

// buildFilter creates a MongoDB filter from a monitor Filter.
func buildFilter(filter Filter) bson.M {
	query := bson.M{}

	for field, value := range map[string]string{
		"dispatch_id": filter.DispatchID,
		"type":        filter.Type,
		"event":       filter.Event,
		"phase":       filter.Phase,
		"node":        filter.Node,
		"handler":     filter.Handler,
	} {
		if value != "" {
			query[field] = value
		}
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		query["status"] = bson.M{"$in": statuses}
	}
	if filter.HasError != nil {
		if *filter.HasError {
			query["error"] = bson.M{"$exists": true, "$ne": ""}
		} else {
			query["$or"] = []bson.M{
				{"error": ""},
				{"error": bson.M{"$exists": false}},
			}
		}
	}
	started := bson.M{}
	if !filter.StartTime.IsZero() {
		started["$gte"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		started["$lt"] = filter.EndTime
	}
	if len(started) > 0 {
		query["started_at"] = started
	}
	if filter.MinDuration > 0 {
		query["duration_ms"] = bson.M{"$gte": filter.MinDuration.Milliseconds()}
	}
	return query
}

// Count returns the number of entries matching the filter.
func (s *MongoStore) Count(ctx context.Context, filter Filter) (int64, error) {
	return s.collection.CountDocuments(ctx, buildFilter(filter))
}

// UpdateStatus completes an existing entry.
func (s *MongoStore) UpdateStatus(ctx context.Context, id string, status Status, err error, duration time.Duration) error {
	set := bson.M{
		"status":       string(status),
		"duration_ms":  duration.Milliseconds(),
		"completed_at": time.Now(),
	}
	if err != nil {
		set["error"] = err.Error()
	}

	res, updateErr := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if updateErr != nil {
		return fmt.Errorf("update status: %w", updateErr)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return nil
}

// DeleteOlderThan removes entries older than the specified age.
func (s *MongoStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	result, err := s.collection.DeleteMany(ctx, bson.M{"started_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("delete old entries: %w", err)
	}
	return result.DeletedCount, nil
}

var _ Store = (*MongoStore)(nil)
