package monitor

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMongoEntryConversion(t *testing.T) {
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	completed := started.Add(1500 * time.Millisecond)
	entry := &Entry{
		ID:          "id-1",
		DispatchID:  "d-1",
		Type:        "AppVM",
		Event:       "domain-start",
		Phase:       "post",
		Node:        "BaseVM",
		Handler:     "onStart",
		Bound:       true,
		Status:      StatusFailed,
		Error:       "boom",
		StartedAt:   started,
		CompletedAt: &completed,
		Duration:    1500 * time.Millisecond,
		TraceID:     "trace",
		SpanID:      "span",
	}

	doc := FromEntry(entry)
	if doc.DurationMs == nil || *doc.DurationMs != 1500 {
		t.Fatalf("DurationMs = %v, want 1500", doc.DurationMs)
	}
	if diff := cmp.Diff(entry, doc.ToEntry()); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}

	pending := FromEntry(&Entry{ID: "p", Status: StatusPending})
	if pending.DurationMs != nil {
		t.Errorf("pending entry has a duration: %d", *pending.DurationMs)
	}
}

func TestBuildFilter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	yes, no := true, false

	tests := []struct {
		name   string
		filter Filter
		want   bson.M
	}{
		{"empty", Filter{}, bson.M{}},
		{
			"identity",
			Filter{DispatchID: "d", Event: "domain-start", Node: "instance"},
			bson.M{"dispatch_id": "d", "event": "domain-start", "node": "instance"},
		},
		{
			"status",
			Filter{Status: []Status{StatusFailed, StatusPending}},
			bson.M{"status": bson.M{"$in": []string{"failed", "pending"}}},
		},
		{
			"has error",
			Filter{HasError: &yes},
			bson.M{"error": bson.M{"$exists": true, "$ne": ""}},
		},
		{
			"no error",
			Filter{HasError: &no},
			bson.M{"$or": []bson.M{{"error": ""}, {"error": bson.M{"$exists": false}}}},
		},
		{
			"time range",
			Filter{StartTime: start, EndTime: end},
			bson.M{"started_at": bson.M{"$gte": start, "$lt": end}},
		},
		{
			"min duration",
			Filter{MinDuration: 2 * time.Second},
			bson.M{"duration_ms": bson.M{"$gte": int64(2000)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, buildFilter(tt.filter)); diff != "" {
				t.Errorf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListQueryCursor(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := encodeCursor(cursor{StartedAt: at, ID: "e5"})

	got, err := listQuery(Filter{Cursor: c, OrderDesc: true})
	if err != nil {
		t.Fatal(err)
	}
	want := bson.M{"$or": []bson.M{
		{"started_at": bson.M{"$lt": at}},
		{"started_at": at, "_id": bson.M{"$lt": "e5"}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}

	got, err = listQuery(Filter{Cursor: c, Event: "x"})
	if err != nil {
		t.Fatal(err)
	}
	and, ok := got["$and"].([]bson.M)
	if !ok || len(and) != 2 || and[0]["event"] != "x" {
		t.Errorf("cursor not combined with filter: %v", got)
	}

	if _, err := listQuery(Filter{Cursor: "!"}); err == nil {
		t.Error("expected error for invalid cursor")
	}
}

func TestMongoIndexes(t *testing.T) {
	s := &MongoStore{}
	if got := len(s.Indexes()); got != 4 {
		t.Fatalf("got %d indexes, want 4", got)
	}
	if s.Indexes()[3].Options != nil {
		t.Error("started_at index has options without a TTL")
	}

	s.ttl = 48 * time.Hour
	idx := s.Indexes()[3]
	if idx.Options == nil || idx.Options.ExpireAfterSeconds == nil || *idx.Options.ExpireAfterSeconds != int32(48*3600) {
		t.Errorf("TTL index not configured: %+v", idx.Options)
	}
}
