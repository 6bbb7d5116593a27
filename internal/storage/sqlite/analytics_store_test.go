package sqlite

import (
	"testing"
	"time"
)

func TestAnalyticsStore_RecordQuery(t *testing.T) {
	store := NewAnalyticsStore(openTestDB(t))

	score := 72.5
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []AnalyticsEvent{
		{EventType: "attempt_finalized", AttemptID: "a1", UserID: "u1", ResourceID: "r1", Score: &score, CreatedAt: base},
		{EventType: "attempt_finalized", UserID: "u1", ResourceID: "r2", CreatedAt: base.Add(time.Hour)},
		{EventType: "attempt_finalized", AttemptID: "a3", UserID: "u2", ResourceID: "r1", CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, e := range events {
		if err := store.Record(e, map[string]int{"attempt_number": 1}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := store.Query("attempt_finalized", "u1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query() returned %d events; want 2", len(got))
	}
	if got[0].ResourceID != "r2" {
		t.Errorf("newest event resource = %q; want r2", got[0].ResourceID)
	}
	if got[0].AttemptID != "" {
		t.Errorf("AttemptID = %q; want empty for a local attempt", got[0].AttemptID)
	}
	if got[1].Score == nil || *got[1].Score != 72.5 {
		t.Errorf("Score = %v; want 72.5", got[1].Score)
	}
	if got[1].Data != `{"attempt_number":1}` {
		t.Errorf("Data = %s", got[1].Data)
	}

	count, err := store.Count("attempt_finalized")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 3 {
		t.Errorf("Count() = %d; want 3", count)
	}
}

func TestAnalyticsStore_Prune(t *testing.T) {
	store := NewAnalyticsStore(openTestDB(t))

	old := AnalyticsEvent{EventType: "attempt_finalized", UserID: "u", ResourceID: "r", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := AnalyticsEvent{EventType: "attempt_finalized", UserID: "u", ResourceID: "r"}
	for _, e := range []AnalyticsEvent{old, fresh} {
		if err := store.Record(e, nil); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := store.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d; want 1", n)
	}
}
