package knowledge

import (
	"testing"
	"time"
)

func TestAddAndSearch(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	entries := []Entry{
		{ID: "1", Title: "Postgres tuning", Content: "raise shared_buffers for the analytics workload", CreatedAt: time.Now()},
		{ID: "2", Title: "Redis eviction", Content: "allkeys-lru fits the session cache", CreatedAt: time.Now()},
	}
	for _, e := range entries {
		if err := idx.Add(e); err != nil {
			t.Fatalf("Add(%s): %v", e.ID, err)
		}
	}
	if idx.Len() != 2 {
		t.Fatalf("Len = %d, want 2", idx.Len())
	}

	hits, err := idx.Search("postgres", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Entry.ID != "1" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score <= 0 {
		t.Fatalf("score = %f", hits[0].Score)
	}
}

func TestAddReplacesSameID(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := idx.Add(Entry{ID: "1", Title: "old", Content: "kafka partitions"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add(Entry{ID: "1", Title: "new", Content: "nats subjects"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("Len = %d, want 1", idx.Len())
	}
	hits, err := idx.Search("nats", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Entry.Title != "new" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	hits, err := idx.Search("  ", 5)
	if err != nil || hits != nil {
		t.Fatalf("hits = %v, err = %v", hits, err)
	}
}
