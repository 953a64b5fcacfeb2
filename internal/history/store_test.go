package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/timvw/park-patrol/internal/model"
)

func entry(id string, ts time.Time) Entry {
	return Entry{
		ID:       id,
		TS:       ts,
		SignText: "2 HR PARKING\n8AM-6PM",
		Decision: model.Decision{CanPark: true, Restrictions: []string{"2-hour limit"}},
	}
}

func TestStore_RecordNewestFirst(t *testing.T) {
	now := time.Now().UTC()
	s := NewStore(0, 0)
	if err := s.Record(entry("a", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(entry("b", now.Add(time.Second))); err != nil {
		t.Fatal(err)
	}

	got := s.Snapshot(now)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("expected newest first, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestStore_EvictsBeyondLimit(t *testing.T) {
	now := time.Now().UTC()
	s := NewStore(0, 0)
	for i := 0; i < DefaultLimit+5; i++ {
		if err := s.Record(entry(fmt.Sprintf("e%d", i), now)); err != nil {
			t.Fatal(err)
		}
	}
	if s.Len() != DefaultLimit {
		t.Fatalf("expected %d entries, got %d", DefaultLimit, s.Len())
	}
	if _, ok := s.Get("e0"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := s.Get(fmt.Sprintf("e%d", DefaultLimit+4)); !ok {
		t.Fatal("newest entry missing")
	}
}

func TestStore_ExpiresStaleEntries(t *testing.T) {
	now := time.Now().UTC()
	s := NewStore(10, 2*time.Minute)
	_ = s.Record(entry("old", now))
	_ = s.Record(entry("new", now.Add(2*time.Minute)))

	got := s.Snapshot(now.Add(3 * time.Minute))
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("expected only the fresh entry, got %+v", got)
	}
}

func TestStore_RejectsInvalid(t *testing.T) {
	s := NewStore(0, 0)
	tests := []Entry{
		{TS: time.Now(), SignText: "x"},
		{ID: "a", SignText: "x"},
		{ID: "a", TS: time.Now(), SignText: "  "},
	}
	for _, e := range tests {
		if err := s.Record(e); err == nil {
			t.Errorf("expected validation error for %+v", e)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("invalid entries were stored")
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore(0, 0)
	_ = s.Record(entry("a", time.Now()))
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty store after Clear, got %d", s.Len())
	}
}
