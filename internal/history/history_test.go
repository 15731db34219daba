package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func rec(id string, done time.Time) models.HistoryRecord {
	return models.HistoryRecord{RideID: id, RiderID: "u1", CompletedAt: done}
}

func TestAppendOnceAndContains(t *testing.T) {
	a := NewMemoryArchive(0)
	now := time.Now()
	if err := a.Append(rec("r1", now)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := a.Append(rec("r1", now)); err != nil {
		t.Fatalf("repeat append: %v", err)
	}
	if a.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", a.Len())
	}
	if !a.Contains("r1") || a.Contains("r2") {
		t.Fatal("contains lookup wrong")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	a := NewMemoryArchive(0)
	base := time.Now()
	for i := 0; i < 5; i++ {
		if err := a.Append(rec(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := a.Recent(3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 || got[0].RideID != "r4" || got[2].RideID != "r2" {
		t.Fatalf("unexpected recent order: %+v", got)
	}
}

func TestCapEvictsOldest(t *testing.T) {
	a := NewMemoryArchive(2)
	base := time.Now()
	for i := 0; i < 4; i++ {
		if err := a.Append(rec(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if a.Len() != 2 {
		t.Fatalf("expected cap of 2, got %d", a.Len())
	}
	if a.Contains("r0") || a.Contains("r1") {
		t.Fatal("oldest records not evicted")
	}
	if !a.Contains("r2") || !a.Contains("r3") {
		t.Fatal("newest records lost")
	}
}
