package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func seed(t *testing.T, n int) *Store {
	t.Helper()
	s := newTestStore(t, nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		if _, err := s.Create(context.Background(), testDoc(fmt.Sprintf("doc-%02d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	return s
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestSnapshot_Page(t *testing.T) {
	s := seed(t, 7)
	snap := s.Snapshot()

	tests := []struct {
		name       string
		page, size int
		wantIDs    []string
		wantPages  int
	}{
		{"first page newest first", 1, 3, []string{"doc-06", "doc-05", "doc-04"}, 3},
		{"middle page", 2, 3, []string{"doc-03", "doc-02", "doc-01"}, 3},
		{"partial last page", 3, 3, []string{"doc-00"}, 3},
		{"beyond end", 4, 3, []string{}, 3},
		{"one big page", 1, 100, []string{"doc-06", "doc-05", "doc-04", "doc-03", "doc-02", "doc-01", "doc-00"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := snap.Page(tt.page, tt.size)
			if err != nil {
				t.Fatalf("Page failed: %v", err)
			}
			got := ids(p.Records)
			if fmt.Sprint(got) != fmt.Sprint(tt.wantIDs) {
				t.Errorf("ids = %v, want %v", got, tt.wantIDs)
			}
			if p.TotalCount != 7 || p.TotalPages != tt.wantPages {
				t.Errorf("totals = %d/%d, want 7/%d", p.TotalCount, p.TotalPages, tt.wantPages)
			}
		})
	}
}

func TestSnapshot_PageErrors(t *testing.T) {
	snap := seed(t, 2).Snapshot()

	if _, err := snap.Page(1, 0); !errors.Is(err, ErrInvalidPageSize) {
		t.Errorf("size 0 err = %v", err)
	}
	if _, err := snap.Page(0, 10); !errors.Is(err, ErrInvalidPage) {
		t.Errorf("page 0 err = %v", err)
	}
}

func TestSnapshot_PageEmpty(t *testing.T) {
	snap := newTestStore(t, nil).Snapshot()

	p, err := snap.Page(1, 20)
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}
	if len(p.Records) != 0 || p.TotalCount != 0 || p.TotalPages != 1 {
		t.Errorf("empty page = %+v", p)
	}
}

func TestSnapshot_TiesBrokenByID(t *testing.T) {
	s := newTestStore(t, nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"c", "a", "b"} {
		s.Create(context.Background(), testDoc(id, at))
	}

	p, _ := s.Snapshot().Page(1, 10)
	if got := ids(p.Records); fmt.Sprint(got) != "[a b c]" {
		t.Errorf("tie order = %v, want [a b c]", got)
	}
}

// Pages cover the set exactly once: no duplicates, no omissions.
func TestSnapshot_PagesPartition(t *testing.T) {
	snap := seed(t, 23).Snapshot()

	for size := 1; size <= 25; size++ {
		seen := map[string]int{}
		first, _ := snap.Page(1, size)
		for page := 1; page <= first.TotalPages; page++ {
			p, err := snap.Page(page, size)
			if err != nil {
				t.Fatalf("Page(%d,%d) failed: %v", page, size, err)
			}
			for _, d := range p.Records {
				seen[d.ID]++
			}
		}
		if len(seen) != 23 {
			t.Errorf("size %d: covered %d docs, want 23", size, len(seen))
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("size %d: %s appeared %d times", size, id, n)
			}
		}
	}
}

func TestSnapshot_UnaffectedByLaterWrites(t *testing.T) {
	s := seed(t, 3)
	before := s.Snapshot()

	s.Create(context.Background(), testDoc("doc-99", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))

	p, _ := before.Page(1, 10)
	if len(p.Records) != 3 || p.Records[0].ID == "doc-99" {
		t.Errorf("old snapshot changed: %v", ids(p.Records))
	}
	p, _ = s.Snapshot().Page(1, 10)
	if p.Records[0].ID != "doc-99" {
		t.Errorf("new snapshot head = %s, want doc-99", p.Records[0].ID)
	}
}
