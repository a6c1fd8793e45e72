package tsdb

import "testing"

func TestPageIndexFind(t *testing.T) {
	idx := NewPageIndex([]PageIndexEntry{
		{FirstTimestamp: 0, PageID: 1},
		{FirstTimestamp: 100, PageID: 2},
		{FirstTimestamp: 250, PageID: 3},
	})

	cases := []struct {
		ts   uint64
		want int
	}{
		{0, 0},
		{50, 0},
		{99, 0},
		{100, 1},
		{200, 1},
		{250, 2},
		{1000, 2},
	}

	for _, c := range cases {
		if got := idx.Find(c.ts); got != c.want {
			t.Errorf("Find(%d) = %d, want %d", c.ts, got, c.want)
		}
	}
}

func TestPageIndexFindEmpty(t *testing.T) {
	idx := NewPageIndex(nil)
	if got := idx.Find(42); got != 0 {
		t.Errorf("Find on empty index = %d, want 0", got)
	}
}
