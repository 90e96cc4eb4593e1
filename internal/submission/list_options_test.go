package submission

import (
	"testing"
	"time"
)

func TestBuildListOptions(t *testing.T) {
	o := buildListOptions([]ListOption{WithLimit(500), WithOffset(-4), WithStatuses(StatusPending, "nope", StatusPending), nil})
	if o.Limit != maxListLimit || o.Offset != 0 || o.Order != SortByUpdatedDesc {
		t.Fatalf("unexpected normalisation %+v", o)
	}
	if len(o.Statuses) != 1 || o.Statuses[0] != StatusPending {
		t.Fatalf("unexpected statuses %v", o.Statuses)
	}

	since := time.Unix(100, 0)
	o = buildListOptions([]ListOption{WithUpdatedBetween(since, time.Time{}), WithOldestFirst()})
	if o.Limit != defaultListLimit || o.UpdatedGTE != 100 || o.UpdatedLTE != 0 || o.Order != SortByUpdatedAsc {
		t.Fatalf("unexpected options %+v", o)
	}
	if o.matches(&Submission{UpdatedAt: 99}) || !o.matches(&Submission{UpdatedAt: 100}) {
		t.Fatalf("window filter is inclusive of the lower bound only")
	}
}
