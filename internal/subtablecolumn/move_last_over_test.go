package subtablecolumn

import (
	"testing"

	"github.com/brinchj/realm-core/internal/allocator"
	"github.com/brinchj/realm-core/internal/table"
)

// TestMoveLastOverS5 exercises scenario S5: refs [A,B,D] with a live
// wrapper at row 2 (D). move_last_over(0) overwrites row 0 with D's ref,
// truncates to [D,B], invalidates the stale wrapper for the old row 0,
// and rekeys the row-2 wrapper to row 0 while preserving its identity.
func TestMoveLastOverS5(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	ct, err := NewColumnTable(alloc, nil, 0, 1, 0)
	if err != nil {
		t.Fatalf("new column table: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := ct.Add(); err != nil {
			t.Fatalf("add row %d: %v", i, err)
		}
	}

	refD, err := ct.GetChildRef(2)
	if err != nil {
		t.Fatalf("get_child_ref(2): %v", err)
	}

	wrapperAtZero, err := ct.GetSubtablePtr(0)
	if err != nil {
		t.Fatalf("get_subtable_ptr(0): %v", err)
	}
	wrapperAtTwo, err := ct.GetSubtablePtr(2)
	if err != nil {
		t.Fatalf("get_subtable_ptr(2): %v", err)
	}

	if err := ct.MoveLastOver(0); err != nil {
		t.Fatalf("move_last_over(0): %v", err)
	}

	if ct.Size() != 2 {
		t.Fatalf("size after move_last_over = %d, want 2", ct.Size())
	}

	newRefAtZero, err := ct.GetChildRef(0)
	if err != nil {
		t.Fatalf("get_child_ref(0) after move: %v", err)
	}
	if newRefAtZero != refD {
		t.Fatalf("row 0 ref after move = %v, want D's original ref %v", newRefAtZero, refD)
	}

	if wrapperAtZero.State() != table.Invalidated {
		t.Fatalf("old row-0 wrapper state = %v, want Invalidated", wrapperAtZero.State())
	}

	rekeyed, err := ct.GetSubtablePtr(0)
	if err != nil {
		t.Fatalf("get_subtable_ptr(0) after move: %v", err)
	}
	if rekeyed != wrapperAtTwo {
		t.Fatalf("expected row-2 wrapper identity preserved and rekeyed to row 0")
	}
}
