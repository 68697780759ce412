package table

import (
	"testing"

	"github.com/brinchj/realm-core/internal/allocator"
)

func TestTableRoundTrip(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	tbl, err := New(alloc, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if tbl.NumColumns() != 2 {
		t.Fatalf("num columns = %d, want 2", tbl.NumColumns())
	}
	if err := tbl.Column(0).Add(7); err != nil {
		t.Fatalf("add to column 0: %v", err)
	}
	if err := tbl.Column(1).Add(-3); err != nil {
		t.Fatalf("add to column 1: %v", err)
	}

	reopened, err := Open(alloc, tbl.Ref(), 2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	v0, err := reopened.Column(0).Get(0)
	if err != nil {
		t.Fatalf("get column 0: %v", err)
	}
	if v0 != 7 {
		t.Fatalf("column 0 row 0 = %d, want 7", v0)
	}
	v1, err := reopened.Column(1).Get(0)
	if err != nil {
		t.Fatalf("get column 1: %v", err)
	}
	if v1 != -3 {
		t.Fatalf("column 1 row 0 = %d, want -3", v1)
	}
}

func TestTableBindUnbindRefcount(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	tbl, _ := New(alloc, 1)
	if tbl.RefCount() != 0 {
		t.Fatalf("initial refcount = %d, want 0", tbl.RefCount())
	}
	tbl.BindRef()
	tbl.BindRef()
	if tbl.RefCount() != 2 {
		t.Fatalf("refcount after two binds = %d, want 2", tbl.RefCount())
	}
	tbl.UnbindRef()
	if tbl.RefCount() != 1 {
		t.Fatalf("refcount after one unbind = %d, want 1", tbl.RefCount())
	}
	tbl.UnbindRef()
	tbl.UnbindRef() // extra unbind must not go negative
	if tbl.RefCount() != 0 {
		t.Fatalf("refcount after extra unbind = %d, want 0", tbl.RefCount())
	}
}

func TestTableInvalidateBlocksOperations(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	tbl, _ := New(alloc, 1)
	tbl.Invalidate()
	if tbl.State() != Invalidated {
		t.Fatalf("state = %v, want Invalidated", tbl.State())
	}
	if _, err := tbl.UpdateFromParent(); err == nil {
		t.Fatalf("expected error from update_from_parent on invalidated table")
	}
	if _, err := tbl.CompareRows(tbl); err == nil {
		t.Fatalf("expected error from compare_rows on invalidated table")
	}
}

func TestTableCompareRowsAndCloneColumns(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	a, _ := New(alloc, 2)
	b, _ := New(alloc, 2)
	for _, tbl := range []*Table{a, b} {
		_ = tbl.Column(0).Add(1)
		_ = tbl.Column(1).Add(2)
	}
	eq, err := a.CompareRows(b)
	if err != nil {
		t.Fatalf("compare_rows: %v", err)
	}
	if !eq {
		t.Fatalf("expected a and b to compare equal")
	}

	_ = b.Column(1).Set(0, 99)
	eq, err = a.CompareRows(b)
	if err != nil {
		t.Fatalf("compare_rows after divergence: %v", err)
	}
	if eq {
		t.Fatalf("expected a and b to compare unequal after divergence")
	}

	cloneRef, err := a.CloneColumns(alloc)
	if err != nil {
		t.Fatalf("clone_columns: %v", err)
	}
	clone, err := Open(alloc, cloneRef, 2)
	if err != nil {
		t.Fatalf("open clone: %v", err)
	}
	if clone.Column(0).Size() != 0 {
		t.Fatalf("clone column 0 size = %d, want 0", clone.Column(0).Size())
	}
}

// testOwner is a minimal SubtableOwner double to exercise RecordSubtablePath
// without depending on the subtablecolumn package (which itself depends on
// this one).
type testOwner struct {
	owner *Table
}

func (o *testOwner) OwnerTable() *Table { return o.owner }
func (o *testOwner) ColumnIndex() int   { return 3 }

func TestTableRecordSubtablePath(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	grandparent, _ := New(alloc, 1)
	child, _ := New(alloc, 1)
	child.SetOwner(&testOwner{owner: grandparent}, 5)

	path := make([]int, 4)
	pos, ok := child.RecordSubtablePath(path, 0)
	if !ok {
		t.Fatalf("expected record_subtable_path to succeed with room to spare")
	}
	if pos != 2 {
		t.Fatalf("pos after one level = %d, want 2", pos)
	}
	if path[0] != 3 || path[1] != 5 {
		t.Fatalf("path = %v, want [3 5 ...]", path)
	}

	// A buffer too small to hold even one (column, row) pair reports false.
	tiny := make([]int, 1)
	if _, ok := child.RecordSubtablePath(tiny, 0); ok {
		t.Fatalf("expected record_subtable_path to report overflow on a too-small buffer")
	}
}

func TestRootRoundTrip(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	root, err := NewRoot(alloc)
	if err != nil {
		t.Fatalf("new_root: %v", err)
	}
	tbl, err := New(alloc, 1)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	if err := tbl.Column(0).Add(42); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := root.BindTable(tbl); err != nil {
		t.Fatalf("bind_table: %v", err)
	}
	if err := root.SetSpecSetRef(999); err != nil {
		t.Fatalf("set_spec_set_ref: %v", err)
	}

	reopenedRoot, err := OpenRoot(alloc, root.Ref())
	if err != nil {
		t.Fatalf("open_root: %v", err)
	}
	specRef, err := reopenedRoot.SpecSetRef()
	if err != nil {
		t.Fatalf("spec_set_ref: %v", err)
	}
	if specRef != 999 {
		t.Fatalf("spec_set_ref = %v, want 999", specRef)
	}
	reopenedTable, err := reopenedRoot.OpenTable(1)
	if err != nil {
		t.Fatalf("open_table: %v", err)
	}
	v, err := reopenedTable.Column(0).Get(0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != 42 {
		t.Fatalf("column 0 row 0 = %d, want 42", v)
	}
}
