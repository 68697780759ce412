package subtablecolumn

import (
	"testing"

	"github.com/brinchj/realm-core/internal/allocator"
)

// snapshotBytes copies the current contents behind ref so later mutation
// can be checked for isolation.
func snapshotBytes(t *testing.T, alloc *allocator.HeapAllocator, ref allocator.Ref) []byte {
	t.Helper()
	buf, err := alloc.Translate(ref)
	if err != nil {
		t.Fatalf("translate %v: %v", ref, err)
	}
	return append([]byte(nil), buf...)
}

func assertUnchanged(t *testing.T, alloc *allocator.HeapAllocator, ref allocator.Ref, snapshot []byte) {
	t.Helper()
	buf, err := alloc.Translate(ref)
	if err != nil {
		t.Fatalf("translate %v: %v", ref, err)
	}
	if len(buf) != len(snapshot) {
		t.Fatalf("snapshot region at %v resized: %d -> %d", ref, len(snapshot), len(buf))
	}
	for i := range snapshot {
		if buf[i] != snapshot[i] {
			t.Fatalf("snapshot byte %d at %v mutated", i, ref)
		}
	}
}

// TestCopyOnWriteChainS6 exercises scenario S6: a writer mutates a column
// inside a subtable, and the full chain — leaf Array, the subtable's own
// column root, the subtable's table root, and the outer subtable
// column's root — each reallocates under copy-on-write without touching
// any byte of a marked-read-only snapshot.
func TestCopyOnWriteChainS6(t *testing.T) {
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

	child, err := ct.GetSubtablePtr(1)
	if err != nil {
		t.Fatalf("get_subtable_ptr(1): %v", err)
	}

	outerColRef := ct.GetRef()
	rowTableRef := child.Ref()
	leafRef := child.Column(0).GetRef()

	alloc.MarkReadOnly(outerColRef)
	alloc.MarkReadOnly(rowTableRef)
	alloc.MarkReadOnly(leafRef)

	outerSnap := snapshotBytes(t, alloc, outerColRef)
	rowSnap := snapshotBytes(t, alloc, rowTableRef)
	leafSnap := snapshotBytes(t, alloc, leafRef)

	if err := child.Column(0).Add(42); err != nil {
		t.Fatalf("add to inner column: %v", err)
	}

	if child.Column(0).GetRef() == leafRef {
		t.Fatalf("inner leaf ref unchanged after mutating a read-only region")
	}
	if child.Ref() == rowTableRef {
		t.Fatalf("subtable root ref unchanged after copy-on-write propagated up")
	}
	if ct.GetRef() == outerColRef {
		t.Fatalf("outer subtable column ref unchanged after copy-on-write propagated up")
	}

	assertUnchanged(t, alloc, outerColRef, outerSnap)
	assertUnchanged(t, alloc, rowTableRef, rowSnap)
	assertUnchanged(t, alloc, leafRef, leafSnap)

	v, err := child.Column(0).Get(0)
	if err != nil {
		t.Fatalf("get after mutation: %v", err)
	}
	if v != 42 {
		t.Fatalf("value after mutation = %d, want 42", v)
	}
}
