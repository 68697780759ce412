package diag

import (
	"strings"
	"testing"

	"github.com/brinchj/realm-core/internal/allocator"
	"github.com/brinchj/realm-core/internal/column"
)

func TestVerifyColumnSmallLeaf(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	c, err := column.Create(alloc, column.Options{LeafMax: 4})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, v := range []int64{1, 2, 3} {
		if err := c.Add(v); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := VerifyColumnObj(alloc, c); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyColumnTreeAndDot(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	c, err := column.Create(alloc, column.Options{LeafMax: 4})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := int64(0); i < 20; i++ {
		if err := c.Add(i); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := VerifyColumnObj(alloc, c); err != nil {
		t.Fatalf("verify tree: %v", err)
	}
	dot, err := LeafToDot(alloc, c.GetRef())
	if err != nil {
		t.Fatalf("leaf_to_dot: %v", err)
	}
	if !strings.Contains(dot, "digraph column") {
		t.Fatalf("dot output missing digraph header: %q", dot)
	}
	if !strings.Contains(dot, "inner_") {
		t.Fatalf("dot output missing inner node for a promoted tree: %q", dot)
	}
}
