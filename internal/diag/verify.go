// Package diag implements the debug-only consistency checks and
// visualization hooks named in spec §6 ("the operations in §4, plus
// Verify ... and leaf_to_dot"). Nothing here is on the hot path; it
// exists for tests and operator tooling, exactly as the teacher's own
// pager-level inspection tooling does (internal/pager/inspect.go).
package diag

import (
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/brinchj/realm-core/internal/allocator"
	"github.com/brinchj/realm-core/internal/array"
	"github.com/brinchj/realm-core/internal/column"
	"github.com/brinchj/realm-core/internal/dberr"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ChecksumArray computes the CRC32-C (Castagnoli) of an Array's full
// header+payload region — the same polynomial the pager uses for page
// integrity (pager.ComputePageCRC), reused here purely as a diagnostic
// fingerprint; it is not persisted as part of the Array format (spec §6
// freezes the 8-byte header with no checksum field).
func ChecksumArray(a *array.Array) uint32 {
	return crc32.Checksum(a.RawBytes(), crcTable)
}

// VerifyArray checks an Array's header invariants (spec §3): length must
// fit the declared capacity at the declared width, and if a parent
// back-link is installed, the parent's slot must currently point back at
// this Array's ref (testable property 4).
func VerifyArray(a *array.Array) error {
	h := a.RawHeader()
	// Width 0 represents an all-zeros array with no payload (spec §3):
	// any length is representable regardless of capacity. Otherwise
	// length must fit the declared capacity at the declared width.
	if h.Width > 0 {
		maxElems := h.Capacity * 8 / h.Width
		if h.Length > maxElems {
			return dberr.Newf(dberr.CorruptData, "array %v: length %d exceeds capacity for width %d (max %d)", a.Ref(), h.Length, h.Width, maxElems)
		}
	}
	parent, idx := a.Parent()
	if parent != nil {
		got, err := parent.GetChildRef(idx)
		if err != nil {
			return dberr.Newf(dberr.CorruptData, "array %v: parent slot %d unreadable: %v", a.Ref(), idx, err)
		}
		if got != a.Ref() {
			return dberr.Newf(dberr.CorruptData, "array %v: parent slot %d holds %v, expected self", a.Ref(), idx, got)
		}
	}
	return nil
}

// VerifyColumn recursively verifies every Array in a column's tree (root,
// offsets sibling if present, and every leaf) and checks that leaf sizes
// recorded in the offsets array are monotonically non-decreasing (spec
// §6: "Cumulative-offsets Arrays store monotonically non-decreasing
// uint64s").
func VerifyColumn(alloc allocator.Allocator, rootRef allocator.Ref) error {
	root, err := array.Open(alloc, rootRef)
	if err != nil {
		return err
	}
	if err := VerifyArray(root); err != nil {
		return err
	}
	if root.IsLeaf() {
		return nil
	}
	offRef, err := root.Get(0)
	if err != nil {
		return err
	}
	off, err := array.Open(alloc, allocator.Ref(offRef))
	if err != nil {
		return err
	}
	if err := VerifyArray(off); err != nil {
		return err
	}
	var prev int64
	for i := 0; i < off.Len(); i++ {
		v, err := off.Get(i)
		if err != nil {
			return err
		}
		if v < prev {
			return dberr.Newf(dberr.CorruptData, "offsets array %v: entry %d (%d) decreases from %d", off.Ref(), i, v, prev)
		}
		prev = v

		leafRef, err := root.Get(i + 1)
		if err != nil {
			return err
		}
		leaf, err := array.Open(alloc, allocator.Ref(leafRef))
		if err != nil {
			return err
		}
		if err := VerifyArray(leaf); err != nil {
			return err
		}
	}
	return nil
}

// LeafToDot renders a column's tree structure as Graphviz dot source
// (spec §6's leaf_to_dot), for pasting into an offline viewer. It shows
// only structure (refs and leaf lengths), never element values.
func LeafToDot(alloc allocator.Allocator, rootRef allocator.Ref) (string, error) {
	root, err := array.Open(alloc, rootRef)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("digraph column {\n")
	if root.IsLeaf() {
		fmt.Fprintf(&b, "  leaf_%v [label=\"leaf ref=%v len=%d width=%d\"];\n", root.Ref(), root.Ref(), root.Len(), root.Width())
		b.WriteString("}\n")
		return b.String(), nil
	}
	fmt.Fprintf(&b, "  inner_%v [label=\"inner ref=%v\"];\n", root.Ref(), root.Ref())
	offRef, err := root.Get(0)
	if err != nil {
		return "", err
	}
	off, err := array.Open(alloc, allocator.Ref(offRef))
	if err != nil {
		return "", err
	}
	for i := 0; i < off.Len(); i++ {
		leafRef, err := root.Get(i + 1)
		if err != nil {
			return "", err
		}
		leaf, err := array.Open(alloc, allocator.Ref(leafRef))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "  leaf_%v [label=\"leaf ref=%v len=%d width=%d\"];\n", leaf.Ref(), leaf.Ref(), leaf.Len(), leaf.Width())
		fmt.Fprintf(&b, "  inner_%v -> leaf_%v;\n", root.Ref(), leaf.Ref())
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// columnRootRef is a tiny indirection so VerifyColumn/LeafToDot can also
// be driven straight from a *column.Column by callers that already have
// one open, without re-deriving its ref.
func columnRootRef(c *column.Column) allocator.Ref { return c.GetRef() }

// VerifyColumnObj is VerifyColumn taking an already-open Column.
func VerifyColumnObj(alloc allocator.Allocator, c *column.Column) error {
	return VerifyColumn(alloc, columnRootRef(c))
}

// DumpInstance renders a file arena's instance identifier for operator
// logs — the one place uuid.UUID (minted per spec §4.11's domain-stack
// wiring) surfaces, since the wire format itself is frozen and has no
// room for it.
func DumpInstance(alloc *allocator.FileAllocator) string {
	return fmt.Sprintf("arena instance %s", alloc.InstanceID())
}
