// Package column implements Column, a logical sequence of int64 values
// built atop one Array (a single leaf) or a shallow B+-tree of leaf Arrays
// once the column outgrows a single leaf (spec §4.4).
package column

import (
	"github.com/brinchj/realm-core/internal/allocator"
	"github.com/brinchj/realm-core/internal/array"
	"github.com/brinchj/realm-core/internal/dberr"
)

// DefaultLeafMax is the default leaf fanout threshold (spec's "typical
// F≈1000").
const DefaultLeafMax = 1000

// Options configures a Column.
type Options struct {
	LeafMax int // 0 means DefaultLeafMax

	// HasRefs marks this column's elements as refs to other Arrays (used
	// by subtable columns, whose cells are child-table refs) rather than
	// plain int64 values. It controls the has_refs bit of leaf Arrays
	// this column creates; it is independent of whether the column's
	// root has been promoted to a B+-tree, which is tracked by the
	// root's is_leaf bit instead (an inner node always has has_refs=true
	// regardless of what its leaves hold, since its own elements are
	// refs to those leaves).
	HasRefs bool
}

// Column is an index-positional sequence of int64 values or refs.
//
// When small, root is a single leaf Array. Above LeafMax elements, root is
// promoted to an inner Array (is_leaf=false, has_refs=true) whose first
// element is the ref of a sibling offsets Array (cumulative leaf lengths),
// and whose remaining elements are refs to leaf Arrays. Tree-vs-leaf
// dispatch is always on root.IsLeaf(), never on root.HasRefs() — the
// latter instead reflects whether this column's own values are refs
// (spec §4.4, §4.6).
type Column struct {
	alloc   allocator.Allocator
	root    *array.Array
	leafMax int
	hasRefs bool

	parent      array.Parent
	parentIndex int
}

// Create builds a new, empty Column.
func Create(alloc allocator.Allocator, opts Options) (*Column, error) {
	leafMax := opts.LeafMax
	if leafMax <= 0 {
		leafMax = DefaultLeafMax
	}
	root, err := array.Create(alloc, true, opts.HasRefs, array.Normal)
	if err != nil {
		return nil, err
	}
	return &Column{alloc: alloc, root: root, leafMax: leafMax, hasRefs: opts.HasRefs}, nil
}

// Open wraps an existing root ref as a Column.
func Open(alloc allocator.Allocator, ref allocator.Ref, opts Options) (*Column, error) {
	leafMax := opts.LeafMax
	if leafMax <= 0 {
		leafMax = DefaultLeafMax
	}
	root, err := array.Open(alloc, ref)
	if err != nil {
		return nil, err
	}
	return &Column{alloc: alloc, root: root, leafMax: leafMax, hasRefs: opts.HasRefs}, nil
}

// GetRef returns the column's root ref, suitable for persisting in a table.
func (c *Column) GetRef() allocator.Ref { return c.root.Ref() }

// SetParent installs the back-link used by copy-on-write propagation of
// the column's root ref.
func (c *Column) SetParent(p array.Parent, index int) {
	c.parent = p
	c.parentIndex = index
	c.root.SetParent(p, index)
}

// Size returns the number of logical elements.
func (c *Column) Size() int {
	if c.root.IsLeaf() {
		return c.root.Len()
	}
	off, err := c.openOffsets()
	if err != nil {
		return 0
	}
	n := off.Len()
	if n == 0 {
		return 0
	}
	v, _ := off.Get(n - 1)
	return int(v)
}

// IsEmpty reports whether the column has zero elements.
func (c *Column) IsEmpty() bool { return c.Size() == 0 }

// leafRootParent adapts a Column's root Array as the Parent of one of its
// leaves, keyed by leaf slot (root index leafIdx+1).
type leafRootParent struct{ col *Column }

func (p *leafRootParent) UpdateChildRef(leafIdx int, newRef allocator.Ref) error {
	return p.col.root.Set(leafIdx+1, int64(newRef))
}

func (p *leafRootParent) GetChildRef(leafIdx int) (allocator.Ref, error) {
	v, err := p.col.root.Get(leafIdx + 1)
	if err != nil {
		return 0, err
	}
	return allocator.Ref(v), nil
}

// offsetsParent adapts a Column's root Array as the Parent of the offsets
// sibling Array, which always lives at root index 0.
type offsetsParent struct{ col *Column }

func (p *offsetsParent) UpdateChildRef(_ int, newRef allocator.Ref) error {
	return p.col.root.Set(0, int64(newRef))
}

func (p *offsetsParent) GetChildRef(_ int) (allocator.Ref, error) {
	v, err := p.col.root.Get(0)
	if err != nil {
		return 0, err
	}
	return allocator.Ref(v), nil
}

func (c *Column) openOffsets() (*array.Array, error) {
	ref, err := (&offsetsParent{col: c}).GetChildRef(0)
	if err != nil {
		return nil, err
	}
	off, err := array.Open(c.alloc, ref)
	if err != nil {
		return nil, err
	}
	off.SetParent(&offsetsParent{col: c}, 0)
	return off, nil
}

func (c *Column) openLeaf(leafIdx int) (*array.Array, error) {
	ref, err := (&leafRootParent{col: c}).GetChildRef(leafIdx)
	if err != nil {
		return nil, err
	}
	leaf, err := array.Open(c.alloc, ref)
	if err != nil {
		return nil, err
	}
	leaf.SetParent(&leafRootParent{col: c}, leafIdx)
	return leaf, nil
}

// locate returns the leaf index and the local index within that leaf for
// logical index i, given the current offsets array.
func locate(off *array.Array, i int) (leafIdx, local int, err error) {
	n := off.Len()
	for idx := 0; idx < n; idx++ {
		cum, e := off.Get(idx)
		if e != nil {
			return 0, 0, e
		}
		prev := int64(0)
		if idx > 0 {
			prev, _ = off.Get(idx - 1)
		}
		if i < int(cum) {
			return idx, i - int(prev), nil
		}
	}
	return 0, 0, dberr.Newf(dberr.CorruptData, "index %d not covered by offsets", i)
}

// Get returns the element at logical index i.
func (c *Column) Get(i int) (int64, error) {
	if c.root.IsLeaf() {
		return c.root.Get(i)
	}
	off, err := c.openOffsets()
	if err != nil {
		return 0, err
	}
	leafIdx, local, err := locate(off, i)
	if err != nil {
		return 0, err
	}
	leaf, err := c.openLeaf(leafIdx)
	if err != nil {
		return 0, err
	}
	return leaf.Get(local)
}

// Set writes v at logical index i.
func (c *Column) Set(i int, v int64) error {
	if c.root.IsLeaf() {
		return c.root.Set(i, v)
	}
	off, err := c.openOffsets()
	if err != nil {
		return err
	}
	leafIdx, local, err := locate(off, i)
	if err != nil {
		return err
	}
	leaf, err := c.openLeaf(leafIdx)
	if err != nil {
		return err
	}
	return leaf.Set(local, v)
}

// promoteToTree converts a single-leaf column into a two-leaf inner tree.
func (c *Column) promoteToTree() error {
	oldLeaf := c.root
	n := oldLeaf.Len()
	mid := n / 2

	leafA, err := array.Create(c.alloc, true, c.hasRefs, array.Normal)
	if err != nil {
		return err
	}
	leafB, err := array.Create(c.alloc, true, c.hasRefs, array.Normal)
	if err != nil {
		return err
	}
	for i := 0; i < mid; i++ {
		v, _ := oldLeaf.Get(i)
		if err := leafA.Add(v); err != nil {
			return err
		}
	}
	for i := mid; i < n; i++ {
		v, _ := oldLeaf.Get(i)
		if err := leafB.Add(v); err != nil {
			return err
		}
	}

	offsets, err := array.Create(c.alloc, true, false, array.Normal)
	if err != nil {
		return err
	}
	if err := offsets.Add(int64(mid)); err != nil {
		return err
	}
	if err := offsets.Add(int64(n)); err != nil {
		return err
	}

	inner, err := array.Create(c.alloc, false, true, array.Normal)
	if err != nil {
		return err
	}
	if err := inner.Add(int64(offsets.Ref())); err != nil {
		return err
	}
	if err := inner.Add(int64(leafA.Ref())); err != nil {
		return err
	}
	if err := inner.Add(int64(leafB.Ref())); err != nil {
		return err
	}

	oldLeaf.Destroy()
	c.root = inner
	if c.parent != nil {
		c.root.SetParent(c.parent, c.parentIndex)
		if err := c.parent.UpdateChildRef(c.parentIndex, inner.Ref()); err != nil {
			return err
		}
	}
	return nil
}

// splitLeafIfNeeded splits the leaf at leafIdx into two when it has grown
// past the fanout threshold.
func (c *Column) splitLeafIfNeeded(leafIdx int) error {
	leaf, err := c.openLeaf(leafIdx)
	if err != nil {
		return err
	}
	if leaf.Len() <= c.leafMax {
		return nil
	}
	n := leaf.Len()
	mid := n / 2

	newLeaf, err := array.Create(c.alloc, true, c.hasRefs, array.Normal)
	if err != nil {
		return err
	}
	for i := mid; i < n; i++ {
		v, _ := leaf.Get(i)
		if err := newLeaf.Add(v); err != nil {
			return err
		}
	}
	for i := n - 1; i >= mid; i-- {
		leaf.Erase(i)
	}

	if err := c.root.Insert(leafIdx+2, int64(newLeaf.Ref())); err != nil {
		return err
	}
	off, err := c.openOffsets()
	if err != nil {
		return err
	}
	oldCum, err := off.Get(leafIdx)
	if err != nil {
		return err
	}
	prev := int64(0)
	if leafIdx > 0 {
		prev, err = off.Get(leafIdx - 1)
		if err != nil {
			return err
		}
	}
	if err := off.Set(leafIdx, prev+int64(mid)); err != nil {
		return err
	}
	return off.Insert(leafIdx+1, oldCum)
}

func (c *Column) bumpOffsetsFrom(leafIdx int, delta int64) error {
	off, err := c.openOffsets()
	if err != nil {
		return err
	}
	for idx := leafIdx; idx < off.Len(); idx++ {
		v, err := off.Get(idx)
		if err != nil {
			return err
		}
		if err := off.Set(idx, v+delta); err != nil {
			return err
		}
	}
	return nil
}

// Add appends v.
func (c *Column) Add(v int64) error {
	return c.Insert(c.Size(), v)
}

// Insert inserts v at logical index i.
func (c *Column) Insert(i int, v int64) error {
	size := c.Size()
	if i < 0 || i > size {
		return dberr.Newf(dberr.PreconditionViolation, "insert index %d out of range [0,%d]", i, size)
	}
	if c.root.IsLeaf() {
		if err := c.root.Insert(i, v); err != nil {
			return err
		}
		if c.root.Len() > c.leafMax {
			return c.promoteToTree()
		}
		return nil
	}

	off, err := c.openOffsets()
	if err != nil {
		return err
	}
	var leafIdx, local int
	if i == size {
		leafIdx = off.Len() - 1
		prev := int64(0)
		if leafIdx > 0 {
			prev, _ = off.Get(leafIdx - 1)
		}
		local = i - int(prev)
	} else {
		leafIdx, local, err = locate(off, i)
		if err != nil {
			return err
		}
	}
	leaf, err := c.openLeaf(leafIdx)
	if err != nil {
		return err
	}
	if err := leaf.Insert(local, v); err != nil {
		return err
	}
	if err := c.bumpOffsetsFrom(leafIdx, 1); err != nil {
		return err
	}
	return c.splitLeafIfNeeded(leafIdx)
}

// Erase removes the element at logical index i.
func (c *Column) Erase(i int) error {
	size := c.Size()
	if i < 0 || i >= size {
		return dberr.Newf(dberr.PreconditionViolation, "erase index %d out of range [0,%d)", i, size)
	}
	if c.root.IsLeaf() {
		return c.root.Erase(i)
	}
	off, err := c.openOffsets()
	if err != nil {
		return err
	}
	leafIdx, local, err := locate(off, i)
	if err != nil {
		return err
	}
	leaf, err := c.openLeaf(leafIdx)
	if err != nil {
		return err
	}
	if err := leaf.Erase(local); err != nil {
		return err
	}
	return c.bumpOffsetsFrom(leafIdx, -1)
}

// Clear empties the column. A tree column collapses back to a single empty
// leaf whose has_refs bit is the column's own HasRefs option.
func (c *Column) Clear() error {
	if c.root.IsLeaf() {
		return c.root.Clear()
	}
	off, err := c.openOffsets()
	if err != nil {
		return err
	}
	n := off.Len()
	for idx := 0; idx < n; idx++ {
		leaf, err := c.openLeaf(idx)
		if err != nil {
			return err
		}
		leaf.Destroy()
	}
	// Collapse back to a fresh single leaf.
	off.Destroy()
	newLeaf, err := array.Create(c.alloc, true, c.hasRefs, array.Normal)
	if err != nil {
		return err
	}
	oldRoot := c.root
	c.root = newLeaf
	if c.parent != nil {
		c.root.SetParent(c.parent, c.parentIndex)
		if err := c.parent.UpdateChildRef(c.parentIndex, newLeaf.Ref()); err != nil {
			return err
		}
	}
	oldRoot.Destroy()
	return nil
}

// FindFirst returns the first index in [start,end) holding value v.
func (c *Column) FindFirst(v int64, start, end int) (int, error) {
	if c.root.IsLeaf() {
		return c.root.FindFirst(v, start, end)
	}
	for i := start; i < end; i++ {
		got, err := c.Get(i)
		if err != nil {
			return array.NotFound, err
		}
		if got == v {
			return i, nil
		}
	}
	return array.NotFound, nil
}

// FindAll appends every index in [start,end) holding value v to out.
func (c *Column) FindAll(out []int, v int64, start, end int) ([]int, error) {
	for i := start; i < end; i++ {
		got, err := c.Get(i)
		if err != nil {
			return out, err
		}
		if got == v {
			out = append(out, i)
		}
	}
	return out, nil
}

// Count returns the number of elements equal to v.
func (c *Column) Count(v int64) (int, error) {
	n := 0
	size := c.Size()
	for i := 0; i < size; i++ {
		got, err := c.Get(i)
		if err != nil {
			return 0, err
		}
		if got == v {
			n++
		}
	}
	return n, nil
}

// Sum returns the sum of all elements.
func (c *Column) Sum() (int64, error) {
	var sum int64
	size := c.Size()
	for i := 0; i < size; i++ {
		v, err := c.Get(i)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

// Minimum returns the minimum value in [start,end) and whether the range
// was non-empty.
func (c *Column) Minimum(start, end int) (int64, bool, error) {
	var min int64
	found := false
	for i := start; i < end; i++ {
		v, err := c.Get(i)
		if err != nil {
			return 0, false, err
		}
		if !found || v < min {
			min = v
			found = true
		}
	}
	return min, found, nil
}

// Maximum returns the maximum value in [start,end) and whether the range
// was non-empty.
func (c *Column) Maximum(start, end int) (int64, bool, error) {
	var max int64
	found := false
	for i := start; i < end; i++ {
		v, err := c.Get(i)
		if err != nil {
			return 0, false, err
		}
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max, found, nil
}

// Compare reports whether c and other hold identical sequences.
func (c *Column) Compare(other *Column) (bool, error) {
	if c.Size() != other.Size() {
		return false, nil
	}
	for i := 0; i < c.Size(); i++ {
		a, err := c.Get(i)
		if err != nil {
			return false, err
		}
		b, err := other.Get(i)
		if err != nil {
			return false, err
		}
		if a != b {
			return false, nil
		}
	}
	return true, nil
}

// Fill appends n zero-valued elements.
func (c *Column) Fill(n int) error {
	for i := 0; i < n; i++ {
		if err := c.Add(0); err != nil {
			return err
		}
	}
	return nil
}

// Destroy frees the column's root (and, for a tree column, its offsets and
// leaves).
func (c *Column) Destroy() error {
	if !c.root.IsLeaf() {
		if off, err := c.openOffsets(); err == nil {
			for idx := 0; idx < off.Len(); idx++ {
				if leaf, err := c.openLeaf(idx); err == nil {
					leaf.Destroy()
				}
			}
			off.Destroy()
		}
	}
	return c.root.Destroy()
}

// UpdateFromParent re-reads the parent slot to learn whether the column's
// root ref changed underneath it.
func (c *Column) UpdateFromParent() (bool, error) {
	return c.root.UpdateFromParent()
}
