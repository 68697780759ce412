// Package array implements the packed-bit-width Array — the sole on-disk
// building block of the engine (spec §3, §4.2).
package array

import (
	"github.com/brinchj/realm-core/internal/allocator"
	"github.com/brinchj/realm-core/internal/dberr"
)

// NotFound is returned by FindFirst when no match exists in range.
const NotFound = -1

// Parent is the back-link contract an Array's owner must satisfy so that
// copy-on-write can propagate upward (spec §4.2's set_parent / update_child_ref).
type Parent interface {
	UpdateChildRef(index int, newRef allocator.Ref) error
	GetChildRef(index int) (allocator.Ref, error)
}

// Array is a variable-bit-width packed vector: the header, its payload, and
// an optional parent back-link.
type Array struct {
	alloc allocator.Allocator
	ref   allocator.Ref
	buf   []byte // header + payload, live view into the allocator's region

	parent      Parent
	parentIndex int
}

// Create allocates a new, empty Array.
func Create(alloc allocator.Allocator, isLeaf, hasRefs bool, wt WriteType) (*Array, error) {
	ref, buf, err := alloc.Alloc(HeaderSize)
	if err != nil {
		return nil, dberr.Newf(dberr.OutOfMemory, "create array: %v", err)
	}
	h := Header{IsLeaf: isLeaf, HasRefs: hasRefs, Width: 0, WriteType: wt, Length: 0, Capacity: 0}
	MarshalHeader(h, buf)
	return &Array{alloc: alloc, ref: ref, buf: buf}, nil
}

// Open wraps an existing ref as an Array, without assuming ownership of
// allocation (the ref must already exist in alloc).
func Open(alloc allocator.Allocator, ref allocator.Ref) (*Array, error) {
	buf, err := alloc.Translate(ref)
	if err != nil {
		return nil, dberr.Newf(dberr.CorruptData, "open array: %v", err)
	}
	if len(buf) < HeaderSize {
		return nil, dberr.New(dberr.CorruptData, "array region shorter than header")
	}
	return &Array{alloc: alloc, ref: ref, buf: buf}, nil
}

// Ref returns the array's current ref.
func (a *Array) Ref() allocator.Ref { return a.ref }

func (a *Array) header() Header { return UnmarshalHeader(a.buf) }

func (a *Array) setHeader(h Header) { MarshalHeader(h, a.buf) }

// Len returns the element count (spec's `length`).
func (a *Array) Len() int { return a.header().Length }

// IsLeaf reports the is_leaf header bit.
func (a *Array) IsLeaf() bool { return a.header().IsLeaf }

// HasRefs reports the has_refs header bit.
func (a *Array) HasRefs() bool { return a.header().HasRefs }

// Width returns the current element bit width.
func (a *Array) Width() int { return a.header().Width }

// Capacity returns the payload's byte capacity.
func (a *Array) Capacity() int { return a.header().Capacity }

// WriteType reports the header's write_type bit (Normal or Ignore).
func (a *Array) WriteType() WriteType { return a.header().WriteType }

// RawHeader returns a decoded copy of the 8-byte header, for diagnostics
// (internal/diag's Verify) and serialization callers outside this package.
func (a *Array) RawHeader() Header { return a.header() }

// RawBytes returns the full header+payload region backing this Array, for
// diagnostics (CRC checks, leaf_to_dot dumps). Callers must not retain or
// mutate the slice past the next mutating call on a.
func (a *Array) RawBytes() []byte { return a.buf }

// Parent reports the installed back-link, if any, and its slot index —
// used by diagnostics to verify parent-consistency (spec's testable
// property 4: parent.get_child_ref(index) == self.ref).
func (a *Array) Parent() (Parent, int) { return a.parent, a.parentIndex }

// SetParent installs the back-link used by copy-on-write propagation.
func (a *Array) SetParent(p Parent, index int) {
	a.parent = p
	a.parentIndex = index
}

// UpdateFromParent re-reads the parent slot to learn whether this Array's
// ref has changed underneath it (e.g. an ancestor's copy-on-write minted a
// new ref for this slot). Returns true if remapped.
func (a *Array) UpdateFromParent() (bool, error) {
	if a.parent == nil {
		return false, nil
	}
	cur, err := a.parent.GetChildRef(a.parentIndex)
	if err != nil {
		return false, err
	}
	if cur == a.ref {
		return false, nil
	}
	buf, err := a.alloc.Translate(cur)
	if err != nil {
		return false, dberr.Newf(dberr.CorruptData, "update_from_parent: %v", err)
	}
	a.ref = cur
	a.buf = buf
	return true, nil
}

// cow ensures the array is writable, copying to a fresh region and
// propagating the new ref to the parent slot if the current ref lives in a
// read-only (committed) region.
func (a *Array) cow() error {
	if !a.alloc.IsReadOnly(a.ref) {
		return nil
	}
	newRef, newBuf, err := a.alloc.Alloc(len(a.buf))
	if err != nil {
		return dberr.Newf(dberr.OutOfMemory, "copy-on-write: %v", err)
	}
	copy(newBuf, a.buf)
	oldRef := a.ref
	a.ref = newRef
	a.buf = newBuf
	if a.parent != nil {
		if err := a.parent.UpdateChildRef(a.parentIndex, newRef); err != nil {
			return err
		}
	}
	_ = oldRef
	return nil
}

// payload returns the portion of buf after the header.
func (a *Array) payload() []byte { return a.buf[HeaderSize:] }

// touch notifies a write-back allocator (e.g. FileAllocator) that the
// in-place buffer changed. HeapAllocator and other in-memory allocators
// need no such notification.
func (a *Array) touch() {
	type toucher interface{ Touch(allocator.Ref) }
	if t, ok := a.alloc.(toucher); ok {
		t.Touch(a.ref)
	}
}

// Get unpacks the element at logical index i.
func (a *Array) Get(i int) (int64, error) {
	h := a.header()
	if i < 0 || i >= h.Length {
		return 0, dberr.Newf(dberr.PreconditionViolation, "index %d out of range [0,%d)", i, h.Length)
	}
	raw := getBits(a.payload(), i, h.Width)
	return signExtend(raw, h.Width), nil
}

// ensureCapacity grows the backing region so that `count` elements of
// `width` bits fit, reallocating if necessary. When the region moves to a
// new ref, that ref is written into the parent slot.
func (a *Array) ensureCapacity(width, count int) error {
	needed := bitsPayloadLen(width, count)
	h := a.header()
	if needed <= h.Capacity {
		return nil
	}
	newCap := needed
	if newCap < 8 {
		newCap = 8
	}
	newRef, newBuf, err := a.alloc.Realloc(a.ref, HeaderSize+newCap)
	if err != nil {
		return dberr.Newf(dberr.OutOfMemory, "grow array: %v", err)
	}
	a.ref = newRef
	a.buf = newBuf
	h.Capacity = newCap
	a.setHeader(h)
	if a.parent != nil {
		if err := a.parent.UpdateChildRef(a.parentIndex, newRef); err != nil {
			return err
		}
	}
	return nil
}

// widen rebuilds the payload at newWidth, re-packing every current element.
// It does nothing if newWidth is not wider than the current width.
func (a *Array) widen(newWidth int) error {
	h := a.header()
	if newWidth <= h.Width {
		return nil
	}
	old := make([]int64, h.Length)
	for i := 0; i < h.Length; i++ {
		old[i] = signExtend(getBits(a.payload(), i, h.Width), h.Width)
	}

	if err := a.ensureCapacity(newWidth, h.Length); err != nil {
		return err
	}
	h = a.header()
	// Zero the payload before repacking at the new width.
	for i := range a.payload() {
		a.payload()[i] = 0
	}
	h.Width = newWidth
	a.setHeader(h)
	for i, v := range old {
		setBits(a.payload(), i, newWidth, toUnsigned(v, newWidth))
	}
	return nil
}

// Set writes v at index i, copy-on-writing and widening as needed.
func (a *Array) Set(i int, v int64) error {
	h := a.header()
	if i < 0 || i >= h.Length {
		return dberr.Newf(dberr.PreconditionViolation, "index %d out of range [0,%d)", i, h.Length)
	}
	if err := a.cow(); err != nil {
		return err
	}
	need := requiredWidth(v)
	if need > a.header().Width {
		if err := a.widen(need); err != nil {
			return err
		}
	}
	h = a.header()
	setBits(a.payload(), i, h.Width, toUnsigned(v, h.Width))
	a.touch()
	return nil
}

// Add appends v.
func (a *Array) Add(v int64) error {
	return a.Insert(a.Len(), v)
}

// Insert inserts v at index i, shifting the suffix right.
func (a *Array) Insert(i int, v int64) error {
	h := a.header()
	if i < 0 || i > h.Length {
		return dberr.Newf(dberr.PreconditionViolation, "insert index %d out of range [0,%d]", i, h.Length)
	}
	if err := a.cow(); err != nil {
		return err
	}

	need := requiredWidth(v)
	h = a.header()
	targetWidth := h.Width
	if need > targetWidth {
		targetWidth = need
	}

	newLen := h.Length + 1
	if err := a.ensureCapacity(targetWidth, newLen); err != nil {
		return err
	}
	if targetWidth > a.header().Width {
		if err := a.widen(targetWidth); err != nil {
			return err
		}
	}

	h = a.header()
	// Shift suffix [i, length) right by one slot, from the tail backward.
	for idx := h.Length - 1; idx >= i; idx-- {
		val := getBits(a.payload(), idx, h.Width)
		setBits(a.payload(), idx+1, h.Width, val)
	}
	setBits(a.payload(), i, h.Width, toUnsigned(v, h.Width))
	h.Length++
	a.setHeader(h)
	a.touch()
	return nil
}

// Erase removes the element at index i, shifting the suffix left. Does not
// shrink the bit width.
func (a *Array) Erase(i int) error {
	h := a.header()
	if i < 0 || i >= h.Length {
		return dberr.Newf(dberr.PreconditionViolation, "erase index %d out of range [0,%d)", i, h.Length)
	}
	if err := a.cow(); err != nil {
		return err
	}
	h = a.header()
	for idx := i; idx < h.Length-1; idx++ {
		val := getBits(a.payload(), idx+1, h.Width)
		setBits(a.payload(), idx, h.Width, val)
	}
	h.Length--
	a.setHeader(h)
	a.touch()
	return nil
}

// Clear resets length to 0, preserving capacity and the has_refs bit.
func (a *Array) Clear() error {
	if err := a.cow(); err != nil {
		return err
	}
	h := a.header()
	h.Length = 0
	a.setHeader(h)
	a.touch()
	return nil
}

// FindFirst returns the first index in [start,end) holding value v, or
// NotFound.
func (a *Array) FindFirst(v int64, start, end int) (int, error) {
	h := a.header()
	if start < 0 || end > h.Length || start > end {
		return NotFound, dberr.Newf(dberr.PreconditionViolation, "find range [%d,%d) invalid for length %d", start, end, h.Length)
	}
	for i := start; i < end; i++ {
		raw := getBits(a.payload(), i, h.Width)
		if signExtend(raw, h.Width) == v {
			return i, nil
		}
	}
	return NotFound, nil
}

// FindAll appends every index in [start,end) holding value v to out.
func (a *Array) FindAll(out *Array, v int64, start, end int) error {
	h := a.header()
	if start < 0 || end > h.Length || start > end {
		return dberr.Newf(dberr.PreconditionViolation, "find range [%d,%d) invalid for length %d", start, end, h.Length)
	}
	for i := start; i < end; i++ {
		raw := getBits(a.payload(), i, h.Width)
		if signExtend(raw, h.Width) == v {
			if err := out.Add(int64(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Destroy frees the array's region.
func (a *Array) Destroy() error {
	return a.alloc.Free(a.ref)
}
