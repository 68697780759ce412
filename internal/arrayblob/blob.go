// Package arrayblob implements ArrayBlob, the byte-granular specialization
// of Array used for raw payloads (spec §4.3), grounded on
// _examples/original_source/src/ArrayBlob.cpp.
package arrayblob

import (
	"github.com/brinchj/realm-core/internal/allocator"
	"github.com/brinchj/realm-core/internal/array"
	"github.com/brinchj/realm-core/internal/dberr"
)

// Blob is an Array specialization with write_type=TDB_IGNORE: the payload
// is a flat byte buffer rather than a packed-bit-width vector.
// CalcByteLen(count) = 8 + count (spec §4.3).
type Blob struct {
	alloc allocator.Allocator
	ref   allocator.Ref
	buf   []byte

	parent      array.Parent
	parentIndex int
}

// CalcByteLen returns the byte length of a blob region holding count
// payload bytes: the 8-byte header plus one byte per element.
func CalcByteLen(count int) int { return array.HeaderSize + count }

// Create allocates a new, empty ArrayBlob.
func Create(alloc allocator.Allocator) (*Blob, error) {
	ref, buf, err := alloc.Alloc(array.HeaderSize)
	if err != nil {
		return nil, dberr.Newf(dberr.OutOfMemory, "create blob: %v", err)
	}
	h := array.Header{IsLeaf: true, HasRefs: false, Width: 0, WriteType: array.Ignore, Length: 0, Capacity: 0}
	array.MarshalHeader(h, buf)
	return &Blob{alloc: alloc, ref: ref, buf: buf}, nil
}

// Open wraps an existing ref as a Blob.
func Open(alloc allocator.Allocator, ref allocator.Ref) (*Blob, error) {
	buf, err := alloc.Translate(ref)
	if err != nil {
		return nil, dberr.Newf(dberr.CorruptData, "open blob: %v", err)
	}
	if len(buf) < array.HeaderSize {
		return nil, dberr.New(dberr.CorruptData, "blob region shorter than header")
	}
	return &Blob{alloc: alloc, ref: ref, buf: buf}, nil
}

// Ref returns the blob's current ref.
func (b *Blob) Ref() allocator.Ref { return b.ref }

// SetParent installs the back-link used by copy-on-write propagation.
func (b *Blob) SetParent(p array.Parent, index int) {
	b.parent = p
	b.parentIndex = index
}

func (b *Blob) header() array.Header    { return array.UnmarshalHeader(b.buf) }
func (b *Blob) setHeader(h array.Header) { array.MarshalHeader(h, b.buf) }
func (b *Blob) payload() []byte          { return b.buf[array.HeaderSize:] }

// Len returns the byte length of the blob.
func (b *Blob) Len() int { return b.header().Length }

// Bytes returns the blob's current contents.
func (b *Blob) Bytes() []byte {
	h := b.header()
	return b.payload()[:h.Length]
}

func (b *Blob) touch() {
	type toucher interface{ Touch(allocator.Ref) }
	if t, ok := b.alloc.(toucher); ok {
		t.Touch(b.ref)
	}
}

func (b *Blob) cow() error {
	if !b.alloc.IsReadOnly(b.ref) {
		return nil
	}
	newRef, newBuf, err := b.alloc.Alloc(len(b.buf))
	if err != nil {
		return dberr.Newf(dberr.OutOfMemory, "blob copy-on-write: %v", err)
	}
	copy(newBuf, b.buf)
	b.ref = newRef
	b.buf = newBuf
	if b.parent != nil {
		if err := b.parent.UpdateChildRef(b.parentIndex, newRef); err != nil {
			return err
		}
	}
	return nil
}

func (b *Blob) ensureCapacity(newLen int) error {
	h := b.header()
	if newLen <= h.Capacity {
		return nil
	}
	newCap := newLen
	if newCap < 16 {
		newCap = 16
	}
	newRef, newBuf, err := b.alloc.Realloc(b.ref, array.HeaderSize+newCap)
	if err != nil {
		return dberr.Newf(dberr.OutOfMemory, "grow blob: %v", err)
	}
	b.ref = newRef
	b.buf = newBuf
	h.Capacity = newCap
	b.setHeader(h)
	if b.parent != nil {
		if err := b.parent.UpdateChildRef(b.parentIndex, newRef); err != nil {
			return err
		}
	}
	return nil
}

// Replace is the fundamental primitive (spec §4.3): it requires
// start <= end <= length, copy-on-writes, reallocates to the new length,
// shifts the suffix with an overlap-safe move when the gap size changes
// away from the tail, writes src into [start, start+len(src)), and updates
// length. Capacity never shrinks.
func (b *Blob) Replace(start, end int, src []byte) error {
	h := b.header()
	if start < 0 || end < start || end > h.Length {
		return dberr.Newf(dberr.PreconditionViolation, "replace range [%d,%d) invalid for length %d", start, end, h.Length)
	}
	if err := b.cow(); err != nil {
		return err
	}
	h = b.header()
	oldLen := h.Length
	diff := len(src) - (end - start)
	newLen := oldLen + diff

	if err := b.ensureCapacity(newLen); err != nil {
		return err
	}
	h = b.header()

	if diff != 0 && end != oldLen {
		suffixLen := oldLen - end
		copy(b.payload()[start+len(src):start+len(src)+suffixLen], b.payload()[end:end+suffixLen])
	}
	copy(b.payload()[start:start+len(src)], src)

	h.Length = newLen
	b.setHeader(h)
	b.touch()
	return nil
}

// Add appends src to the end of the blob.
func (b *Blob) Add(src []byte) error {
	return b.Replace(b.Len(), b.Len(), src)
}

// Insert inserts src at byte offset pos.
func (b *Blob) Insert(pos int, src []byte) error {
	return b.Replace(pos, pos, src)
}

// Delete removes the byte range [start,end).
func (b *Blob) Delete(start, end int) error {
	return b.Replace(start, end, nil)
}

// Clear empties the blob.
func (b *Blob) Clear() error {
	return b.Replace(0, b.Len(), nil)
}

// Destroy frees the blob's region.
func (b *Blob) Destroy() error {
	return b.alloc.Free(b.ref)
}
