// Package allocator implements the Ref-addressable byte-region arena that
// Array and its descendants are built on.
//
// Two flavors are provided: a HeapAllocator for transient in-memory
// structures and a FileAllocator backing
// persisted data, itself built on the page-based transactional arena in
// internal/pager. Neither Array nor Column assumes heap semantics — both
// are written against the Allocator interface alone.
package allocator

import (
	"fmt"
	"sync"

	"github.com/brinchj/realm-core/internal/dberr"
)

// Ref is an opaque identifier of an allocated byte region. Zero means
// "null / not allocated".
type Ref uint64

// IsNull reports whether r is the null ref.
func (r Ref) IsNull() bool { return r == 0 }

// Allocator is the contract every Array is built against (spec §4.1).
type Allocator interface {
	// Alloc reserves size bytes and returns a stable ref and a
	// currently-valid buffer over that region.
	Alloc(size int) (Ref, []byte, error)

	// Realloc resizes the region behind ref, preserving the shared
	// prefix. It may return a new ref; the old ref is freed either way.
	Realloc(ref Ref, newSize int) (Ref, []byte, error)

	// Free releases ref. Using ref afterward is undefined.
	Free(ref Ref) error

	// Translate returns the current buffer for ref.
	Translate(ref Ref) ([]byte, error)

	// IsReadOnly reports whether ref lives in a region that must not be
	// mutated in place (e.g. a committed snapshot).
	IsReadOnly(ref Ref) bool
}

// HeapAllocator is the default in-memory allocator used for transient
// structures. It is never persisted. (The SubtableMap does not use it: its
// Map is a plain slice.)
type HeapAllocator struct {
	mu       sync.Mutex
	regions  map[Ref][]byte
	readOnly map[Ref]bool
	next     uint64
}

// NewHeapAllocator creates an empty heap allocator.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{
		regions:  make(map[Ref][]byte),
		readOnly: make(map[Ref]bool),
		next:     1,
	}
}

func (h *HeapAllocator) Alloc(size int) (Ref, []byte, error) {
	if size < 0 {
		return 0, nil, dberr.New(dberr.PreconditionViolation, "negative alloc size")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ref := Ref(h.next)
	h.next++
	buf := make([]byte, size)
	h.regions[ref] = buf
	return ref, buf, nil
}

func (h *HeapAllocator) Realloc(ref Ref, newSize int) (Ref, []byte, error) {
	h.mu.Lock()
	old, ok := h.regions[ref]
	wasReadOnly := h.readOnly[ref]
	h.mu.Unlock()
	if !ok {
		return 0, nil, dberr.Newf(dberr.CorruptData, "realloc of unknown ref %d", ref)
	}
	_ = wasReadOnly

	newBuf := make([]byte, newSize)
	copy(newBuf, old)

	h.mu.Lock()
	delete(h.regions, ref)
	delete(h.readOnly, ref)
	newRef := Ref(h.next)
	h.next++
	h.regions[newRef] = newBuf
	h.mu.Unlock()

	return newRef, newBuf, nil
}

func (h *HeapAllocator) Free(ref Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.regions[ref]; !ok {
		return dberr.Newf(dberr.CorruptData, "free of unknown ref %d", ref)
	}
	delete(h.regions, ref)
	delete(h.readOnly, ref)
	return nil
}

func (h *HeapAllocator) Translate(ref Ref) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.regions[ref]
	if !ok {
		return nil, dberr.Newf(dberr.CorruptData, "translate of unknown ref %d", ref)
	}
	return buf, nil
}

func (h *HeapAllocator) IsReadOnly(ref Ref) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readOnly[ref]
}

// MarkReadOnly freezes ref, simulating a committed snapshot region. Used by
// tests exercising the copy-on-write path without a full file allocator.
func (h *HeapAllocator) MarkReadOnly(ref Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readOnly[ref] = true
}

// String implements fmt.Stringer for diagnostics.
func (r Ref) String() string { return fmt.Sprintf("ref(%d)", uint64(r)) }
