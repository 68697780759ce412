package table

import (
	"github.com/brinchj/realm-core/internal/allocator"
	"github.com/brinchj/realm-core/internal/array"
	"github.com/brinchj/realm-core/internal/dberr"
)

// rootSlot indexes the fixed-shape file root Array (spec §6: "a top-level
// Array of refs: {spec_set_ref, column_refs_ref, column_names_ref, …}").
const (
	rootSlotSpecSet = iota
	rootSlotColumnRefs
	rootSlotColumnNames
	rootSlotCount
)

// Root wraps the Array a FileAllocator's persisted root ref points at: the
// anchor a caller opens first to reach everything else in the arena. It is
// itself just an Array of refs, built the same way Table builds its own
// column-refs Array.
type Root struct {
	alloc allocator.Allocator
	arr   *array.Array
}

// NewRoot creates a fresh file root with all three slots zeroed.
func NewRoot(alloc allocator.Allocator) (*Root, error) {
	arr, err := array.Create(alloc, true, true, array.Normal)
	if err != nil {
		return nil, err
	}
	for i := 0; i < rootSlotCount; i++ {
		if err := arr.Add(0); err != nil {
			return nil, err
		}
	}
	return &Root{alloc: alloc, arr: arr}, nil
}

// OpenRoot wraps an existing persisted root ref (e.g. FileAllocator.RootRef()).
func OpenRoot(alloc allocator.Allocator, ref allocator.Ref) (*Root, error) {
	arr, err := array.Open(alloc, ref)
	if err != nil {
		return nil, err
	}
	if arr.Len() != rootSlotCount {
		return nil, dberr.Newf(dberr.CorruptData, "file root has %d slots, want %d", arr.Len(), rootSlotCount)
	}
	return &Root{alloc: alloc, arr: arr}, nil
}

// Ref returns the root Array's own ref — what a FileAllocator's
// SetRootRef/RootRef persists across opens.
func (r *Root) Ref() allocator.Ref { return r.arr.Ref() }

// SpecSetRef returns the persisted schema (spec-set) ref.
func (r *Root) SpecSetRef() (allocator.Ref, error) {
	v, err := r.arr.Get(rootSlotSpecSet)
	return allocator.Ref(v), err
}

// SetSpecSetRef records the schema's root ref.
func (r *Root) SetSpecSetRef(ref allocator.Ref) error {
	return r.arr.Set(rootSlotSpecSet, int64(ref))
}

// ColumnRefsRef returns the ref of the top-level Table's column-refs Array.
func (r *Root) ColumnRefsRef() (allocator.Ref, error) {
	v, err := r.arr.Get(rootSlotColumnRefs)
	return allocator.Ref(v), err
}

// SetColumnRefsRef records the top-level Table's root ref.
func (r *Root) SetColumnRefsRef(ref allocator.Ref) error {
	return r.arr.Set(rootSlotColumnRefs, int64(ref))
}

// ColumnNamesRef returns the ref of the column-names Array.
func (r *Root) ColumnNamesRef() (allocator.Ref, error) {
	v, err := r.arr.Get(rootSlotColumnNames)
	return allocator.Ref(v), err
}

// SetColumnNamesRef records the column-names Array's ref.
func (r *Root) SetColumnNamesRef(ref allocator.Ref) error {
	return r.arr.Set(rootSlotColumnNames, int64(ref))
}

// BindTable installs t as the top-level table this root anchors.
func (r *Root) BindTable(t *Table) error {
	return r.SetColumnRefsRef(t.Ref())
}

// OpenTable re-opens the top-level table this root anchors, given the
// column count recorded in the (out-of-scope-here) schema.
func (r *Root) OpenTable(numColumns int) (*Table, error) {
	ref, err := r.ColumnRefsRef()
	if err != nil {
		return nil, err
	}
	return Open(r.alloc, ref, numColumns)
}
