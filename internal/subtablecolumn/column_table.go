package subtablecolumn

import (
	"github.com/brinchj/realm-core/internal/allocator"
	"github.com/brinchj/realm-core/internal/array"
	"github.com/brinchj/realm-core/internal/column"
	"github.com/brinchj/realm-core/internal/table"
)

// Table is ColumnTable (spec §4.7): a subtable column specialized for
// children that share one persisted spec (schema). It adds the spec ref
// and the operations that create fresh child tables on demand.
type Table struct {
	*SubtableParent
	specRef allocator.Ref
}

// NewColumnTable builds a fresh, empty shared-spec subtable column.
// childNumCols is the column count every child table will be created
// with (the shared schema's width); the core does not itself validate it
// against specRef (spec §4.7 trusts the caller).
func NewColumnTable(alloc allocator.Allocator, ownerTable *table.Table, columnIndex, childNumCols int, specRef allocator.Ref) (*Table, error) {
	base, err := newSubtableParent(alloc, ownerTable, columnIndex, childNumCols)
	if err != nil {
		return nil, err
	}
	return &Table{SubtableParent: base, specRef: specRef}, nil
}

// OpenColumnTable wraps an existing persisted ref as a shared-spec
// subtable column.
func OpenColumnTable(alloc allocator.Allocator, ref allocator.Ref, ownerTable *table.Table, columnIndex, childNumCols int, specRef allocator.Ref) (*Table, error) {
	base, err := openSubtableParent(alloc, ref, ownerTable, columnIndex, childNumCols)
	if err != nil {
		return nil, err
	}
	return &Table{SubtableParent: base, specRef: specRef}, nil
}

// SpecRef returns the shared spec ref (m_spec_ref in the original).
func (c *Table) SpecRef() allocator.Ref { return c.specRef }

// SubtablesHaveSharedSpec is always true for ColumnTable — the
// distinguishing trait from a future independent-spec ColumnMixed.
func (c *Table) SubtablesHaveSharedSpec() bool { return true }

// GetSubtablePtr delegates to the base with this column's shared spec ref
// attached.
func (c *Table) GetSubtablePtr(row int) (*table.Table, error) {
	return c.SubtableParent.GetSubtablePtr(row, c.specRef)
}

// GetSubtableSize returns the row count of the subtable at row without
// materializing a full wrapper: it peeks at the child's root Array (the
// column-refs array) to find column 0's ref, then opens just that one
// column and reads its length — every column in a table has the same row
// count, so one column suffices.
func (c *Table) GetSubtableSize(row int) (int, error) {
	if c.childNumCols == 0 {
		return 0, nil
	}
	ref, err := c.GetChildRef(row)
	if err != nil {
		return 0, err
	}
	root, err := array.Open(c.alloc, ref)
	if err != nil {
		return 0, err
	}
	col0Ref, err := root.Get(0)
	if err != nil {
		return 0, err
	}
	col0, err := column.Open(c.alloc, allocator.Ref(col0Ref), column.Options{})
	if err != nil {
		return 0, err
	}
	return col0.Size(), nil
}

// newEmptyChildRef creates a fresh, empty child table sharing this
// column's schema width and returns just its root ref.
func (c *Table) newEmptyChildRef() (allocator.Ref, error) {
	child, err := table.New(c.alloc, c.childNumCols)
	if err != nil {
		return 0, err
	}
	return child.Ref(), nil
}

// Add appends a fresh, empty child-table ref.
func (c *Table) Add() error {
	ref, err := c.newEmptyChildRef()
	if err != nil {
		return err
	}
	return c.Column.Add(int64(ref))
}

// Insert inserts a fresh, empty child-table ref at row.
func (c *Table) Insert(row int) error {
	ref, err := c.newEmptyChildRef()
	if err != nil {
		return err
	}
	return c.Column.Insert(row, int64(ref))
}

// AddTable appends a clone of src's columns (the core trusts the caller
// that src's schema matches this column's shared spec).
func (c *Table) AddTable(src *table.Table) error {
	ref, err := src.CloneColumns(c.alloc)
	if err != nil {
		return err
	}
	return c.Column.Add(int64(ref))
}

// InsertTable inserts a clone of src's columns at row.
func (c *Table) InsertTable(row int, src *table.Table) error {
	ref, err := src.CloneColumns(c.alloc)
	if err != nil {
		return err
	}
	return c.Column.Insert(row, int64(ref))
}

// SetTable replaces row's child-table ref with a clone of src's columns.
// Any wrapper currently cached for row is invalidated first, since its
// contents are being wholesale replaced out from under it.
func (c *Table) SetTable(row int, src *table.Table) error {
	if w := c.m.Find(row); w != nil {
		w.(*table.Table).Invalidate()
		c.m.Remove(row)
	}
	ref, err := src.CloneColumns(c.alloc)
	if err != nil {
		return err
	}
	return c.Column.Set(row, int64(ref))
}

// Erase removes row. Any cached wrapper for row is invalidated first;
// rows above it are not reindexed in the subtable map, mirroring the
// original (move_last_over exists precisely to avoid this O(n) problem —
// spec §4.6).
func (c *Table) Erase(row int) error {
	if w := c.m.Find(row); w != nil {
		w.(*table.Table).Invalidate()
		c.m.Remove(row)
	}
	return c.Column.Erase(row)
}

// ClearTable empties the subtable at row in place (every column of that
// child table truncated to zero rows), as opposed to Clear() which
// empties the whole column of subtables.
func (c *Table) ClearTable(row int) error {
	sub, err := c.GetSubtablePtr(row)
	if err != nil {
		return err
	}
	for i := 0; i < sub.NumColumns(); i++ {
		if err := sub.Column(i).Clear(); err != nil {
			return err
		}
	}
	return nil
}

// Fill appends fresh empty child-table refs until the column reaches
// count rows.
func (c *Table) Fill(count int) error {
	for c.Size() < count {
		if err := c.Add(); err != nil {
			return err
		}
	}
	return nil
}

// CompareTable reports whether two shared-spec subtable columns hold row-
// for-row identical contents, recursing into each pair of child tables.
func (c *Table) CompareTable(other *Table) (bool, error) {
	if c.Size() != other.Size() {
		return false, nil
	}
	for i := 0; i < c.Size(); i++ {
		a, err := c.GetSubtablePtr(i)
		if err != nil {
			return false, err
		}
		b, err := other.GetSubtablePtr(i)
		if err != nil {
			return false, err
		}
		eq, err := a.CompareRows(b)
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}
