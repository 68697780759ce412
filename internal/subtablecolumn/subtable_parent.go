// Package subtablecolumn implements ColumnSubtableParent and ColumnTable
// (spec §4.6, §4.7): a Column whose cells are refs to child Table
// structures, with a cache of live wrappers and ref-count coupling to the
// owning table.
package subtablecolumn

import (
	"github.com/brinchj/realm-core/internal/allocator"
	"github.com/brinchj/realm-core/internal/array"
	"github.com/brinchj/realm-core/internal/column"
	"github.com/brinchj/realm-core/internal/dberr"
	"github.com/brinchj/realm-core/internal/subtablemap"
	"github.com/brinchj/realm-core/internal/table"
)

// Owner is the capability SubtableParent needs from the table it belongs
// to: pinning it alive while descendant wrappers exist. A freestanding
// subtable column (not embedded in any table) passes a nil Owner.
type Owner interface {
	BindRef()
	UnbindRef()
}

// SubtableParent is the base behavior shared by every column that stores
// child-table refs as its cells. It is both a Column (the persisted ref
// sequence) and a table.SubtableOwner (wrappers call back into it via
// their owner back-link).
type SubtableParent struct {
	*column.Column
	alloc allocator.Allocator

	owner       Owner
	ownerTable  *table.Table
	columnIndex int

	childNumCols int

	m subtablemap.Map
}

var _ table.SubtableOwner = (*SubtableParent)(nil)
var _ array.Parent = (*SubtableParent)(nil)

// newSubtableParent builds the base for a fresh, empty subtable column.
func newSubtableParent(alloc allocator.Allocator, ownerTable *table.Table, columnIndex, childNumCols int) (*SubtableParent, error) {
	col, err := column.Create(alloc, column.Options{HasRefs: true})
	if err != nil {
		return nil, err
	}
	p := &SubtableParent{
		Column:       col,
		alloc:        alloc,
		columnIndex:  columnIndex,
		childNumCols: childNumCols,
	}
	if ownerTable != nil {
		p.owner = ownerTable
		p.ownerTable = ownerTable
	}
	return p, nil
}

// openSubtableParent wraps an existing persisted ref as a subtable column.
func openSubtableParent(alloc allocator.Allocator, ref allocator.Ref, ownerTable *table.Table, columnIndex, childNumCols int) (*SubtableParent, error) {
	col, err := column.Open(alloc, ref, column.Options{HasRefs: true})
	if err != nil {
		return nil, err
	}
	p := &SubtableParent{
		Column:       col,
		alloc:        alloc,
		columnIndex:  columnIndex,
		childNumCols: childNumCols,
	}
	if ownerTable != nil {
		p.owner = ownerTable
		p.ownerTable = ownerTable
	}
	return p, nil
}

// OwnerTable returns the table this column belongs to (may be nil for a
// freestanding column), satisfying table.SubtableOwner.
func (p *SubtableParent) OwnerTable() *table.Table { return p.ownerTable }

// ColumnIndex returns this column's logical index within its owner table,
// satisfying table.SubtableOwner.
func (p *SubtableParent) ColumnIndex() int { return p.columnIndex }

// GetSubtablePtr returns the live wrapper for row, materializing it from
// the persisted ref if absent. specRef is the shared spec ref for
// shared-spec columns (ColumnTable passes its own m_spec_ref); a zero
// specRef means the child carries its own independent spec (a future
// ColumnMixed), mirroring the original's two get_subtable_ptr overloads
// (spec §4.12). The core does not itself validate specRef against the
// child's schema — per spec §4.7 the core trusts the caller.
//
// The returned pointer must be wrapped by the caller immediately — this
// mirrors the original contract verbatim (spec §4.6) rather than
// returning a ref-counted handle itself, since this package has no
// handle type of its own; callers in this module always do so within the
// same function that calls GetSubtablePtr.
func (p *SubtableParent) GetSubtablePtr(row int, specRef allocator.Ref) (*table.Table, error) {
	_ = specRef
	if w := p.m.Find(row); w != nil {
		return w.(*table.Table), nil
	}
	ref, err := p.GetChildRef(row)
	if err != nil {
		return nil, err
	}
	child, err := table.Open(p.alloc, ref, p.childNumCols)
	if err != nil {
		return nil, err
	}
	child.SetOwner(p, row)
	child.SetRootParent(p, row)
	wasEmpty := p.m.Empty()
	p.m.Insert(row, child)
	if wasEmpty && p.owner != nil {
		p.owner.BindRef()
	}
	return child, nil
}

// GetChildRef returns the persisted ref stored at row without
// materializing a wrapper (used by GetSubtableSize for a cheap peek).
func (p *SubtableParent) GetChildRef(row int) (allocator.Ref, error) {
	v, err := p.Get(row)
	if err != nil {
		return 0, err
	}
	return allocator.Ref(v), nil
}

// UpdateChildRef is called by a child wrapper reporting that
// copy-on-write changed its top ref; the column writes the new ref into
// the row's cell.
func (p *SubtableParent) UpdateChildRef(row int, newRef allocator.Ref) error {
	return p.Set(row, int64(newRef))
}

// ChildDestroyed is called when a child wrapper's last external holder
// has released it. The column removes the map entry and, if the map
// transitions to empty, unbinds its pin on the owner table.
func (p *SubtableParent) ChildDestroyed(row int) {
	p.m.Remove(row)
	if p.m.Empty() && p.owner != nil {
		p.owner.UnbindRef()
	}
}

// UpdateFromParent re-reads the column's root parent slot; if the root
// Array remapped (an ancestor's copy-on-write touched it), propagates
// UpdateFromParent into every cached wrapper.
func (p *SubtableParent) UpdateFromParent() (bool, error) {
	changed, err := p.Column.UpdateFromParent()
	if err != nil {
		return false, err
	}
	if changed {
		if err := p.m.UpdateFromParents(); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// InvalidateSubtables dead-marks all cached wrappers, drops the map, and
// unbinds the owner pin once if the map was non-empty.
func (p *SubtableParent) InvalidateSubtables() {
	wasEmpty := p.m.Empty()
	p.m.InvalidateSubtables()
	if !wasEmpty && p.owner != nil {
		p.owner.UnbindRef()
	}
}

// Clear empties the root Array, re-asserting the has_refs bit if the
// array was reborn as a leaf, then invalidates every cached wrapper.
func (p *SubtableParent) Clear() error {
	if err := p.Column.Clear(); err != nil {
		return err
	}
	p.InvalidateSubtables()
	return nil
}

// MoveLastOver overwrites row with the column's last cell and truncates,
// an O(1) deletion that preserves subtable back-links (spec S5). Any
// wrapper for row is invalidated; the wrapper for the last row (if any)
// has its map key rewritten to row and its owner back-link row updated.
func (p *SubtableParent) MoveLastOver(row int) error {
	last := p.Size() - 1
	if row < 0 || row > last {
		return dberr.Newf(dberr.PreconditionViolation, "move_last_over: row %d out of range [0,%d]", row, last)
	}
	if w := p.m.Find(row); w != nil {
		w.(*table.Table).Invalidate()
		p.m.Remove(row)
	}
	if row != last {
		lastRef, err := p.Get(last)
		if err != nil {
			return err
		}
		if err := p.Set(row, lastRef); err != nil {
			return err
		}
		if w := p.m.Find(last); w != nil {
			p.m.Rekey(last, row)
			wrapped := w.(*table.Table)
			wrapped.SetOwner(p, row)
			wrapped.SetRootParent(p, row)
		}
	}
	return p.Erase(last)
}
