// Package table implements the minimal Table capability surface consumed
// by the storage core (spec §3, §4.8): bind_ref/unbind_ref, invalidate,
// update_from_parent, compare_rows, clone_columns, and record_subtable_path.
//
// A Table is a reference-counted container whose lifecycle is governed by
// explicit Bind/Unbind calls from an owning subtable column, with Invalidate
// as a forced-dead state (spec §4.8's wrapper lifecycle state machine).
package table

import (
	"github.com/brinchj/realm-core/internal/allocator"
	"github.com/brinchj/realm-core/internal/array"
	"github.com/brinchj/realm-core/internal/column"
	"github.com/brinchj/realm-core/internal/dberr"
)

// State is a point in the wrapper lifecycle state machine: Absent → Live →
// {Invalidated, Destroyed}; Invalidated → Destroyed. Absent is represented
// by the lack of a Table object (no wrapper materialized yet) rather than
// a State value.
type State int

const (
	Live State = iota
	Invalidated
	Destroyed
)

func (s State) String() string {
	switch s {
	case Live:
		return "Live"
	case Invalidated:
		return "Invalidated"
	case Destroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// SubtableOwner is the back-link a Table holds when it was materialized as
// a subtable wrapper, letting record_subtable_path walk back up the
// ancestry chain without this package depending on the subtablecolumn
// package (which depends on this one).
type SubtableOwner interface {
	OwnerTable() *Table
	ColumnIndex() int
}

// columnParent adapts Table.root as the Parent of each of its Columns.
type columnParent struct{ t *Table }

func (p *columnParent) UpdateChildRef(index int, newRef allocator.Ref) error {
	return p.t.root.Set(index, int64(newRef))
}

func (p *columnParent) GetChildRef(index int) (allocator.Ref, error) {
	return allocator.Ref(mustGet(p.t.root, index)), nil
}

func mustGet(a *array.Array, i int) int64 {
	v, _ := a.Get(i)
	return v
}

// Table is a row-oriented collection of Columns, addressed by a single
// root ref (an Array of per-column refs — spec §6's "column_refs_ref").
type Table struct {
	alloc   allocator.Allocator
	root    *array.Array
	columns []*column.Column

	state    State
	refCount int // net bind_ref - unbind_ref calls from descendant subtable columns

	owner    SubtableOwner
	rowInOwner int
}

// New creates a fresh Table with numColumns empty columns.
func New(alloc allocator.Allocator, numColumns int) (*Table, error) {
	root, err := array.Create(alloc, false, true, array.Normal)
	if err != nil {
		return nil, err
	}
	t := &Table{alloc: alloc, root: root, columns: make([]*column.Column, numColumns)}
	for i := 0; i < numColumns; i++ {
		col, err := column.Create(alloc, column.Options{})
		if err != nil {
			return nil, err
		}
		if err := root.Add(int64(col.GetRef())); err != nil {
			return nil, err
		}
		col.SetParent(&columnParent{t: t}, i)
		t.columns[i] = col
	}
	return t, nil
}

// Open wraps an existing root ref (numColumns must match the persisted
// column count; the core trusts the caller per spec's schema-matching note).
func Open(alloc allocator.Allocator, ref allocator.Ref, numColumns int) (*Table, error) {
	root, err := array.Open(alloc, ref)
	if err != nil {
		return nil, err
	}
	if root.Len() != numColumns {
		return nil, dberr.Newf(dberr.CorruptData, "table root has %d columns, expected %d", root.Len(), numColumns)
	}
	t := &Table{alloc: alloc, root: root, columns: make([]*column.Column, numColumns)}
	for i := 0; i < numColumns; i++ {
		colRef := allocator.Ref(mustGet(root, i))
		col, err := column.Open(alloc, colRef, column.Options{})
		if err != nil {
			return nil, err
		}
		col.SetParent(&columnParent{t: t}, i)
		t.columns[i] = col
	}
	return t, nil
}

// Ref returns the table's root ref.
func (t *Table) Ref() allocator.Ref { return t.root.Ref() }

// Column returns the i'th column.
func (t *Table) Column(i int) *column.Column { return t.columns[i] }

// NumColumns returns the column count.
func (t *Table) NumColumns() int { return len(t.columns) }

// SetRootParent installs the back-link from this table's root Array to
// the slot that holds its ref — the owning subtable column, keyed by
// row. This is how a subtable's top-level copy-on-write propagates up
// into the cell of the column that owns it (spec S6): the column
// satisfies array.Parent directly, since its UpdateChildRef/GetChildRef
// operate on exactly this same (row → ref) mapping.
func (t *Table) SetRootParent(p array.Parent, row int) {
	t.root.SetParent(p, row)
}

// State returns the current lifecycle state.
func (t *Table) State() State { return t.state }

// SetOwner records that this Table was materialized as a subtable wrapper
// owned by owner (which reports its own column index), at row.
func (t *Table) SetOwner(owner SubtableOwner, row int) {
	t.owner = owner
	t.rowInOwner = row
}

// BindRef pins the table alive: called by a descendant subtable column
// when its wrapper map transitions from empty to non-empty.
func (t *Table) BindRef() { t.refCount++ }

// UnbindRef releases one pin: called when a descendant subtable column's
// wrapper map transitions back to empty.
func (t *Table) UnbindRef() {
	t.refCount--
	if t.refCount < 0 {
		t.refCount = 0
	}
}

// RefCount returns the current pin count (for tests/diagnostics).
func (t *Table) RefCount() int { return t.refCount }

// Invalidate forces the table into the dead state. From then on
// UpdateFromParent and CompareRows fail with dberr.StaleSubtable; Column,
// Ref, NumColumns and the other accessors do not check the state.
func (t *Table) Invalidate() {
	if t.state == Live {
		t.state = Invalidated
	}
}

// Destroy marks the table fully gone. Only valid once no holder remains.
func (t *Table) Destroy() error {
	t.state = Destroyed
	for _, c := range t.columns {
		if err := c.Destroy(); err != nil {
			return err
		}
	}
	return t.root.Destroy()
}

// checkLive returns dberr.StaleSubtable if the table is not in the Live
// state.
func (t *Table) checkLive() error {
	if t.state != Live {
		return dberr.Newf(dberr.StaleSubtable, "table is %s", t.state)
	}
	return nil
}

// UpdateFromParent re-reads every column's parent slot, propagating any
// ref remapping caused by an ancestor's copy-on-write.
func (t *Table) UpdateFromParent() (bool, error) {
	if err := t.checkLive(); err != nil {
		return false, err
	}
	any := false
	for _, c := range t.columns {
		changed, err := c.UpdateFromParent()
		if err != nil {
			return any, err
		}
		any = any || changed
	}
	return any, nil
}

// CompareRows reports whether t and other hold identical column contents.
func (t *Table) CompareRows(other *Table) (bool, error) {
	if err := t.checkLive(); err != nil {
		return false, err
	}
	if len(t.columns) != len(other.columns) {
		return false, nil
	}
	for i, c := range t.columns {
		eq, err := c.Compare(other.columns[i])
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}

// CloneColumns builds a fresh, schema-identical, empty Table (the core
// trusts the caller that the schema matches any template it intends to
// populate from) and returns its root ref.
func (t *Table) CloneColumns(alloc allocator.Allocator) (allocator.Ref, error) {
	clone, err := New(alloc, len(t.columns))
	if err != nil {
		return 0, err
	}
	return clone.Ref(), nil
}

// RecordSubtablePath writes this table's ancestry chain (column index,
// row index pairs, innermost first) into path starting at pos, recursing
// into the owner table. It returns the new position and false if path is
// too small to hold the full chain (spec §4.6's buffer-underflow contract,
// resolved per §9's Open Question as an explicit (length, ok) pair rather
// than an ambiguous null return).
func (t *Table) RecordSubtablePath(path []int, pos int) (int, bool) {
	if t.owner == nil {
		return pos, true
	}
	if pos+1 >= len(path) {
		return pos, false
	}
	path[pos] = t.owner.ColumnIndex()
	path[pos+1] = t.rowInOwner
	pos += 2
	return t.owner.OwnerTable().RecordSubtablePath(path, pos)
}
