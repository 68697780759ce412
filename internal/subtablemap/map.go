// Package subtablemap implements the per-column cache of live subtable
// wrappers (spec §4.5). It is purely in-memory and never persisted: the
// original engine modeled it as two parallel on-disk Arrays drawn from a
// heap allocator, an artifact of reusing the Array type outside the arena
// (spec §9's design notes call this out explicitly). In a GC'd target the
// same contract is an ordinary row-keyed mapping with a linear-scan find,
// so that is what this package is.
package subtablemap

// Wrapper is the capability a live subtable wrapper must expose to its
// owning column: forcing it into the dead state when an ancestor
// structure changes incompatibly, and re-reading its own parent slots
// after a commit remapped refs.
type Wrapper interface {
	Invalidate()
	UpdateFromParent() (bool, error)
}

// entry pairs a row index with its live wrapper. Kept as a slice (not a
// Go map) because the original's find is a bounded linear scan over the
// small number of simultaneously live subtables in a column, and Rekey
// (see move_last_over, spec §4.6) needs to rewrite a row in place without
// disturbing wrapper identity.
type entry struct {
	row     int
	wrapper Wrapper
}

// Map is the subtable wrapper cache owned by exactly one
// ColumnSubtableParent. At most one wrapper exists per row index at any
// moment (spec's testable property 5).
type Map struct {
	entries []entry
}

// Find returns the live wrapper for row, or nil if absent.
func (m *Map) Find(row int) Wrapper {
	for i := range m.entries {
		if m.entries[i].row == row {
			return m.entries[i].wrapper
		}
	}
	return nil
}

// Insert records a newly materialized wrapper for row. Duplicates are
// forbidden by the spec; inserting over an existing row is a programming
// error in the caller (ColumnSubtableParent.GetSubtablePtr always calls
// Find first).
func (m *Map) Insert(row int, w Wrapper) {
	m.entries = append(m.entries, entry{row: row, wrapper: w})
}

// Remove deletes the entry for row by first match, swap-removing with the
// last entry to keep the operation infallible and O(1) — spec §9 flags
// the original's remove as having an unclear rollback story when called
// from a failing Array::erase path; making it swap-remove sidesteps that
// by never allocating or shifting a suffix.
func (m *Map) Remove(row int) {
	for i := range m.entries {
		if m.entries[i].row == row {
			last := len(m.entries) - 1
			m.entries[i] = m.entries[last]
			m.entries = m.entries[:last]
			return
		}
	}
}

// Rekey rewrites the row index of the entry currently keyed at oldRow to
// newRow, preserving the live wrapper's identity. Used by move_last_over
// (spec S5) when the last row's wrapper slides down into the row being
// erased.
func (m *Map) Rekey(oldRow, newRow int) {
	for i := range m.entries {
		if m.entries[i].row == oldRow {
			m.entries[i].row = newRow
			return
		}
	}
}

// UpdateFromParents calls UpdateFromParent on every cached wrapper — used
// after a commit remapped refs upstream of this column's root.
func (m *Map) UpdateFromParents() error {
	for _, e := range m.entries {
		if _, err := e.wrapper.UpdateFromParent(); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateSubtables marks every wrapper dead, then clears the map.
func (m *Map) InvalidateSubtables() {
	for _, e := range m.entries {
		e.wrapper.Invalidate()
	}
	m.entries = nil
}

// Empty reports whether no wrapper is currently cached.
func (m *Map) Empty() bool { return len(m.entries) == 0 }

// Len returns the number of live wrappers (diagnostics/tests).
func (m *Map) Len() int { return len(m.entries) }
