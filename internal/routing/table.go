// Package routing implements the sink-only routing table: a collection of
// (child, parent) entries learned from piggybacked reverse-path
// information, with fixed or growing capacity.
package routing

import "github.com/tratteo/meshcollect/pkg/addr"

// Entry is a single row: child reports parent as its current parent.
type Entry struct {
	Child  addr.Addr
	Parent addr.Addr
}

// Table is an unordered collection of Entry rows, at most one per Child,
// iterated in insertion order.
type Table struct {
	entries     []Entry
	allowResize bool
}

// New allocates a Table with the given initial capacity. If allowResize is
// false, Add fails once the table reaches that capacity; otherwise capacity
// doubles on demand.
func New(size int, allowResize bool) *Table {
	return &Table{
		entries:     make([]Entry, 0, size),
		allowResize: allowResize,
	}
}

// Get returns the index and a copy of the entry matching child, by
// equality, or ok=false if no such entry exists.
func (t *Table) Get(child addr.Addr) (index int, entry Entry, ok bool) {
	for i, e := range t.entries {
		if e.Child.Equal(child) {
			return i, e, true
		}
	}
	return -1, Entry{}, false
}

// Add appends entry if no row for entry.Child exists yet. It fails if the
// table is at capacity and resizing is not permitted; otherwise the backing
// array is grown (doubled) first.
func (t *Table) Add(entry Entry) bool {
	if _, _, ok := t.Get(entry.Child); ok {
		return false
	}
	if len(t.entries) == cap(t.entries) {
		if !t.allowResize {
			return false
		}
		newCap := cap(t.entries) * 2
		if newCap == 0 {
			newCap = 1
		}
		grown := make([]Entry, len(t.entries), newCap)
		copy(grown, t.entries)
		t.entries = grown
	}
	t.entries = append(t.entries, entry)
	return true
}

// Update overwrites the row matching entry.Child in place. It is a no-op,
// returning false, if no such row exists.
func (t *Table) Update(entry Entry) bool {
	idx, _, ok := t.Get(entry.Child)
	if !ok {
		return false
	}
	t.entries[idx] = entry
	return true
}

// Len returns the number of rows currently stored.
func (t *Table) Len() int {
	return len(t.entries)
}

// Cap returns the current backing capacity.
func (t *Table) Cap() int {
	return cap(t.entries)
}

// Entries returns a copy of every row, in insertion order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Close releases the table's backing array.
func (t *Table) Close() {
	t.entries = nil
}
