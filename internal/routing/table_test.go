package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tratteo/meshcollect/pkg/addr"
)

func a(n byte) addr.Addr { return addr.Addr{0, n} }

func TestAddAndGet(t *testing.T) {
	tbl := New(4, false)
	require.True(t, tbl.Add(Entry{Child: a(1), Parent: a(2)}))
	_, entry, ok := tbl.Get(a(1))
	require.True(t, ok)
	require.True(t, entry.Parent.Equal(a(2)))
}

func TestAddDuplicateChildRejected(t *testing.T) {
	tbl := New(4, false)
	tbl.Add(Entry{Child: a(1), Parent: a(2)})
	if tbl.Add(Entry{Child: a(1), Parent: a(3)}) {
		t.Fatal("Add with existing child: want false")
	}
	_, entry, _ := tbl.Get(a(1))
	if !entry.Parent.Equal(a(2)) {
		t.Fatalf("Parent after rejected re-add = %v, want unchanged (2)", entry.Parent)
	}
}

func TestAddAtCapacityFixedRejects(t *testing.T) {
	tbl := New(1, false)
	if !tbl.Add(Entry{Child: a(1), Parent: a(9)}) {
		t.Fatal("first Add: want true")
	}
	if tbl.Add(Entry{Child: a(2), Parent: a(9)}) {
		t.Fatal("Add beyond fixed capacity: want false")
	}
}

func TestAddGrowsWhenResizable(t *testing.T) {
	tbl := New(1, true)
	tbl.Add(Entry{Child: a(1), Parent: a(9)})
	require.True(t, tbl.Add(Entry{Child: a(2), Parent: a(9)}), "Add beyond initial capacity with resize allowed")
	require.Equal(t, 2, tbl.Len())
	require.GreaterOrEqual(t, tbl.Cap(), 2)
}

func TestUpdateOnlyExistingChild(t *testing.T) {
	tbl := New(4, false)
	tbl.Add(Entry{Child: a(1), Parent: a(2)})
	if !tbl.Update(Entry{Child: a(1), Parent: a(5)}) {
		t.Fatal("Update existing: want true")
	}
	_, entry, _ := tbl.Get(a(1))
	if !entry.Parent.Equal(a(5)) {
		t.Fatalf("Parent after Update = %v, want 5", entry.Parent)
	}
	if tbl.Update(Entry{Child: a(9), Parent: a(5)}) {
		t.Fatal("Update on absent child: want false")
	}
}

func TestEntriesIsACopy(t *testing.T) {
	tbl := New(4, false)
	tbl.Add(Entry{Child: a(1), Parent: a(2)})
	entries := tbl.Entries()
	entries[0].Parent = a(99)
	_, entry, _ := tbl.Get(a(1))
	if entry.Parent.Equal(a(99)) {
		t.Fatal("mutating Entries() result affected the table")
	}
}
