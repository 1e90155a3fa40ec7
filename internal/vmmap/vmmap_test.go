package vmmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddEntryRejectsOverlap(t *testing.T) {
	v := New(0, 1<<20)
	require.True(t, v.AddEntry(Entry{StartPage: 100, NumPages: 10, Prot: ProtRead}))
	require.False(t, v.AddEntry(Entry{StartPage: 105, NumPages: 10, Prot: ProtWrite}))
	require.Len(t, v.Snapshot(), 1)
}

func TestChangeProtSplitsThreeWays(t *testing.T) {
	v := New(0, 1<<20)
	require.True(t, v.AddEntry(Entry{StartPage: 100, NumPages: 10, Prot: ProtRead | ProtWrite, MaxProt: ProtRead | ProtWrite}))

	require.NoError(t, v.ChangeProt(102, 4, ProtRead))

	entries := v.Snapshot()
	require.Len(t, entries, 3)
	require.Equal(t, Entry{StartPage: 100, NumPages: 2, Prot: ProtRead | ProtWrite, MaxProt: ProtRead | ProtWrite}, entries[0])
	require.Equal(t, uint32(102), entries[1].StartPage)
	require.Equal(t, uint32(4), entries[1].NumPages)
	require.Equal(t, ProtRead, entries[1].Prot)
	require.Equal(t, Entry{StartPage: 106, NumPages: 4, Prot: ProtRead | ProtWrite, MaxProt: ProtRead | ProtWrite}, entries[2])
}

func TestChangeProtNoopLeavesEntryWhole(t *testing.T) {
	v := New(0, 1<<20)
	require.True(t, v.AddEntry(Entry{StartPage: 100, NumPages: 10, Prot: ProtRead}))
	require.NoError(t, v.ChangeProt(100, 10, ProtRead))
	require.Len(t, v.Snapshot(), 1)
}

func TestAddEntryWithOverwriteSpanningEntries(t *testing.T) {
	v := New(0, 1<<20)
	require.True(t, v.AddEntry(Entry{StartPage: 100, NumPages: 5, Prot: ProtRead}))
	require.True(t, v.AddEntry(Entry{StartPage: 110, NumPages: 5, Prot: ProtWrite}))
	require.True(t, v.AddEntry(Entry{StartPage: 120, NumPages: 5, Prot: ProtExec}))

	require.NoError(t, v.AddEntryWithOverwrite(95, 35, ProtRead|ProtWrite, ProtRead|ProtWrite, FlagPrivate, Backing{Kind: BackingAnonymous}, 0, 0, 1))

	entries := v.Snapshot()
	require.Len(t, entries, 1)
	require.Equal(t, uint32(95), entries[0].StartPage)
	require.Equal(t, uint32(35), entries[0].NumPages)
	require.Equal(t, ProtRead|ProtWrite, entries[0].Prot)
}

// Overwrite then remove over the same interval restores the untouched
// portions.
func TestOverwriteThenRemoveRestoresOutsidePortions(t *testing.T) {
	v := New(0, 1<<20)
	original := Entry{StartPage: 90, NumPages: 30, Prot: ProtRead, MaxProt: ProtRead}
	require.True(t, v.AddEntry(original))

	require.NoError(t, v.AddEntryWithOverwrite(100, 10, ProtWrite, ProtWrite, FlagPrivate, Backing{}, 0, 0, 1))
	require.NoError(t, v.RemoveEntry(100, 10))

	entries := v.Snapshot()
	require.Len(t, entries, 2)
	require.Equal(t, uint32(90), entries[0].StartPage)
	require.Equal(t, uint32(10), entries[0].NumPages)
	require.Equal(t, original.Prot, entries[0].Prot)
	require.Equal(t, uint32(110), entries[1].StartPage)
	require.Equal(t, uint32(10), entries[1].NumPages)
}

func TestRemoveEntryUnmappedRangeIsNotError(t *testing.T) {
	v := New(0, 1<<20)
	require.NoError(t, v.RemoveEntry(5, 5))
	require.Empty(t, v.Snapshot())
}

func TestRemoveEntryZeroLengthIsInvalid(t *testing.T) {
	v := New(0, 1<<20)
	err := v.RemoveEntry(5, 0)
	require.Error(t, err)
}

func TestCheckExistingMapping(t *testing.T) {
	v := New(0, 1<<20)
	require.True(t, v.AddEntry(Entry{StartPage: 0, NumPages: 10, Prot: ProtRead, MaxProt: ProtRead | ProtWrite}))

	require.True(t, v.CheckExistingMapping(0, 10, ProtRead))
	require.True(t, v.CheckExistingMapping(0, 10, ProtWrite))
	require.False(t, v.CheckExistingMapping(0, 10, ProtExec))
	require.False(t, v.CheckExistingMapping(0, 20, ProtRead))
}

func TestFindSpaceReservesGuardPage(t *testing.T) {
	v := New(0, 100)
	require.True(t, v.AddEntry(Entry{StartPage: 8, NumPages: 10})) // [8,18)

	iv, ok := v.FindSpace(5)
	require.True(t, ok)
	require.Equal(t, Interval{Start: 0, End: 5}, iv)

	// The [0,8) gap only fits 7 real pages once the guard page is reserved,
	// so 9 pages must be placed after the [8,18) entry.
	iv, ok = v.FindSpaceAboveHint(9, 0)
	require.True(t, ok)
	require.Equal(t, uint32(18), iv.Start)
}

func TestFindMapSpaceIsAlignedAndFlushHigh(t *testing.T) {
	v := New(0, 1000)
	iv, ok := v.FindMapSpace(10, 16)
	require.True(t, ok)
	require.Equal(t, uint32(0), iv.Start%16)
	require.Equal(t, uint32(0), iv.End%16)
	require.GreaterOrEqual(t, iv.NumPages(), uint32(10))
	// The only gap is [0,1000); its highest 16-aligned end is 992.
	require.Equal(t, uint32(992), iv.End)
}

func TestCloneIsIndependent(t *testing.T) {
	v := New(0, 1<<20)
	require.True(t, v.AddEntry(Entry{StartPage: 0, NumPages: 10, Prot: ProtRead}))

	clone := v.Clone()
	require.Equal(t, v.Snapshot(), clone.Snapshot())

	require.True(t, clone.AddEntry(Entry{StartPage: 50, NumPages: 1}))
	require.Len(t, v.Snapshot(), 1)
	require.Len(t, clone.Snapshot(), 2)
}

func TestClearEmptiesMap(t *testing.T) {
	v := New(0, 1<<20)
	require.True(t, v.AddEntry(Entry{StartPage: 0, NumPages: 10}))
	v.Clear()
	require.Empty(t, v.Snapshot())
}

func TestProtCovers(t *testing.T) {
	require.True(t, ProtWrite.Covers(ProtRead)) // implicit read
	require.False(t, ProtNone.Covers(ProtRead))
	require.True(t, (ProtRead | ProtWrite).Covers(ProtWrite))
}
