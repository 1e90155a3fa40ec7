package addrxlate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmcage/cagekernel/internal/vmmap"
)

func TestTranslateHappyPath(t *testing.T) {
	vm := vmmap.New(0, 1<<20)
	vm.SetBaseAddress(0x1000)
	require.True(t, vm.AddEntry(vmmap.Entry{StartPage: 0, NumPages: 16, Prot: vmmap.ProtRead | vmmap.ProtWrite}))

	tr := New(vm)
	ptr, err := tr.Translate(0x500, 0x10, vmmap.ProtRead)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x1000+0x500), uintptr(ptr))
}

func TestTranslateUnmappedFails(t *testing.T) {
	vm := vmmap.New(0, 1<<20)
	tr := New(vm)
	_, err := tr.Translate(0x1000, 8, vmmap.ProtRead)
	require.ErrorIs(t, err, ErrUnmapped)
}

func TestTranslateInsufficientProtFails(t *testing.T) {
	vm := vmmap.New(0, 1<<20)
	require.True(t, vm.AddEntry(vmmap.Entry{StartPage: 0, NumPages: 16, Prot: vmmap.ProtRead}))
	tr := New(vm)
	_, err := tr.Translate(0, 8, vmmap.ProtWrite)
	require.ErrorIs(t, err, ErrInsufficientProt)
}

func TestTranslateZeroLengthAlwaysSucceeds(t *testing.T) {
	vm := vmmap.New(0, 1<<20)
	tr := New(vm)
	_, err := tr.Translate(0xdeadbeef, 0, vmmap.ProtRead)
	require.NoError(t, err)
}

func TestTranslateSpanningGapFails(t *testing.T) {
	vm := vmmap.New(0, 1<<20)
	require.True(t, vm.AddEntry(vmmap.Entry{StartPage: 0, NumPages: 1, Prot: vmmap.ProtRead}))
	// Page 1 is unmapped, so a range spanning pages 0 and 1 must fail.
	tr := New(vm)
	_, err := tr.Translate(0, uint64(2<<vmmap.PageShift), vmmap.ProtRead)
	require.ErrorIs(t, err, ErrUnmapped)
}

func TestTranslateCacheInvalidatedByMutation(t *testing.T) {
	vm := vmmap.New(0, 1<<20)
	require.True(t, vm.AddEntry(vmmap.Entry{StartPage: 0, NumPages: 16, Prot: vmmap.ProtRead}))
	tr := New(vm)

	_, err := tr.Translate(0, 8, vmmap.ProtRead)
	require.NoError(t, err)

	require.NoError(t, vm.ChangeProt(0, 16, vmmap.ProtNone))

	_, err = tr.Translate(0, 8, vmmap.ProtRead)
	require.ErrorIs(t, err, ErrInsufficientProt)
}
