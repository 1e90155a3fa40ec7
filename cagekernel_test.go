package cagekernel

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/wasmcage/cagekernel/internal/sig"
	"github.com/wasmcage/cagekernel/internal/unwind"
)

type noopRuntime struct{}

func (noopRuntime) StartUnwind(unwind.ThreadHandle, uint64)        {}
func (noopRuntime) StopUnwind(unwind.ThreadHandle)                 {}
func (noopRuntime) StartRewind(unwind.ThreadHandle, uint64, int32) {}
func (noopRuntime) StopRewind(unwind.ThreadHandle)                 {}
func (noopRuntime) OnCalled(unwind.ThreadHandle, func())           {}
func (noopRuntime) CopyMemory(src, dst unwind.ThreadHandle)        {}
func (noopRuntime) InvokeEntry(unwind.ThreadHandle)                {}
func (noopRuntime) NewInstance(cageID uint64, shareMemory bool) (unwind.ThreadHandle, error) {
	return unwind.ThreadHandle{CageID: cageID}, nil
}

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	k, err := Init(noopRuntime{}, Config{SandboxRoot: t.TempDir(), Verbosity: logrus.ErrorLevel})
	require.NoError(t, err)
	return k
}

func TestInitCreatesUtilityAndInitCages(t *testing.T) {
	k := newTestKernel(t)
	require.NotPanics(t, func() { k.Cages().GetRef(UtilityCageID) })
	require.NotPanics(t, func() { k.Cages().GetRef(InitCageID) })
}

func TestCageMemoryInitInstallsGuardPages(t *testing.T) {
	k := newTestKernel(t)
	mem := make([]byte, 1<<20)
	k.CageMemoryInit(InitCageID, uintptr(0), uint32(len(mem))>>12)

	vm := k.Cages().GetRef(InitCageID).Vmmap()
	_, mapped := vm.EntryAt(0)
	require.True(t, mapped, "the null-page guard must be present")
}

func TestDispatchUnknownSyscallReturnsMinusOne(t *testing.T) {
	k := newTestKernel(t)
	result := k.Dispatch(InitCageID, 199, 0, [6]uint64{}, [6]uint64{})
	require.Equal(t, int32(-1), result)
}

func TestDispatchUnknownCageReturnsFault(t *testing.T) {
	k := newTestKernel(t)
	result := k.Dispatch(999, 1, 0, [6]uint64{}, [6]uint64{})
	require.Less(t, result, int32(0))
}

func TestCheckSignalsNoneWhenEmpty(t *testing.T) {
	k := newTestKernel(t)
	_, ok := k.CheckSignals(InitCageID)
	require.False(t, ok)
}

func TestCheckSignalsDefaultTerminate(t *testing.T) {
	k := newTestKernel(t)
	sig.Kill(k.Cages().GetRef(InitCageID), 15) // SIGTERM
	delivery, ok := k.CheckSignals(InitCageID)
	require.True(t, ok)
	require.Equal(t, sig.ActionTerminate, delivery.Action)
}

func TestFinalizeUnbindsEveryCage(t *testing.T) {
	k := newTestKernel(t)
	k.Finalize()
	require.Panics(t, func() { k.Cages().GetRef(InitCageID) })
}
