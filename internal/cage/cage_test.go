package cage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmcage/cagekernel/internal/vmmap"
)

func vmmapEntryForTest(start, npages uint32) vmmap.Entry {
	return vmmap.Entry{StartPage: start, NumPages: npages, Prot: vmmap.ProtRead}
}

func TestForkChildClonesVmmapIndependently(t *testing.T) {
	parent := New(1, 1, "/")
	require.True(t, parent.Vmmap().AddEntry(vmmapEntryForTest(0, 10)))

	child := parent.ForkChild(2)
	require.Equal(t, parent.Vmmap().Snapshot(), child.Vmmap().Snapshot())

	require.True(t, child.Vmmap().AddEntry(vmmapEntryForTest(100, 1)))
	require.Len(t, parent.Vmmap().Snapshot(), 1)
	require.Len(t, child.Vmmap().Snapshot(), 2)
}

func TestResetForExecClearsHandlersAndVmmapPreservesPending(t *testing.T) {
	c := New(1, 1, "/")
	require.NoError(t, c.SetHandler(2, SignalHandler{Handler: 0x1000}))
	require.True(t, c.Vmmap().AddEntry(vmmapEntryForTest(0, 1)))
	c.EnqueuePending(2)
	c.SetSignalMask(1 << 2)

	c.ResetForExec()

	require.Equal(t, 0, c.HandlerCount())
	require.Empty(t, c.Vmmap().Snapshot())
	require.Equal(t, uint64(0), c.SignalMask())
	require.Equal(t, []int{2}, c.PendingSnapshot())
}

func TestSetHandlerRejectsUncatchableSignals(t *testing.T) {
	c := New(1, 1, "/")
	require.Error(t, c.SetHandler(SIGKILL, SignalHandler{}))
	require.Error(t, c.SetHandler(SIGSTOP, SignalHandler{}))
	require.NoError(t, c.SetHandler(2, SignalHandler{}))
}

func TestZombieFIFO(t *testing.T) {
	c := New(1, 0, "/")
	c.EnqueueZombie(Zombie{ChildCageID: 2, ExitStatus: 0})
	c.EnqueueZombie(Zombie{ChildCageID: 3, ExitStatus: 1})

	z, ok := c.PopZombie()
	require.True(t, ok)
	require.Equal(t, uint64(2), z.ChildCageID)

	z, ok = c.PopZombie()
	require.True(t, ok)
	require.Equal(t, uint64(3), z.ChildCageID)

	_, ok = c.PopZombie()
	require.False(t, ok)
}

func TestUnblockSignalsReportsPendingUnblocked(t *testing.T) {
	c := New(1, 0, "/")
	c.SetSignalMask(1 << 5)
	c.EnqueuePending(5)

	raised := c.UnblockSignals(1 << 5)
	require.True(t, raised)
	require.Equal(t, uint64(0), c.SignalMask())
}
