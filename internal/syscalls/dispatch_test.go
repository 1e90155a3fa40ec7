package syscalls

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/wasmcage/cagekernel/internal/cage"
	"github.com/wasmcage/cagekernel/internal/fdxlate"
	"github.com/wasmcage/cagekernel/internal/sandboxfs"
	"github.com/wasmcage/cagekernel/internal/unwind"
	"github.com/wasmcage/cagekernel/internal/vmmap"
)

// newGuestMemory allocates a simulated guest linear-memory array, points
// vm's base address at it, and maps guest addresses [0, len) read+write —
// the same relationship between a cage's VMMAP and its real backing memory
// the Address Translator assumes in production.
func newGuestMemory(t *testing.T, vm *vmmap.Vmmap, size int) []byte {
	t.Helper()
	mem := make([]byte, size)
	vm.SetBaseAddress(uintptr(unsafe.Pointer(&mem[0])))
	require.True(t, vm.AddEntry(vmmap.Entry{
		StartPage: 0,
		NumPages:  uint32(size) >> vmmap.PageShift,
		Prot:      vmmap.ProtRead | vmmap.ProtWrite,
		MaxProt:   vmmap.ProtRead | vmmap.ProtWrite,
		Flags:     vmmap.FlagAnonymous | vmmap.FlagPrivate,
		Backing:   vmmap.Backing{Kind: vmmap.BackingAnonymous},
	}))
	return mem
}

type noopRuntime struct{}

func (noopRuntime) StartUnwind(unwind.ThreadHandle, uint64)          {}
func (noopRuntime) StopUnwind(unwind.ThreadHandle)                   {}
func (noopRuntime) StartRewind(unwind.ThreadHandle, uint64, int32)   {}
func (noopRuntime) StopRewind(unwind.ThreadHandle)                   {}
func (noopRuntime) OnCalled(unwind.ThreadHandle, func())             {}
func (noopRuntime) CopyMemory(src, dst unwind.ThreadHandle)          {}
func (noopRuntime) InvokeEntry(unwind.ThreadHandle)                  {}
func (noopRuntime) NewInstance(cageID uint64, shareMemory bool) (unwind.ThreadHandle, error) {
	return unwind.ThreadHandle{CageID: cageID}, nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, uint64) {
	t.Helper()
	cages := cage.NewTable(nil)
	ctrl := unwind.New(noopRuntime{}, cages, nil)
	root := sandboxfs.NewRoot(t.TempDir())
	d := New(cages, ctrl, root, nil)

	c := cage.New(1, 0, "/")
	cages.Insert(c)
	d.BindCage(1, fdxlate.NewTable(), c)
	return d, 1
}

func sentinelArgs(cageID uint64, used ...uint64) Args {
	a := Args{CallerCage: cageID}
	for i := range a.Val {
		a.Val[i] = ArgSentinel
		a.Cage[i] = cageID
	}
	for i, v := range used {
		a.Val[i] = v
	}
	return a
}

func TestUnknownSyscallReturnsMinusOne(t *testing.T) {
	d, cageID := newTestDispatcher(t)
	result := d.Dispatch(cageID, 199, 0, [6]uint64{ArgSentinel, ArgSentinel, ArgSentinel, ArgSentinel, ArgSentinel, ArgSentinel}, [6]uint64{})
	require.Equal(t, int32(-1), result)
}

func TestDispatchUnknownCageReturnsFault(t *testing.T) {
	d, _ := newTestDispatcher(t)
	result := d.Dispatch(999, uint32(GetpidSyscall), 0, [6]uint64{ArgSentinel, ArgSentinel, ArgSentinel, ArgSentinel, ArgSentinel, ArgSentinel}, [6]uint64{})
	require.Equal(t, Negate(ErrFault), result)
}

func TestGetpidReturnsCallerCageID(t *testing.T) {
	d, cageID := newTestDispatcher(t)
	result := d.Dispatch(cageID, uint32(GetpidSyscall), 0, [6]uint64{ArgSentinel, ArgSentinel, ArgSentinel, ArgSentinel, ArgSentinel, ArgSentinel}, [6]uint64{})
	require.Equal(t, int32(cageID), result)
}

func TestGetpidRejectsNonSentinelTrailingArg(t *testing.T) {
	d, _ := newTestDispatcher(t)
	fn := sysGetpid
	a := sentinelArgs(1)
	a.Val[3] = 42
	require.Equal(t, Negate(ErrFault), fn(d, a))
}

func TestOpenReadWriteCloseRoundTrip(t *testing.T) {
	d, cageID := newTestDispatcher(t)
	c, _ := d.cages.Lookup(cageID)
	mem := newGuestMemory(t, c.Vmmap(), 1<<16)

	const pathAddr, pathCap = 0, 64
	copy(mem[pathAddr:pathAddr+pathCap], "greeting.txt\x00")

	openArgs := sentinelArgs(cageID, uint64(pathAddr), uint64(unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC), 0o644)
	vfd := sysOpen(d, openArgs)
	require.GreaterOrEqual(t, vfd, int32(0))

	const bufAddr = 4096
	copy(mem[bufAddr:], "hello")
	writeArgs := sentinelArgs(cageID, uint64(vfd), uint64(bufAddr), uint64(len("hello")))
	n := sysWrite(d, writeArgs)
	require.Equal(t, int32(len("hello")), n)

	seekArgs := sentinelArgs(cageID, uint64(vfd), 0, uint64(unix.SEEK_SET))
	require.Equal(t, int32(0), sysLseek(d, seekArgs))

	const readAddr = 8192
	readArgs := sentinelArgs(cageID, uint64(vfd), uint64(readAddr), uint64(len("hello")))
	require.Equal(t, int32(len("hello")), sysRead(d, readArgs))
	require.Equal(t, "hello", string(mem[readAddr:readAddr+len("hello")]))

	closeArgs := sentinelArgs(cageID, uint64(vfd))
	require.Equal(t, int32(0), sysClose(d, closeArgs))
}

func TestMunmapZeroLengthRejected(t *testing.T) {
	d, cageID := newTestDispatcher(t)
	a := sentinelArgs(cageID, 0, 0)
	require.Equal(t, Negate(ErrInval), sysMunmap(d, a))
}

func TestFcntlCloseOnExecRoundTrip(t *testing.T) {
	d, cageID := newTestDispatcher(t)
	fds, _ := d.fdTable(cageID)
	vfd := fds.Register(99, false)

	setArgs := sentinelArgs(cageID, uint64(vfd), uint64(unix.F_SETFD), uint64(unix.FD_CLOEXEC))
	require.Equal(t, int32(0), sysFcntl(d, setArgs))

	getArgs := sentinelArgs(cageID, uint64(vfd), uint64(unix.F_GETFD))
	require.Equal(t, int32(unix.FD_CLOEXEC), sysFcntl(d, getArgs))
}
