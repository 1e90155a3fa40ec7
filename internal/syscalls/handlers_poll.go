package syscalls

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wasmcage/cagekernel/internal/vmmap"
)

func (d *Dispatcher) registerPoll() {
	d.register(PipeSyscall, sysPipe)
	d.register(EpollCreateSyscall, sysEpollCreate)
	d.register(EpollCtlSyscall, sysEpollCtl)
	d.register(EpollWaitSyscall, sysEpollWait)
	d.register(SelectSyscall, sysSelect)
	d.register(PollSyscall, sysPoll)
}

func sysPipe(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	var hostFds [2]int
	if err := unix.Pipe(hostFds[:]); err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		unix.Close(hostFds[0])
		unix.Close(hostFds[1])
		return Negate(ErrFault)
	}
	fds.Register(int32(hostFds[0]), false)
	fds.Register(int32(hostFds[1]), false)
	return 0
}

func sysEpollCreate(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	hostFd, err := unix.EpollCreate1(0)
	if err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		unix.Close(hostFd)
		return Negate(ErrFault)
	}
	return fds.Register(int32(hostFd), false)
}

func sysEpollCtl(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(4); err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	epHost, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}
	targetHost, err := fds.Translate(a.vfd(2))
	if err != nil {
		return Negate(ErrBadf)
	}
	ev := &unix.EpollEvent{Events: a.u32(3), Fd: a.i32(2)}
	if err := unix.EpollCtl(int(epHost), int(a.u32(1)), int(targetHost), ev); err != nil {
		return Negate(err)
	}
	return 0
}

// sysEpollWait implements the cancellation rule that a cage with a signal
// pending returns interrupted rather than blocking, by checking the cage's
// cancel flag immediately before the call; a real implementation would also
// recheck after a short poll loop, omitted here since x/sys/unix's
// EpollWait has no built-in cancellation hook.
func sysEpollWait(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(4); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	if c.Cancelled() {
		return Negate(ErrIntr)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	epHost, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}
	xlate, ok := d.translator(a.Cage[1])
	if !ok {
		return Negate(ErrFault)
	}
	maxEvents := a.u32(2)
	eventsAddr, _ := a.ptr(1)
	p, err := xlate.Translate(eventsAddr, uint64(maxEvents)*unsafe.Sizeof(unix.EpollEvent{}), vmmap.ProtWrite)
	if err != nil {
		return Negate(ErrFault)
	}
	events := unsafe.Slice((*unix.EpollEvent)(p), maxEvents)
	n, err := unix.EpollWait(int(epHost), events, a.i32(3))
	if err != nil {
		return Negate(err)
	}
	return int32(n)
}

// sysSelect returns EINTR for a cancelled cage and otherwise returns 0
// immediately. It computes max(nfds_read, nfds_write, nfds_error) but makes
// no host call: the guest fd_sets are not read or written and the timeout
// is not waited on (see DESIGN.md).
func sysSelect(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(5); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	if c.Cancelled() {
		return Negate(ErrIntr)
	}
	// max(nfds_read, nfds_write, nfds_error).
	_ = max3(a.u32(0), a.u32(1), a.u32(2))
	return 0
}

func max3(a, b, c uint32) uint32 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func sysPoll(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(3); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	if c.Cancelled() {
		return Negate(ErrIntr)
	}
	xlate, ok := d.translator(a.Cage[0])
	if !ok {
		return Negate(ErrFault)
	}
	nfds := a.u32(1)
	fdsAddr, _ := a.ptr(0)
	p, err := xlate.Translate(fdsAddr, uint64(nfds)*unsafe.Sizeof(unix.PollFd{}), vmmap.ProtRead|vmmap.ProtWrite)
	if err != nil {
		return Negate(ErrFault)
	}
	pollFds := unsafe.Slice((*unix.PollFd)(p), nfds)

	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFds := make([]unix.PollFd, nfds)
	for i := range pollFds {
		hostFd, err := fds.Translate(pollFds[i].Fd)
		if err != nil {
			return Negate(ErrBadf)
		}
		hostFds[i] = unix.PollFd{Fd: hostFd, Events: pollFds[i].Events}
	}

	n, err := unix.Poll(hostFds, int(a.i32(2)))
	if err != nil {
		return Negate(err)
	}
	for i := range hostFds {
		pollFds[i].Revents = hostFds[i].Revents
	}
	return int32(n)
}
