package syscalls

import (
	"golang.org/x/sys/unix"

	"github.com/wasmcage/cagekernel/internal/cage"
	"github.com/wasmcage/cagekernel/internal/unwind"
	"github.com/wasmcage/cagekernel/internal/vmmap"
)

func (d *Dispatcher) registerProcess() {
	d.register(ForkSyscall, sysFork)
	d.register(ExecSyscall, sysExec)
	d.register(ExitSyscall, sysExit)
	d.register(GetpidSyscall, sysGetpid)
	d.register(GetppidSyscall, sysGetppid)
	d.register(GetuidSyscall, sysGetuid)
	d.register(GeteuidSyscall, sysGeteuid)
	d.register(GetgidSyscall, sysGetgid)
	d.register(GetegidSyscall, sysGetegid)
	d.register(WaitSyscall, sysWait)
	d.register(WaitpidSyscall, sysWaitpid)
}

func sysFork(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	parentFDs, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	thread := unwind.ThreadHandle{CageID: a.CallerCage, ThreadID: c.MainThreadID()}

	result, err := d.unwind.Fork(c, thread, a.Val[0], parentFDs)
	if err != nil {
		return Negate(ErrInval)
	}
	d.BindCage(result.Child.ID(), result.ChildFDs, result.Child)

	// The synthesized returns aren't available yet: the callback that
	// stashes them only runs once the runtime finishes unwinding, which in
	// this representative build is driven synchronously by the injected
	// ContinuationRuntime. CatchRewind on the next dispatch for either
	// thread returns the stashed value, per the rewind-catching convention.
	return 0
}

// sysExec is the exec protocol's entry point: resolve and sandbox-rewrite
// the path first, short-circuiting with ENOENT without unwinding if it
// doesn't exist.
func sysExec(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(2); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	xlate, ok := d.translator(a.Cage[0])
	if !ok {
		return Negate(ErrFault)
	}
	pathAddr, _ := a.ptr(0)
	guestPath, err := guestString(xlate, pathAddr, 4096)
	if err != nil {
		return Negate(err)
	}
	hostPath := d.root.ToHost(guestPath)
	if _, statErr := unix.Stat(hostPath, &unix.Stat_t{}); statErr != nil {
		return Negate(ErrNoent)
	}

	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	thread := unwind.ThreadHandle{CageID: a.CallerCage, ThreadID: c.MainThreadID()}
	d.unwind.Exec(c, thread, a.Val[1], fds)
	return 0
}

func sysExit(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	status := a.i32(0)
	if parent, ok := d.cages.Lookup(c.ParentID()); ok {
		parent.EnqueueZombie(cage.Zombie{ChildCageID: c.ID(), ExitStatus: status})
		parent.DecActiveChildren()
	}
	d.UnbindCage(c.ID())
	d.cages.Remove(c.ID())
	return 0
}

func sysGetpid(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(0); err != nil {
		return Negate(err)
	}
	return int32(a.CallerCage)
}

func sysGetppid(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(0); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	return int32(c.ParentID())
}

func credField(d *Dispatcher, a Args, pick func(cage.Credentials) uint32) int32 {
	if err := a.checkSentinel(0); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	creds := c.Credentials(func() cage.Credentials {
		return cage.Credentials{
			RUID: uint32(unix.Getuid()), EUID: uint32(unix.Geteuid()),
			RGID: uint32(unix.Getgid()), EGID: uint32(unix.Getegid()),
		}
	})
	return int32(pick(creds))
}

func sysGetuid(d *Dispatcher, a Args) int32 {
	return credField(d, a, func(c cage.Credentials) uint32 { return c.RUID })
}
func sysGeteuid(d *Dispatcher, a Args) int32 {
	return credField(d, a, func(c cage.Credentials) uint32 { return c.EUID })
}
func sysGetgid(d *Dispatcher, a Args) int32 {
	return credField(d, a, func(c cage.Credentials) uint32 { return c.RGID })
}
func sysGetegid(d *Dispatcher, a Args) int32 {
	return credField(d, a, func(c cage.Credentials) uint32 { return c.EGID })
}

// sysWait and sysWaitpid implement "spin-yield on the zombie list when
// empty but active children exist" in its simplest legal form: a single
// non-blocking check. A production build would loop with a
// condition-variable wait; correctness doesn't require it.
func sysWait(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	z, ok := c.PopZombie()
	if !ok {
		if c.ActiveChildren() == 0 {
			return Negate(Errno(unix.ECHILD))
		}
		return Negate(ErrIntr)
	}
	return writeStatusOut(d, a, c, z)
}

func sysWaitpid(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(3); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	childID := a.Val[0]
	z, ok := c.PopZombieFor(childID)
	if !ok {
		if c.ActiveChildren() == 0 {
			return Negate(Errno(unix.ECHILD))
		}
		return Negate(ErrIntr)
	}
	return writeStatusOut(d, a, c, z)
}

func writeStatusOut(d *Dispatcher, a Args, c *cage.Cage, z cage.Zombie) int32 {
	statusAddr := a.Val[1]
	if statusAddr != ArgSentinel && statusAddr != 0 {
		xlate, ok := d.translator(a.Cage[1])
		if ok {
			if p, err := xlate.Translate(statusAddr, 4, vmmap.ProtWrite); err == nil {
				*(*int32)(p) = z.ExitStatus
			}
		}
	}
	return int32(z.ChildCageID)
}
