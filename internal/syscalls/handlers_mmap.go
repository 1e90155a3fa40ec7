package syscalls

import (
	"github.com/wasmcage/cagekernel/internal/vmmap"
)

func (d *Dispatcher) registerMmap() {
	d.register(MmapSyscall, sysMmap)
	d.register(MunmapSyscall, sysMunmap)
	d.register(BrkSyscall, sysBrk)
	d.register(SbrkSyscall, sysSbrk)
}

// sysMmap forces the fixed-mapping flag on and strips execute permission,
// since the guest's mapping always lands at a page the core already chose
// within the cage's own address space. The mapping is recorded in the
// cage's VMMAP only: no host mmap call is made, so a file-backed mapping's
// contents are not loaded into guest memory.
func sysMmap(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(6); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}

	addr := a.Val[0]
	length := a.Val[1]
	if length == 0 {
		return Negate(ErrInval)
	}
	prot := (vmmap.Prot(a.u32(2))) &^ vmmap.ProtExec
	flags := vmmap.Flags(a.u32(3))
	vfd := a.vfd(4)
	fileOff := a.i64(5)

	npages := pagesFor(length)
	vm := c.Vmmap()

	var interval vmmap.Interval
	if flags&vmmap.FlagFixed != 0 {
		interval = vmmap.Interval{Start: uint32(addr >> vmmap.PageShift), End: uint32(addr>>vmmap.PageShift) + npages}
	} else {
		space, found := vm.FindSpace(npages)
		if !found {
			return Negate(ErrInval)
		}
		interval = space
	}

	backing := vmmap.Backing{Kind: vmmap.BackingAnonymous}
	if flags&vmmap.FlagAnonymous == 0 {
		fds, ok := d.fdTable(a.CallerCage)
		if !ok {
			return Negate(ErrFault)
		}
		hostFd, err := fds.Translate(vfd)
		if err != nil {
			return Negate(ErrBadf)
		}
		backing = vmmap.Backing{Kind: vmmap.BackingFileDescriptor, Fd: uint64(hostFd)}
	}

	if err := vm.AddEntryWithOverwrite(interval.Start, npages, prot, prot|vmmap.ProtRead|vmmap.ProtWrite, flags|vmmap.FlagFixed, backing, fileOff, int64(length), a.CallerCage); err != nil {
		return Negate(ErrInval)
	}

	return int32(uint64(interval.Start) << vmmap.PageShift)
}

func sysMunmap(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(2); err != nil {
		return Negate(err)
	}
	length := a.Val[1]
	if length == 0 {
		return Negate(ErrInval)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	page := uint32(a.Val[0] >> vmmap.PageShift)
	if err := c.Vmmap().RemoveEntry(page, pagesFor(length)); err != nil {
		return Negate(ErrInval)
	}
	return 0
}

func sysBrk(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	c.Vmmap().SetProgramBreak(uint32(a.Val[0] >> vmmap.PageShift))
	return int32(a.Val[0])
}

func sysSbrk(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	vm := c.Vmmap()
	old := vm.ProgramBreak()
	delta := a.i64(0)
	newBreak := int64(old) + delta>>vmmap.PageShift
	if newBreak < 0 {
		return Negate(ErrInval)
	}
	vm.SetProgramBreak(uint32(newBreak))
	return int32(uint64(old) << vmmap.PageShift)
}

func pagesFor(length uint64) uint32 {
	return uint32((length + (1 << vmmap.PageShift) - 1) >> vmmap.PageShift)
}
