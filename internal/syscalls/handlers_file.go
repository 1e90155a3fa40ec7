package syscalls

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wasmcage/cagekernel/internal/addrxlate"
	"github.com/wasmcage/cagekernel/internal/vmmap"
)

func (d *Dispatcher) registerFile() {
	d.register(OpenSyscall, sysOpen)
	d.register(CloseSyscall, sysClose)
	d.register(ReadSyscall, sysRead)
	d.register(WriteSyscall, sysWrite)
	d.register(PreadSyscall, sysPread)
	d.register(PwriteSyscall, sysPwrite)
	d.register(LseekSyscall, sysLseek)
	d.register(AccessSyscall, sysAccess)
	d.register(UnlinkSyscall, sysUnlink)
	d.register(LinkSyscall, sysLink)
	d.register(RenameSyscall, sysRename)
	d.register(MkdirSyscall, sysMkdir)
	d.register(RmdirSyscall, sysRmdir)
	d.register(ChdirSyscall, sysChdir)
	d.register(FchdirSyscall, sysFchdir)
	d.register(GetcwdSyscall, sysGetcwd)
	d.register(TruncateSyscall, sysTruncate)
	d.register(FtruncateSyscall, sysFtruncate)
	d.register(ChmodSyscall, sysChmod)
	d.register(FchmodSyscall, sysFchmod)
	d.register(FcntlSyscall, sysFcntl)
	d.register(DupSyscall, sysDup)
	d.register(FsyncSyscall, sysFsync)
	d.register(FdatasyncSyscall, sysFdatasync)
}

// guestString reads a NUL-terminated guest string through the Address
// Translator. maxLen bounds the scan so a missing terminator can't run off
// the mapped range.
func guestString(xlate *addrxlate.Translator, addr uint64, maxLen uint64) (string, error) {
	p, err := xlate.Translate(addr, maxLen, vmmap.ProtRead)
	if err != nil {
		return "", err
	}
	buf := unsafe.Slice((*byte)(p), maxLen)
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}

func sysOpen(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(3); err != nil {
		return Negate(err)
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

	flags := a.u32(1)
	mode := a.u32(2)
	hostFd, err := unix.Open(hostPath, int(flags), uint32(mode))
	if err != nil {
		return Negate(err)
	}

	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		unix.Close(hostFd)
		return Negate(ErrFault)
	}
	vfd := fds.Register(int32(hostFd), flags&unix.O_CLOEXEC != 0)
	return vfd
}

func sysClose(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	vfd := a.vfd(0)
	hostFd, err := fds.Translate(vfd)
	if err != nil {
		return Negate(ErrBadf)
	}
	if err := unix.Close(int(hostFd)); err != nil {
		return Negate(err)
	}
	fds.Close(vfd)
	return 0
}

func sysRead(d *Dispatcher, a Args) int32 {
	return doReadWrite(d, a, false)
}

func sysWrite(d *Dispatcher, a Args) int32 {
	return doReadWrite(d, a, true)
}

// doReadWrite implements read/write's shared shape: translate the fd,
// translate the buffer with the direction-appropriate protection, clamp the
// count, and issue the host call.
func doReadWrite(d *Dispatcher, a Args, isWrite bool) int32 {
	if err := a.checkSentinel(3); err != nil {
		return Negate(err)
	}
	count := clampCount(a.Val[2])
	if count == 0 {
		return 0
	}

	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFd, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}

	xlate, ok := d.translator(a.Cage[1])
	if !ok {
		return Negate(ErrFault)
	}
	bufAddr, _ := a.ptr(1)
	prot := vmmap.ProtRead
	if isWrite {
		// write(2) only reads the guest buffer.
	} else {
		prot = vmmap.ProtWrite
	}
	p, err := xlate.Translate(bufAddr, uint64(count), prot)
	if err != nil {
		return Negate(ErrFault)
	}
	buf := unsafe.Slice((*byte)(p), count)

	var n int
	if isWrite {
		n, err = unix.Write(int(hostFd), buf)
	} else {
		n, err = unix.Read(int(hostFd), buf)
	}
	if err != nil {
		return Negate(err)
	}
	return int32(n)
}

func sysPread(d *Dispatcher, a Args) int32 { return doPreadPwrite(d, a, false) }
func sysPwrite(d *Dispatcher, a Args) int32 { return doPreadPwrite(d, a, true) }

func doPreadPwrite(d *Dispatcher, a Args, isWrite bool) int32 {
	if err := a.checkSentinel(4); err != nil {
		return Negate(err)
	}
	count := clampCount(a.Val[2])
	if count == 0 {
		return 0
	}
	off := a.i64(3)

	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFd, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}

	xlate, ok := d.translator(a.Cage[1])
	if !ok {
		return Negate(ErrFault)
	}
	bufAddr, _ := a.ptr(1)
	prot := vmmap.ProtWrite
	if isWrite {
		prot = vmmap.ProtRead
	}
	p, err := xlate.Translate(bufAddr, uint64(count), prot)
	if err != nil {
		return Negate(ErrFault)
	}
	buf := unsafe.Slice((*byte)(p), count)

	var n int
	if isWrite {
		n, err = unix.Pwrite(int(hostFd), buf, off)
	} else {
		n, err = unix.Pread(int(hostFd), buf, off)
	}
	if err != nil {
		return Negate(err)
	}
	return int32(n)
}

func sysLseek(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(3); err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFd, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}
	off, err := unix.Seek(int(hostFd), a.i64(1), int(a.u32(2)))
	if err != nil {
		return Negate(err)
	}
	return int32(off)
}

func sysAccess(d *Dispatcher, a Args) int32 {
	return pathOnlyCall(d, a, 2, func(hostPath string, a Args) error {
		return unix.Access(hostPath, a.u32(1))
	})
}

func sysUnlink(d *Dispatcher, a Args) int32 {
	return pathOnlyCall(d, a, 1, func(hostPath string, a Args) error {
		return unix.Unlink(hostPath)
	})
}

func sysRmdir(d *Dispatcher, a Args) int32 {
	return pathOnlyCall(d, a, 1, func(hostPath string, a Args) error {
		return unix.Rmdir(hostPath)
	})
}

func sysMkdir(d *Dispatcher, a Args) int32 {
	return pathOnlyCall(d, a, 2, func(hostPath string, a Args) error {
		return unix.Mkdir(hostPath, a.u32(1))
	})
}

func sysTruncate(d *Dispatcher, a Args) int32 {
	return pathOnlyCall(d, a, 2, func(hostPath string, a Args) error {
		return unix.Truncate(hostPath, a.i64(1))
	})
}

func sysChmod(d *Dispatcher, a Args) int32 {
	return pathOnlyCall(d, a, 2, func(hostPath string, a Args) error {
		return unix.Chmod(hostPath, a.u32(1))
	})
}

func sysChdir(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
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
	if err := unix.Access(hostPath, unix.F_OK); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	c.SetCwd(guestPath)
	return 0
}

func sysFchdir(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFd, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}
	if err := unix.Fchdir(int(hostFd)); err != nil {
		return Negate(err)
	}
	return 0
}

func sysGetcwd(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(2); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	cwd := c.Cwd()

	xlate, ok := d.translator(a.Cage[0])
	if !ok {
		return Negate(ErrFault)
	}
	bufAddr, _ := a.ptr(0)
	size := a.Val[1]
	if uint64(len(cwd))+1 > size {
		return Negate(ErrInval)
	}
	p, err := xlate.Translate(bufAddr, size, vmmap.ProtWrite)
	if err != nil {
		return Negate(ErrFault)
	}
	buf := unsafe.Slice((*byte)(p), size)
	copy(buf, cwd)
	buf[len(cwd)] = 0
	return int32(len(cwd))
}

func sysFtruncate(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(2); err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFd, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}
	if err := unix.Ftruncate(int(hostFd), a.i64(1)); err != nil {
		return Negate(err)
	}
	return 0
}

func sysFchmod(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(2); err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFd, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}
	if err := unix.Fchmod(int(hostFd), a.u32(1)); err != nil {
		return Negate(err)
	}
	return 0
}

func sysLink(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(2); err != nil {
		return Negate(err)
	}
	oldXlate, ok := d.translator(a.Cage[0])
	if !ok {
		return Negate(ErrFault)
	}
	oldAddr, _ := a.ptr(0)
	oldPath, err := guestString(oldXlate, oldAddr, 4096)
	if err != nil {
		return Negate(err)
	}
	newXlate, ok := d.translator(a.Cage[1])
	if !ok {
		return Negate(ErrFault)
	}
	newAddr, _ := a.ptr(1)
	newPath, err := guestString(newXlate, newAddr, 4096)
	if err != nil {
		return Negate(err)
	}
	if err := unix.Link(d.root.ToHost(oldPath), d.root.ToHost(newPath)); err != nil {
		return Negate(err)
	}
	return 0
}

func sysRename(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(2); err != nil {
		return Negate(err)
	}
	oldXlate, ok := d.translator(a.Cage[0])
	if !ok {
		return Negate(ErrFault)
	}
	oldAddr, _ := a.ptr(0)
	oldPath, err := guestString(oldXlate, oldAddr, 4096)
	if err != nil {
		return Negate(err)
	}
	newXlate, ok := d.translator(a.Cage[1])
	if !ok {
		return Negate(ErrFault)
	}
	newAddr, _ := a.ptr(1)
	newPath, err := guestString(newXlate, newAddr, 4096)
	if err != nil {
		return Negate(err)
	}
	if err := unix.Rename(d.root.ToHost(oldPath), d.root.ToHost(newPath)); err != nil {
		return Negate(err)
	}
	return 0
}

// pathOnlyCall is the shared shape of single-path syscalls: translate arg0
// as a guest path, rewrite it against the sandbox root, and hand the host
// path plus the full Args to fn.
func pathOnlyCall(d *Dispatcher, a Args, used int, fn func(hostPath string, a Args) error) int32 {
	if err := a.checkSentinel(used); err != nil {
		return Negate(err)
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
	if err := fn(d.root.ToHost(guestPath), a); err != nil {
		return Negate(err)
	}
	return 0
}

func sysFcntl(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(3); err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	vfd := a.vfd(0)
	cmd := a.u32(1)

	// F_SETFD/F_GETFD for the close-on-exec bit are handled entirely by the
	// FD Translator, matching fcntl_cosmo_amd64.go's split between the bit
	// the kernel tracks and the one userspace emulates.
	switch cmd {
	case unix.F_SETFD:
		return boolErrToInt32(fds.SetCloseOnExec(vfd, a.Val[2]&unix.FD_CLOEXEC != 0))
	case unix.F_GETFD:
		cloexec, err := fds.CloseOnExec(vfd)
		if err != nil {
			return Negate(ErrBadf)
		}
		if cloexec {
			return unix.FD_CLOEXEC
		}
		return 0
	}

	hostFd, err := fds.Translate(vfd)
	if err != nil {
		return Negate(ErrBadf)
	}
	n, err := unix.FcntlInt(uintptr(hostFd), int(cmd), int(a.Val[2]))
	if err != nil {
		return Negate(err)
	}
	return int32(n)
}

func boolErrToInt32(err error) int32 {
	if err != nil {
		return Negate(ErrBadf)
	}
	return 0
}

func sysDup(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFd, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}
	newHostFd, err := unix.Dup(int(hostFd))
	if err != nil {
		return Negate(err)
	}
	return fds.Register(int32(newHostFd), false)
}

func sysFsync(d *Dispatcher, a Args) int32     { return syncLike(d, a, unix.Fsync) }
func sysFdatasync(d *Dispatcher, a Args) int32 { return syncLike(d, a, unix.Fdatasync) }

func syncLike(d *Dispatcher, a Args, fn func(int) error) int32 {
	if err := a.checkSentinel(1); err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFd, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}
	if err := fn(int(hostFd)); err != nil {
		return Negate(err)
	}
	return 0
}
