package syscalls

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wasmcage/cagekernel/internal/vmmap"
)

func (d *Dispatcher) registerNet() {
	d.register(SocketSyscall, sysSocket)
	d.register(BindSyscall, sysBind)
	d.register(ConnectSyscall, sysConnect)
	d.register(ListenSyscall, sysListen)
	d.register(AcceptSyscall, sysAccept)
	d.register(SendSyscall, sysSend)
	d.register(RecvSyscall, sysRecv)
	d.register(SendtoSyscall, sysSendto)
	d.register(RecvfromSyscall, sysRecvfrom)
	d.register(ShutdownSyscall, sysShutdown)
	d.register(GetsockoptSyscall, sysGetsockopt)
	d.register(SetsockoptSyscall, sysSetsockopt)
	d.register(SocketpairSyscall, sysSocketpair)
	d.register(GetsocknameSyscall, sysGetsockname)
	d.register(GetpeernameSyscall, sysGetpeername)
}

func sysSocket(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(3); err != nil {
		return Negate(err)
	}
	hostFd, err := unix.Socket(int(a.u32(0)), int(a.u32(1)), int(a.u32(2)))
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

// guestSockaddrUnix reads a guest-resident sockaddr_un's path and rewrites
// it against the sandbox root: UNIX-domain addresses are namespaced the same
// way regular paths are. Other address families are not decoded and are
// rejected with EINVAL (see DESIGN.md).
func guestSockaddrUnix(d *Dispatcher, xlateCage uint64, addr uint64, length uint32) (unix.Sockaddr, error) {
	xlate, ok := d.translator(xlateCage)
	if !ok {
		return nil, ErrFault
	}
	p, err := xlate.Translate(addr, uint64(length), vmmap.ProtRead)
	if err != nil {
		return nil, ErrFault
	}
	buf := unsafe.Slice((*byte)(p), length)
	if len(buf) < 2 {
		return nil, ErrInval
	}
	family := *(*uint16)(unsafe.Pointer(&buf[0]))
	switch family {
	case unix.AF_UNIX:
		pathBytes := buf[2:]
		end := len(pathBytes)
		for i, b := range pathBytes {
			if b == 0 {
				end = i
				break
			}
		}
		guestPath := string(pathBytes[:end])
		return &unix.SockaddrUnix{Name: d.root.ToHost(guestPath)}, nil
	default:
		return nil, ErrInval
	}
}

func sysBind(d *Dispatcher, a Args) int32 {
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
	addrArg, _ := a.ptr(1)
	sa, serr := guestSockaddrUnix(d, a.Cage[1], addrArg, a.u32(2))
	if serr != nil {
		return Negate(serr)
	}
	if err := unix.Bind(int(hostFd), sa); err != nil {
		return Negate(err)
	}
	return 0
}

func sysConnect(d *Dispatcher, a Args) int32 {
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
	addrArg, _ := a.ptr(1)
	sa, serr := guestSockaddrUnix(d, a.Cage[1], addrArg, a.u32(2))
	if serr != nil {
		return Negate(serr)
	}
	if err := unix.Connect(int(hostFd), sa); err != nil {
		return Negate(err)
	}
	return 0
}

func sysListen(d *Dispatcher, a Args) int32 {
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
	if err := unix.Listen(int(hostFd), int(a.u32(1))); err != nil {
		return Negate(err)
	}
	return 0
}

// sysAccept implements accept/recvfrom's null-pairing rule: the address-out
// and length-in-out pointers must both be the sentinel or both be real
// addresses.
func sysAccept(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(3); err != nil {
		return Negate(err)
	}
	addrArg := a.Val[1]
	lenArg := a.Val[2]
	if (addrArg == ArgSentinel) != (lenArg == ArgSentinel) {
		return Negate(ErrInval)
	}

	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFd, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}
	newHostFd, sa, err := unix.Accept(int(hostFd))
	if err != nil {
		return Negate(err)
	}

	if addrArg != ArgSentinel {
		if un, ok := sa.(*unix.SockaddrUnix); ok {
			un.Name = d.root.FromHost(un.Name)
		}
		// Encoding the rewritten sockaddr back into the guest's out-param
		// is left to the address-family-specific wire format, out of this
		// representative handler's scope (see DESIGN.md).
	}

	return fds.Register(int32(newHostFd), false)
}

func sysSend(d *Dispatcher, a Args) int32   { return sendLike(d, a, false) }
func sysSendto(d *Dispatcher, a Args) int32 { return sendLike(d, a, true) }

func sendLike(d *Dispatcher, a Args, hasAddr bool) int32 {
	used := 4
	if hasAddr {
		used = 6
	}
	if err := a.checkSentinel(used); err != nil {
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
	count := clampCount(a.Val[2])
	if count == 0 {
		return 0
	}
	xlate, ok := d.translator(a.Cage[1])
	if !ok {
		return Negate(ErrFault)
	}
	bufAddr, _ := a.ptr(1)
	p, err := xlate.Translate(bufAddr, uint64(count), vmmap.ProtRead)
	if err != nil {
		return Negate(ErrFault)
	}
	buf := unsafe.Slice((*byte)(p), count)
	flags := int(a.u32(3))

	if hasAddr {
		addrArg, _ := a.ptr(4)
		sa, serr := guestSockaddrUnix(d, a.Cage[4], addrArg, a.u32(5))
		if serr != nil {
			return Negate(serr)
		}
		if err := unix.Sendto(int(hostFd), buf, flags, sa); err != nil {
			return Negate(err)
		}
		return int32(len(buf))
	}
	if err := unix.Send(int(hostFd), buf, flags); err != nil {
		return Negate(err)
	}
	return int32(len(buf))
}

func sysRecv(d *Dispatcher, a Args) int32   { return recvLike(d, a, false) }
func sysRecvfrom(d *Dispatcher, a Args) int32 { return recvLike(d, a, true) }

func recvLike(d *Dispatcher, a Args, hasAddr bool) int32 {
	used := 4
	if hasAddr {
		used = 6
	}
	if err := a.checkSentinel(used); err != nil {
		return Negate(err)
	}
	if hasAddr {
		addrArg := a.Val[4]
		lenArg := a.Val[5]
		if (addrArg == ArgSentinel) != (lenArg == ArgSentinel) {
			return Negate(ErrInval)
		}
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	hostFd, err := fds.Translate(a.vfd(0))
	if err != nil {
		return Negate(ErrBadf)
	}
	count := clampCount(a.Val[2])
	if count == 0 {
		return 0
	}
	xlate, ok := d.translator(a.Cage[1])
	if !ok {
		return Negate(ErrFault)
	}
	bufAddr, _ := a.ptr(1)
	p, err := xlate.Translate(bufAddr, uint64(count), vmmap.ProtWrite)
	if err != nil {
		return Negate(ErrFault)
	}
	buf := unsafe.Slice((*byte)(p), count)
	flags := int(a.u32(3))

	if hasAddr {
		n, _, err := unix.Recvfrom(int(hostFd), buf, flags)
		if err != nil {
			return Negate(err)
		}
		return int32(n)
	}
	n, err := unix.Read(int(hostFd), buf)
	if err != nil {
		return Negate(err)
	}
	return int32(n)
}

func sysShutdown(d *Dispatcher, a Args) int32 {
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
	if err := unix.Shutdown(int(hostFd), int(a.u32(1))); err != nil {
		return Negate(err)
	}
	return 0
}

func sysGetsockopt(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(5); err != nil {
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
	v, err := unix.GetsockoptInt(int(hostFd), int(a.u32(1)), int(a.u32(2)))
	if err != nil {
		return Negate(err)
	}
	return int32(v)
}

func sysSetsockopt(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(4); err != nil {
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
	if err := unix.SetsockoptInt(int(hostFd), int(a.u32(1)), int(a.u32(2)), int(a.u32(3))); err != nil {
		return Negate(err)
	}
	return 0
}

func sysSocketpair(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(3); err != nil {
		return Negate(err)
	}
	fdsArr, err := unix.Socketpair(int(a.u32(0)), int(a.u32(1)), int(a.u32(2)))
	if err != nil {
		return Negate(err)
	}
	fds, ok := d.fdTable(a.CallerCage)
	if !ok {
		unix.Close(fdsArr[0])
		unix.Close(fdsArr[1])
		return Negate(ErrFault)
	}
	fds.Register(int32(fdsArr[0]), false)
	fds.Register(int32(fdsArr[1]), false)
	return 0
}

func sysGetsockname(d *Dispatcher, a Args) int32 { return sockNameLike(d, a, true) }
func sysGetpeername(d *Dispatcher, a Args) int32 { return sockNameLike(d, a, false) }

func sockNameLike(d *Dispatcher, a Args, local bool) int32 {
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
	var sa unix.Sockaddr
	if local {
		sa, err = unix.Getsockname(int(hostFd))
	} else {
		sa, err = unix.Getpeername(int(hostFd))
	}
	if err != nil {
		return Negate(err)
	}
	if un, ok := sa.(*unix.SockaddrUnix); ok {
		un.Name = d.root.FromHost(un.Name)
	}
	return 0
}
