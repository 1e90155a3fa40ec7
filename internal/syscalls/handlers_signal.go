package syscalls

import (
	"github.com/wasmcage/cagekernel/internal/cage"
	"github.com/wasmcage/cagekernel/internal/sig"
)

const (
	sigSetmask = iota
	sigBlock
	sigUnblock
)

func (d *Dispatcher) registerSignal() {
	d.register(SigactionSyscall, sysSigaction)
	d.register(KillSyscall, sysKill)
	d.register(SigprocmaskSyscall, sysSigprocmask)
	d.register(SetitimerSyscall, sysSetitimer)
}

func sysSigaction(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(3); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	signum := int(a.i32(0))
	if !sig.IsValidSignal(signum) {
		return Negate(ErrInval)
	}
	h := cage.SignalHandler{Handler: uintptr(a.Val[1]), Flags: a.u32(2)}
	if err := c.SetHandler(signum, h); err != nil {
		return Negate(ErrInval)
	}
	return 0
}

func sysKill(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(2); err != nil {
		return Negate(err)
	}
	signum := int(a.i32(1))
	if !sig.IsValidSignal(signum) {
		return Negate(ErrInval)
	}
	target, ok := d.cages.Lookup(a.Val[0])
	if !ok {
		return Negate(ErrFault)
	}
	sig.Kill(target, signum)
	return 0
}

// sysSigprocmask implements block/unblock/set semantics, raising an
// epoch-interrupt (via Cancel, the mechanism this module uses to signal a
// blocked handler) whenever unblocking exposes a pending signal.
func sysSigprocmask(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(2); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	how := a.u32(0)
	mask := a.Val[1]

	switch how {
	case sigSetmask:
		unblocked := c.SignalMask() &^ mask
		c.SetSignalMask(mask)
		if unblocked != 0 && c.UnblockSignals(unblocked) {
			c.Cancel()
		}
	case sigBlock:
		c.BlockSignals(mask)
	case sigUnblock:
		if c.UnblockSignals(mask) {
			c.Cancel()
		}
	default:
		return Negate(ErrInval)
	}
	return 0
}

func sysSetitimer(d *Dispatcher, a Args) int32 {
	if err := a.checkSentinel(2); err != nil {
		return Negate(err)
	}
	c, ok := d.cages.Lookup(a.CallerCage)
	if !ok {
		return Negate(ErrFault)
	}
	old := c.SetTimer(cage.IntervalTimer{IntervalNanos: a.i64(0), ValueNanos: a.i64(1)})
	return int32(old.ValueNanos)
}
