// Package sig implements signal delivery. sigaction/sigprocmask semantics
// live on cage.Cage itself; this package is the "check pending at a safe
// point and decide what to do" half. It does not call guest handlers
// itself: it reports which handler, if any, the caller must invoke.
package sig

import (
	"github.com/sirupsen/logrus"

	"github.com/wasmcage/cagekernel/internal/cage"
)

// Action is what CheckPoint tells its caller to do for one signal.
type Action int

const (
	ActionNone Action = iota
	ActionInvokeHandler
	ActionTerminate
	ActionIgnore
)

// Delivery describes one signal ready for delivery at a safe point.
type Delivery struct {
	Signal  int
	Action  Action
	Handler cage.SignalHandler
}

// terminatesByDefault matches POSIX default dispositions for the
// signals this kernel treats as always fatal absent a handler.
var terminatesByDefault = map[int]bool{
	1:  true, // SIGHUP
	2:  true, // SIGINT
	3:  true, // SIGQUIT
	6:  true, // SIGABRT
	9:  true, // SIGKILL
	11: true, // SIGSEGV
	13: true, // SIGPIPE
	15: true, // SIGTERM
}

// CheckPoint pops the first pending signal of c that is not in the current
// mask and reports how to deliver it: ActionInvokeHandler with the installed
// handler, or the default action (ActionTerminate or ActionIgnore) when no
// handler is installed. It does not call the handler; one signal is
// returned per call.
//
// Called at syscall return and at runtime-provided interruption points.
func CheckPoint(c *cage.Cage, log *logrus.Logger) (Delivery, bool) {
	signum, ok := c.NextDeliverable()
	if !ok {
		return Delivery{}, false
	}

	if h, hasHandler := c.Handler(signum); hasHandler {
		return Delivery{Signal: signum, Action: ActionInvokeHandler, Handler: h}, true
	}

	if terminatesByDefault[signum] {
		if log != nil {
			log.WithFields(logrus.Fields{"cage_id": c.ID(), "signal": signum}).Info("delivering default-terminate signal")
		}
		return Delivery{Signal: signum, Action: ActionTerminate}, true
	}
	return Delivery{Signal: signum, Action: ActionIgnore}, true
}

// Kill enqueues signum into target's pending queue. Signal number
// validation (range 1..64) is the caller's responsibility via
// IsValidSignal.
func Kill(target *cage.Cage, signum int) {
	target.EnqueuePending(signum)
}

// IsValidSignal reports whether signum is in the supported range.
func IsValidSignal(signum int) bool { return signum >= 1 && signum <= 64 }
