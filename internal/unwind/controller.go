// Package unwind implements the Unwind/Rewind Controller: the three-phase
// running/unwinding/rewinding protocol that synthesizes fork, pthread_create,
// exec, setjmp, and longjmp on top of a WebAssembly runtime that natively
// executes a single linear call stack per instance.
//
// The actual stack capture is owned by the guest runtime, which this
// package treats as an external collaborator; it programs against the
// ContinuationRuntime capability below, so any runtime that exports the
// four asyncify-style hooks plugs in.
package unwind

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wasmcage/cagekernel/internal/cage"
)

// State is a guest thread's position in the unwind/rewind state machine.
type State int

const (
	StateRunning State = iota
	StateUnwinding
	StateRewinding
)

// ThreadHandle identifies one guest thread: which cage's instance it runs
// in, and its host-wide thread id.
type ThreadHandle struct {
	CageID   uint64
	ThreadID uint32
}

// ContinuationRuntime is the capability a WebAssembly runtime must export
// for this controller to drive fork/exec/setjmp/longjmp.
type ContinuationRuntime interface {
	// StartUnwind begins unwinding th, using region (a guest-memory address
	// whose first 16 bytes are the head/end pointers) as scratch.
	StartUnwind(th ThreadHandle, region uint64)
	// StopUnwind ends an in-progress unwind, returning th to StateRunning.
	StopUnwind(th ThreadHandle)
	// StartRewind begins rewinding th from region, arranging for the
	// rewound call to observe syntheticReturn as its return value.
	StartRewind(th ThreadHandle, region uint64, syntheticReturn int32)
	// StopRewind ends an in-progress rewind, returning th to StateRunning.
	StopRewind(th ThreadHandle)
	// OnCalled registers a callback the runtime invokes once th's unwind
	// has fully completed, before control would otherwise return to the
	// dispatcher.
	OnCalled(th ThreadHandle, cb func())
	// NewInstance creates a fresh guest instance from the same module,
	// bound to cageID. shareMemory selects fork's copy semantics (false)
	// versus pthread_create's shared-memory semantics (true).
	NewInstance(cageID uint64, shareMemory bool) (ThreadHandle, error)
	// CopyMemory copies src's linear memory wholesale into dst (fork only;
	// pthread_create shares memory and never calls this).
	CopyMemory(src, dst ThreadHandle)
	// InvokeEntry starts dst executing from its entry point.
	InvokeEntry(dst ThreadHandle)
}

// Controller drives the unwind/rewind state machine and its fork, exec,
// setjmp, and longjmp protocols. One Controller is shared process-wide.
type Controller struct {
	rt    ContinuationRuntime
	cages *cage.Table
	log   *logrus.Logger

	mu     sync.Mutex
	states map[uint32]State   // threadID -> state
	stash  map[uint32]int32   // threadID -> synthesized return value for CatchRewind
	jmp    map[uint64][]byte  // content-hash -> archived unwind data, for setjmp/longjmp
}

// New returns a Controller driving rt, allocating ids from cages.
func New(rt ContinuationRuntime, cages *cage.Table, log *logrus.Logger) *Controller {
	if log == nil {
		log = logrus.New()
	}
	return &Controller{
		rt:     rt,
		cages:  cages,
		log:    log,
		states: make(map[uint32]State),
		stash:  make(map[uint32]int32),
		jmp:    make(map[uint64][]byte),
	}
}

func (c *Controller) State(threadID uint32) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[threadID]
}

func (c *Controller) setState(threadID uint32, s State) {
	c.mu.Lock()
	c.states[threadID] = s
	c.mu.Unlock()
}

// ErrForkFromSecondaryThread is returned when fork is attempted from a
// thread other than its cage's main thread — resolved as outright rejection
// rather than left to the implementer.
type ErrForkFromSecondaryThread struct{ ThreadID uint32 }

func (e *ErrForkFromSecondaryThread) Error() string {
	return "unwind: fork issued from a secondary thread is unsupported"
}

// CatchRewind implements the rewind-catching convention: every syscall
// handler checks, on entry, whether its thread is mid-rewind;
// if so it must call stop_rewind and return the previously stashed
// synthesized result instead of re-executing the syscall.
func (c *Controller) CatchRewind(th ThreadHandle) (result int32, caught bool) {
	c.mu.Lock()
	state := c.states[th.ThreadID]
	if state != StateRewinding {
		c.mu.Unlock()
		return 0, false
	}
	result = c.stash[th.ThreadID]
	delete(c.stash, th.ThreadID)
	c.states[th.ThreadID] = StateRunning
	c.mu.Unlock()

	c.rt.StopRewind(th)
	return result, true
}

func (c *Controller) stashReturn(threadID uint32, v int32) {
	c.mu.Lock()
	c.stash[threadID] = v
	c.mu.Unlock()
}
