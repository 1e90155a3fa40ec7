// Package cage implements per-guest-process state: the Cage data model,
// fork/exec state transitions, and the Cage Table registry.
//
// cwd and the VMMAP are guarded by a read-write lock (github.com/sasha-s/go-deadlock's drop-in replacement for
// sync.RWMutex, the way lazydocker guards its shared GUI state), counters
// and the signal mask are atomics, and the zombie list and pending-signal
// queue each get their own small mutex.
package cage

import (
	"sync"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"github.com/wasmcage/cagekernel/internal/vmmap"
)

// Uncatchable signals: installing a handler for these is rejected.
const (
	SIGKILL = 9
	SIGSTOP = 19
)

// Credentials holds the four lazily-initialized uid/gid pairs of a cage.
type Credentials struct {
	RUID, EUID, RGID, EGID uint32
	initialized            bool
}

// SignalHandler describes one installed handler, as sigaction(2) would.
type SignalHandler struct {
	Handler uintptr
	Flags   uint32
	Mask    uint64
}

// Zombie is a {child cage id, exit status} record pushed by exit and
// consumed by the parent's wait.
type Zombie struct {
	ChildCageID uint64
	ExitStatus  int32
}

// IntervalTimer is the state installed by setitimer(2).
type IntervalTimer struct {
	IntervalNanos int64
	ValueNanos    int64
}

// Cage is one isolated guest process's state.
type Cage struct {
	id       uint64
	parentID uint64

	cwdMu deadlock.RWMutex
	cwd   string

	credMu sync.Mutex
	creds  Credentials

	mainThreadID uint32

	timerMu sync.Mutex
	timer   IntervalTimer

	sigHandlersMu deadlock.RWMutex
	sigHandlers   map[int]SignalHandler

	sigMask atomic.Uint64

	pendingMu sync.Mutex
	pending   []int

	zombieMu sync.Mutex
	zombies  []Zombie

	activeChildren atomic.Int32

	vm *vmmap.Vmmap

	threadsMu sync.Mutex
	threads   map[uint32]struct{}

	cancelled atomic.Bool
	rewinding atomic.Bool
}

// New creates a fresh cage with id, owned by parentID, rooted at cwd.
func New(id, parentID uint64, cwd string) *Cage {
	return &Cage{
		id:          id,
		parentID:    parentID,
		cwd:         cwd,
		sigHandlers: make(map[int]SignalHandler),
		vm:          vmmap.New(0, 0),
		threads:     map[uint32]struct{}{id2thread(id): {}},
		mainThreadID: id2thread(id),
	}
}

// id2thread derives the main thread id for a freshly created cage. Real
// thread ids come from the host; this is only the seed used before the
// runtime hands back a real one via SetMainThreadID.
func id2thread(id uint64) uint32 { return uint32(id) }

func (c *Cage) ID() uint64       { return c.id }
func (c *Cage) ParentID() uint64 { return c.parentID }
func (c *Cage) Vmmap() *vmmap.Vmmap { return c.vm }

func (c *Cage) MainThreadID() uint32 { return c.mainThreadID }
func (c *Cage) SetMainThreadID(tid uint32) {
	c.mainThreadID = tid
	c.threadsMu.Lock()
	c.threads = map[uint32]struct{}{tid: {}}
	c.threadsMu.Unlock()
}

// Cwd returns the current working directory.
func (c *Cage) Cwd() string {
	c.cwdMu.RLock()
	defer c.cwdMu.RUnlock()
	return c.cwd
}

// SetCwd changes the current working directory.
func (c *Cage) SetCwd(path string) {
	c.cwdMu.Lock()
	defer c.cwdMu.Unlock()
	c.cwd = path
}

// Credentials returns a copy of the cage's credentials, lazily initializing
// them to the host's real identity on first access.
func (c *Cage) Credentials(initFn func() Credentials) Credentials {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	if !c.creds.initialized {
		c.creds = initFn()
		c.creds.initialized = true
	}
	return c.creds
}

// SetCredentials overwrites the cage's credentials (setuid/setgid family).
func (c *Cage) SetCredentials(creds Credentials) {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	creds.initialized = true
	c.creds = creds
}

// Timer returns the current interval timer state.
func (c *Cage) Timer() IntervalTimer {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	return c.timer
}

// SetTimer installs a new interval timer, returning the previous one.
func (c *Cage) SetTimer(t IntervalTimer) IntervalTimer {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	old := c.timer
	c.timer = t
	return old
}

// ErrUncatchableSignal is returned by SetHandler for SIGKILL/SIGSTOP.
type ErrUncatchableSignal struct{ Signal int }

func (e *ErrUncatchableSignal) Error() string { return "cage: signal is not catchable" }

// SetHandler installs a handler for sig. SIGKILL and SIGSTOP may not be
// caught.
func (c *Cage) SetHandler(sig int, h SignalHandler) error {
	if sig == SIGKILL || sig == SIGSTOP {
		return &ErrUncatchableSignal{Signal: sig}
	}
	c.sigHandlersMu.Lock()
	defer c.sigHandlersMu.Unlock()
	c.sigHandlers[sig] = h
	return nil
}

// Handler returns the handler installed for sig, if any.
func (c *Cage) Handler(sig int) (SignalHandler, bool) {
	c.sigHandlersMu.RLock()
	defer c.sigHandlersMu.RUnlock()
	h, ok := c.sigHandlers[sig]
	return h, ok
}

// ResetHandlers clears every installed handler, reverting all signals to
// their default disposition. Used by exec.
func (c *Cage) ResetHandlers() {
	c.sigHandlersMu.Lock()
	defer c.sigHandlersMu.Unlock()
	c.sigHandlers = make(map[int]SignalHandler)
}

func (c *Cage) HandlerCount() int {
	c.sigHandlersMu.RLock()
	defer c.sigHandlersMu.RUnlock()
	return len(c.sigHandlers)
}

// SignalMask returns the current 64-bit signal mask.
func (c *Cage) SignalMask() uint64 { return c.sigMask.Load() }

// SetSignalMask overwrites the signal mask (sigprocmask SIG_SETMASK).
func (c *Cage) SetSignalMask(mask uint64) { c.sigMask.Store(mask) }

// BlockSignals ORs bits into the signal mask (sigprocmask SIG_BLOCK).
func (c *Cage) BlockSignals(mask uint64) {
	for {
		old := c.sigMask.Load()
		if c.sigMask.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// UnblockSignals clears bits from the signal mask (sigprocmask SIG_UNBLOCK).
// Returns true if any of the unblocked signals are currently pending, in
// which case the caller (the sig package) must raise an epoch-interrupt.
func (c *Cage) UnblockSignals(mask uint64) bool {
	for {
		old := c.sigMask.Load()
		if c.sigMask.CompareAndSwap(old, old&^mask) {
			break
		}
	}
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for _, sig := range c.pending {
		if mask&(1<<uint(sig)) != 0 {
			return true
		}
	}
	return false
}

// ClearSignalMask resets the mask to zero. Used by exec.
func (c *Cage) ClearSignalMask() { c.sigMask.Store(0) }

// EnqueuePending appends sig to the ordered pending-signal queue.
func (c *Cage) EnqueuePending(sig int) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending = append(c.pending, sig)
}

// NextDeliverable pops and returns the first pending signal not currently
// masked, if any.
func (c *Cage) NextDeliverable() (int, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	mask := c.SignalMask()
	for i, sig := range c.pending {
		if mask&(1<<uint(sig)) != 0 {
			continue
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		return sig, true
	}
	return 0, false
}

// PendingSnapshot returns a copy of the pending queue. Exec leaves the queue
// itself in place, so pending signals survive the image swap.
func (c *Cage) PendingSnapshot() []int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	out := make([]int, len(c.pending))
	copy(out, c.pending)
	return out
}

// EnqueueZombie pushes a zombie entry, consumed by a subsequent Wait.
func (c *Cage) EnqueueZombie(z Zombie) {
	c.zombieMu.Lock()
	defer c.zombieMu.Unlock()
	c.zombies = append(c.zombies, z)
}

// PopZombie removes and returns the oldest zombie, if any.
func (c *Cage) PopZombie() (Zombie, bool) {
	c.zombieMu.Lock()
	defer c.zombieMu.Unlock()
	if len(c.zombies) == 0 {
		return Zombie{}, false
	}
	z := c.zombies[0]
	c.zombies = c.zombies[1:]
	return z, true
}

// PopZombieFor removes and returns the zombie for a specific child, if any
// (waitpid(pid) semantics as opposed to waitpid(-1)).
func (c *Cage) PopZombieFor(childID uint64) (Zombie, bool) {
	c.zombieMu.Lock()
	defer c.zombieMu.Unlock()
	for i, z := range c.zombies {
		if z.ChildCageID == childID {
			c.zombies = append(c.zombies[:i], c.zombies[i+1:]...)
			return z, true
		}
	}
	return Zombie{}, false
}

func (c *Cage) IncActiveChildren() int32 { return c.activeChildren.Add(1) }
func (c *Cage) DecActiveChildren() int32 { return c.activeChildren.Add(-1) }
func (c *Cage) ActiveChildren() int32    { return c.activeChildren.Load() }

// Cancel sets this cage's cancellation flag; blocking syscall handlers check
// it after waking.
func (c *Cage) Cancel()          { c.cancelled.Store(true) }
func (c *Cage) ClearCancel()     { c.cancelled.Store(false) }
func (c *Cage) Cancelled() bool  { return c.cancelled.Load() }

// SetRewinding/Rewinding track whether this cage's main thread is currently
// mid-rewind, consulted by the rewind-catching convention.
func (c *Cage) SetRewinding(v bool) { c.rewinding.Store(v) }
func (c *Cage) Rewinding() bool     { return c.rewinding.Load() }

// ForkChild builds the child cage's state for a fork(2): VMMAP and signal
// handlers cloned, credentials cloned, zombie list fresh-empty.
func (c *Cage) ForkChild(childID uint64) *Cage {
	child := New(childID, c.id, c.Cwd())

	child.vm = c.vm.Clone()

	c.sigHandlersMu.RLock()
	for sig, h := range c.sigHandlers {
		child.sigHandlers[sig] = h
	}
	c.sigHandlersMu.RUnlock()

	child.sigMask.Store(c.sigMask.Load())

	c.credMu.Lock()
	child.creds = c.creds
	c.credMu.Unlock()

	return child
}

// ResetForExec clears the VMMAP, resets signal handlers to default, and
// clears the signal mask, but preserves the pending-signal queue. The cage
// id is not changed.
func (c *Cage) ResetForExec() {
	c.vm.Clear()
	c.ResetHandlers()
	c.ClearSignalMask()
}
