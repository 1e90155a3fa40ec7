package syscalls

import (
	"sync"

	goerrors "github.com/go-errors/errors"
	"github.com/sirupsen/logrus"

	"github.com/wasmcage/cagekernel/internal/addrxlate"
	"github.com/wasmcage/cagekernel/internal/cage"
	"github.com/wasmcage/cagekernel/internal/fdxlate"
	"github.com/wasmcage/cagekernel/internal/sandboxfs"
	"github.com/wasmcage/cagekernel/internal/unwind"
)

// handler is one dispatch-table entry. It receives the call's Args and the
// owning Dispatcher, and returns the int32 the guest sees: non-negative is
// success, negative is a negated errno.
type handler func(d *Dispatcher, a Args) int32

// numSyscalls bounds the dense dispatch table: syscall numbers fall in
// 1..200.
const numSyscalls = 201

// Dispatcher is the single public entry point of the core. One Dispatcher
// is shared process-wide; its own fields are either
// immutable after construction or independently synchronized collaborators.
type Dispatcher struct {
	cages  *cage.Table
	unwind *unwind.Controller
	root   *sandboxfs.Root
	log    *logrus.Logger

	collabMu sync.Mutex
	fds      map[uint64]*fdxlate.Table
	xlate    map[uint64]*addrxlate.Translator

	ipc *ipcRegistry

	table [numSyscalls]handler
}

// New builds a Dispatcher wired to the given collaborators. The dispatch
// table is populated once here, building a fixed syscall-number -> function
// table at init rather than a runtime type switch.
func New(cages *cage.Table, ctrl *unwind.Controller, root *sandboxfs.Root, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	d := &Dispatcher{
		cages:  cages,
		unwind: ctrl,
		root:   root,
		log:    log,
		fds:    make(map[uint64]*fdxlate.Table),
		xlate:  make(map[uint64]*addrxlate.Translator),
	}
	d.registerFile()
	d.registerMmap()
	d.registerNet()
	d.registerPoll()
	d.registerProcess()
	d.registerSignal()
	d.registerIPC()
	return d
}

// register installs fn at syscall number num, panicking on a colliding
// registration — a programming error, not a runtime condition.
func (d *Dispatcher) register(num int, fn handler) {
	if d.table[num] != nil {
		panic("syscalls: duplicate registration")
	}
	d.table[num] = fn
}

// BindCage attaches the collaborators a freshly created cage needs: its fd
// table and address translator. Called once per cage: by cagekernel.Init
// for the startup cages and by fork for each child.
func (d *Dispatcher) BindCage(cageID uint64, fds *fdxlate.Table, vm *cage.Cage) {
	d.collabMu.Lock()
	defer d.collabMu.Unlock()
	d.fds[cageID] = fds
	d.xlate[cageID] = addrxlate.New(vm.Vmmap())
}

// UnbindCage drops a cage's collaborators, called from exit and from
// cagekernel's Finalize.
func (d *Dispatcher) UnbindCage(cageID uint64) {
	d.collabMu.Lock()
	defer d.collabMu.Unlock()
	delete(d.fds, cageID)
	delete(d.xlate, cageID)
}

func (d *Dispatcher) fdTable(cageID uint64) (*fdxlate.Table, bool) {
	d.collabMu.Lock()
	defer d.collabMu.Unlock()
	t, ok := d.fds[cageID]
	return t, ok
}

func (d *Dispatcher) translator(cageID uint64) (*addrxlate.Translator, bool) {
	d.collabMu.Lock()
	defer d.collabMu.Unlock()
	t, ok := d.xlate[cageID]
	return t, ok
}

// Dispatch is the core's single entry point. callerCage owns every argument
// slot whose per-argument owner isn't explicitly overridden by argCage — in
// the common case argCage[i] equals callerCage for every i.
func (d *Dispatcher) Dispatch(callerCage uint64, syscallNum uint32, memoryBase uint64, val [6]uint64, argCage [6]uint64) (result int32) {
	c, ok := d.cages.Lookup(callerCage)
	if !ok {
		return Negate(ErrFault)
	}

	thread := unwind.ThreadHandle{CageID: callerCage, ThreadID: c.MainThreadID()}
	if result, caught := d.unwind.CatchRewind(thread); caught {
		return result
	}

	if int(syscallNum) >= numSyscalls {
		return -1
	}
	fn := d.table[syscallNum]
	if fn == nil {
		return -1
	}

	for i, owner := range argCage {
		if owner == 0 {
			argCage[i] = callerCage
		}
	}

	a := Args{CallerCage: callerCage, Syscall: syscallNum, MemoryBase: memoryBase, Val: val, Cage: argCage}

	defer func() {
		if r := recover(); r != nil {
			stack := goerrors.Wrap(r, 2).ErrorStack()
			d.log.WithFields(logrus.Fields{"syscall": syscallNum, "cage_id": callerCage, "panic": r, "stack": stack}).Error("syscall handler panicked")
			result = Negate(ErrFault)
		}
	}()

	return fn(d, a)
}
