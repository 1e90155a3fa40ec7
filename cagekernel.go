// Package cagekernel is the public entry point: it bootstraps and wires
// together the collaborators that make up one host process's worth of
// cages — the cage table, the unwind/rewind controller, the sandbox root,
// and the syscall dispatcher — behind the handful of calls a host runtime
// driver actually needs: Init, CageMemoryInit, Dispatch, and Finalize.
package cagekernel

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/wasmcage/cagekernel/internal/cage"
	"github.com/wasmcage/cagekernel/internal/fdxlate"
	"github.com/wasmcage/cagekernel/internal/sandboxfs"
	"github.com/wasmcage/cagekernel/internal/sig"
	"github.com/wasmcage/cagekernel/internal/syscalls"
	"github.com/wasmcage/cagekernel/internal/unwind"
	"github.com/wasmcage/cagekernel/internal/vmmap"
)

// InitCageID and UtilityCageID re-export the cage package's reserved ids,
// so a host never needs to import internal/cage directly just to drive its
// first two guests.
const (
	UtilityCageID = cage.UtilityCageID
	InitCageID    = cage.InitCageID
)

// Config holds the construction-time parameters a host passes to Init.
type Config struct {
	// SandboxRoot is the host directory every guest path is rewritten
	// relative to.
	SandboxRoot string
	// Verbosity sets the kernel's log level. Debug and above log to
	// stderr; anything quieter discards output, mirroring lazydocker's
	// production-vs-development logger split without the file-backed
	// development log (a host embedding this package owns its own log
	// file, if it wants one).
	Verbosity logrus.Level
}

func newLogger(v logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(v)
	if v < logrus.DebugLevel {
		log.Out = io.Discard
	}
	return log
}

// Kernel is one host process's cage kernel: every cage it manages shares
// this Kernel's cage table, unwind controller, and sandbox root.
type Kernel struct {
	Log *logrus.Logger

	cages  *cage.Table
	unwind *unwind.Controller
	root   *sandboxfs.Root
	disp   *syscalls.Dispatcher
}

// Init constructs a Kernel driving rt and creates the two cages every host
// needs before it can run a guest: UtilityCageID, reserved for startup
// bookkeeping, and InitCageID, the first real guest. Both are registered in
// the cage table and given a stdio-seeded fd table, but each VMMAP is still
// empty, with no base address and no guard entries — CageMemoryInit must be
// called for each once the runtime has actually instantiated it and a
// linear-memory base address exists.
//
// rt is the host's WebAssembly runtime, satisfying
// unwind.ContinuationRuntime; the kernel never instantiates guest code
// itself.
func Init(rt unwind.ContinuationRuntime, cfg Config) (*Kernel, error) {
	log := newLogger(cfg.Verbosity)

	cages := cage.NewTable(log)
	ctrl := unwind.New(rt, cages, log)
	root := sandboxfs.NewRoot(cfg.SandboxRoot)
	disp := syscalls.New(cages, ctrl, root, log)

	k := &Kernel{
		Log:    log,
		cages:  cages,
		unwind: ctrl,
		root:   root,
		disp:   disp,
	}

	for _, id := range []uint64{UtilityCageID, InitCageID} {
		if err := k.createCage(id); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func (k *Kernel) createCage(id uint64) error {
	c := cage.New(id, 0, k.root.Dir())
	k.cages.Insert(c)

	stdin, stdout, stderr, err := fdxlate.OpenStdioOrDevNull()
	if err != nil {
		return err
	}
	fds := fdxlate.StdioTable(stdin, stdout, stderr)
	k.disp.BindCage(id, fds, c)
	return nil
}

// usableGuardPages brackets the region of a cage's 32-bit address space
// the runtime has actually backed with real linear memory: a one-page
// guard at page 0, so a null-pointer guest access faults instead of
// translating to the host's own page zero, and a one-page guard at
// usablePages marking the boundary past which no real memory exists yet.
func usableGuardPages(vm *vmmap.Vmmap, usablePages uint32, cageID uint64) {
	vm.AddEntry(vmmap.Entry{
		StartPage: 0,
		NumPages:  1,
		Prot:      vmmap.ProtNone,
		MaxProt:   vmmap.ProtNone,
		Flags:     vmmap.FlagAnonymous | vmmap.FlagPrivate,
		Backing:   vmmap.Backing{Kind: vmmap.BackingAnonymous},
		CageID:    cageID,
	})
	vm.AddEntry(vmmap.Entry{
		StartPage: usablePages,
		NumPages:  1,
		Prot:      vmmap.ProtNone,
		MaxProt:   vmmap.ProtNone,
		Flags:     vmmap.FlagAnonymous | vmmap.FlagPrivate,
		Backing:   vmmap.Backing{Kind: vmmap.BackingAnonymous},
		CageID:    cageID,
	})
}

// CageMemoryInit seeds cageID's VMMAP once its guest instance has been
// created: it records the linear memory's host base address and installs
// the two sentinel guard entries marking the usable-memory region
// [1, usablePages). cageID must already be registered, either by Init (for
// UtilityCageID/InitCageID) or by a completed fork/pthread_create.
func (k *Kernel) CageMemoryInit(cageID uint64, baseAddr uintptr, usablePages uint32) {
	c := k.cages.GetRef(cageID)
	vm := c.Vmmap()
	vm.SetBaseAddress(baseAddr)
	usableGuardPages(vm, usablePages, cageID)
	vm.SetProgramBreak(1)
}

// Dispatch routes one syscall trap from callerCage through to its handler.
// The int32 it returns is the value the guest sees directly: non-negative
// is success, negative is a negated errno.
func (k *Kernel) Dispatch(callerCage uint64, syscallNum uint32, memoryBase uint64, val [6]uint64, argCage [6]uint64) int32 {
	return k.disp.Dispatch(callerCage, syscallNum, memoryBase, val, argCage)
}

// CheckSignals reports the next signal callerCage should act on at this
// safe point, if any. The host is expected to call this after every
// syscall returns and at any runtime-provided interruption point; for
// sig.ActionInvokeHandler it owns actually calling into the guest's
// handler function, since that call is specific to the host's own runtime
// and outside what unwind.ContinuationRuntime exposes.
func (k *Kernel) CheckSignals(cageID uint64) (sig.Delivery, bool) {
	c, ok := k.cages.Lookup(cageID)
	if !ok {
		return sig.Delivery{}, false
	}
	return sig.CheckPoint(c, k.Log)
}

// Finalize tears down every cage still registered, as if each had called
// exit(0). Intended for host process shutdown, not per-cage cleanup — a
// cage that exits normally deregisters itself via its own exit syscall.
func (k *Kernel) Finalize() {
	for _, id := range k.cages.Clear() {
		k.disp.UnbindCage(id)
		k.Log.WithField("cage_id", id).Debug("cage finalized")
	}
}

// Cages exposes the underlying cage table for hosts that need direct
// lookup (e.g. to read a cage's exit status after a wait syscall already
// reported it). Returned cages must not be mutated outside the syscalls
// and unwind packages' own methods.
func (k *Kernel) Cages() *cage.Table { return k.cages }
