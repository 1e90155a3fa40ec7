package syscalls

import (
	"sync"

	"golang.org/x/sys/unix"
)

// ipcRegistry holds the host-side primitives backing the guest's
// mutex/cond/sem/shm syscalls — objects with no POSIX fd representation, so
// they're kept in process-wide id-keyed tables rather than routed through
// the FD Translator, mirroring how the original's `sys_calls.rs` keeps a
// separate table per primitive kind instead of overloading the fd space.
type ipcRegistry struct {
	mu      sync.Mutex
	nextID  uint32
	mutexes map[uint32]*sync.Mutex
	conds   map[uint32]*sync.Cond
	sems    map[uint32]chan struct{}
	shm     map[uint32][]byte
}

func newIPCRegistry() *ipcRegistry {
	return &ipcRegistry{
		nextID:  1,
		mutexes: make(map[uint32]*sync.Mutex),
		conds:   make(map[uint32]*sync.Cond),
		sems:    make(map[uint32]chan struct{}),
		shm:     make(map[uint32][]byte),
	}
}

func (r *ipcRegistry) alloc() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

func (d *Dispatcher) registerIPC() {
	d.ipc = newIPCRegistry()

	d.register(MutexCreateSyscall, sysMutexCreate)
	d.register(MutexDestroySyscall, sysMutexDestroy)
	d.register(MutexLockSyscall, sysMutexLock)
	d.register(MutexTrylockSyscall, sysMutexTrylock)
	d.register(MutexUnlockSyscall, sysMutexUnlock)

	d.register(CondCreateSyscall, sysCondCreate)
	d.register(CondDestroySyscall, sysCondDestroy)
	d.register(CondSignalSyscall, sysCondSignal)
	d.register(CondBroadcastSyscall, sysCondBroadcast)

	d.register(SemInitSyscall, sysSemInit)
	d.register(SemWaitSyscall, sysSemWait)
	d.register(SemTrywaitSyscall, sysSemTrywait)
	d.register(SemPostSyscall, sysSemPost)
	d.register(SemDestroySyscall, sysSemDestroy)
	d.register(SemGetvalueSyscall, sysSemGetvalue)

	d.register(ShmgetSyscall, sysShmget)
	d.register(ShmdtSyscall, sysShmdt)
	d.register(ShmctlSyscall, sysShmctl)

	d.register(FutexSyscall, sysFutex)
}

func sysMutexCreate(d *Dispatcher, a Args) int32 {
	id := d.ipc.alloc()
	d.ipc.mu.Lock()
	d.ipc.mutexes[id] = &sync.Mutex{}
	d.ipc.mu.Unlock()
	return int32(id)
}

func sysMutexDestroy(d *Dispatcher, a Args) int32 {
	id := a.u32(0)
	d.ipc.mu.Lock()
	defer d.ipc.mu.Unlock()
	if _, ok := d.ipc.mutexes[id]; !ok {
		return Negate(ErrInval)
	}
	delete(d.ipc.mutexes, id)
	return 0
}

func (d *Dispatcher) lookupMutex(id uint32) (*sync.Mutex, bool) {
	d.ipc.mu.Lock()
	defer d.ipc.mu.Unlock()
	m, ok := d.ipc.mutexes[id]
	return m, ok
}

func sysMutexLock(d *Dispatcher, a Args) int32 {
	m, ok := d.lookupMutex(a.u32(0))
	if !ok {
		return Negate(ErrInval)
	}
	m.Lock()
	return 0
}

func sysMutexTrylock(d *Dispatcher, a Args) int32 {
	m, ok := d.lookupMutex(a.u32(0))
	if !ok {
		return Negate(ErrInval)
	}
	if !m.TryLock() {
		return Negate(Errno(unix.EBUSY))
	}
	return 0
}

func sysMutexUnlock(d *Dispatcher, a Args) int32 {
	m, ok := d.lookupMutex(a.u32(0))
	if !ok {
		return Negate(ErrInval)
	}
	m.Unlock()
	return 0
}

func sysCondCreate(d *Dispatcher, a Args) int32 {
	id := d.ipc.alloc()
	d.ipc.mu.Lock()
	d.ipc.conds[id] = sync.NewCond(&sync.Mutex{})
	d.ipc.mu.Unlock()
	return int32(id)
}

func sysCondDestroy(d *Dispatcher, a Args) int32 {
	id := a.u32(0)
	d.ipc.mu.Lock()
	defer d.ipc.mu.Unlock()
	if _, ok := d.ipc.conds[id]; !ok {
		return Negate(ErrInval)
	}
	delete(d.ipc.conds, id)
	return 0
}

func sysCondSignal(d *Dispatcher, a Args) int32 {
	d.ipc.mu.Lock()
	c, ok := d.ipc.conds[a.u32(0)]
	d.ipc.mu.Unlock()
	if !ok {
		return Negate(ErrInval)
	}
	c.Signal()
	return 0
}

func sysCondBroadcast(d *Dispatcher, a Args) int32 {
	d.ipc.mu.Lock()
	c, ok := d.ipc.conds[a.u32(0)]
	d.ipc.mu.Unlock()
	if !ok {
		return Negate(ErrInval)
	}
	c.Broadcast()
	return 0
}

// Semaphores are represented as a buffered channel of capacity 1<<20 with
// value tokens pre-filled, giving wait/post/trywait the usual counting
// semantics without a bespoke condition-variable dance.
func sysSemInit(d *Dispatcher, a Args) int32 {
	value := a.u32(1)
	id := d.ipc.alloc()
	ch := make(chan struct{}, 1<<20)
	for i := uint32(0); i < value; i++ {
		ch <- struct{}{}
	}
	d.ipc.mu.Lock()
	d.ipc.sems[id] = ch
	d.ipc.mu.Unlock()
	return int32(id)
}

func (d *Dispatcher) lookupSem(id uint32) (chan struct{}, bool) {
	d.ipc.mu.Lock()
	defer d.ipc.mu.Unlock()
	ch, ok := d.ipc.sems[id]
	return ch, ok
}

func sysSemWait(d *Dispatcher, a Args) int32 {
	ch, ok := d.lookupSem(a.u32(0))
	if !ok {
		return Negate(ErrInval)
	}
	<-ch
	return 0
}

func sysSemTrywait(d *Dispatcher, a Args) int32 {
	ch, ok := d.lookupSem(a.u32(0))
	if !ok {
		return Negate(ErrInval)
	}
	select {
	case <-ch:
		return 0
	default:
		return Negate(Errno(unix.EAGAIN))
	}
}

func sysSemPost(d *Dispatcher, a Args) int32 {
	ch, ok := d.lookupSem(a.u32(0))
	if !ok {
		return Negate(ErrInval)
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return 0
}

func sysSemDestroy(d *Dispatcher, a Args) int32 {
	id := a.u32(0)
	d.ipc.mu.Lock()
	defer d.ipc.mu.Unlock()
	if _, ok := d.ipc.sems[id]; !ok {
		return Negate(ErrInval)
	}
	delete(d.ipc.sems, id)
	return 0
}

func sysSemGetvalue(d *Dispatcher, a Args) int32 {
	ch, ok := d.lookupSem(a.u32(0))
	if !ok {
		return Negate(ErrInval)
	}
	return int32(len(ch))
}

func sysShmget(d *Dispatcher, a Args) int32 {
	size := a.Val[1]
	id := d.ipc.alloc()
	d.ipc.mu.Lock()
	d.ipc.shm[id] = make([]byte, size)
	d.ipc.mu.Unlock()
	return int32(id)
}

func sysShmdt(d *Dispatcher, a Args) int32 {
	// No shmat handler is registered, so no segment is ever mapped into a
	// guest's VMMAP and there is nothing to detach; this table only owns the
	// backing bytes' lifetime (the shared-memory backing kind).
	return 0
}

func sysShmctl(d *Dispatcher, a Args) int32 {
	const ipcRmid = 0
	if a.u32(1) == ipcRmid {
		id := a.u32(0)
		d.ipc.mu.Lock()
		delete(d.ipc.shm, id)
		d.ipc.mu.Unlock()
	}
	return 0
}

// sysFutex is a minimal wait/wake futex built directly on the host's
// FUTEX_WAIT/FUTEX_WAKE, matching what os_cosmo_amd64_m.go uses to
// implement its runtime semaphore.
func sysFutex(d *Dispatcher, a Args) int32 {
	xlate, ok := d.translator(a.Cage[0])
	if !ok {
		return Negate(ErrFault)
	}
	addr, _ := a.ptr(0)
	p, err := xlate.Translate(addr, 4, 0)
	if err != nil {
		return Negate(ErrFault)
	}
	op := a.i32(1)
	val := a.u32(2)
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(p), uintptr(op), uintptr(val), 0, 0, 0)
	if errno != 0 {
		return Negate(errno)
	}
	return 0
}
