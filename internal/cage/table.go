package cage

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// UtilityCageID is reserved for system startup and is not a real guest.
const UtilityCageID = 0

// InitCageID is the first real guest cage created at startup.
const InitCageID = 1

// Table is the process-wide cage id -> cage registry. Inserts and removes
// are serialized by a mutex; reads (GetRef) take a shared snapshot, mirroring
// the registry-by-id pattern minimega's VM table uses for its own
// mutex-guarded id->VM map.
type Table struct {
	mu    sync.RWMutex
	cages map[uint64]*Cage

	nextCageID   atomic.Uint64
	nextThreadID atomic.Uint32

	log *logrus.Logger
}

// NewTable returns an empty table. cagekernel.Init inserts the startup
// cages (UtilityCageID and InitCageID); ids handed out by AllocateCageID
// and AllocateThreadID start above InitCageID, so they never collide with
// those cages or with the main-thread ids seeded for them.
func NewTable(log *logrus.Logger) *Table {
	if log == nil {
		log = logrus.New()
	}
	t := &Table{cages: make(map[uint64]*Cage), log: log}
	t.nextCageID.Store(InitCageID + 1)
	t.nextThreadID.Store(InitCageID + 1)
	return t
}

// AllocateCageID returns a fresh cage id, or ok=false if the id space is
// exhausted. Exhaustion is fatal, but that decision is made by the caller,
// not the allocator.
func (t *Table) AllocateCageID() (id uint64, ok bool) {
	id = t.nextCageID.Add(1) - 1
	if id == 0 {
		return 0, false // wrapped around u64
	}
	return id, true
}

// AllocateThreadID returns a fresh host-wide thread id, or ok=false if
// exhausted.
func (t *Table) AllocateThreadID() (id uint32, ok bool) {
	id = t.nextThreadID.Add(1) - 1
	if id == 0 {
		return 0, false
	}
	return id, true
}

// Insert registers cage under its own id.
func (t *Table) Insert(c *Cage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cages[c.id] = c
	t.log.WithField("cage_id", c.id).Debug("cage inserted")
}

// Remove deregisters the cage with the given id.
func (t *Table) Remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cages, id)
	t.log.WithField("cage_id", id).Debug("cage removed")
}

// GetRef returns the cage registered under id. It panics if absent: callers
// are expected to hold a valid id.
func (t *Table) GetRef(id uint64) *Cage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.cages[id]
	if !ok {
		panic("cage: GetRef of unknown cage id")
	}
	return c
}

// Lookup is GetRef without the panic, for callers (like the dispatcher's
// argument validation) that must turn a bad id into a guest-visible error
// instead of crashing.
func (t *Table) Lookup(id uint64) (*Cage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.cages[id]
	return c, ok
}

// Clear empties the table and returns the ids that were present, so
// Finalize can drive exit on each leftover cage.
func (t *Table) Clear() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint64, 0, len(t.cages))
	for id := range t.cages {
		ids = append(ids, id)
	}
	t.cages = make(map[uint64]*Cage)
	return ids
}
