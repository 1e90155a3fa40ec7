// Package addrxlate implements the Address Translator: it turns a
// guest-supplied (address, length, required-protection) triple into a
// host-addressable pointer by consulting the owning cage's VMMAP.
package addrxlate

import (
	"unsafe"

	"github.com/wasmcage/cagekernel/internal/vmmap"
)

// Error kinds returned by Translate.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "addrxlate: " + e.Reason }

var (
	ErrUnmapped           = &Error{Reason: "unmapped range"}
	ErrInsufficientProt   = &Error{Reason: "insufficient protection"}
	ErrOutOfAddressSpace  = &Error{Reason: "out of address-space range"}
)

// cachedHit is a single-entry, per-cage cache of the last successfully
// translated entry, invalidated by comparing against the map's mutation
// version.
type cachedHit struct {
	version uint64
	entry   vmmap.Entry
	valid   bool
}

// Translator wraps one cage's VMMAP with a single-entry translation cache.
// One Translator is meant to be held per cage, not shared.
type Translator struct {
	vm    *vmmap.Vmmap
	cache cachedHit
}

// New returns a Translator over vm.
func New(vm *vmmap.Vmmap) *Translator {
	return &Translator{vm: vm}
}

// Translate converts [guestAddr, guestAddr+length) into a host pointer,
// after verifying every covered page is mapped with at least requiredProt.
// Zero length is legal and returns a pointer that must not be dereferenced.
func (t *Translator) Translate(guestAddr uint64, length uint64, requiredProt vmmap.Prot) (unsafe.Pointer, error) {
	base := t.vm.BaseAddress()

	if length == 0 {
		return unsafe.Pointer(base + uintptr(guestAddr)), nil
	}

	start, end := t.vm.Bounds()
	startPage := uint32(guestAddr >> vmmap.PageShift)
	endPage := uint32((guestAddr + length - 1) >> vmmap.PageShift) + 1
	if startPage < start || endPage > end {
		return nil, ErrOutOfAddressSpace
	}

	if err := t.checkCovered(startPage, endPage, requiredProt); err != nil {
		return nil, err
	}

	return unsafe.Pointer(base + uintptr(guestAddr)), nil
}

// checkCovered walks [startPage, endPage) left to right, consulting the
// single-entry cache first and falling back to the VMMAP on a miss.
func (t *Translator) checkCovered(startPage, endPage uint32, requiredProt vmmap.Prot) error {
	cur := startPage
	version := t.vm.Version()
	for cur < endPage {
		if t.cache.valid && t.cache.version == version &&
			t.cache.entry.StartPage <= cur && cur < t.cache.entry.EndPage() {
			if !t.cache.entry.Prot.Covers(requiredProt) {
				return ErrInsufficientProt
			}
			cur = t.cache.entry.EndPage()
			continue
		}

		entry, ok := t.vm.EntryAt(cur)
		if !ok {
			return ErrUnmapped
		}
		if !entry.Prot.Covers(requiredProt) {
			return ErrInsufficientProt
		}
		t.cache = cachedHit{version: version, entry: entry, valid: true}
		cur = entry.EndPage()
	}
	return nil
}

// Invalidate drops the cache. Callers that mutate the VMMAP don't need to
// call this explicitly — the version check already detects staleness — but
// it's exposed for tests and for callers that want to force a fresh lookup.
func (t *Translator) Invalidate() { t.cache = cachedHit{} }
