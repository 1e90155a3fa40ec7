// Package fdxlate adapts the external FD Translator collaborator (a
// separate utility library that owns per-cage virtual fd tables) through
// the narrow API the dispatcher actually needs: translate a (cage id,
// virtual fd) pair to a host fd, register a new host fd under a fresh
// virtual fd, close, and the fork/exec table operations.
//
// That collaborator's own concurrency is assumed internal, and the core
// only calls through this API, so callers never lock around it. This
// package is itself a thin, in-process stand-in for that external library:
// each Table guards its own entries with a read-write mutex. It is
// grounded on the narrow surface vmmap.rs's
// `fdtables::translate_virtual_fd` call implies and on the close-on-exec
// bit handling in fcntl_cosmo_amd64.go.
package fdxlate

import (
	"os"
	"sync"

	"github.com/kr/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrBadFd is returned when a virtual fd has no translation.
type ErrBadFd struct{ Fd int32 }

func (e *ErrBadFd) Error() string { return "fdxlate: bad file descriptor" }

type entry struct {
	hostFd     int32
	closeOnExec bool
}

// Table is one cage's virtual fd -> host fd table.
type Table struct {
	mu      sync.RWMutex
	entries map[int32]entry
	next    int32
}

// NewTable returns an empty fd table.
func NewTable() *Table {
	return &Table{entries: make(map[int32]entry)}
}

// StdioTable seeds fds 0, 1, 2 from the given host fds: stdin/stdout/stderr,
// or /dev/null if no terminal is attached.
func StdioTable(stdin, stdout, stderr int32) *Table {
	t := NewTable()
	t.entries[0] = entry{hostFd: stdin}
	t.entries[1] = entry{hostFd: stdout}
	t.entries[2] = entry{hostFd: stderr}
	t.next = 3
	return t
}

// OpenStdioOrDevNull returns (stdin, stdout, stderr) host fds: the real
// terminal fds when one is attached, else /dev/null opened three times.
func OpenStdioOrDevNull() (stdin, stdout, stderr int32, err error) {
	if term.IsTerminal(0) || term.IsTerminal(1) || term.IsTerminal(2) {
		return 0, 1, 2, nil
	}
	fd, openErr := unix.Open("/dev/null", unix.O_RDWR, 0)
	if openErr != nil {
		return 0, 0, 0, openErr
	}
	return int32(fd), int32(fd), int32(fd), nil
}

// OpenPtyStdio allocates a fresh pseudo-terminal and returns the slave
// side's fd three times, for a cage that needs a real controlling terminal
// (a shell or curses program running inside the sandbox) rather than
// inheriting the host's own stdio or reading/writing /dev/null. The
// caller is responsible for closing master once the cage exits.
func OpenPtyStdio() (master *os.File, stdin, stdout, stderr int32, err error) {
	ptyFile, ttyFile, err := pty.Open()
	if err != nil {
		return nil, 0, 0, 0, err
	}
	fd := int32(ttyFile.Fd())
	return ptyFile, fd, fd, fd, nil
}

// Translate converts a virtual fd to a host fd.
func (t *Table) Translate(vfd int32) (int32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[vfd]
	if !ok {
		return -1, &ErrBadFd{Fd: vfd}
	}
	return e.hostFd, nil
}

// Register allocates a fresh virtual fd for an already-open host fd
// (used after a host-returning syscall like open/socket/accept succeeds).
func (t *Table) Register(hostFd int32, closeOnExec bool) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	vfd := t.next
	t.next++
	t.entries[vfd] = entry{hostFd: hostFd, closeOnExec: closeOnExec}
	return vfd
}

// Close drops a virtual fd's translation.
func (t *Table) Close(vfd int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[vfd]; !ok {
		return &ErrBadFd{Fd: vfd}
	}
	delete(t.entries, vfd)
	return nil
}

// SetCloseOnExec marks or clears the close-on-exec bit for vfd (fcntl
// F_SETFD FD_CLOEXEC).
func (t *Table) SetCloseOnExec(vfd int32, cloexec bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[vfd]
	if !ok {
		return &ErrBadFd{Fd: vfd}
	}
	e.closeOnExec = cloexec
	t.entries[vfd] = e
	return nil
}

// CloseOnExec reports vfd's close-on-exec bit.
func (t *Table) CloseOnExec(vfd int32) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[vfd]
	if !ok {
		return false, &ErrBadFd{Fd: vfd}
	}
	return e.closeOnExec, nil
}

// Clone duplicates the whole table, for fork.
func (t *Table) Clone() *Table {
	t.mu.RLock()
	defer t.mu.RUnlock()
	clone := NewTable()
	for vfd, e := range t.entries {
		clone.entries[vfd] = e
	}
	clone.next = t.next
	return clone
}

// FilterForExec removes every entry whose close-on-exec bit is set, in
// place, as exec's protocol requires.
func (t *Table) FilterForExec() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for vfd, e := range t.entries {
		if e.closeOnExec {
			delete(t.entries, vfd)
		}
	}
}
