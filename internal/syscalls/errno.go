package syscalls

import "golang.org/x/sys/unix"

// Errno is a POSIX errno value. The dispatcher's only guest-visible error
// representation — never wrapped, always returned negated.
type Errno int32

func (e Errno) Error() string { return unix.Errno(e).Error() }

// Negate converts a host error into the dispatcher's negative-errno return
// convention: a negative return is a negated errno code.
// A nil error becomes 0; an error that is neither a unix.Errno nor an Errno
// becomes EIO, matching the teacher's syscall_cosmo.go fallback for an
// unrecognized cosmo errno.
func Negate(err error) int32 {
	if err == nil {
		return 0
	}
	switch e := err.(type) {
	case unix.Errno:
		return -int32(e)
	case Errno:
		return -int32(e)
	default:
		return -int32(unix.EIO)
	}
}

const (
	// ErrFault is returned when an argument fails sentinel or type
	// validation ("any deviation fails the call with a
	// fault error").
	ErrFault = Errno(unix.EFAULT)
	// ErrInval covers the accept/recvfrom null-pairing rule and munmap's
	// zero-length rejection, an ordering/tie-break rule.
	ErrInval = Errno(unix.EINVAL)
	// ErrBadf is returned when the FD Translator has no mapping for a
	// virtual fd.
	ErrBadf = Errno(unix.EBADF)
	// ErrNoent is exec's "no such file" result (the documented failure
	// semantics, "Exec of a nonexistent file").
	ErrNoent = Errno(unix.ENOENT)
	// ErrIntr is returned by poll/select/epoll_wait on signal-pending
	// wakeup and by blocking handlers that observe a cancelled cage.
	ErrIntr = Errno(unix.EINTR)
)
