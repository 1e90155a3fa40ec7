// Package sandboxfs implements the guest path namespace: every guest path is
// interpreted relative to a sandbox root directory, and UNIX-domain socket
// addresses get the same treatment on both send and receive.
package sandboxfs

import (
	"path/filepath"
	"strings"
)

// Root rewrites guest-visible paths into host paths rooted under dir.
type Root struct {
	dir string
}

// NewRoot returns a Root anchored at dir. dir should already be an absolute,
// cleaned host path.
func NewRoot(dir string) *Root {
	return &Root{dir: filepath.Clean(dir)}
}

// ToHost rewrites a guest path into a host path: an absolute guest path has
// its leading separator stripped and is rejoined under the sandbox root;
// a relative path is joined as-is. The result is cleaned, and a guest path
// that attempts to climb above the sandbox root with ".." is clamped back
// inside it.
func (r *Root) ToHost(guestPath string) string {
	trimmed := strings.TrimPrefix(guestPath, "/")
	joined := filepath.Join(r.dir, trimmed)
	prefix := r.dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if joined != r.dir && !strings.HasPrefix(joined, prefix) {
		return r.dir
	}
	return joined
}

// FromHost strips the sandbox root prefix off a host path, for the return
// path of syscalls like accept/getpeername that hand a path back to the
// guest.
func (r *Root) FromHost(hostPath string) string {
	rel := strings.TrimPrefix(hostPath, r.dir)
	if rel == "" {
		return "/"
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return rel
}

// Dir returns the sandbox root directory itself.
func (r *Root) Dir() string { return r.dir }
