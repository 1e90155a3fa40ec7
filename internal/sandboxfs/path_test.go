package sandboxfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToHostStripsLeadingSlash(t *testing.T) {
	r := NewRoot("/srv/sandbox")
	require.Equal(t, "/srv/sandbox/tmp/x", r.ToHost("/tmp/x"))
}

func TestToHostClampsTraversal(t *testing.T) {
	r := NewRoot("/srv/sandbox")
	require.Equal(t, "/srv/sandbox", r.ToHost("/../../etc/passwd"))
}

func TestFromHostRoundTrip(t *testing.T) {
	r := NewRoot("/srv/sandbox")
	host := r.ToHost("/tmp/x")
	require.Equal(t, "/tmp/x", r.FromHost(host))
}

func TestFromHostRoot(t *testing.T) {
	r := NewRoot("/srv/sandbox")
	require.Equal(t, "/", r.FromHost("/srv/sandbox"))
}
