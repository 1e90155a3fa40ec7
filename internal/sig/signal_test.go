package sig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmcage/cagekernel/internal/cage"
)

func TestCheckPointInvokesInstalledHandler(t *testing.T) {
	c := cage.New(1, 0, "/")
	require.NoError(t, c.SetHandler(10, cage.SignalHandler{Handler: 0x4000}))
	c.EnqueuePending(10)

	d, ok := CheckPoint(c, nil)
	require.True(t, ok)
	require.Equal(t, ActionInvokeHandler, d.Action)
	require.EqualValues(t, 0x4000, d.Handler.Handler)
}

func TestCheckPointDefaultTerminate(t *testing.T) {
	c := cage.New(1, 0, "/")
	c.EnqueuePending(15) // SIGTERM, no handler installed

	d, ok := CheckPoint(c, nil)
	require.True(t, ok)
	require.Equal(t, ActionTerminate, d.Action)
}

func TestCheckPointDefaultIgnore(t *testing.T) {
	c := cage.New(1, 0, "/")
	c.EnqueuePending(28) // SIGWINCH-ish, not in the terminate set, no handler

	d, ok := CheckPoint(c, nil)
	require.True(t, ok)
	require.Equal(t, ActionIgnore, d.Action)
}

func TestCheckPointSkipsMaskedSignal(t *testing.T) {
	c := cage.New(1, 0, "/")
	c.SetSignalMask(1 << 10)
	c.EnqueuePending(10)

	_, ok := CheckPoint(c, nil)
	require.False(t, ok)
}

func TestKillEnqueues(t *testing.T) {
	target := cage.New(2, 0, "/")
	Kill(target, 9)
	d, ok := CheckPoint(target, nil)
	require.True(t, ok)
	require.Equal(t, 9, d.Signal)
}
