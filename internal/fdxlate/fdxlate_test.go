package fdxlate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndTranslate(t *testing.T) {
	tbl := NewTable()
	vfd := tbl.Register(42, false)

	hostFd, err := tbl.Translate(vfd)
	require.NoError(t, err)
	require.EqualValues(t, 42, hostFd)
}

func TestTranslateBadFd(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Translate(7)
	require.Error(t, err)
}

func TestCloseRemovesTranslation(t *testing.T) {
	tbl := NewTable()
	vfd := tbl.Register(3, false)
	require.NoError(t, tbl.Close(vfd))
	_, err := tbl.Translate(vfd)
	require.Error(t, err)
}

func TestStdioTableSeedsZeroOneTwo(t *testing.T) {
	tbl := StdioTable(10, 11, 12)
	for vfd, want := range map[int32]int32{0: 10, 1: 11, 2: 12} {
		got, err := tbl.Translate(vfd)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	// The next allocation must not collide with the seeded stdio fds.
	require.EqualValues(t, 3, tbl.Register(99, false))
}

func TestCloneIsIndependent(t *testing.T) {
	tbl := NewTable()
	vfd := tbl.Register(5, false)
	clone := tbl.Clone()

	require.NoError(t, clone.Close(vfd))
	_, err := tbl.Translate(vfd)
	require.NoError(t, err, "closing in the clone must not affect the original")
}

func TestFilterForExecDropsCloseOnExecEntries(t *testing.T) {
	tbl := NewTable()
	keep := tbl.Register(1, false)
	drop := tbl.Register(2, true)

	tbl.FilterForExec()

	_, err := tbl.Translate(keep)
	require.NoError(t, err)
	_, err = tbl.Translate(drop)
	require.Error(t, err)
}

func TestOpenPtyStdioReturnsSameFdThreeTimes(t *testing.T) {
	master, stdin, stdout, stderr, err := OpenPtyStdio()
	if err != nil {
		t.Skipf("no pseudo-terminal available in this environment: %v", err)
	}
	defer master.Close()

	require.Equal(t, stdin, stdout)
	require.Equal(t, stdout, stderr)
	require.Greater(t, stdin, int32(0))
}
