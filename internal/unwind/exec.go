package unwind

import (
	"github.com/wasmcage/cagekernel/internal/cage"
	"github.com/wasmcage/cagekernel/internal/fdxlate"
)

// Exec implements the exec protocol. Exec preserves the cage id: execCage
// keeps its identity, only its mappings, signal handlers, and mask are
// reset. The caller (syscalls package) is responsible for stat-ing the
// target path and returning ENOENT without calling Exec at all when it
// doesn't exist — exec of a nonexistent file returns the "no such file"
// error without unwinding.
func (c *Controller) Exec(execCage *cage.Cage, thread ThreadHandle, region uint64, fds *fdxlate.Table) {
	c.setState(thread.ThreadID, StateUnwinding)
	c.rt.StartUnwind(thread, region)

	c.rt.OnCalled(thread, func() {
		c.setState(thread.ThreadID, StateRunning)
		c.rt.StopUnwind(thread)

		execCage.ResetForExec()
		fds.FilterForExec()

		newInst, err := c.rt.NewInstance(execCage.ID(), false)
		if err != nil {
			c.log.WithError(err).WithField("cage_id", execCage.ID()).Error("exec: reinstantiate failed")
			return
		}

		c.setState(newInst.ThreadID, StateRewinding)
		c.stashReturn(newInst.ThreadID, 0)
		c.rt.StartRewind(newInst, region, 0)
		c.rt.InvokeEntry(newInst)
	})
}
