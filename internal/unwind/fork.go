package unwind

import (
	"sync"

	"github.com/wasmcage/cagekernel/internal/cage"
	"github.com/wasmcage/cagekernel/internal/fdxlate"
)

// ForkResult carries what the dispatcher needs after Fork returns: the new
// cage, its cloned fd table, and its main thread handle.
type ForkResult struct {
	Child       *cage.Cage
	ChildFDs    *fdxlate.Table
	ChildThread ThreadHandle
}

// Fork implements the fork protocol. Fork is rejected if parentThread is
// not parent's main thread. Cage id / thread id exhaustion is fatal.
func (c *Controller) Fork(parent *cage.Cage, parentThread ThreadHandle, region uint64, parentFDs *fdxlate.Table) (ForkResult, error) {
	if parentThread.ThreadID != parent.MainThreadID() {
		return ForkResult{}, &ErrForkFromSecondaryThread{ThreadID: parentThread.ThreadID}
	}

	childID, ok := c.cages.AllocateCageID()
	if !ok {
		panic("unwind: cage id space exhausted")
	}
	childTid, ok := c.cages.AllocateThreadID()
	if !ok {
		panic("unwind: thread id space exhausted")
	}

	child := parent.ForkChild(childID)
	child.SetMainThreadID(childTid)
	c.cages.Insert(child)
	childFDs := parentFDs.Clone()
	parent.IncActiveChildren()

	childThread := ThreadHandle{CageID: childID, ThreadID: childTid}

	c.setState(parentThread.ThreadID, StateUnwinding)
	c.rt.StartUnwind(parentThread, region)

	c.rt.OnCalled(parentThread, func() {
		c.setState(parentThread.ThreadID, StateRunning)
		c.rt.StopUnwind(parentThread)

		var barrier sync.WaitGroup
		barrier.Add(1)

		go func() {
			inst, err := c.rt.NewInstance(childID, false)
			if err != nil {
				barrier.Done()
				c.log.WithError(err).WithField("cage_id", childID).Error("fork: failed to create child instance")
				return
			}
			c.rt.CopyMemory(parentThread, inst)

			c.setState(childThread.ThreadID, StateRewinding)
			c.stashReturn(childThread.ThreadID, 0)
			barrier.Done()
			c.rt.StartRewind(inst, region, 0)
			c.rt.InvokeEntry(inst)
		}()

		// The parent waits on the barrier until the child has finished
		// copying before it resumes.
		barrier.Wait()

		c.setState(parentThread.ThreadID, StateRewinding)
		c.stashReturn(parentThread.ThreadID, int32(childID))
		c.rt.StartRewind(parentThread, region, int32(childID))
	})

	return ForkResult{Child: child, ChildFDs: childFDs, ChildThread: childThread}, nil
}
