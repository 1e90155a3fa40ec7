package unwind

import "github.com/wasmcage/cagekernel/internal/cage"

// PthreadCreateResult carries the new thread's handle and host-wide id back
// to the caller, which writes the id into the guest's pthread_t out param.
type PthreadCreateResult struct {
	Thread   ThreadHandle
	ThreadID uint32
}

// PthreadCreate implements pthread_create's protocol: identical to Fork
// except memory is shared rather than copied, the child's stack is a
// caller-supplied range inside that shared memory (childStackRegion), and
// the parent's synthesized return value is the new thread id rather than a
// cage id.
func (c *Controller) PthreadCreate(parent *cage.Cage, parentThread ThreadHandle, region uint64, childStackRegion uint64) (PthreadCreateResult, error) {
	childTid, ok := c.cages.AllocateThreadID()
	if !ok {
		panic("unwind: thread id space exhausted")
	}
	childThread := ThreadHandle{CageID: parent.ID(), ThreadID: childTid}

	c.setState(parentThread.ThreadID, StateUnwinding)
	c.rt.StartUnwind(parentThread, region)

	c.rt.OnCalled(parentThread, func() {
		c.setState(parentThread.ThreadID, StateRunning)
		c.rt.StopUnwind(parentThread)

		// Memory is shared, so there is no separate instance and no memory
		// copy. The parent's unwind-data block is not copied into
		// childStackRegion here either: the child rewinds from whatever
		// childStackRegion already holds.
		c.setState(childThread.ThreadID, StateRewinding)
		c.stashReturn(childThread.ThreadID, 0)
		c.rt.StartRewind(childThread, childStackRegion, 0)
		c.rt.InvokeEntry(childThread)

		c.setState(parentThread.ThreadID, StateRewinding)
		c.stashReturn(parentThread.ThreadID, int32(childTid))
		c.rt.StartRewind(parentThread, region, int32(childTid))
	})

	return PthreadCreateResult{Thread: childThread, ThreadID: childTid}, nil
}
