package unwind

import "hash/fnv"

// ErrUnknownJmpBuf is returned by Longjmp when the hash in the jmp_buf has
// no archived unwind data — undefined behavior by POSIX's own rules (an
// implementation may crash deliberately); this package instead returns an
// error and leaves crashing to the caller.
type ErrUnknownJmpBuf struct{ Hash uint64 }

func (e *ErrUnknownJmpBuf) Error() string { return "unwind: longjmp of an unarchived jmp_buf" }

func hashUnwindData(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// Setjmp implements setjmp's protocol. capture must return the
// completed unwind-data bytes once the runtime's unwind has finished (i.e.
// it's called from inside the OnCalled callback, after the guest's call
// stack has actually been serialized) — the core never interprets this
// data, only hashes and archives it. writeJmpBuf is invoked with the
// resulting hash so the caller can write it into the guest's jmp_buf before
// the rewind resumes execution at the setjmp call site.
func (c *Controller) Setjmp(thread ThreadHandle, region uint64, capture func() []byte, writeJmpBuf func(hash uint64)) {
	c.setState(thread.ThreadID, StateUnwinding)
	c.rt.StartUnwind(thread, region)

	c.rt.OnCalled(thread, func() {
		c.setState(thread.ThreadID, StateRunning)
		c.rt.StopUnwind(thread)

		data := capture()
		h := hashUnwindData(data)

		c.mu.Lock()
		c.jmp[h] = data
		c.mu.Unlock()

		writeJmpBuf(h)

		c.setState(thread.ThreadID, StateRewinding)
		c.stashReturn(thread.ThreadID, 0)
		c.rt.StartRewind(thread, region, 0)
	})
}

// Longjmp implements longjmp's protocol. retval of 0 is remapped to 1, to
// preserve setjmp's own "returns 0 on the direct call" invariant. restore is
// invoked (from inside
// the unwind-completion callback) with the archived bytes so the caller can
// overwrite the guest's unwind region before the rewind resumes.
func (c *Controller) Longjmp(thread ThreadHandle, region uint64, hash uint64, retval int32, restore func(data []byte)) error {
	c.mu.Lock()
	data, ok := c.jmp[hash]
	c.mu.Unlock()
	if !ok {
		return &ErrUnknownJmpBuf{Hash: hash}
	}
	if retval == 0 {
		retval = 1
	}

	c.setState(thread.ThreadID, StateUnwinding)
	c.rt.StartUnwind(thread, region)

	c.rt.OnCalled(thread, func() {
		c.setState(thread.ThreadID, StateRunning)
		c.rt.StopUnwind(thread)

		restore(data)

		c.setState(thread.ThreadID, StateRewinding)
		c.stashReturn(thread.ThreadID, retval)
		c.rt.StartRewind(thread, region, retval)
	})
	return nil
}
