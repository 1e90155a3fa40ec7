package syscalls

// Args is the six (value, owning cage id) argument pairs of one dispatch
// call, plus the caller's own cage id. Unused trailing slots carry
// ArgSentinel.
type Args struct {
	CallerCage uint64
	Syscall    uint32
	MemoryBase uint64

	Val  [6]uint64
	Cage [6]uint64
}

// checkSentinel returns ErrFault if any argument past used (0-indexed count
// of meaningful leading slots) is not ArgSentinel — the blanket validation
// that unused slots are exactly the sentinel.
func (a Args) checkSentinel(used int) error {
	for i := used; i < 6; i++ {
		if a.Val[i] != ArgSentinel {
			return ErrFault
		}
	}
	return nil
}

// u32 narrows argument i to a uint32, for counts/flags/modes.
func (a Args) u32(i int) uint32 { return uint32(a.Val[i]) }

// i32 narrows argument i to an int32, for signed counts/offsets that must
// preserve their sign.
func (a Args) i32(i int) int32 { return int32(a.Val[i]) }

// i64 reinterprets argument i as a signed 64-bit offset.
func (a Args) i64(i int) int64 { return int64(a.Val[i]) }

// vfd narrows argument i to a virtual fd.
func (a Args) vfd(i int) int32 { return int32(a.Val[i]) }

// ptr returns argument i as a guest address together with the cage that
// owns it, for handlers that must pass both through the Address Translator
// under the cross-cage `*_cage` convention.
func (a Args) ptr(i int) (addr uint64, owner uint64) { return a.Val[i], a.Cage[i] }

// clampCount clamps a read/write byte count into the positive int32 range
// before it reaches the host call, preventing overflow on the platform call.
func clampCount(v uint64) int32 {
	const maxCount = int32(1<<31 - 1)
	if v > uint64(maxCount) {
		return maxCount
	}
	return int32(v)
}
