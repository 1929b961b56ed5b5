package irq

import "math/bits"

// idBitmap tracks the hook IDs in use. Bit n corresponds to HookID n+1 so
// that NoHook is never handed out.
type idBitmap uint64

// alloc reserves the lowest free ID. It returns NoHook if all IDs are in use.
func (b *idBitmap) alloc() HookID {
	free := ^uint64(*b)
	if free == 0 {
		return NoHook
	}

	bit := bits.TrailingZeros64(free)
	*b |= 1 << uint(bit)
	return HookID(bit + 1)
}

// release returns id to the pool of free IDs.
func (b *idBitmap) release(id HookID) {
	if id == NoHook || id > MaxHooks {
		return
	}
	*b &^= 1 << uint(id-1)
}

func (b idBitmap) inUse(id HookID) bool {
	if id == NoHook || id > MaxHooks {
		return false
	}
	return b&(1<<uint(id-1)) != 0
}

func (b idBitmap) count() int {
	return bits.OnesCount64(uint64(b))
}
