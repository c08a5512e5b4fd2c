package sampler

import "go.uber.org/atomic"

type flagBit uint32

// The enumerated boolean flags shared by the periodic and async samplers.
// SAMPLING is never exposed as a Config field; it exists purely as the
// async path's reentrancy guard.
const (
	flagEnabled flagBit = 1 << iota
	flagVerbose
	flagIgnoreFrozen
	flagIgnoreSelf
	flagTreeMode
	flagFocusMode
	flagTraceCFunction
	flagSampling
)

// flags is a lock-free bitmask; every bit is independently settable via
// CAS so concurrent flag changes from different goroutines never clobber
// each other, matching the "enumerated boolean flags" SamplerState field.
type flags struct {
	bits atomic.Uint32
}

func (f *flags) set(b flagBit) {
	for {
		old := f.bits.Load()
		next := old | uint32(b)
		if next == old || f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (f *flags) clear(b flagBit) {
	for {
		old := f.bits.Load()
		next := old &^ uint32(b)
		if next == old || f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (f *flags) has(b flagBit) bool {
	return f.bits.Load()&uint32(b) != 0
}

func (f *flags) setIf(b flagBit, on bool) {
	if on {
		f.set(b)
	} else {
		f.clear(b)
	}
}

// testAndSet atomically sets b if it was clear, reporting whether this call
// made the change. This is the async sampler's reentrancy guard: a second
// signal arriving mid-sample sees testAndSet return false and drops itself.
func (f *flags) testAndSet(b flagBit) bool {
	for {
		old := f.bits.Load()
		if old&uint32(b) != 0 {
			return false
		}
		if f.bits.CompareAndSwap(old, old|uint32(b)) {
			return true
		}
	}
}
