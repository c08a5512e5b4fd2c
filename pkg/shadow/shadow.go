// Package shadow implements the per-thread shadow call stacks that back
// the native-callable enter/return bridge: a process-wide, fixed-size
// table of thread slots, allocated under a spinlock and then mutated
// lock-free by their single owning thread.
package shadow

import (
	"runtime"

	"go.uber.org/atomic"

	"github.com/ja7ad/stacksample/pkg/runtimeiface"
)

// DefaultCCallDiscount is the empirical discount applied to native-call
// duration to approximate sampled-equivalent weight; must stay in (0, 1].
const DefaultCCallDiscount = 0.8

// NativeCallFrame is one entry on a ShadowStackSlot: a native callable that
// has been entered but has not yet returned.
type NativeCallFrame struct {
	Call        runtimeiface.NativeCall
	CallerFrame runtimeiface.Frame
	EnterCPUNS  uint64
}

// Slot is one thread's shadow call stack, a simple LIFO of in-flight
// native calls. Once a thread has acquired its Slot from a Table, it reads
// and writes the Slot directly with no further locking; the table
// guarantees no other thread is ever handed the same Slot.
type Slot struct {
	frames []NativeCallFrame
}

// Push records a native-call enter.
func (s *Slot) Push(f NativeCallFrame) {
	s.frames = append(s.frames, f)
}

// Pop removes and returns the most recently pushed entry. ok is false if
// the slot was empty, which happens when a return event is observed with
// no matching enter (hook installed mid-call); callers drop such events.
func (s *Slot) Pop() (NativeCallFrame, bool) {
	if len(s.frames) == 0 {
		return NativeCallFrame{}, false
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top, true
}

// Depth reports the number of in-flight native calls on this slot.
func (s *Slot) Depth() int { return len(s.frames) }

// spinlock is a CAS busy-wait lock, used instead of sync.Mutex for the
// table's allocation phase because that phase must stay out of the way of
// a thread that merely wants to read its already-cached slot pointer and
// never calls into the table again.
type spinlock struct {
	held atomic.Bool
}

func (l *spinlock) Lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinlock) Unlock() {
	l.held.Store(false)
}

// Table is the process-wide map from thread to Slot. It has a fixed
// capacity; once full, Acquire for a new thread fails with
// ErrTooManyThreads.
type Table struct {
	lock  spinlock
	slots map[runtimeiface.ThreadID]*Slot
	limit int
}

// NewTable returns an empty table that can hold up to limit distinct
// threads.
func NewTable(limit int) *Table {
	return &Table{
		slots: make(map[runtimeiface.ThreadID]*Slot),
		limit: limit,
	}
}

// Acquire returns the Slot for thread, lazily allocating one on first use.
// Callers are expected to call Acquire once per thread and cache the
// returned pointer locally (the "thread-local index" of the design) rather
// than calling Acquire again on the hot enter/return path.
func (t *Table) Acquire(thread runtimeiface.ThreadID) (*Slot, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if s, ok := t.slots[thread]; ok {
		return s, nil
	}
	if len(t.slots) >= t.limit {
		return nil, ErrTooManyThreads
	}
	s := &Slot{}
	t.slots[thread] = s
	return s, nil
}

// Len reports the number of threads currently holding a slot.
func (t *Table) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.slots)
}

// Reset drops every slot. Callers must ensure no application thread is
// concurrently pushing or popping; this is a shutdown-time operation run
// only after all sampled threads have been quiesced.
func (t *Table) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.slots = make(map[runtimeiface.ThreadID]*Slot)
}

// CCallWeight computes the trie weight contributed by one native-call
// enter/return pair: the elapsed microseconds divided by the sampling
// interval, discounted, then truncated toward zero. discount must be in
// (0, 1]; durationUS and samplingIntervalUS are both microseconds.
//
// A sampling interval of zero has no meaningful ratio and contributes no
// weight.
func CCallWeight(durationUS, samplingIntervalUS uint64, discount float64) uint64 {
	if samplingIntervalUS == 0 {
		return 0
	}
	w := float64(durationUS) / float64(samplingIntervalUS) * discount
	if w <= 0 {
		return 0
	}
	return uint64(w)
}
