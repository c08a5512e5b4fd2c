// Package runtimeiface declares the narrow contract the sampling core
// needs from a host interpreter. Nothing in pkg/walker, pkg/shadow, or
// pkg/sampler imports a concrete interpreter binding; they only ever see
// these interfaces, so the core can be wired to any runtime that can
// satisfy them (a real interpreter, or the fakes used by this module's own
// tests).
package runtimeiface

import "context"

// ThreadID identifies one OS- or interpreter-level thread of execution.
type ThreadID uint64

// ThreadInfo is one entry from Runtime.Threads: an enumerable thread and
// its human-readable name, used as the first segment of a canonicalized
// stack string.
type ThreadInfo struct {
	ID   ThreadID
	Name string
}

// Frame is one interpreter call frame. Implementations must make Parent
// cheap and side-effect-free to call repeatedly; the walker releases each
// frame as it advances and never retains a Frame past the call that
// produced its parent.
type Frame interface {
	// Parent returns the calling frame, or nil at the outermost frame.
	Parent() Frame

	// File is the source path the frame's code object was loaded from.
	File() string

	// Qualname is the qualified function name. Runtimes that don't track
	// qualified names return the plain function name.
	Qualname() string

	// FirstLine is the function's first definition line.
	FirstLine() int

	// CurrentLine is the currently executing line. Equal to FirstLine for
	// runtimes that don't track a live line counter.
	CurrentLine() int

	// Frozen reports whether this frame's code object is a frozen/stdlib
	// module, consulted by the ignore_frozen filter.
	Frozen() bool
}

// NativeCall describes one native-callable invocation observed by the
// C-call bridge hook.
type NativeCall struct {
	// ID identifies the invocation across its enter/return pair. The
	// shadow stack stores it with each entry but pairs a return with the
	// most recently pushed entry without comparing IDs.
	ID uint64
	// Module is the native callable's defining module, used to synthesize
	// the "<module>:<cfunc_name>:0" trailing stack segment.
	Module string
	// Name is the callable's name.
	Name string
}

// HookEventKind distinguishes native-call enter from return events.
type HookEventKind int

const (
	// HookEnter fires when execution transfers into a native callable.
	HookEnter HookEventKind = iota
	// HookReturn fires when a native callable returns to interpreted code.
	HookReturn
)

// HookEvent is delivered to a registered profiling hook on every
// native-callable enter/return.
type HookEvent struct {
	Kind   HookEventKind
	Thread ThreadID
	Call   NativeCall
	// CallerFrame is the interpreted frame that is calling into (or being
	// returned to from) the native callable.
	CallerFrame Frame
}

// HookFunc is the profiling callback registered via Runtime.SetProfileHook.
type HookFunc func(HookEvent)

// Trampoline schedules a callable to run on the runtime's main thread at
// its next safepoint, standing in for a source runtime's main-thread
// pending-call queue.
type Trampoline interface {
	// Schedule enqueues fn for execution at the next safepoint. Schedule
	// itself never blocks and never runs fn synchronously.
	Schedule(fn func()) error
}

// Runtime is the full contract the sampling core consumes from a host
// interpreter. A concrete binding, and this module's test fakes, both
// implement it.
type Runtime interface {
	// Threads enumerates every live interpreter thread. Implementations
	// backing an async/signal-driven sampler must source this without
	// taking any lock the signal path could already be holding.
	Threads(ctx context.Context) ([]ThreadInfo, error)

	// TopFrame returns the topmost frame currently executing on thread,
	// or nil if the thread has no Python-level frame right now.
	TopFrame(thread ThreadID) (Frame, error)

	// SetProfileHook installs fn as the per-thread native-call profiling
	// hook, or clears it when fn is nil. Returns the previously installed
	// hook, if any, so callers can restore prior state.
	SetProfileHook(fn HookFunc) (previous HookFunc, err error)

	// Trampoline returns the runtime's main-thread scheduling handle.
	Trampoline() Trampoline
}
