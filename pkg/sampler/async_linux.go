//go:build linux

// Package sampler's async variant is driven by a timer signal. Go gives
// user code no way to run arbitrary logic inside a true OS signal handler,
// and reserves SIGPROF for its own preemption/pprof machinery, so this is
// the idiomatic Go analogue rather than a literal port: unix.Setitimer
// installs an ITIMER_PROF timer, and a dedicated goroutine fed by
// os/signal.Notify stands in for the signal handler. The reentrancy guard
// (SAMPLING) and the pre-allocated sample buffer are kept, but each
// delivery still allocates (the stack string handed to the trie and any new
// trie nodes) and takes the sampler's configuration read lock and trie
// mutex; true async-signal-safety — interrupting arbitrary user code
// mid-instruction — is not something the Go runtime exposes to user code,
// and this module does not pretend otherwise.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/ja7ad/stacksample/pkg/clock"
	"github.com/ja7ad/stacksample/pkg/runtimeiface"
)

// MainFrameProvider supplies the main thread's current frame at the moment
// a timer signal is delivered, standing in for the source design's
// explicit main-frame argument: reading it through the generic
// thread-enumeration path could race with the point the signal interrupted.
type MainFrameProvider func() (runtimeiface.Frame, error)

// Async is the timer-signal-driven sampler.
type Async struct {
	*base

	mainFrame MainFrameProvider

	lifecycleMu sync.Mutex
	sigCh       chan os.Signal
	stopCh      chan struct{}
	doneCh      chan struct{}
	startNS     uint64
	prevHook    runtimeiface.HookFunc

	lastErr atomic.Error
}

// NewAsync constructs an Async sampler against rt. selfHost identifies the
// host thread the timer signal is delivered on, so it's never
// double-counted alongside the explicit mainFrame argument. mainFrame
// supplies the main thread's frame on every delivery; it must not block
// and must not allocate if it is to honor the spec's async-path
// constraints.
func NewAsync(rt runtimeiface.Runtime, cfg *Config, selfHost runtimeiface.ThreadID, mainFrame MainFrameProvider, logger *slog.Logger) (*Async, error) {
	b, err := newBase(rt, cfg, selfHost, logger)
	if err != nil {
		return nil, err
	}
	return &Async{base: b, mainFrame: mainFrame}, nil
}

// Start records start_time, installs the ITIMER_PROF timer, and sets
// ENABLED.
func (a *Async) Start() error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if !a.flags.testAndSet(flagEnabled) {
		return ErrAlreadyRunning
	}

	prevHook, err := a.installCCallHook()
	if err != nil {
		a.flags.clear(flagEnabled)
		return err
	}
	a.prevHook = prevHook

	a.startNS = clock.MonotonicNS()
	a.sigCh = make(chan os.Signal, 1)
	signal.Notify(a.sigCh, unix.SIGPROF)
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})

	intervalUS := a.SamplingIntervalUS()
	tv := unix.NsecToTimeval(int64(intervalUS) * 1000)
	it := &unix.Itimerval{Interval: tv, Value: tv}
	if err := unix.Setitimer(unix.ITIMER_PROF, it, nil); err != nil {
		signal.Stop(a.sigCh)
		a.flags.clear(flagEnabled)
		return fmt.Errorf("sampler: setitimer: %w", err)
	}

	go a.loop(a.sigCh, a.stopCh, a.doneCh)
	return nil
}

// Stop clears ENABLED, disarms the timer, records end_time, and computes
// life_time.
func (a *Async) Stop() error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if !a.flags.has(flagEnabled) {
		return ErrNotRunning
	}
	a.flags.clear(flagEnabled)

	var zero unix.Itimerval
	_ = unix.Setitimer(unix.ITIMER_PROF, &zero, nil)
	signal.Stop(a.sigCh)
	close(a.stopCh)
	<-a.doneCh

	if a.TraceCFunction() {
		_, _ = a.rt.SetProfileHook(a.prevHook)
	}

	a.stats.lifeTimeNS.Store(clock.MonotonicNS() - a.startNS)
	return nil
}

func (a *Async) loop(sigCh chan os.Signal, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		case <-sigCh:
			a.AsyncRoutine()
		}
	}
}

// AsyncRoutine is the logical signal-delivery handler body: reentrancy
// guard, main-frame sample, then every other enumerable thread. Exposed
// directly so a caller driving its own timer/signal integration (rather
// than this type's own Start/Stop) can invoke it.
func (a *Async) AsyncRoutine() {
	if !a.flags.testAndSet(flagSampling) {
		return
	}
	defer a.flags.clear(flagSampling)

	t0 := clock.MonotonicNS()
	defer func() { a.stats.addSample(clock.MonotonicNS() - t0) }()

	frame, err := a.mainFrame()
	if err != nil {
		a.lastErr.Store(fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err))
		return
	}
	if frame != nil {
		a.sampleFrame("MainThread", frame)
	}

	// The runtime binding behind Runtime.Threads is responsible for
	// sourcing thread names without calling into any lock a concurrently
	// interrupted thread might already hold; that safety property lives
	// on the binding's side of this interface, not here.
	threads, err := a.rt.Threads(context.Background())
	if err != nil {
		a.lastErr.Store(fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err))
		return
	}
	for _, th := range threads {
		if th.ID == a.selfTID {
			continue
		}
		tf, err := a.rt.TopFrame(th.ID)
		if err != nil || tf == nil {
			continue
		}
		a.sampleFrame(th.Name, tf)
	}
}

func (a *Async) sampleFrame(name string, frame runtimeiface.Frame) {
	prefixLen := copy(a.buf, name)
	if prefixLen >= len(a.buf) {
		a.lastErr.Store(fmt.Errorf("sampler: thread name %q exceeds sample buffer", name))
		return
	}
	a.buf[prefixLen] = ';'
	prefixLen++

	n, err := a.walker.Walk(frame, a.buf[prefixLen:], a.filters())
	if err != nil {
		a.lastErr.Store(err)
		return
	}
	if n == 0 {
		return
	}

	a.trieMu.Lock()
	a.trie.Add(string(a.buf[:prefixLen+n]))
	a.trieMu.Unlock()
}

// LastError returns the most recent per-sample error recorded by the
// signal-delivery path, or nil. The async path never surfaces an error
// through the delivery itself; callers poll this for later inspection.
func (a *Async) LastError() error {
	return a.lastErr.Load()
}
