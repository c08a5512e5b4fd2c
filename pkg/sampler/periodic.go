package sampler

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/ja7ad/stacksample/pkg/clock"
	"github.com/ja7ad/stacksample/pkg/runtimeiface"
)

// Periodic is the off-thread, wall-clock-or-CPU-clock-driven sampler: a
// dedicated worker goroutine that wakes up every sampling interval,
// enumerates every thread, and folds each one's stack into the trie.
type Periodic struct {
	*base

	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	doneCh      chan struct{}
	startNS     uint64
	prevHook    runtimeiface.HookFunc
}

// NewPeriodic constructs a Periodic sampler against rt. selfTID identifies
// the profiler's own worker thread in the runtime's thread-enumeration
// results, so the worker never samples itself; a binding that has no such
// identifier (e.g. this module's test fakes) can pass the zero value as
// long as no enumerated thread collides with it. cfg may be nil for
// defaults; logger may be nil to use slog's default logger.
func NewPeriodic(rt runtimeiface.Runtime, cfg *Config, selfTID runtimeiface.ThreadID, logger *slog.Logger) (*Periodic, error) {
	b, err := newBase(rt, cfg, selfTID, logger)
	if err != nil {
		return nil, err
	}
	return &Periodic{base: b}, nil
}

// Start launches the worker. It fails with ErrAlreadyRunning if already
// enabled. Configuration is validated once, by NewPeriodic; Start does not
// validate it again.
func (p *Periodic) Start() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.flags.testAndSet(flagEnabled) {
		return ErrAlreadyRunning
	}

	prevHook, err := p.installCCallHook()
	if err != nil {
		p.flags.clear(flagEnabled)
		return err
	}
	p.prevHook = prevHook

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.startNS = clock.MonotonicNS()

	go p.run(p.stopCh, p.doneCh)
	return nil
}

// Stop clears ENABLED and joins the worker. It fails with ErrNotRunning if
// the sampler was never started or has already been stopped.
func (p *Periodic) Stop() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.flags.has(flagEnabled) {
		return ErrNotRunning
	}
	p.flags.clear(flagEnabled)
	close(p.stopCh)
	<-p.doneCh

	if p.TraceCFunction() {
		_, _ = p.rt.SetProfileHook(p.prevHook)
	}

	p.stats.lifeTimeNS.Store(clock.MonotonicNS() - p.startNS)
	return nil
}

func (p *Periodic) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	// Pin to one OS thread: the thread-CPU clock reading under
	// time_mode=cpu is only meaningful for a single, unmigrated thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		intervalUS := p.SamplingIntervalUS()
		if intervalUS == 0 {
			// Busy-loop at the runtime's own sleep granularity; still
			// honors stop every iteration via the select above.
			runtime.Gosched()
		} else {
			timer := time.NewTimer(time.Duration(intervalUS) * time.Microsecond)
			select {
			case <-stopCh:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		p.sampleOnce()
	}
}

func (p *Periodic) sampleOnce() {
	cpuMode := p.TimeMode() == TimeModeCPU
	t0 := p.now(cpuMode)

	threads, err := p.rt.Threads(context.Background())
	if err != nil {
		if p.Debug() {
			p.logger.Debug("thread enumeration failed", "err", err)
		}
		p.stats.addSample(p.now(cpuMode) - t0)
		return
	}

	for _, th := range threads {
		if th.ID == p.selfTID {
			continue
		}
		p.sampleThread(th)
	}

	p.stats.addSample(p.now(cpuMode) - t0)
}

func (p *Periodic) sampleThread(th runtimeiface.ThreadInfo) {
	frame, err := p.rt.TopFrame(th.ID)
	if err != nil {
		if p.Debug() {
			p.logger.Debug("frame lookup failed", "thread", th.ID, "err", err)
		}
		return
	}
	if frame == nil {
		return
	}

	prefixLen := copy(p.buf, th.Name)
	if prefixLen >= len(p.buf) {
		if p.Debug() {
			p.logger.Debug("thread name exceeds sample buffer", "thread", th.ID)
		}
		return
	}
	p.buf[prefixLen] = ';'
	prefixLen++

	n, err := p.walker.Walk(frame, p.buf[prefixLen:], p.filters())
	if err != nil {
		if p.Debug() {
			p.logger.Debug("stack too deep", "thread", th.ID, "err", err)
		}
		return
	}
	if n == 0 {
		// The walk contributed nothing beyond the thread-name prefix:
		// every frame was filtered out.
		return
	}

	stack := string(p.buf[:prefixLen+n])
	p.trieMu.Lock()
	p.trie.Add(stack)
	p.trieMu.Unlock()

	if p.Debug() {
		p.logger.Debug("sampled stack", "thread", th.ID, "stack", stack)
	}
}

func (p *Periodic) now(cpu bool) uint64 {
	if cpu {
		return clock.ThreadCPUNS()
	}
	return clock.MonotonicNS()
}
