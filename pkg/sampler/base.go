package sampler

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"go.uber.org/atomic"

	"github.com/ja7ad/stacksample/pkg/clock"
	"github.com/ja7ad/stacksample/pkg/runtimeiface"
	"github.com/ja7ad/stacksample/pkg/shadow"
	"github.com/ja7ad/stacksample/pkg/trie"
	"github.com/ja7ad/stacksample/pkg/walker"
)

// base holds the state shared by Periodic and Async: the trie, the
// walker, the shadow-stack table, the flag bitmask, counters, and the
// non-flag configuration (regex patterns, discount, buffer). Lifecycle
// (Start/Stop) is NOT here, since the two samplers drive it too
// differently — a worker goroutine versus a signal handler — to share
// one implementation without blurring both contracts.
type base struct {
	rt        runtimeiface.Runtime
	trie      *trie.Trie
	walker    *walker.Walker
	shadow    *shadow.Table
	flags     flags
	stats     stats
	logger    *slog.Logger
	selfTID   runtimeiface.ThreadID
	workerTID atomic.Uint64

	mu            sync.RWMutex // guards the non-flag fields below
	timeMode      TimeMode
	regexPatterns []*regexp.Regexp
	stdlibDir     string
	selfSegments  []string
	ccallDiscount float64
	buf           []byte

	intervalUS atomic.Uint64 // writable live, so kept out of mu

	// trieMu serializes every trie mutation. The periodic/async worker is
	// the trie's only writer by construction (a single dedicated
	// goroutine), but the C-call bridge hook fires from arbitrary
	// application goroutines with no GIL-like serialization to rely on,
	// so its path takes this lock explicitly. bridgeWalker/bridgeBuf are
	// private to that path so it never contends with the sampling
	// worker's own walker/buf.
	trieMu       sync.Mutex
	bridgeWalker *walker.Walker
	bridgeBuf    []byte

	// slotCacheMu guards slotCache, the bridge path's cached
	// shadow.Table.Acquire results. shadow.Slot's own contract expects
	// Acquire to be called once per thread and its result cached by the
	// caller rather than re-acquired on every enter/return; this is that
	// cache.
	slotCacheMu sync.RWMutex
	slotCache   map[runtimeiface.ThreadID]*shadow.Slot
}

func newBase(rt runtimeiface.Runtime, cfg *Config, selfTID runtimeiface.ThreadID, logger *slog.Logger) (*base, error) {
	cfg = normalizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &base{
		rt:            rt,
		trie:          trie.New(),
		walker:        walker.New(),
		shadow:        shadow.NewTable(cfg.ShadowTableLimit),
		logger:        logger,
		selfTID:       selfTID,
		timeMode:      cfg.TimeMode,
		regexPatterns: cfg.RegexPatterns,
		stdlibDir:     cfg.StdlibDir,
		selfSegments:  cfg.SelfPathSegments,
		ccallDiscount: cfg.CCallDiscount,
		buf:           make([]byte, cfg.BufferSize),
		bridgeWalker:  walker.New(),
		bridgeBuf:     make([]byte, cfg.BufferSize),
		slotCache:     make(map[runtimeiface.ThreadID]*shadow.Slot),
	}
	b.intervalUS.Store(cfg.SamplingIntervalUS)
	b.flags.setIf(flagVerbose, cfg.Debug)
	b.flags.setIf(flagIgnoreFrozen, cfg.IgnoreFrozen)
	b.flags.setIf(flagIgnoreSelf, cfg.IgnoreSelf)
	b.flags.setIf(flagTreeMode, cfg.TreeMode)
	b.flags.setIf(flagFocusMode, cfg.FocusMode)
	b.flags.setIf(flagTraceCFunction, cfg.TraceCFunction)
	return b, nil
}

func (b *base) filters() walker.Filters {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return walker.Filters{
		TreeMode:         b.flags.has(flagTreeMode),
		FocusMode:        b.flags.has(flagFocusMode),
		IgnoreSelf:       b.flags.has(flagIgnoreSelf),
		IgnoreFrozen:     b.flags.has(flagIgnoreFrozen),
		RegexPatterns:    b.regexPatterns,
		StdlibDir:        b.stdlibDir,
		SelfPathSegments: b.selfSegments,
	}
}

// --- read-only properties ---

func (b *base) Enabled() bool             { return b.flags.has(flagEnabled) }
func (b *base) IgnoreFrozen() bool        { return b.flags.has(flagIgnoreFrozen) }
func (b *base) IgnoreSelf() bool          { return b.flags.has(flagIgnoreSelf) }
func (b *base) TreeMode() bool            { return b.flags.has(flagTreeMode) }
func (b *base) FocusMode() bool           { return b.flags.has(flagFocusMode) }
func (b *base) TraceCFunction() bool      { return b.flags.has(flagTraceCFunction) }
func (b *base) Debug() bool               { return b.flags.has(flagVerbose) }
func (b *base) SamplingIntervalUS() uint64 { return b.intervalUS.Load() }
func (b *base) AccSamplingTimeNS() uint64 { return b.stats.accSamplingTimeNS.Load() }
func (b *base) SamplingTimes() uint64     { return b.stats.samplingTimes.Load() }
func (b *base) LifeTimeNS() uint64        { return b.stats.lifeTimeNS.Load() }
func (b *base) SamplingThread() runtimeiface.ThreadID {
	return runtimeiface.ThreadID(b.workerTID.Load())
}

func (b *base) TimeMode() TimeMode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.timeMode
}

func (b *base) RegexPatterns() []*regexp.Regexp {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.regexPatterns
}

// --- writable-while-not-running setters ---
//
// Every setter but SetSamplingInterval requires the caller to have
// stopped the sampler first; they return ErrAlreadyRunning otherwise.

func (b *base) SetSamplingInterval(us uint64) {
	b.intervalUS.Store(us)
}

func (b *base) setNotRunning(apply func()) error {
	if b.flags.has(flagEnabled) {
		return ErrAlreadyRunning
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	apply()
	return nil
}

func (b *base) SetTimeMode(m TimeMode) error {
	return b.setNotRunning(func() { b.timeMode = m })
}

func (b *base) SetDebug(v bool) error {
	return b.setNotRunning(func() { b.flags.setIf(flagVerbose, v) })
}

func (b *base) SetIgnoreFrozen(v bool) error {
	return b.setNotRunning(func() { b.flags.setIf(flagIgnoreFrozen, v) })
}

func (b *base) SetIgnoreSelf(v bool) error {
	return b.setNotRunning(func() { b.flags.setIf(flagIgnoreSelf, v) })
}

func (b *base) SetTreeMode(v bool) error {
	return b.setNotRunning(func() { b.flags.setIf(flagTreeMode, v) })
}

func (b *base) SetFocusMode(v bool) error {
	return b.setNotRunning(func() { b.flags.setIf(flagFocusMode, v) })
}

func (b *base) SetTraceCFunction(v bool) error {
	return b.setNotRunning(func() { b.flags.setIf(flagTraceCFunction, v) })
}

func (b *base) SetRegexPatterns(patterns []*regexp.Regexp) error {
	return b.setNotRunning(func() { b.regexPatterns = patterns })
}

// Clear resets the trie and every counter; legal only while not running.
func (b *base) Clear() error {
	if b.flags.has(flagEnabled) {
		return ErrAlreadyRunning
	}
	b.trieMu.Lock()
	defer b.trieMu.Unlock()
	b.trie.Destroy()
	b.trie = trie.New()
	b.stats.reset()
	return nil
}

// persisted is the on-disk/string shape written by Save and Dumps.
type persisted struct {
	Folded             string `json:"folded"`
	SamplingIntervalUS uint64 `json:"sampling_interval_us"`
	TimeMode           string `json:"time_mode"`
	AccSamplingTimeNS  uint64 `json:"acc_sampling_time_ns"`
	SamplingTimes      uint64 `json:"sampling_times"`
	LifeTimeNS         uint64 `json:"life_time_ns"`
}

// Dumps returns the same content Save writes to a file, as a string.
func (b *base) Dumps() (string, error) {
	b.trieMu.Lock()
	folded := b.trie.DumpToString()
	b.trieMu.Unlock()

	doc := persisted{
		Folded:             folded,
		SamplingIntervalUS: b.SamplingIntervalUS(),
		TimeMode:           b.TimeMode().String(),
		AccSamplingTimeNS:  b.AccSamplingTimeNS(),
		SamplingTimes:      b.SamplingTimes(),
		LifeTimeNS:         b.LifeTimeNS(),
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Save writes Dumps' content to path, creating path's parent directory
// (best-effort) if it doesn't already exist. A failure returns the
// underlying I/O error verbatim, unwrapped.
func (b *base) Save(path string) error {
	s, err := b.Dumps()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	return os.WriteFile(path, []byte(s), 0o644)
}

// hookFunc returns the runtimeiface.HookFunc registered with the runtime
// while TRACE_CFUNCTION is enabled, dispatching enter/return events to the
// shadow-stack bridge.
func (b *base) hookFunc() runtimeiface.HookFunc {
	return func(ev runtimeiface.HookEvent) {
		now := clock.ThreadCPUNS()
		switch ev.Kind {
		case runtimeiface.HookEnter:
			b.handleCCallEnter(ev, now)
		case runtimeiface.HookReturn:
			b.handleCCallReturn(ev, now)
		}
	}
}

// installCCallHook registers the bridge hook with rt if TRACE_CFUNCTION is
// set, returning the hook that was previously installed so callers can
// restore it on Stop.
func (b *base) installCCallHook() (runtimeiface.HookFunc, error) {
	if !b.TraceCFunction() {
		return nil, nil
	}
	return b.rt.SetProfileHook(b.hookFunc())
}

// slotFor returns ev.Thread's shadow-stack slot, consulting slotCache
// before ever calling shadow.Table.Acquire so the bridge hits the table's
// spinlock at most once per thread over the sampler's lifetime, as
// shadow.Slot's own contract expects.
func (b *base) slotFor(thread runtimeiface.ThreadID) (*shadow.Slot, error) {
	b.slotCacheMu.RLock()
	slot, ok := b.slotCache[thread]
	b.slotCacheMu.RUnlock()
	if ok {
		return slot, nil
	}

	slot, err := b.shadow.Acquire(thread)
	if err != nil {
		return nil, err
	}

	b.slotCacheMu.Lock()
	b.slotCache[thread] = slot
	b.slotCacheMu.Unlock()
	return slot, nil
}

// handleCCallEnter pushes a shadow-stack entry for a native-call enter
// event. Table exhaustion is logged in debug mode and otherwise silent:
// per spec this is fatal only for that thread's C-call tracing.
func (b *base) handleCCallEnter(ev runtimeiface.HookEvent, enterCPUNS uint64) {
	slot, err := b.slotFor(ev.Thread)
	if err != nil {
		if b.Debug() {
			b.logger.Debug("shadow stack exhausted", "thread", ev.Thread, "err", err)
		}
		return
	}
	slot.Push(shadow.NativeCallFrame{
		Call:        ev.Call,
		CallerFrame: ev.CallerFrame,
		EnterCPUNS:  enterCPUNS,
	})
}

// handleCCallReturn pops the matching enter, synthesizes the stack string,
// and weights it into the trie. Callers supply returnCPUNS so this stays
// clock-source-agnostic; the sampling interval is read from the sampler.
func (b *base) handleCCallReturn(ev runtimeiface.HookEvent, returnCPUNS uint64) {
	slot, err := b.slotFor(ev.Thread)
	if err != nil {
		return
	}
	entry, ok := slot.Pop()
	if !ok {
		return
	}

	durationUS := (returnCPUNS - entry.EnterCPUNS) / 1000

	b.trieMu.Lock()
	defer b.trieMu.Unlock()

	n, err := b.bridgeWalker.Walk(entry.CallerFrame, b.bridgeBuf, b.filters())
	if err != nil {
		if b.Debug() {
			b.logger.Debug("ccall bridge stack too deep", "thread", ev.Thread, "err", err)
		}
		return
	}

	tail := ";" + entry.Call.Module + ":" + entry.Call.Name + ":0"
	if n+len(tail) > len(b.bridgeBuf) {
		if b.Debug() {
			b.logger.Debug("ccall bridge tail overflow", "thread", ev.Thread)
		}
		return
	}
	n += copy(b.bridgeBuf[n:], tail)

	weight := shadow.CCallWeight(durationUS, b.SamplingIntervalUS(), b.ccallDiscount)
	if weight == 0 {
		return
	}
	b.trie.AddWeighted(string(b.bridgeBuf[:n]), weight)
}
