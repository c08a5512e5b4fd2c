package sampler_test

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ja7ad/stacksample/pkg/runtimeiface"
	"github.com/ja7ad/stacksample/pkg/sampler"
	"github.com/stretchr/testify/require"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestPeriodicLifecycleErrors(t *testing.T) {
	p, err := sampler.NewPeriodic(newFakeRuntime(), &sampler.Config{SamplingIntervalUS: 1000}, 0, nil)
	require.NoError(t, err)

	require.ErrorIs(t, p.Stop(), sampler.ErrNotRunning)
	require.NoError(t, p.Start())
	require.ErrorIs(t, p.Start(), sampler.ErrAlreadyRunning)
	require.NoError(t, p.Stop())
	require.ErrorIs(t, p.Stop(), sampler.ErrNotRunning)
}

func TestPeriodicSamplesEnumeratedThreads(t *testing.T) {
	rt := newFakeRuntime()
	rt.addThread(1, "worker", leafFrame("main.py", "hello", 1))

	p, err := sampler.NewPeriodic(rt, &sampler.Config{SamplingIntervalUS: 1000}, 99, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	waitUntil(t, time.Second, func() bool { return p.SamplingTimes() > 0 })
	require.NoError(t, p.Stop())

	dump, err := p.Dumps()
	require.NoError(t, err)
	require.True(t, strings.Contains(dump, "worker;main.py:hello:1"))
}

func TestPeriodicSkipsSelfThread(t *testing.T) {
	rt := newFakeRuntime()
	rt.addThread(99, "profiler", leafFrame("sampler.go", "run", 1))
	rt.addThread(1, "worker", leafFrame("main.py", "hello", 1))

	p, err := sampler.NewPeriodic(rt, &sampler.Config{SamplingIntervalUS: 1000}, 99, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	waitUntil(t, time.Second, func() bool { return p.SamplingTimes() > 0 })
	require.NoError(t, p.Stop())

	dump, err := p.Dumps()
	require.NoError(t, err)
	require.False(t, strings.Contains(dump, "profiler"))
	require.True(t, strings.Contains(dump, "worker;main.py:hello:1"))
}

func TestPeriodicZeroIntervalHonorsStop(t *testing.T) {
	rt := newFakeRuntime()
	rt.addThread(1, "worker", leafFrame("main.py", "hello", 1))

	p, err := sampler.NewPeriodic(rt, &sampler.Config{SamplingIntervalUS: 0}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	waitUntil(t, time.Second, func() bool { return p.SamplingTimes() > 0 })

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop() }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stop did not honor zero-interval busy loop")
	}
}

func TestPeriodicClearRequiresNotRunning(t *testing.T) {
	p, err := sampler.NewPeriodic(newFakeRuntime(), &sampler.Config{SamplingIntervalUS: 1000}, 0, nil)
	require.NoError(t, err)

	require.NoError(t, p.Clear())

	require.NoError(t, p.Start())
	require.ErrorIs(t, p.Clear(), sampler.ErrAlreadyRunning)
	require.NoError(t, p.Stop())
}

func TestPeriodicSetSamplingIntervalLiveWhileRunning(t *testing.T) {
	p, err := sampler.NewPeriodic(newFakeRuntime(), &sampler.Config{SamplingIntervalUS: 1000}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	p.SetSamplingInterval(5000)
	require.Equal(t, uint64(5000), p.SamplingIntervalUS())

	require.NoError(t, p.Stop())
}

func TestPeriodicConfigSettersRejectWhileRunning(t *testing.T) {
	p, err := sampler.NewPeriodic(newFakeRuntime(), &sampler.Config{SamplingIntervalUS: 1000}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	require.ErrorIs(t, p.SetFocusMode(true), sampler.ErrAlreadyRunning)
	require.ErrorIs(t, p.SetTreeMode(true), sampler.ErrAlreadyRunning)

	require.NoError(t, p.Stop())
	require.NoError(t, p.SetFocusMode(true))
	require.True(t, p.FocusMode())
}

func TestPeriodicRuntimeUnavailableIsDroppedNotFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.failing = true

	p, err := sampler.NewPeriodic(rt, &sampler.Config{SamplingIntervalUS: 1000, Debug: true}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	waitUntil(t, time.Second, func() bool { return p.SamplingTimes() > 0 })
	require.NoError(t, p.Stop())

	dump, err := p.Dumps()
	require.NoError(t, err)
	require.Empty(t, foldedField(t, dump))
}

// foldedField extracts the "folded" field from a Dumps()/Save() JSON
// payload without pulling in a JSON test dependency for one field.
func foldedField(t *testing.T, doc string) string {
	t.Helper()
	const key = `"folded": "`
	i := strings.Index(doc, key)
	require.GreaterOrEqual(t, i, 0)
	rest := doc[i+len(key):]
	j := strings.Index(rest, `"`)
	require.GreaterOrEqual(t, j, 0)
	return rest[:j]
}

func TestPeriodicCCallBridgeWeighsIntoTrie(t *testing.T) {
	rt := newFakeRuntime()
	p, err := sampler.NewPeriodic(rt, &sampler.Config{
		SamplingIntervalUS: 1000,
		TraceCFunction:     true,
	}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	caller := leafFrame("main.py", "hello", 1)
	hook := rt.hook
	require.NotNil(t, hook)

	// The bridge weighs a native call by the calling thread's CPU time, so
	// the call is simulated by burning CPU on one pinned OS thread rather
	// than by sleeping.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hook(runtimeiface.HookEvent{
		Kind:        runtimeiface.HookEnter,
		Thread:      7,
		Call:        runtimeiface.NativeCall{ID: 1, Module: "native", Name: "compute"},
		CallerFrame: caller,
	})
	for deadline := time.Now().Add(5 * time.Millisecond); time.Now().Before(deadline); {
	}
	hook(runtimeiface.HookEvent{
		Kind:        runtimeiface.HookReturn,
		Thread:      7,
		Call:        runtimeiface.NativeCall{ID: 1, Module: "native", Name: "compute"},
		CallerFrame: caller,
	})

	require.NoError(t, p.Stop())

	dump, err := p.Dumps()
	require.NoError(t, err)
	require.Contains(t, foldedField(t, dump), "main.py:hello:1;native:compute:0")
}
