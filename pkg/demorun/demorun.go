// Package demorun is a synthetic runtimeiface.Runtime binding: a small set
// of worker goroutines that recurse through a fixed call-graph so
// cmd/stacksample has something real to sample without depending on an
// actual interpreter. It is demonstration scaffolding, not a production
// runtime binding.
package demorun

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ja7ad/stacksample/pkg/runtimeiface"
)

type frame struct {
	parent   runtimeiface.Frame
	file     string
	qualname string
	line     int
	frozen   bool
}

func (f *frame) Parent() runtimeiface.Frame { return f.parent }
func (f *frame) File() string               { return f.file }
func (f *frame) Qualname() string           { return f.qualname }
func (f *frame) FirstLine() int             { return f.line }
func (f *frame) CurrentLine() int           { return f.line }
func (f *frame) Frozen() bool               { return f.frozen }

type worker struct {
	id   runtimeiface.ThreadID
	name string
	top  atomicFrame
}

// atomicFrame is a tiny sync.RWMutex-guarded box; runtimeiface.Frame isn't a
// concrete type atomic.Value can type-assert safely across a nil/non-nil
// boundary, so a mutex is simpler here than fighting atomic.Value's rules.
type atomicFrame struct {
	mu sync.RWMutex
	f  runtimeiface.Frame
}

func (a *atomicFrame) store(f runtimeiface.Frame) {
	a.mu.Lock()
	a.f = f
	a.mu.Unlock()
}

func (a *atomicFrame) load() runtimeiface.Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.f
}

// Runtime simulates a handful of request-handling worker threads, each
// recursing through parse/query/render call chains at random depth and
// pace, occasionally calling into a "native" extension function through
// whatever profiling hook is currently installed.
type Runtime struct {
	mu      sync.RWMutex
	workers []*worker
	hook    runtimeiface.HookFunc

	stopCh chan struct{}
	doneWG sync.WaitGroup

	rng *rand.Rand
}

// New spawns n worker goroutines and returns a running Runtime. Stop halts
// them all.
func New(n int) *Runtime {
	rt := &Runtime{
		stopCh: make(chan struct{}),
		rng:    rand.New(rand.NewSource(1)),
	}
	for i := 0; i < n; i++ {
		w := &worker{id: runtimeiface.ThreadID(i + 1), name: workerName(i)}
		rt.workers = append(rt.workers, w)
		rt.doneWG.Add(1)
		go rt.run(w)
	}
	return rt
}

func workerName(i int) string {
	names := []string{"RequestWorker-0", "RequestWorker-1", "RequestWorker-2", "BackgroundWorker"}
	if i < len(names) {
		return names[i]
	}
	return "RequestWorker-N"
}

// Stop halts every worker goroutine and waits for them to exit.
func (rt *Runtime) Stop() {
	close(rt.stopCh)
	rt.doneWG.Wait()
}

func (rt *Runtime) Threads(ctx context.Context) ([]runtimeiface.ThreadInfo, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]runtimeiface.ThreadInfo, 0, len(rt.workers))
	for _, w := range rt.workers {
		out = append(out, runtimeiface.ThreadInfo{ID: w.id, Name: w.name})
	}
	return out, nil
}

func (rt *Runtime) TopFrame(thread runtimeiface.ThreadID) (runtimeiface.Frame, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, w := range rt.workers {
		if w.id == thread {
			return w.top.load(), nil
		}
	}
	return nil, nil
}

func (rt *Runtime) SetProfileHook(fn runtimeiface.HookFunc) (runtimeiface.HookFunc, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	prev := rt.hook
	rt.hook = fn
	return prev, nil
}

func (rt *Runtime) Trampoline() runtimeiface.Trampoline { return mainThreadTrampoline{} }

type mainThreadTrampoline struct{}

func (mainThreadTrampoline) Schedule(fn func()) error {
	go fn()
	return nil
}

func (rt *Runtime) currentHook() runtimeiface.HookFunc {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.hook
}

// run drives one worker through an unbounded sequence of simulated request
// handling cycles until Stop is called.
func (rt *Runtime) run(w *worker) {
	defer rt.doneWG.Done()
	var callID uint64
	for {
		select {
		case <-rt.stopCh:
			return
		default:
		}
		rt.handleRequest(w, &callID)
		time.Sleep(time.Millisecond)
	}
}

func (rt *Runtime) handleRequest(w *worker, callID *uint64) {
	main := &frame{file: "server.py", qualname: "main_loop", line: 12}
	w.top.store(main)

	handle := &frame{parent: main, file: "server.py", qualname: "handle_request", line: 40}
	w.top.store(handle)
	time.Sleep(time.Duration(rt.rng.Intn(200)) * time.Microsecond)

	switch rt.rng.Intn(3) {
	case 0:
		parse := &frame{parent: handle, file: "json_codec.py", qualname: "parse", line: 8}
		w.top.store(parse)
		time.Sleep(time.Duration(rt.rng.Intn(300)) * time.Microsecond)
	case 1:
		query := &frame{parent: handle, file: "orm.py", qualname: "query", line: 120}
		w.top.store(query)
		rt.maybeNativeCall(w, query, callID, "sqlite_native", "exec")
	default:
		render := &frame{parent: handle, file: "templates.py", qualname: "render", line: 55}
		w.top.store(render)

		stdlib := &frame{parent: render, file: "/usr/lib/python3.12/string.py", qualname: "Template.substitute", line: 90, frozen: true}
		w.top.store(stdlib)
		time.Sleep(time.Duration(rt.rng.Intn(150)) * time.Microsecond)
	}
}

// maybeNativeCall drives a synthetic enter/return pair through whatever
// hook is currently installed, standing in for a C-extension call
// instrumented by the profiler's native-call bridge.
func (rt *Runtime) maybeNativeCall(w *worker, caller *frame, callID *uint64, module, name string) {
	hook := rt.currentHook()
	*callID++
	call := runtimeiface.NativeCall{ID: *callID, Module: module, Name: name}

	if hook != nil {
		hook(runtimeiface.HookEvent{Kind: runtimeiface.HookEnter, Thread: w.id, Call: call, CallerFrame: caller})
	}
	time.Sleep(time.Duration(50+rt.rng.Intn(400)) * time.Microsecond)
	if hook != nil {
		hook(runtimeiface.HookEvent{Kind: runtimeiface.HookReturn, Thread: w.id, Call: call, CallerFrame: caller})
	}
}
