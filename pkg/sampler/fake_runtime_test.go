package sampler_test

import (
	"context"
	"sync"

	"github.com/ja7ad/stacksample/pkg/runtimeiface"
)

type fakeFrame struct {
	parent   runtimeiface.Frame
	file     string
	qualname string
	line     int
	frozen   bool
}

func (f *fakeFrame) Parent() runtimeiface.Frame { return f.parent }
func (f *fakeFrame) File() string               { return f.file }
func (f *fakeFrame) Qualname() string           { return f.qualname }
func (f *fakeFrame) FirstLine() int             { return f.line }
func (f *fakeFrame) CurrentLine() int           { return f.line }
func (f *fakeFrame) Frozen() bool               { return f.frozen }

func leafFrame(file, qualname string, line int) *fakeFrame {
	return &fakeFrame{file: file, qualname: qualname, line: line}
}

// fakeRuntime is a minimal, concurrency-safe runtimeiface.Runtime backed
// by an in-memory map of thread -> top frame, for driving the samplers
// without any real interpreter binding.
type fakeRuntime struct {
	mu      sync.Mutex
	threads []runtimeiface.ThreadInfo
	frames  map[runtimeiface.ThreadID]runtimeiface.Frame
	hook    runtimeiface.HookFunc
	failing bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{frames: make(map[runtimeiface.ThreadID]runtimeiface.Frame)}
}

func (r *fakeRuntime) addThread(id runtimeiface.ThreadID, name string, frame runtimeiface.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = append(r.threads, runtimeiface.ThreadInfo{ID: id, Name: name})
	r.frames[id] = frame
}

func (r *fakeRuntime) Threads(ctx context.Context) ([]runtimeiface.ThreadInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return nil, errFakeRuntime
	}
	out := make([]runtimeiface.ThreadInfo, len(r.threads))
	copy(out, r.threads)
	return out, nil
}

func (r *fakeRuntime) TopFrame(thread runtimeiface.ThreadID) (runtimeiface.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return nil, errFakeRuntime
	}
	return r.frames[thread], nil
}

func (r *fakeRuntime) SetProfileHook(fn runtimeiface.HookFunc) (runtimeiface.HookFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.hook
	r.hook = fn
	return prev, nil
}

func (r *fakeRuntime) Trampoline() runtimeiface.Trampoline { return fakeTrampoline{} }

type fakeTrampoline struct{}

func (fakeTrampoline) Schedule(fn func()) error {
	go fn()
	return nil
}

type fakeRuntimeErr string

func (e fakeRuntimeErr) Error() string { return string(e) }

const errFakeRuntime = fakeRuntimeErr("fake runtime failure")
