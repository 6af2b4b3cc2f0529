package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/davytheprogrammer/hotspot-manager/pkg/host"
)

// FakeProc is a host.Proc controlled by the test.
type FakeProc struct {
	Spec host.ProcessSpec

	pid       int
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	mu      sync.Mutex
	err     error
	tail    []string
	stopped bool
}

// NewFakeProc returns a running, not yet ready process.
func NewFakeProc(pid int, spec host.ProcessSpec) *FakeProc {
	return &FakeProc{
		Spec:  spec,
		pid:   pid,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// MarkReady simulates the ready line.
func (p *FakeProc) MarkReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// Exit simulates the process exiting on its own.
func (p *FakeProc) Exit(err error, output ...string) {
	p.mu.Lock()
	p.tail = append(p.tail, output...)
	p.mu.Unlock()
	p.doneOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *FakeProc) PID() int               { return p.pid }
func (p *FakeProc) Ready() <-chan struct{} { return p.ready }
func (p *FakeProc) Done() <-chan struct{}  { return p.done }

func (p *FakeProc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *FakeProc) Tail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tail...)
}

// Stop records the stop and exits the process.
func (p *FakeProc) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.Exit(nil)
	return nil
}

// Stopped reports whether Stop was called.
func (p *FakeProc) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Running reports whether the process has not exited.
func (p *FakeProc) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// FakeLauncher hands out FakeProcs. By default every process becomes ready
// immediately.
type FakeLauncher struct {
	mu      sync.Mutex
	nextPID int
	procs   []*FakeProc

	// Fail makes Launch of the named process return the error.
	Fail map[string]error
	// NeverReady leaves the named processes not ready.
	NeverReady map[string]bool
	// ExitEarly makes the named process exit right after launch.
	ExitEarly map[string]error
}

// NewFakeLauncher returns a launcher whose processes start ready.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{
		nextPID:    1000,
		Fail:       make(map[string]error),
		NeverReady: make(map[string]bool),
		ExitEarly:  make(map[string]error),
	}
}

// Launch implements host.Launcher.
func (l *FakeLauncher) Launch(ctx context.Context, spec host.ProcessSpec) (host.Proc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.Fail[spec.Name]; err != nil {
		return nil, fmt.Errorf("%s: start: %w", spec.Name, err)
	}
	l.nextPID++
	p := NewFakeProc(l.nextPID, spec)
	l.procs = append(l.procs, p)

	if err, ok := l.ExitEarly[spec.Name]; ok {
		p.Exit(err, spec.Name+": driver refused AP mode")
		return p, nil
	}
	if !l.NeverReady[spec.Name] {
		p.MarkReady()
	}
	return p, nil
}

// Procs returns every process launched so far.
func (l *FakeLauncher) Procs() []*FakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeProc(nil), l.procs...)
}

// Find returns the most recent process launched under name.
func (l *FakeLauncher) Find(name string) *FakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.procs) - 1; i >= 0; i-- {
		if l.procs[i].Spec.Name == name {
			return l.procs[i]
		}
	}
	return nil
}

// Running counts processes that have not exited.
func (l *FakeLauncher) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.procs {
		if p.Running() {
			n++
		}
	}
	return n
}
