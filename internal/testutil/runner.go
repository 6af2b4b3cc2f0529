// Package testutil provides fakes for the host collaborators so engine
// components can be tested without wireless hardware or root.
package testutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Response is a scripted command result.
type Response struct {
	Out string
	Err error
}

// FakeRunner answers commands from a script keyed by the full command line
// ("iw dev wlan0 link"). It records every call.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]Response
	paths     map[string]string
	calls     []string

	// Handler, when set, is consulted before the script.
	Handler func(line string) (Response, bool)
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		responses: make(map[string]Response),
		paths:     make(map[string]string),
	}
}

// On scripts the output of a command line.
func (f *FakeRunner) On(line, out string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[line] = Response{Out: out}
	return f
}

// OnError scripts a failing command line.
func (f *FakeRunner) OnError(line string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[line] = Response{Err: err}
	return f
}

// Tool marks name as installed for LookPath.
func (f *FakeRunner) Tool(name string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[name] = "/usr/sbin/" + name
	return f
}

// Run implements host.Runner.
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))

	f.mu.Lock()
	f.calls = append(f.calls, line)
	handler := f.Handler
	resp, ok := f.responses[line]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if handler != nil {
		if r, handled := handler(line); handled {
			return []byte(r.Out), r.Err
		}
	}
	if !ok {
		return nil, fmt.Errorf("fake runner: unexpected command %q", line)
	}
	return []byte(resp.Out), resp.Err
}

// LookPath implements host.Runner.
func (f *FakeRunner) LookPath(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.paths[name]; ok {
		return p, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// Calls returns every command line run so far.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts calls whose command line starts with prefix.
func (f *FakeRunner) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
