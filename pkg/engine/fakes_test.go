package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/davytheprogrammer/hotspot-manager/pkg/apsvc"
	"github.com/davytheprogrammer/hotspot-manager/pkg/devices"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// ============================================================================
// Prober
// ============================================================================

type fakeProber struct {
	reports map[string]*hotspot.CapabilityReport
}

func capable(name string) *hotspot.CapabilityReport {
	return &hotspot.CapabilityReport{
		Interface: hotspot.WirelessInterface{
			Name: name, Phy: "phy0", Mode: hotspot.ModeManaged,
			SupportedModes: []hotspot.Mode{hotspot.ModeManaged, hotspot.ModeAP},
		},
		SupportsConcurrentAPManaged: true,
		MaxChannels:                 1,
	}
}

func managedOnly(name string) *hotspot.CapabilityReport {
	return &hotspot.CapabilityReport{
		Interface: hotspot.WirelessInterface{
			Name: name, Phy: "phy1", Mode: hotspot.ModeManaged,
			SupportedModes: []hotspot.Mode{hotspot.ModeManaged},
		},
		Warnings: []string{"no valid interface combinations reported"},
	}
}

func (p *fakeProber) Probe(_ context.Context, name string) (*hotspot.CapabilityReport, error) {
	r, ok := p.reports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", util.ErrNoSuchInterface, name)
	}
	return r, nil
}

func (p *fakeProber) ProbeAll(context.Context) ([]hotspot.CapabilityReport, error) {
	var out []hotspot.CapabilityReport
	for _, name := range []string{"wlan0", "wlan1"} {
		if r, ok := p.reports[name]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

// ============================================================================
// Access point
// ============================================================================

type fakeHandle struct {
	id        string
	iface     string
	subnet    netip.Prefix
	pid       int
	leaseFile string
	exited    chan error

	mu   sync.Mutex
	torn int
}

func (h *fakeHandle) ID() string           { return h.id }
func (h *fakeHandle) Interface() string    { return h.iface }
func (h *fakeHandle) Subnet() netip.Prefix { return h.subnet }
func (h *fakeHandle) Gateway() netip.Addr  { return util.GatewayAddr(h.subnet) }
func (h *fakeHandle) LeaseFile() string    { return h.leaseFile }
func (h *fakeHandle) HostapdPID() int      { return h.pid }
func (h *fakeHandle) Exited() <-chan error { return h.exited }

func (h *fakeHandle) TearDown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.torn++
	return nil
}

func (h *fakeHandle) tornDown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.torn > 0
}

type fakeAP struct {
	dir string

	mu      sync.Mutex
	fail    error
	block   chan struct{}
	entered chan struct{}
	plans   []apsvc.Plan
	handles []*fakeHandle
}

func (f *fakeAP) BringUp(ctx context.Context, plan apsvc.Plan) (AccessPoint, error) {
	f.mu.Lock()
	f.plans = append(f.plans, plan)
	block, fail, entered := f.block, f.fail, f.entered
	f.block, f.entered = nil, nil
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, util.NewStepError("hostapd", fmt.Errorf("%w: %w", util.ErrSessionCancelled, ctx.Err()))
		}
	}
	if fail != nil {
		return nil, fail
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{
		id:        plan.ID,
		iface:     plan.Config.Interface + "_ap",
		subnet:    plan.Subnet,
		pid:       4000 + len(f.handles),
		leaseFile: filepath.Join(f.dir, fmt.Sprintf("leases-%d", len(f.handles))),
		exited:    make(chan error, 1),
	}
	f.handles = append(f.handles, h)
	return h, nil
}

// blockNext makes the next BringUp wait for release or cancellation.
func (f *fakeAP) blockNext() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = make(chan struct{})
	f.entered = make(chan struct{})
	block := f.block
	return f.entered, func() { close(block) }
}

func (f *fakeAP) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plans)
}

func (f *fakeAP) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.handles) {
		return nil
	}
	return f.handles[i]
}

func (f *fakeAP) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.handles {
		if !h.tornDown() {
			n++
		}
	}
	return n
}

// ============================================================================
// iptables
// ============================================================================

type memTables struct {
	mu    sync.Mutex
	rules map[string][]string
	// failures makes the next n installs fail, delFailures the next n deletes
	failures    int
	delFailures int
}

func newMemTables() *memTables {
	return &memTables{rules: make(map[string][]string)}
}

func (m *memTables) Exists(table, chain string, spec ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := strings.Join(spec, " ")
	for _, r := range m.rules[table+"/"+chain] {
		if r == want {
			return true, nil
		}
	}
	return false, nil
}

func (m *memTables) install(table, chain string, front bool, spec []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("iptables: Resource temporarily unavailable")
	}
	k, r := table+"/"+chain, strings.Join(spec, " ")
	if front {
		m.rules[k] = append([]string{r}, m.rules[k]...)
	} else {
		m.rules[k] = append(m.rules[k], r)
	}
	return nil
}

func (m *memTables) Insert(table, chain string, _ int, spec ...string) error {
	return m.install(table, chain, true, spec)
}

func (m *memTables) Append(table, chain string, spec ...string) error {
	return m.install(table, chain, false, spec)
}

func (m *memTables) DeleteIfExists(table, chain string, spec ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delFailures > 0 {
		m.delFailures--
		return errors.New("iptables: Device or resource busy")
	}
	k, want := table+"/"+chain, strings.Join(spec, " ")
	for i, r := range m.rules[k] {
		if r == want {
			m.rules[k] = append(m.rules[k][:i], m.rules[k][i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memTables) failNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

func (m *memTables) failNextDeletes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delFailures = n
}

func (m *memTables) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rs := range m.rules {
		n += len(rs)
	}
	return n
}

// ============================================================================
// Uplink
// ============================================================================

type fakeLink struct {
	mu       sync.Mutex
	status   hotspot.UplinkStatus
	script   []hotspot.UplinkStatus
	watchers map[chan hotspot.UplinkStatus]struct{}
}

func newFakeLink(st hotspot.UplinkStatus) *fakeLink {
	return &fakeLink{status: st, watchers: make(map[chan hotspot.UplinkStatus]struct{})}
}

// Current answers from the script first, then the live status.
func (l *fakeLink) Current(context.Context, string) hotspot.UplinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.script) > 0 {
		st := l.script[0]
		l.script = l.script[1:]
		return st
	}
	return l.status
}

func (l *fakeLink) Watch(ctx context.Context, _ string) <-chan hotspot.UplinkStatus {
	ch := make(chan hotspot.UplinkStatus, 16)
	l.mu.Lock()
	ch <- l.status
	l.watchers[ch] = struct{}{}
	l.mu.Unlock()
	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.watchers, ch)
		close(ch)
		l.mu.Unlock()
	}()
	return ch
}

func (l *fakeLink) set(st hotspot.UplinkStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = st
	for ch := range l.watchers {
		ch <- st
	}
}

func (l *fakeLink) watching() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.watchers)
}

// ============================================================================
// Neighbours
// ============================================================================

type staticSweeper struct {
	neighs []devices.Neighbor
}

func (s staticSweeper) Neighbors(context.Context, string) ([]devices.Neighbor, error) {
	return s.neighs, nil
}

// ============================================================================
// Observer
// ============================================================================

type recorder struct {
	mu          sync.Mutex
	transitions []hotspot.Transition
}

func (r *recorder) Notify(t hotspot.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

// path lists the states entered, in order.
func (r *recorder) path() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.transitions))
	for i, t := range r.transitions {
		out[i] = t.To.String()
	}
	return out
}

func writeForward(t *testing.T, root, value string) {
	t.Helper()
	dir := filepath.Join(root, "net", "ipv4")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ip_forward"), []byte(value+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func readForward(t *testing.T, root string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, "net", "ipv4", "ip_forward"))
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(b))
}
