package apsvc

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davytheprogrammer/hotspot-manager/internal/testutil"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

type fakeLinks struct {
	mu         sync.Mutex
	ifaces     map[string]net.HardwareAddr
	addrs      map[string]netip.Prefix
	failCreate error
	failConfig error
	failDelete error
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{
		ifaces: map[string]net.HardwareAddr{"wlan0": {0x9c, 0xb6, 0xd0, 0x11, 0x22, 0x33}},
		addrs:  map[string]netip.Prefix{},
	}
}

func (f *fakeLinks) HardwareAddr(name string) (net.HardwareAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mac, ok := f.ifaces[name]
	if !ok {
		return nil, errors.New("Link not found")
	}
	return mac, nil
}

func (f *fakeLinks) CreateAP(_ context.Context, parent, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	if _, ok := f.ifaces[parent]; !ok {
		return errors.New("no parent")
	}
	f.ifaces[name] = f.ifaces[parent]
	return nil
}

func (f *fakeLinks) Configure(name string, mac net.HardwareAddr, addr netip.Prefix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConfig != nil {
		return f.failConfig
	}
	f.ifaces[name] = mac
	f.addrs[name] = addr
	return nil
}

func (f *fakeLinks) Exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ifaces[name]
	return ok
}

func (f *fakeLinks) Delete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil {
		return f.failDelete
	}
	delete(f.ifaces, name)
	delete(f.addrs, name)
	return nil
}

func testPlan() Plan {
	return Plan{
		ID: "sess-1",
		Config: hotspot.HotspotConfig{
			SSID:       "Conf",
			Passphrase: "test1234",
			Channel:    6,
			Band:       hotspot.Band24GHz,
			Interface:  "wlan0",
		},
		StartupTimeout: 200 * time.Millisecond,
	}
}

type fixture struct {
	links    *fakeLinks
	launcher *testutil.FakeLauncher
	stateDir string
	sup      *Supervisor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		links:    newFakeLinks(),
		launcher: testutil.NewFakeLauncher(),
		stateDir: t.TempDir(),
	}
	f.sup = New(f.links, f.launcher, Options{StateDir: f.stateDir})
	return f
}

// assertClean checks that nothing created by BringUp survives.
func (f *fixture) assertClean(t *testing.T) {
	t.Helper()
	if f.links.Exists("wlan0_ap") {
		t.Error("virtual interface leaked")
	}
	if !f.links.Exists("wlan0") {
		t.Error("client interface must never be removed")
	}
	if n := f.launcher.Running(); n != 0 {
		t.Errorf("%d child processes leaked", n)
	}
	entries, err := os.ReadDir(f.stateDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("config directory leaked: %v", entries)
	}
}

func TestBringUpAndTearDown(t *testing.T) {
	f := newFixture(t)

	h, err := f.sup.BringUp(context.Background(), testPlan())
	if err != nil {
		t.Fatalf("BringUp() error: %v", err)
	}

	if h.Interface() != "wlan0_ap" || h.Parent() != "wlan0" || h.ID() != "sess-1" {
		t.Errorf("handle = %s/%s/%s", h.Interface(), h.Parent(), h.ID())
	}
	if got := h.Gateway().String(); got != "10.42.0.1" {
		t.Errorf("Gateway() = %s, want 10.42.0.1", got)
	}
	if got := f.links.addrs["wlan0_ap"].String(); got != "10.42.0.1/24" {
		t.Errorf("AP address = %s, want 10.42.0.1/24", got)
	}
	if mac := f.links.ifaces["wlan0_ap"]; mac.String() == "9c:b6:d0:11:22:33" || mac[0]&0x02 == 0 {
		t.Errorf("AP MAC %s should be locally administered and distinct", mac)
	}
	if h.HostapdPID() == 0 {
		t.Error("HostapdPID() should be set")
	}

	info, err := os.Stat(h.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("config dir mode = %o, want 0700", perm)
	}
	for _, name := range []string{"hostapd.conf", "dnsmasq.conf"} {
		fi, err := os.Stat(filepath.Join(h.Dir(), name))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if perm := fi.Mode().Perm(); perm != 0600 {
			t.Errorf("%s mode = %o, want 0600", name, perm)
		}
	}
	if h.LeaseFile() != filepath.Join(h.Dir(), "dnsmasq.leases") {
		t.Errorf("LeaseFile() = %s", h.LeaseFile())
	}

	hostapd := f.launcher.Find("hostapd")
	if hostapd.Spec.Ready != "AP-ENABLED" {
		t.Errorf("hostapd ready line = %q", hostapd.Spec.Ready)
	}
	dnsmasq := f.launcher.Find("dnsmasq")
	if dnsmasq.Spec.Args[0] != "--keep-in-foreground" {
		t.Errorf("dnsmasq args = %v", dnsmasq.Spec.Args)
	}

	if err := f.sup.TearDown(h); err != nil {
		t.Fatalf("TearDown() error: %v", err)
	}
	if !hostapd.Stopped() || !dnsmasq.Stopped() {
		t.Error("daemons should be stopped")
	}
	f.assertClean(t)

	if err := h.TearDown(); err != nil {
		t.Errorf("second TearDown() = %v, want nil", err)
	}
}

func TestBringUpRollsBackEveryStep(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*fixture)
		step   string
		reason util.Reason
	}{
		{
			name:   "create interface",
			inject: func(f *fixture) { f.links.failCreate = errors.New("Device or resource busy (-16)") },
			step:   "interface",
			reason: util.ReasonStartupFailed,
		},
		{
			name:   "configure interface",
			inject: func(f *fixture) { f.links.failConfig = errors.New("Cannot assign requested address") },
			step:   "interface",
			reason: util.ReasonStartupFailed,
		},
		{
			name:   "launch hostapd",
			inject: func(f *fixture) { f.launcher.Fail["hostapd"] = errors.New("executable file not found") },
			step:   "hostapd",
			reason: util.ReasonStartupFailed,
		},
		{
			name:   "launch dnsmasq",
			inject: func(f *fixture) { f.launcher.Fail["dnsmasq"] = errors.New("permission denied") },
			step:   "dnsmasq",
			reason: util.ReasonStartupFailed,
		},
		{
			name:   "hostapd exits before AP-ENABLED",
			inject: func(f *fixture) { f.launcher.ExitEarly["hostapd"] = errors.New("exit status 1") },
			step:   "hostapd",
			reason: util.ReasonStartupFailed,
		},
		{
			name:   "hostapd never ready",
			inject: func(f *fixture) { f.launcher.NeverReady["hostapd"] = true },
			step:   "hostapd",
			reason: util.ReasonStartupTimeout,
		},
		{
			name:   "dnsmasq dies during startup",
			inject: func(f *fixture) { f.launcher.ExitEarly["dnsmasq"] = errors.New("exit status 2") },
			step:   "dnsmasq",
			reason: util.ReasonStartupFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.inject(f)

			h, err := f.sup.BringUp(context.Background(), testPlan())
			if err == nil {
				t.Fatal("BringUp() should fail")
			}
			if h != nil {
				t.Error("failed BringUp must not return a handle")
			}
			var se *util.StepError
			if !errors.As(err, &se) || se.Step != tt.step {
				t.Errorf("error = %v, want step %q", err, tt.step)
			}
			if got := util.ReasonOf(err); got != tt.reason {
				t.Errorf("ReasonOf = %q, want %q", got, tt.reason)
			}
			f.assertClean(t)
		})
	}
}

func TestBringUpCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sup.BringUp(ctx, testPlan())
	if !errors.Is(err, util.ErrSessionCancelled) {
		t.Errorf("BringUp() = %v, want ErrSessionCancelled", err)
	}
	f.assertClean(t)
}

func TestBringUpRemovesStaleInterface(t *testing.T) {
	f := newFixture(t)
	f.links.ifaces["wlan0_ap"] = net.HardwareAddr{2, 0, 0, 0, 0, 1}

	h, err := f.sup.BringUp(context.Background(), testPlan())
	if err != nil {
		t.Fatalf("BringUp() error: %v", err)
	}
	defer h.TearDown()
	if f.links.ifaces["wlan0_ap"].String() == "02:00:00:00:00:01" {
		t.Error("stale interface should have been recreated")
	}
}

func TestHandleReportsDaemonExit(t *testing.T) {
	f := newFixture(t)
	h, err := f.sup.BringUp(context.Background(), testPlan())
	if err != nil {
		t.Fatal(err)
	}
	defer h.TearDown()

	f.launcher.Find("hostapd").Exit(errors.New("signal: killed"))

	select {
	case err := <-h.Exited():
		if !errors.Is(err, util.ErrDaemonExited) || !strings.Contains(err.Error(), "hostapd") {
			t.Errorf("Exited() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon exit not reported")
	}
}

func TestHandleNoExitReportAfterTearDown(t *testing.T) {
	f := newFixture(t)
	h, err := f.sup.BringUp(context.Background(), testPlan())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.TearDown(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-h.Exited():
		t.Errorf("unexpected exit report after teardown: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTearDownContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	h, err := f.sup.BringUp(context.Background(), testPlan())
	if err != nil {
		t.Fatal(err)
	}
	f.links.failDelete = errors.New("Operation not permitted")

	err = h.TearDown()
	if !errors.Is(err, util.ErrTeardownPartial) {
		t.Fatalf("TearDown() = %v, want ErrTeardownPartial", err)
	}
	if f.launcher.Running() != 0 {
		t.Error("daemons should be stopped even when interface removal fails")
	}
	if _, err := os.Stat(h.Dir()); !os.IsNotExist(err) {
		t.Error("config dir should be removed even when interface removal fails")
	}
}

func TestAPName(t *testing.T) {
	tests := []struct{ parent, want string }{
		{"wlan0", "wlan0_ap"},
		{"wlp2s0", "wlp2s0_ap"},
		{"wlx00c0ca000001", "wlx00c0ca000_ap"},
	}
	for _, tt := range tests {
		if got := apName(tt.parent); got != tt.want || len(got) > 15 {
			t.Errorf("apName(%q) = %q, want %q", tt.parent, got, tt.want)
		}
	}
}

func TestAPMAC(t *testing.T) {
	parent := net.HardwareAddr{0x9c, 0xb6, 0xd0, 0x11, 0x22, 0x33}
	if got := apMAC(parent).String(); got != "9e:b6:d0:11:22:33" {
		t.Errorf("apMAC = %s", got)
	}
	local := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x10}
	if got := apMAC(local).String(); got != "02:00:00:00:00:11" {
		t.Errorf("apMAC(local) = %s", got)
	}
	if apMAC(nil) != nil {
		t.Error("apMAC(nil) should be nil")
	}
}
