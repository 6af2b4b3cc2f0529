package devices

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
	"time"
)

type fakeSweeper struct {
	mu     sync.Mutex
	neighs []Neighbor
	hang   bool
}

func (f *fakeSweeper) set(n ...Neighbor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.neighs = n
}

func (f *fakeSweeper) Neighbors(ctx context.Context, iface string) ([]Neighbor, error) {
	f.mu.Lock()
	hang, neighs := f.hang, f.neighs
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return neighs, nil
}

type fakeResolver struct {
	mu    sync.Mutex
	names map[string]string
	calls int
}

func (f *fakeResolver) LookupAddr(_ context.Context, ip, server string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if server != "10.42.0.1" {
		return "", fmt.Errorf("wrong server %s", server)
	}
	return f.names[ip], nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func writeLeases(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

type regFixture struct {
	reg      *Registry
	sweeper  *fakeSweeper
	resolver *fakeResolver
	clock    *clock
	leases   string
}

func newRegFixture(t *testing.T) *regFixture {
	t.Helper()
	f := &regFixture{
		sweeper:  &fakeSweeper{},
		resolver: &fakeResolver{names: map[string]string{}},
		clock:    &clock{t: time.Unix(1_760_000_000, 0)},
		leases:   filepath.Join(t.TempDir(), "dnsmasq.leases"),
	}
	f.reg = New(f.sweeper, f.resolver, Options{
		SweepTimeout: 20 * time.Millisecond,
		Now:          f.clock.now,
	})
	f.reg.Attach(Session{
		Interface: "wlan0_ap",
		Subnet:    netip.MustParsePrefix("10.42.0.0/24"),
		Gateway:   netip.MustParseAddr("10.42.0.1"),
		LeaseFile: f.leases,
	})
	return f
}

func (f *regFixture) expiry(d time.Duration) int64 {
	return f.clock.t.Add(d).Unix()
}

func TestParseLeases(t *testing.T) {
	in := strings.Join([]string{
		"duid 00:01:00:01:2c:5f:aa:bb",
		"1760043200 AA:BB:CC:DD:EE:01 10.42.0.23 pixel-7 01:aa:bb:cc:dd:ee:01",
		"0 aa:bb:cc:dd:ee:02 10.42.0.57 * *",
		"garbage",
		"notanumber aa:bb:cc:dd:ee:03 10.42.0.60 x *",
	}, "\n")

	leases := parseLeases(strings.NewReader(in))
	if len(leases) != 2 {
		t.Fatalf("got %d leases, want 2: %+v", len(leases), leases)
	}
	if leases[0].MAC != "aa:bb:cc:dd:ee:01" || leases[0].Hostname != "pixel-7" || leases[0].Expiry.Unix() != 1760043200 {
		t.Errorf("lease[0] = %+v", leases[0])
	}
	if !leases[1].Expiry.IsZero() || leases[1].Hostname != "" {
		t.Errorf("lease[1] = %+v", leases[1])
	}
	if !leases[1].Active(time.Now()) {
		t.Error("infinite lease should be active")
	}
}

func TestReadLeasesMissingFile(t *testing.T) {
	leases, err := ReadLeases(filepath.Join(t.TempDir(), "absent"))
	if err != nil || leases != nil {
		t.Errorf("ReadLeases(missing) = %v, %v", leases, err)
	}
}

func TestLeaseOnlyDeviceListedWhenSweepTimesOut(t *testing.T) {
	f := newRegFixture(t)
	f.sweeper.hang = true
	writeLeases(t, f.leases, fmt.Sprintf("%d aa:bb:cc:dd:ee:01 10.42.0.23 laptop *", f.expiry(time.Hour)))

	got, err := f.reg.ListConnected(context.Background(), "wlan0_ap")
	if err != nil {
		t.Fatalf("ListConnected() error: %v", err)
	}
	if len(got) != 1 || got[0].MAC != "aa:bb:cc:dd:ee:01" || got[0].IP != "10.42.0.23" {
		t.Fatalf("ListConnected() = %+v", got)
	}
	if !got[0].LastSeen.Equal(f.clock.t) {
		t.Errorf("LastSeen = %v, want first detection %v", got[0].LastSeen, f.clock.t)
	}
}

func TestLeaseIsAuthoritativeForAddress(t *testing.T) {
	f := newRegFixture(t)
	f.sweeper.set(Neighbor{MAC: "aa:bb:cc:dd:ee:01", IP: "10.42.0.99"})
	writeLeases(t, f.leases, fmt.Sprintf("%d aa:bb:cc:dd:ee:01 10.42.0.23 phone *", f.expiry(time.Hour)))

	got, _ := f.reg.ListConnected(context.Background(), "wlan0_ap")
	if len(got) != 1 {
		t.Fatalf("got %d devices, want 1", len(got))
	}
	if got[0].IP != "10.42.0.23" || got[0].Hostname != "phone" {
		t.Errorf("device = %+v, want lease address and hostname", got[0])
	}
}

func TestSweepKeepsDeviceAlive(t *testing.T) {
	f := newRegFixture(t)
	f.sweeper.set(Neighbor{MAC: "aa:bb:cc:dd:ee:05", IP: "10.42.0.50"})
	f.reg.ListConnected(context.Background(), "wlan0_ap")

	f.clock.advance(90 * time.Second)
	got, _ := f.reg.ListConnected(context.Background(), "wlan0_ap")
	if len(got) != 1 || !got[0].LastSeen.Equal(f.clock.t) {
		t.Fatalf("device should be refreshed: %+v", got)
	}

	f.sweeper.set()
	f.clock.advance(DefaultWindow + time.Second)
	got, _ = f.reg.ListConnected(context.Background(), "wlan0_ap")
	if len(got) != 0 {
		t.Errorf("silent device should expire: %+v", got)
	}
}

func TestSilentLeaseOnlyDeviceStaysExpiredUntilRenewal(t *testing.T) {
	f := newRegFixture(t)
	exp := f.expiry(12 * time.Hour)
	writeLeases(t, f.leases, fmt.Sprintf("%d aa:bb:cc:dd:ee:07 10.42.0.70 * *", exp))

	if got, _ := f.reg.ListConnected(context.Background(), "wlan0_ap"); len(got) != 1 {
		t.Fatalf("lease-only device should be listed: %+v", got)
	}

	f.clock.advance(3 * time.Minute)
	if got, _ := f.reg.ListConnected(context.Background(), "wlan0_ap"); len(got) != 0 {
		t.Fatalf("silent device should expire: %+v", got)
	}
	f.clock.advance(time.Minute)
	if got, _ := f.reg.ListConnected(context.Background(), "wlan0_ap"); len(got) != 0 {
		t.Fatalf("unchanged lease must not resurrect the device: %+v", got)
	}

	// renewal changes the expiry
	writeLeases(t, f.leases, fmt.Sprintf("%d aa:bb:cc:dd:ee:07 10.42.0.70 * *", f.expiry(12*time.Hour)))
	if got, _ := f.reg.ListConnected(context.Background(), "wlan0_ap"); len(got) != 1 {
		t.Errorf("renewed lease should list the device again: %+v", got)
	}
}

func TestExpiredLeaseAndForeignSubnetIgnored(t *testing.T) {
	f := newRegFixture(t)
	f.sweeper.set(Neighbor{MAC: "aa:bb:cc:dd:ee:08", IP: "192.168.1.1"})
	writeLeases(t, f.leases,
		fmt.Sprintf("%d aa:bb:cc:dd:ee:09 10.42.0.90 old *", f.expiry(-time.Minute)),
		fmt.Sprintf("%d aa:bb:cc:dd:ee:0a 10.43.0.5 other *", f.expiry(time.Hour)),
	)
	if got, _ := f.reg.ListConnected(context.Background(), "wlan0_ap"); len(got) != 0 {
		t.Errorf("ListConnected() = %+v, want none", got)
	}
}

func TestListConnectedOrdering(t *testing.T) {
	f := newRegFixture(t)
	f.sweeper.set(
		Neighbor{MAC: "aa:bb:cc:dd:ee:03", IP: "10.42.0.100"},
		Neighbor{MAC: "aa:bb:cc:dd:ee:02", IP: "10.42.0.9"},
		Neighbor{MAC: "aa:bb:cc:dd:ee:01", IP: "10.42.0.10"},
	)
	got, _ := f.reg.ListConnected(context.Background(), "wlan0_ap")
	var ips []string
	for _, d := range got {
		ips = append(ips, d.IP)
	}
	if strings.Join(ips, ",") != "10.42.0.9,10.42.0.10,10.42.0.100" {
		t.Errorf("order = %v", ips)
	}
}

func TestHostnameResolutionCached(t *testing.T) {
	f := newRegFixture(t)
	f.resolver.names["10.42.0.23"] = "pixel-7.lan"
	f.sweeper.set(
		Neighbor{MAC: "aa:bb:cc:dd:ee:01", IP: "10.42.0.23"},
		Neighbor{MAC: "aa:bb:cc:dd:ee:02", IP: "10.42.0.24"},
	)

	got, _ := f.reg.ListConnected(context.Background(), "wlan0_ap")
	if got[0].Hostname != "pixel-7.lan" || got[1].Hostname != "" {
		t.Errorf("hostnames = %q, %q", got[0].Hostname, got[1].Hostname)
	}
	f.reg.ListConnected(context.Background(), "wlan0_ap")
	if f.resolver.calls != 2 {
		t.Errorf("resolver calls = %d, want 2 (answers cached)", f.resolver.calls)
	}
}

func TestDetachForgetsDevices(t *testing.T) {
	f := newRegFixture(t)
	f.sweeper.set(Neighbor{MAC: "aa:bb:cc:dd:ee:01", IP: "10.42.0.23"})
	f.reg.ListConnected(context.Background(), "wlan0_ap")

	f.reg.Detach("wlan0_ap")
	got, err := f.reg.ListConnected(context.Background(), "wlan0_ap")
	if err != nil || len(got) != 0 {
		t.Errorf("after Detach: %+v, %v", got, err)
	}
}

type errSweeper struct{}

func (errSweeper) Neighbors(context.Context, string) ([]Neighbor, error) {
	return nil, errors.New("Link not found")
}

func TestSweepErrorStillUsesLeases(t *testing.T) {
	f := newRegFixture(t)
	f.reg.sweeper = errSweeper{}
	writeLeases(t, f.leases, fmt.Sprintf("%d aa:bb:cc:dd:ee:01 10.42.0.23 tv *", f.expiry(time.Hour)))
	got, err := f.reg.ListConnected(context.Background(), "wlan0_ap")
	if err != nil || len(got) != 1 {
		t.Errorf("ListConnected() = %+v, %v", got, err)
	}
}
