// Package devices tracks the clients of a running access point.
//
// Two sources are merged by MAC: the kernel neighbour table, which proves
// a client is alive, and the dnsmasq lease file, which is authoritative for
// the assigned address and client-supplied hostname. A client seen only in
// the lease file is listed from first detection even if the neighbour sweep
// misses it, and is dropped once it has been silent for the window.
package devices

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/metrics"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// Defaults for a Registry.
const (
	DefaultWindow       = 2 * time.Minute
	DefaultSweepTimeout = time.Second
)

// Session describes one attached access point.
type Session struct {
	Interface string
	Subnet    netip.Prefix
	Gateway   netip.Addr
	LeaseFile string
}

// Options configures a Registry.
type Options struct {
	Window       time.Duration
	SweepTimeout time.Duration
	Metrics      *metrics.Metrics
	// Now overrides the clock.
	Now func() time.Time
}

type device struct {
	hotspot.ConnectedDevice
	leaseExpiry time.Time
}

type tracked struct {
	Session
	devices  map[string]*device
	names    map[string]string    // ip -> resolved hostname ("" = no record)
	silenced map[string]time.Time // mac -> lease expiry when dropped for silence
}

// Registry owns the connected-device collections of attached sessions.
type Registry struct {
	sweeper  Sweeper
	resolver Resolver
	opts     Options

	mu       sync.Mutex
	sessions map[string]*tracked
}

// New returns a Registry. resolver may be nil to skip hostname lookups.
func New(sweeper Sweeper, resolver Resolver, opts Options) *Registry {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.SweepTimeout <= 0 {
		opts.SweepTimeout = DefaultSweepTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		sweeper:  sweeper,
		resolver: resolver,
		opts:     opts,
		sessions: make(map[string]*tracked),
	}
}

// Attach starts tracking an access point. Re-attaching an interface
// replaces its previous state.
func (r *Registry) Attach(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Interface] = &tracked{
		Session:  s,
		devices:  make(map[string]*device),
		names:    make(map[string]string),
		silenced: make(map[string]time.Time),
	}
}

// Detach forgets an access point and all its devices.
func (r *Registry) Detach(iface string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, iface)
	r.opts.Metrics.Devices(0)
}

// ListConnected refreshes and returns the devices on apIface, ordered by
// address then MAC. An interface that is not attached has no devices.
func (r *Registry) ListConnected(ctx context.Context, apIface string) ([]hotspot.ConnectedDevice, error) {
	r.mu.Lock()
	t, ok := r.sessions[apIface]
	r.mu.Unlock()
	if !ok {
		return []hotspot.ConnectedDevice{}, nil
	}
	log := util.WithInterface(apIface)

	sweepCtx, cancel := context.WithTimeout(ctx, r.opts.SweepTimeout)
	neighs, err := r.sweeper.Neighbors(sweepCtx, apIface)
	cancel()
	if err != nil {
		log.Debugf("neighbour sweep incomplete: %v", err)
	}

	leases, err := ReadLeases(t.LeaseFile)
	if err != nil {
		log.Warnf("read leases: %v", err)
	}

	now := r.opts.Now()

	r.mu.Lock()
	if r.sessions[apIface] != t {
		r.mu.Unlock()
		return []hotspot.ConnectedDevice{}, nil
	}
	r.merge(t, neighs, leases, now)
	lookups := r.pendingNames(t)
	r.mu.Unlock()

	resolved := r.resolve(ctx, t.Gateway, lookups)

	r.mu.Lock()
	defer r.mu.Unlock()
	for ip, name := range resolved {
		t.names[ip] = name
	}
	out := make([]hotspot.ConnectedDevice, 0, len(t.devices))
	for _, d := range t.devices {
		cd := d.ConnectedDevice
		if cd.Hostname == "" {
			cd.Hostname = t.names[cd.IP]
		}
		out = append(out, cd)
	}
	sortDevices(out)
	r.opts.Metrics.Devices(len(out))
	return out, nil
}

// merge applies one poll's observations. Caller holds r.mu.
func (r *Registry) merge(t *tracked, neighs []Neighbor, leases []Lease, now time.Time) {
	active := make(map[string]Lease, len(leases))
	for _, l := range leases {
		if l.Active(now) && t.contains(l.IP) {
			active[l.MAC] = l
		}
	}

	for _, n := range neighs {
		if !t.contains(n.IP) {
			continue
		}
		d := t.devices[n.MAC]
		if d == nil {
			d = &device{ConnectedDevice: hotspot.ConnectedDevice{MAC: n.MAC}}
			t.devices[n.MAC] = d
		}
		d.LastSeen = now
		if _, leased := active[n.MAC]; !leased {
			d.IP = n.IP
		}
		delete(t.silenced, n.MAC)
	}

	for mac, l := range active {
		d := t.devices[mac]
		if d == nil {
			if exp, ok := t.silenced[mac]; ok && exp.Equal(l.Expiry) {
				continue
			}
			delete(t.silenced, mac)
			d = &device{ConnectedDevice: hotspot.ConnectedDevice{MAC: mac, LastSeen: now}}
			t.devices[mac] = d
		}
		d.IP = l.IP
		d.leaseExpiry = l.Expiry
		if l.Hostname != "" {
			d.Hostname = l.Hostname
		}
	}

	for mac, d := range t.devices {
		if now.Sub(d.LastSeen) > r.opts.Window {
			t.silenced[mac] = d.leaseExpiry
			delete(t.devices, mac)
		}
	}
}

// pendingNames lists addresses that need a PTR lookup. Caller holds r.mu.
func (r *Registry) pendingNames(t *tracked) []string {
	if r.resolver == nil || !t.Gateway.IsValid() {
		return nil
	}
	var ips []string
	for _, d := range t.devices {
		if d.Hostname != "" {
			continue
		}
		if _, cached := t.names[d.IP]; !cached {
			ips = append(ips, d.IP)
		}
	}
	return ips
}

func (r *Registry) resolve(ctx context.Context, server netip.Addr, ips []string) map[string]string {
	out := make(map[string]string, len(ips))
	for _, ip := range ips {
		name, err := r.resolver.LookupAddr(ctx, ip, server.String())
		if err != nil {
			// not cached, retried on the next poll
			util.Debugf("hostname lookup %s: %v", ip, err)
			continue
		}
		out[ip] = name
	}
	return out
}

func (t *tracked) contains(ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return !t.Subnet.IsValid() || t.Subnet.Contains(a)
}

func sortDevices(ds []hotspot.ConnectedDevice) {
	sort.Slice(ds, func(i, j int) bool {
		a, aerr := netip.ParseAddr(ds[i].IP)
		b, berr := netip.ParseAddr(ds[j].IP)
		if aerr == nil && berr == nil && a != b {
			return a.Less(b)
		}
		if ds[i].IP != ds[j].IP {
			return ds[i].IP < ds[j].IP
		}
		return ds[i].MAC < ds[j].MAC
	})
}
