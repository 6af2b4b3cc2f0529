// Package apsvc brings up and supervises an access point on a virtual
// interface that shares the radio of a connected WiFi client interface.
//
// A successful BringUp returns a Handle owning every resource it created:
// the virtual interface, the private config directory, and the hostapd and
// dnsmasq child processes. Handle.TearDown is the single way to release
// them. A failed BringUp has already released everything it created.
package apsvc

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/davytheprogrammer/hotspot-manager/pkg/host"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// Defaults for an access point plan.
const (
	DefaultSubnet         = "10.42.0.0/24"
	DefaultPoolStart      = 10
	DefaultPoolEnd        = 100
	DefaultLeaseTime      = 12 * time.Hour
	DefaultStartupTimeout = 10 * time.Second

	leaseFileName = "dnsmasq.leases"
	apReadyLine   = "AP-ENABLED"
)

// Plan is everything BringUp needs for one access point.
type Plan struct {
	// ID tags the config files and log lines. Empty generates one.
	ID     string
	Config hotspot.HotspotConfig

	Subnet      netip.Prefix
	PoolStart   int
	PoolEnd     int
	LeaseTime   time.Duration
	CountryCode string

	StartupTimeout time.Duration
}

// Options configures a Supervisor.
type Options struct {
	// StateDir holds one private directory per session.
	StateDir    string
	HostapdPath string
	DnsmasqPath string
}

// Supervisor creates access points.
type Supervisor struct {
	links    Links
	launcher host.Launcher
	opts     Options
}

// New returns a Supervisor.
func New(links Links, launcher host.Launcher, opts Options) *Supervisor {
	if opts.StateDir == "" {
		opts.StateDir = os.TempDir()
	}
	if opts.HostapdPath == "" {
		opts.HostapdPath = "hostapd"
	}
	if opts.DnsmasqPath == "" {
		opts.DnsmasqPath = "dnsmasq"
	}
	return &Supervisor{links: links, launcher: launcher, opts: opts}
}

// BringUp creates the access point described by plan. Each step registers
// its undo action; any failure, including ctx cancellation between steps,
// runs the undo stack before the error is returned.
func (s *Supervisor) BringUp(ctx context.Context, plan Plan) (*Handle, error) {
	plan = defaultPlan(plan)
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	parent := plan.Config.Interface

	h := newHandle(plan.ID, parent, apName(parent), plan.Subnet)
	log := util.WithSession(plan.ID, h.iface)

	fail := func(step string, err error) (*Handle, error) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: %w", util.ErrSessionCancelled, err)
			}
		}
		stepErr := util.NewStepError(step, err)
		log.Warnf("bring-up failed at %s: %v; rolling back", step, err)
		if rbErr := h.rollback(); rbErr != nil {
			log.Errorf("rollback incomplete: %v", rbErr)
		}
		return nil, stepErr
	}

	// 1. virtual interface on the same phy
	if s.links.Exists(h.iface) {
		log.Info("removing stale AP interface")
		if err := s.links.Delete(h.iface); err != nil {
			return fail("interface", fmt.Errorf("remove stale %s: %w", h.iface, err))
		}
	}
	if err := s.links.CreateAP(ctx, parent, h.iface); err != nil {
		return fail("interface", fmt.Errorf("create %s on %s: %w", h.iface, parent, err))
	}
	h.push("delete "+h.iface, func() error { return s.links.Delete(h.iface) })

	parentMAC, err := s.links.HardwareAddr(parent)
	if err != nil {
		return fail("interface", fmt.Errorf("read %s address: %w", parent, err))
	}
	gwPrefix := netip.PrefixFrom(h.gateway, plan.Subnet.Bits())
	if err := s.links.Configure(h.iface, apMAC(parentMAC), gwPrefix); err != nil {
		return fail("interface", fmt.Errorf("configure %s: %w", h.iface, err))
	}
	if err := ctx.Err(); err != nil {
		return fail("interface", err)
	}

	// 2. private config directory
	dir, err := os.MkdirTemp(s.opts.StateDir, "session-")
	if err != nil {
		return fail("config", err)
	}
	h.dir = dir
	h.push("remove "+dir, func() error { return os.RemoveAll(dir) })
	h.leaseFile = filepath.Join(dir, leaseFileName)

	hostapdConf, err := renderHostapd(plan, h.iface, dir)
	if err != nil {
		return fail("config", err)
	}
	dnsmasqConf, err := renderDnsmasq(plan, h.iface, dir)
	if err != nil {
		return fail("config", err)
	}
	hostapdPath := filepath.Join(dir, "hostapd.conf")
	dnsmasqPath := filepath.Join(dir, "dnsmasq.conf")
	if err := writePrivate(hostapdPath, hostapdConf); err != nil {
		return fail("config", err)
	}
	if err := writePrivate(dnsmasqPath, dnsmasqConf); err != nil {
		return fail("config", err)
	}
	if err := ctx.Err(); err != nil {
		return fail("config", err)
	}

	// 3. access point daemon
	h.hostapd, err = s.launcher.Launch(ctx, host.ProcessSpec{
		Name:    "hostapd",
		Path:    s.opts.HostapdPath,
		Args:    []string{hostapdPath},
		LogPath: filepath.Join(dir, "hostapd.log"),
		Ready:   apReadyLine,
	})
	if err != nil {
		return fail("hostapd", err)
	}
	h.push("stop hostapd", h.hostapd.Stop)

	// 4. DHCP/DNS bound to the AP interface only
	h.dnsmasq, err = s.launcher.Launch(ctx, host.ProcessSpec{
		Name:    "dnsmasq",
		Path:    s.opts.DnsmasqPath,
		Args:    []string{"--keep-in-foreground", "--conf-file=" + dnsmasqPath},
		LogPath: filepath.Join(dir, "dnsmasq.log"),
	})
	if err != nil {
		return fail("dnsmasq", err)
	}
	h.push("stop dnsmasq", h.dnsmasq.Stop)

	// 5. wait for AP-ENABLED
	waitCtx, cancel := context.WithTimeout(ctx, plan.StartupTimeout)
	err = host.WaitReady(waitCtx, h.hostapd)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, host.ErrExitedEarly):
		return fail("hostapd", err)
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		return fail("hostapd", fmt.Errorf("%w: no %s within %s", util.ErrStartupTimeout, apReadyLine, plan.StartupTimeout))
	default:
		return fail("hostapd", err)
	}

	select {
	case <-h.dnsmasq.Done():
		return fail("dnsmasq", fmt.Errorf("exited: %v: %v", h.dnsmasq.Err(), h.dnsmasq.Tail()))
	default:
	}

	h.superviseExits()
	log.WithField("pid", h.hostapd.PID()).Infof("access point up on %s (%s)", h.iface, plan.Subnet)
	return h, nil
}

// TearDown releases h. It is safe to call more than once.
func (s *Supervisor) TearDown(h *Handle) error {
	if h == nil {
		return nil
	}
	return h.TearDown()
}
