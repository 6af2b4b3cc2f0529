// Package probe inspects wireless interfaces and reports whether the
// driver can run a client and an access point on the same radio.
//
// Capability is read from the driver's valid interface combinations as
// reported by `iw phy <phy> info`. The advisory table is attached for the
// operator's benefit only and never decides the outcome.
package probe

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/davytheprogrammer/hotspot-manager/pkg/host"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// Prober runs read-only queries through a host.Runner.
type Prober struct {
	runner host.Runner
}

// New returns a Prober using r for all commands.
func New(r host.Runner) *Prober {
	return &Prober{runner: r}
}

// Interfaces lists the wireless interfaces known to `iw dev`.
func (p *Prober) Interfaces(ctx context.Context) ([]hotspot.WirelessInterface, error) {
	out, err := p.runner.Run(ctx, "iw", "dev")
	if err != nil {
		return nil, fmt.Errorf("probe: list interfaces: %w", err)
	}
	return parseIwDev(string(out)), nil
}

// Probe reports the capabilities of one interface. It returns
// util.ErrNoSuchInterface when the interface is not a wireless netdev.
func (p *Prober) Probe(ctx context.Context, name string) (*hotspot.CapabilityReport, error) {
	ifaces, err := p.Interfaces(ctx)
	if err != nil {
		return nil, err
	}
	for _, wi := range ifaces {
		if wi.Name == name {
			return p.report(ctx, wi)
		}
	}
	return nil, fmt.Errorf("probe: %s: %w", name, util.ErrNoSuchInterface)
}

// ProbeAll returns a report for every wireless interface.
func (p *Prober) ProbeAll(ctx context.Context) ([]hotspot.CapabilityReport, error) {
	ifaces, err := p.Interfaces(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]hotspot.CapabilityReport, 0, len(ifaces))
	for _, wi := range ifaces {
		r, err := p.report(ctx, wi)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

func (p *Prober) report(ctx context.Context, wi hotspot.WirelessInterface) (*hotspot.CapabilityReport, error) {
	log := util.WithInterface(wi.Name)

	out, err := p.runner.Run(ctx, "iw", "phy", wi.Phy, "info")
	if err != nil {
		return nil, fmt.Errorf("probe: %s: phy info: %w", wi.Name, err)
	}
	info := parsePhyInfo(string(out))
	wi.SupportedModes = info.Modes
	wi.Driver = p.driver(ctx, wi.Name)

	r := &hotspot.CapabilityReport{
		Interface:    wi,
		Combinations: info.Combinations,
	}
	for _, c := range info.Combinations {
		if concurrentAPManaged(c) {
			r.SupportsConcurrentAPManaged = true
			if c.Channels > r.MaxChannels {
				r.MaxChannels = c.Channels
			}
		}
	}

	switch {
	case len(info.Combinations) == 0:
		r.Warnings = append(r.Warnings, "driver reports no valid interface combinations")
	case !r.SupportsConcurrentAPManaged:
		r.Warnings = append(r.Warnings, "no interface combination allows managed and AP at the same time")
	case r.MaxChannels <= 1:
		r.Warnings = append(r.Warnings, "#channels <= 1: the access point must use the uplink's channel")
	}
	if !wi.Supports(hotspot.ModeAP) {
		r.Warnings = append(r.Warnings, "AP mode is not in the supported interface modes")
	}
	r.Advisory = Advisory(wi.Driver)

	log.WithField("driver", wi.Driver).Debugf("concurrent=%v channels=%d combos=%d",
		r.SupportsConcurrentAPManaged, r.MaxChannels, len(r.Combinations))
	return r, nil
}

// driver resolves the kernel driver bound to the interface. Failures are
// not fatal; the driver only selects advisory text.
func (p *Prober) driver(ctx context.Context, name string) string {
	out, err := p.runner.Run(ctx, "readlink", "-f", "/sys/class/net/"+name+"/device/driver")
	if err != nil {
		util.WithInterface(name).Debugf("driver lookup failed: %v", err)
		return ""
	}
	link := strings.TrimSpace(string(out))
	if link == "" {
		return ""
	}
	return path.Base(link)
}
