package apsvc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/davytheprogrammer/hotspot-manager/pkg/host"
)

// Links manages the virtual AP interface.
type Links interface {
	// HardwareAddr returns the MAC of an existing interface.
	HardwareAddr(name string) (net.HardwareAddr, error)
	// CreateAP adds an AP-mode interface on the same radio as parent.
	CreateAP(ctx context.Context, parent, name string) error
	// Configure sets the MAC and address of name and brings it up.
	Configure(name string, mac net.HardwareAddr, addr netip.Prefix) error
	Exists(name string) bool
	Delete(name string) error
}

// IWLinks creates AP interfaces with iw (nl80211) and configures them over
// rtnetlink.
type IWLinks struct {
	Runner host.Runner
}

// HardwareAddr implements Links.
func (l IWLinks) HardwareAddr(name string) (net.HardwareAddr, error) {
	lnk, err := netlink.LinkByName(name)
	if err != nil {
		return nil, err
	}
	return lnk.Attrs().HardwareAddr, nil
}

// CreateAP implements Links.
func (l IWLinks) CreateAP(ctx context.Context, parent, name string) error {
	_, err := l.Runner.Run(ctx, "iw", "dev", parent, "interface", "add", name, "type", "__ap")
	return err
}

// Configure implements Links.
func (l IWLinks) Configure(name string, mac net.HardwareAddr, addr netip.Prefix) error {
	lnk, err := netlink.LinkByName(name)
	if err != nil {
		return err
	}
	if len(mac) > 0 {
		if err := netlink.LinkSetHardwareAddr(lnk, mac); err != nil {
			return fmt.Errorf("set mac %s: %w", mac, err)
		}
	}
	nlAddr := &netlink.Addr{IPNet: &net.IPNet{
		IP:   net.IP(addr.Addr().AsSlice()),
		Mask: net.CIDRMask(addr.Bits(), 32),
	}}
	if err := netlink.AddrReplace(lnk, nlAddr); err != nil {
		return fmt.Errorf("set address %s: %w", addr, err)
	}
	if err := netlink.LinkSetUp(lnk); err != nil {
		return fmt.Errorf("link up: %w", err)
	}
	return nil
}

// Exists implements Links.
func (l IWLinks) Exists(name string) bool {
	_, err := netlink.LinkByName(name)
	return err == nil
}

// Delete implements Links. Deleting a missing interface succeeds.
func (l IWLinks) Delete(name string) error {
	lnk, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return netlink.LinkDel(lnk)
}

// apName derives the virtual interface name, keeping within IFNAMSIZ.
func apName(parent string) string {
	const suffix = "_ap"
	if len(parent)+len(suffix) > 15 {
		parent = parent[:15-len(suffix)]
	}
	return parent + suffix
}

// apMAC derives a locally administered unicast MAC from the parent's so the
// two interfaces never share an address.
func apMAC(parent net.HardwareAddr) net.HardwareAddr {
	if len(parent) != 6 {
		return nil
	}
	mac := make(net.HardwareAddr, 6)
	copy(mac, parent)
	mac[0] = (mac[0] | 0x02) &^ 0x01
	if mac.String() == parent.String() {
		mac[5] ^= 0x01
	}
	return mac
}
