package link

import (
	"context"
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// NetlinkNotifier signals link and IPv4 address changes on an interface
// using rtnetlink multicast groups.
type NetlinkNotifier struct{}

// Subscribe implements Notifier. Signals are coalesced: at most one is
// pending at a time.
func (NetlinkNotifier) Subscribe(ctx context.Context, iface string) (<-chan struct{}, error) {
	lnk, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("link: %s: %w", iface, err)
	}
	index := lnk.Attrs().Index

	done := make(chan struct{})
	links := make(chan netlink.LinkUpdate, 16)
	addrs := make(chan netlink.AddrUpdate, 16)
	onErr := func(err error) {
		util.WithInterface(iface).Debugf("netlink subscription error: %v", err)
	}

	if err := netlink.LinkSubscribeWithOptions(links, done, netlink.LinkSubscribeOptions{ErrorCallback: onErr}); err != nil {
		close(done)
		return nil, fmt.Errorf("link: subscribe links: %w", err)
	}
	if err := netlink.AddrSubscribeWithOptions(addrs, done, netlink.AddrSubscribeOptions{ErrorCallback: onErr}); err != nil {
		close(done)
		return nil, fmt.Errorf("link: subscribe addresses: %w", err)
	}

	out := make(chan struct{}, 1)
	signal := func() {
		select {
		case out <- struct{}{}:
		default:
		}
	}

	go func() {
		defer close(out)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-links:
				if !ok {
					return
				}
				if int(u.Index) == index {
					signal()
				}
			case u, ok := <-addrs:
				if !ok {
					return
				}
				if u.LinkIndex == index {
					signal()
				}
			}
		}
	}()
	return out, nil
}
