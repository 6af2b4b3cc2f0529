package devices

import (
	"context"
	"fmt"

	"github.com/vishvananda/netlink"
)

// Neighbor is one entry of the kernel neighbour (ARP) table.
type Neighbor struct {
	MAC string
	IP  string
}

// Sweeper lists neighbours on an interface.
type Sweeper interface {
	Neighbors(ctx context.Context, iface string) ([]Neighbor, error)
}

// liveStates are neighbour states that mean the host answered recently.
const liveStates = netlink.NUD_REACHABLE | netlink.NUD_STALE | netlink.NUD_DELAY |
	netlink.NUD_PROBE | netlink.NUD_PERMANENT

// NetlinkSweeper reads the IPv4 neighbour table over rtnetlink.
type NetlinkSweeper struct{}

// Neighbors implements Sweeper. The dump runs on its own goroutine so a
// slow kernel reply cannot hold the caller past ctx.
func (NetlinkSweeper) Neighbors(ctx context.Context, iface string) ([]Neighbor, error) {
	type result struct {
		neighs []Neighbor
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		lnk, err := netlink.LinkByName(iface)
		if err != nil {
			ch <- result{err: fmt.Errorf("devices: %s: %w", iface, err)}
			return
		}
		list, err := netlink.NeighList(lnk.Attrs().Index, netlink.FAMILY_V4)
		if err != nil {
			ch <- result{err: fmt.Errorf("devices: neighbours of %s: %w", iface, err)}
			return
		}
		var out []Neighbor
		for _, n := range list {
			if n.State&liveStates == 0 || len(n.HardwareAddr) == 0 || n.IP == nil {
				continue
			}
			out = append(out, Neighbor{MAC: normalizeMAC(n.HardwareAddr.String()), IP: n.IP.String()})
		}
		ch <- result{neighs: out}
	}()

	select {
	case r := <-ch:
		return r.neighs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
