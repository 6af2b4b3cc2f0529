package link

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/davytheprogrammer/hotspot-manager/pkg/host"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
)

// Querier answers one uplink status query.
type Querier interface {
	Query(ctx context.Context, iface string) (hotspot.UplinkStatus, error)
}

// NMQuerier asks NetworkManager for the connection state and address, and
// iw for the associated SSID.
type NMQuerier struct {
	Runner host.Runner
}

// nmConnected is NM_DEVICE_STATE_ACTIVATED.
const nmConnected = 100

// Query implements Querier.
func (q NMQuerier) Query(ctx context.Context, iface string) (hotspot.UplinkStatus, error) {
	out, err := q.Runner.Run(ctx, "nmcli", "-t", "-f", "GENERAL.STATE,IP4.ADDRESS", "device", "show", iface)
	if err != nil {
		return hotspot.Disconnected, fmt.Errorf("link: nmcli %s: %w", iface, err)
	}
	state, ip := parseNmcliDevice(string(out))
	if state != nmConnected {
		return hotspot.Disconnected, nil
	}

	out, err = q.Runner.Run(ctx, "iw", "dev", iface, "link")
	if err != nil {
		return hotspot.Disconnected, fmt.Errorf("link: iw %s link: %w", iface, err)
	}
	ssid, ok := parseIwLink(string(out))
	if !ok {
		return hotspot.Disconnected, nil
	}
	return hotspot.Connected(ssid, ip), nil
}

// parseNmcliDevice reads terse `nmcli -t device show` output:
//
//	GENERAL.STATE:100 (connected)
//	IP4.ADDRESS[1]:192.168.1.23/24
func parseNmcliDevice(out string) (state int, ip string) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		switch {
		case key == "GENERAL.STATE":
			fmt.Sscanf(val, "%d", &state)
		case strings.HasPrefix(key, "IP4.ADDRESS") && ip == "":
			ip = strings.TrimSpace(val)
		}
	}
	return state, ip
}

// parseIwLink returns the SSID from `iw dev <if> link`, and false when the
// output reports "Not connected."
func parseIwLink(out string) (string, bool) {
	if !strings.HasPrefix(strings.TrimSpace(out), "Connected to") {
		return "", false
	}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if ssid, ok := strings.CutPrefix(line, "SSID: "); ok {
			return ssid, true
		}
	}
	return "", true
}
