package apsvc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

const hostapdTmpl = `# generated for session {{ .ID }}
interface={{ .Interface }}
driver=nl80211
ssid2={{ .SSIDHex }}
utf8_ssid=1
hw_mode={{ .HWMode }}
channel={{ .Channel }}
{{- if .CountryCode }}
country_code={{ .CountryCode }}
ieee80211d=1
{{- end }}
ieee80211n=1
wmm_enabled=1
auth_algs=1
ignore_broadcast_ssid={{ if .Hidden }}1{{ else }}0{{ end }}
wpa=2
wpa_key_mgmt=WPA-PSK
wpa_pairwise=CCMP
rsn_pairwise=CCMP
wpa_passphrase={{ .Passphrase }}
ctrl_interface={{ .CtrlDir }}
`

const dnsmasqTmpl = `# generated for session {{ .ID }}
interface={{ .Interface }}
bind-interfaces
except-interface=lo
listen-address={{ .Gateway }}
dhcp-range={{ .PoolStart }},{{ .PoolEnd }},{{ .Netmask }},{{ .LeaseTime }}
dhcp-option=option:router,{{ .Gateway }}
dhcp-option=option:dns-server,{{ .Gateway }}
dhcp-leasefile={{ .LeaseFile }}
dhcp-authoritative
pid-file={{ .PIDFile }}
log-dhcp
`

var (
	hostapdTemplate = template.Must(template.New("hostapd").Parse(hostapdTmpl))
	dnsmasqTemplate = template.Must(template.New("dnsmasq").Parse(dnsmasqTmpl))
)

type hostapdData struct {
	ID          string
	Interface   string
	SSIDHex     string
	HWMode      string
	Channel     int
	CountryCode string
	Hidden      bool
	Passphrase  string
	CtrlDir     string
}

type dnsmasqData struct {
	ID        string
	Interface string
	Gateway   netip.Addr
	PoolStart netip.Addr
	PoolEnd   netip.Addr
	Netmask   string
	LeaseTime string
	LeaseFile string
	PIDFile   string
}

// renderHostapd renders hostapd.conf. The SSID is hex encoded so any byte
// sequence survives the line-oriented format.
func renderHostapd(p Plan, iface, dir string) ([]byte, error) {
	var buf bytes.Buffer
	err := hostapdTemplate.Execute(&buf, hostapdData{
		ID:          p.ID,
		Interface:   iface,
		SSIDHex:     hex.EncodeToString([]byte(p.Config.SSID)),
		HWMode:      p.Config.Band.HWMode(),
		Channel:     p.Config.Channel,
		CountryCode: p.CountryCode,
		Hidden:      p.Config.Hidden,
		Passphrase:  p.Config.Passphrase,
		CtrlDir:     filepath.Join(dir, "hostapd"),
	})
	return buf.Bytes(), err
}

func renderDnsmasq(p Plan, iface, dir string) ([]byte, error) {
	start, err := util.HostAt(p.Subnet, p.PoolStart)
	if err != nil {
		return nil, fmt.Errorf("pool start: %w", err)
	}
	end, err := util.HostAt(p.Subnet, p.PoolEnd)
	if err != nil {
		return nil, fmt.Errorf("pool end: %w", err)
	}
	var buf bytes.Buffer
	err = dnsmasqTemplate.Execute(&buf, dnsmasqData{
		ID:        p.ID,
		Interface: iface,
		Gateway:   util.GatewayAddr(p.Subnet),
		PoolStart: start,
		PoolEnd:   end,
		Netmask:   util.NetmaskString(p.Subnet),
		LeaseTime: leaseTime(p.LeaseTime),
		LeaseFile: filepath.Join(dir, leaseFileName),
		PIDFile:   filepath.Join(dir, "dnsmasq.pid"),
	})
	return buf.Bytes(), err
}

// leaseTime renders a duration in dnsmasq's lease-time syntax.
func leaseTime(d time.Duration) string {
	switch {
	case d <= 0:
		return "12h"
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%d", int(d.Seconds()))
	}
}

// writePrivate writes data readable only by the owner.
func writePrivate(path string, data []byte) error {
	return os.WriteFile(path, data, 0600)
}

// defaultPlan fills zero-valued plan fields.
func defaultPlan(p Plan) Plan {
	if !p.Subnet.IsValid() {
		p.Subnet = netip.MustParsePrefix(DefaultSubnet)
	}
	if p.PoolStart == 0 {
		p.PoolStart = DefaultPoolStart
	}
	if p.PoolEnd == 0 {
		p.PoolEnd = DefaultPoolEnd
	}
	if p.LeaseTime == 0 {
		p.LeaseTime = DefaultLeaseTime
	}
	if p.StartupTimeout == 0 {
		p.StartupTimeout = DefaultStartupTimeout
	}
	if p.Config.Band == "" {
		p.Config.Band = hotspot.Band24GHz
	}
	return p
}
