package hotspot

import (
	"fmt"
	"strings"

	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// Band is the radio band of the access point.
type Band string

const (
	Band24GHz Band = "2.4GHz"
	Band5GHz  Band = "5GHz"
)

// ParseBand accepts "2.4GHz"/"5GHz" and the hostapd hw_mode spellings "bg"/"a".
func ParseBand(s string) (Band, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "2.4ghz", "2.4", "bg", "g":
		return Band24GHz, nil
	case "5ghz", "5", "a":
		return Band5GHz, nil
	}
	return "", fmt.Errorf("unknown band %q (want 2.4GHz or 5GHz)", s)
}

// HWMode returns the hostapd hw_mode value for the band.
func (b Band) HWMode() string {
	if b == Band5GHz {
		return "a"
	}
	return "g"
}

// HotspotConfig is the immutable configuration of one hotspot session.
type HotspotConfig struct {
	SSID       string `json:"ssid"`
	Passphrase string `json:"passphrase"`
	Channel    int    `json:"channel"`
	Band       Band   `json:"band"`
	Interface  string `json:"interface"`

	// Uplink is the interface whose connection is shared. Empty means
	// Interface itself.
	Uplink string `json:"uplink,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
}

// UplinkInterface returns the interface whose connection is shared.
func (c HotspotConfig) UplinkInterface() string {
	if c.Uplink != "" {
		return c.Uplink
	}
	return c.Interface
}

// Redacted returns a copy safe for logging.
func (c HotspotConfig) Redacted() HotspotConfig {
	if c.Passphrase != "" {
		c.Passphrase = "********"
	}
	return c
}

// Validate checks every field and reports all violations at once. The
// returned error wraps util.ErrInvalidConfig.
func (c HotspotConfig) Validate() error {
	v := &util.ValidationBuilder{}

	v.Add(len(c.SSID) >= 1 && len(c.SSID) <= 32,
		fmt.Sprintf("ssid must be 1-32 bytes, got %d", len(c.SSID)))
	v.Add(len(c.Passphrase) >= 8 && len(c.Passphrase) <= 63,
		fmt.Sprintf("passphrase must be 8-63 characters, got %d", len(c.Passphrase)))
	v.Add(printableASCII(c.Passphrase), "passphrase must contain printable ASCII characters only")
	v.Add(validIfaceName(c.Interface), fmt.Sprintf("interface name %q is invalid", c.Interface))
	if c.Uplink != "" {
		v.Add(validIfaceName(c.Uplink), fmt.Sprintf("uplink interface name %q is invalid", c.Uplink))
	}

	switch c.Band {
	case Band24GHz, Band5GHz:
		if !ValidChannel(c.Band, c.Channel) {
			v.AddErrorf("channel %d is not valid for band %s", c.Channel, c.Band)
		}
	default:
		v.AddErrorf("band must be %s or %s, got %q", Band24GHz, Band5GHz, c.Band)
		v.Add(c.Channel >= 1 && c.Channel <= 165, fmt.Sprintf("channel %d out of range 1-165", c.Channel))
	}

	return v.Build()
}

// ValidChannel reports whether ch is usable on band: 1-14 on 2.4GHz;
// 36-64, 100-144 and 149-165 in steps of four on 5GHz.
func ValidChannel(b Band, ch int) bool {
	switch b {
	case Band24GHz:
		return ch >= 1 && ch <= 14
	case Band5GHz:
		switch {
		case ch >= 36 && ch <= 64:
			return ch%4 == 0
		case ch >= 100 && ch <= 144:
			return ch%4 == 0
		case ch >= 149 && ch <= 165:
			return (ch-149)%4 == 0
		}
	}
	return false
}

func printableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// validIfaceName follows the kernel's rules: 1-15 bytes, no '/', no
// whitespace, not "." or "..".
func validIfaceName(name string) bool {
	if name == "" || len(name) > 15 || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/: \t\n")
}
