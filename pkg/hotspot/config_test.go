package hotspot

import (
	"errors"
	"strings"
	"testing"

	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

func validConfig() HotspotConfig {
	return HotspotConfig{
		SSID:       "Conf",
		Passphrase: "test1234",
		Channel:    6,
		Band:       Band24GHz,
		Interface:  "wlan0",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*HotspotConfig)
		wantErr string
	}{
		{"valid", func(*HotspotConfig) {}, ""},
		{"ssid empty", func(c *HotspotConfig) { c.SSID = "" }, "ssid"},
		{"ssid 32 bytes", func(c *HotspotConfig) { c.SSID = strings.Repeat("x", 32) }, ""},
		{"ssid 33 bytes", func(c *HotspotConfig) { c.SSID = strings.Repeat("x", 33) }, "ssid"},
		{"passphrase 7", func(c *HotspotConfig) { c.Passphrase = "1234567" }, "passphrase"},
		{"passphrase 63", func(c *HotspotConfig) { c.Passphrase = strings.Repeat("p", 63) }, ""},
		{"passphrase 64", func(c *HotspotConfig) { c.Passphrase = strings.Repeat("p", 64) }, "passphrase"},
		{"passphrase non-ascii", func(c *HotspotConfig) { c.Passphrase = "pässwörd1" }, "printable"},
		{"channel 14 on 2.4", func(c *HotspotConfig) { c.Channel = 14 }, ""},
		{"channel 36 on 2.4", func(c *HotspotConfig) { c.Channel = 36 }, "channel"},
		{"channel 36 on 5", func(c *HotspotConfig) { c.Band = Band5GHz; c.Channel = 36 }, ""},
		{"channel 38 on 5", func(c *HotspotConfig) { c.Band = Band5GHz; c.Channel = 38 }, "channel"},
		{"channel 165 on 5", func(c *HotspotConfig) { c.Band = Band5GHz; c.Channel = 165 }, ""},
		{"channel 6 on 5", func(c *HotspotConfig) { c.Band = Band5GHz; c.Channel = 6 }, "channel"},
		{"bad band", func(c *HotspotConfig) { c.Band = "6GHz" }, "band"},
		{"no interface", func(c *HotspotConfig) { c.Interface = "" }, "interface"},
		{"long interface", func(c *HotspotConfig) { c.Interface = "wlx0123456789abcdef" }, "interface"},
		{"bad uplink", func(c *HotspotConfig) { c.Uplink = "eth/0" }, "uplink"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, util.ErrInvalidConfig) {
				t.Errorf("error should wrap ErrInvalidConfig: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	cfg := HotspotConfig{SSID: "", Passphrase: "short", Channel: 200, Band: Band24GHz}
	err := cfg.Validate()

	var ve *util.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *util.ValidationError, got %T", err)
	}
	if len(ve.Errors) != 4 {
		t.Errorf("got %d violations, want 4: %v", len(ve.Errors), ve.Errors)
	}
}

func TestParseBand(t *testing.T) {
	tests := []struct {
		in   string
		want Band
		err  bool
	}{
		{"2.4GHz", Band24GHz, false},
		{"bg", Band24GHz, false},
		{"5GHz", Band5GHz, false},
		{"a", Band5GHz, false},
		{" 5ghz ", Band5GHz, false},
		{"6GHz", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBand(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseBand(%q) error = %v, want error %v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHWMode(t *testing.T) {
	if Band24GHz.HWMode() != "g" || Band5GHz.HWMode() != "a" {
		t.Errorf("HWMode = %q/%q", Band24GHz.HWMode(), Band5GHz.HWMode())
	}
}

func TestUplinkInterface(t *testing.T) {
	cfg := validConfig()
	if got := cfg.UplinkInterface(); got != "wlan0" {
		t.Errorf("UplinkInterface() = %q, want wlan0", got)
	}
	cfg.Uplink = "wlan1"
	if got := cfg.UplinkInterface(); got != "wlan1" {
		t.Errorf("UplinkInterface() = %q, want wlan1", got)
	}
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	r := cfg.Redacted()
	if r.Passphrase == cfg.Passphrase {
		t.Error("Redacted() should hide the passphrase")
	}
	if cfg.Passphrase != "test1234" {
		t.Error("Redacted() must not modify the receiver")
	}
}
