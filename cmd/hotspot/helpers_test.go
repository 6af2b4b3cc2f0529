package main

import (
	"testing"

	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/settings"
)

func TestBuildConfig(t *testing.T) {
	saved := &settings.Settings{SSID: "Saved", Passphrase: "saved-pass", Interface: "wlan1", Channel: 11}

	t.Run("defaults", func(t *testing.T) {
		cfg, err := buildConfig(startFlags{}, &settings.Settings{})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.SSID != settings.DefaultSSID || cfg.Channel != 6 || cfg.Band != hotspot.Band24GHz {
			t.Errorf("buildConfig() = %+v", cfg)
		}
		if cfg.Interface != "" || cfg.Passphrase != "" {
			t.Errorf("interface and password should stay empty, got %+v", cfg)
		}
	})

	t.Run("saved settings", func(t *testing.T) {
		cfg, err := buildConfig(startFlags{}, saved)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.SSID != "Saved" || cfg.Passphrase != "saved-pass" || cfg.Interface != "wlan1" || cfg.Channel != 11 {
			t.Errorf("buildConfig() = %+v", cfg)
		}
	})

	t.Run("flags win", func(t *testing.T) {
		f := startFlags{
			ssid: "Flag", ssidSet: true,
			password: "flag-password",
			iface:    "wlp2s0", ifaceSet: true,
			uplink: "eth0", uplinkSet: true,
			channel: 1, chanSet: true,
		}
		cfg, err := buildConfig(f, saved)
		if err != nil {
			t.Fatal(err)
		}
		want := hotspot.HotspotConfig{
			SSID: "Flag", Passphrase: "flag-password", Channel: 1,
			Band: hotspot.Band24GHz, Interface: "wlp2s0", Uplink: "eth0",
		}
		if cfg != want {
			t.Errorf("buildConfig() = %+v, want %+v", cfg, want)
		}
	})

	t.Run("5GHz picks a 5GHz channel", func(t *testing.T) {
		cfg, err := buildConfig(startFlags{band: "5GHz", bandSet: true}, &settings.Settings{})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Band != hotspot.Band5GHz || cfg.Channel != 36 {
			t.Errorf("buildConfig() = %+v, want 5GHz channel 36", cfg)
		}
	})

	t.Run("bad band", func(t *testing.T) {
		if _, err := buildConfig(startFlags{band: "6GHz", bandSet: true}, &settings.Settings{}); err == nil {
			t.Error("buildConfig() should reject 6GHz")
		}
	})
}

func TestParseHost(t *testing.T) {
	tests := []struct {
		in      string
		user    string
		host    string
		port    int
		wantErr bool
	}{
		{"admin@laptop.lan", "admin", "laptop.lan", 0, false},
		{"admin@10.0.0.5:2222", "admin", "10.0.0.5", 2222, false},
		{"root@[fe80::1]:22", "root", "fe80::1", 22, false},
		{"admin@host:99999", "", "", 0, true},
		{"admin@", "", "", 0, true},
	}
	for _, tt := range tests {
		cfg, err := parseHost(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseHost(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseHost(%q) error: %v", tt.in, err)
			continue
		}
		if cfg.User != tt.user || cfg.Host != tt.host || cfg.Port != tt.port {
			t.Errorf("parseHost(%q) = %s@%s:%d", tt.in, cfg.User, cfg.Host, cfg.Port)
		}
	}
}

func TestApplySetting(t *testing.T) {
	s := &settings.Settings{}
	for _, kv := range [][2]string{{"ssid", "CafeNet"}, {"channel", "11"}, {"band", "a"}, {"internet", "eth0"}} {
		if err := applySetting(s, kv[0], kv[1]); err != nil {
			t.Fatalf("applySetting(%s) error: %v", kv[0], err)
		}
	}
	if s.SSID != "CafeNet" || s.Channel != 11 || s.Band != "5GHz" || s.Uplink != "eth0" {
		t.Errorf("settings = %+v", s)
	}

	for _, kv := range [][2]string{{"channel", "x"}, {"band", "6GHz"}, {"password", "short"}, {"colour", "red"}} {
		if err := applySetting(s, kv[0], kv[1]); err == nil {
			t.Errorf("applySetting(%s, %s) should fail", kv[0], kv[1])
		}
	}
}
