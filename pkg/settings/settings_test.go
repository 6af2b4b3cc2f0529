package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettings_Defaults(t *testing.T) {
	s := &Settings{}

	if got := s.GetSSID(); got != DefaultSSID {
		t.Errorf("GetSSID() default = %q, want %q", got, DefaultSSID)
	}
	if got := s.GetChannel(); got != 6 {
		t.Errorf("GetChannel() default = %d, want 6", got)
	}
	if got := s.GetBand(); got != "2.4GHz" {
		t.Errorf("GetBand() default = %q, want %q", got, "2.4GHz")
	}
	if got := s.GetSocketPath(); got != DefaultSocketPath {
		t.Errorf("GetSocketPath() default = %q", got)
	}
	if s.Interface != "" {
		t.Errorf("Interface should be empty, got %q", s.Interface)
	}
}

func TestSettings_Set(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*Settings) string
		ok    bool
	}{
		{"ssid", "CoffeeShop", func(s *Settings) string { return s.SSID }, true},
		{"password", "hunter2hunter2", func(s *Settings) string { return s.Passphrase }, true},
		{"interface", "wlp2s0", func(s *Settings) string { return s.Interface }, true},
		{"internet", "wlan1", func(s *Settings) string { return s.Uplink }, true},
		{"band", "5GHz", func(s *Settings) string { return s.Band }, true},
		{"socket", "/tmp/h.sock", func(s *Settings) string { return s.SocketPath }, true},
		{"colour", "blue", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			s := &Settings{}
			if got := s.Set(tt.key, tt.value); got != tt.ok {
				t.Fatalf("Set(%q) = %v, want %v", tt.key, got, tt.ok)
			}
			if tt.check != nil && tt.check(s) != tt.value {
				t.Errorf("Set(%q) stored %q, want %q", tt.key, tt.check(s), tt.value)
			}
		})
	}
}

func TestSettings_Clear(t *testing.T) {
	s := &Settings{SSID: "x", Passphrase: "y", Interface: "wlan0", Channel: 11}
	s.Clear()
	if *s != (Settings{}) {
		t.Error("Clear() should reset all fields")
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	original := &Settings{
		SSID:       "Home",
		Passphrase: "correcthorse",
		Interface:  "wlan0",
		Channel:    36,
		Band:       "5GHz",
	}
	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 0600", perm)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if *loaded != *original {
		t.Errorf("loaded = %+v, want %+v", *loaded, *original)
	}
}

func TestSettings_LoadMissing(t *testing.T) {
	s, err := LoadFrom(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadFrom() on missing file should not fail: %v", err)
	}
	if s.SSID != "" {
		t.Errorf("expected empty settings, got %+v", s)
	}
}

func TestSettings_LoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() should fail on invalid JSON")
	}
}
