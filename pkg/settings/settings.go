// Package settings manages the saved hotspot defaults used by the hotspot CLI.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Default values applied when neither a flag nor a saved setting is present.
const (
	DefaultSSID       = "MyHotspot"
	DefaultChannel    = 6
	DefaultBand       = "2.4GHz"
	DefaultSocketPath = "/run/hotspot-manager/control.sock"
)

// Settings holds persistent user preferences
type Settings struct {
	// SSID is the network name used when --ssid is not specified
	SSID string `json:"ssid,omitempty"`

	// Passphrase is the WPA2 passphrase; the file is written 0600
	Passphrase string `json:"password,omitempty"`

	// Interface is the wireless interface used when --interface is not specified
	Interface string `json:"interface,omitempty"`

	// Uplink overrides the interface whose connection is shared
	Uplink string `json:"internet_interface,omitempty"`

	Channel int    `json:"channel,omitempty"`
	Band    string `json:"band,omitempty"`

	// SocketPath is the daemon control socket
	SocketPath string `json:"socket,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hotspot-manager", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "hotspot_settings.json"
	}
	return filepath.Join(home, ".config", "hotspot-manager", "config.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path. The passphrase is stored in
// the clear, so the directory is 0700 and the file 0600.
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetSSID returns the saved SSID (with fallback)
func (s *Settings) GetSSID() string {
	if s.SSID != "" {
		return s.SSID
	}
	return DefaultSSID
}

// GetChannel returns the saved channel (with fallback)
func (s *Settings) GetChannel() int {
	if s.Channel != 0 {
		return s.Channel
	}
	return DefaultChannel
}

// GetBand returns the saved band (with fallback)
func (s *Settings) GetBand() string {
	if s.Band != "" {
		return s.Band
	}
	return DefaultBand
}

// GetSocketPath returns the daemon socket (with fallback)
func (s *Settings) GetSocketPath() string {
	if s.SocketPath != "" {
		return s.SocketPath
	}
	return DefaultSocketPath
}

// Set assigns a field by its settings key. It reports false for unknown keys.
func (s *Settings) Set(key, value string) bool {
	switch key {
	case "ssid":
		s.SSID = value
	case "password":
		s.Passphrase = value
	case "interface":
		s.Interface = value
	case "internet":
		s.Uplink = value
	case "band":
		s.Band = value
	case "socket":
		s.SocketPath = value
	default:
		return false
	}
	return true
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}

// SetChannel sets the default channel
func (s *Settings) SetChannel(ch int) {
	s.Channel = ch
}
