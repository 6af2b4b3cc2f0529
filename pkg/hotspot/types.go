// Package hotspot defines the data model shared by the hotspot engine and
// its collaborators: wireless interfaces, hotspot configuration, session
// state, uplink status, connected devices and capability reports.
package hotspot

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// Mode is a wireless interface operating mode.
type Mode string

const (
	ModeManaged Mode = "managed"
	ModeAP      Mode = "ap"
	ModeAPVLAN  Mode = "ap_vlan"
	ModeUnknown Mode = "unknown"
)

// IsAP reports whether m is an access-point mode (AP or AP/VLAN).
func (m Mode) IsAP() bool {
	return m == ModeAP || m == ModeAPVLAN
}

// WirelessInterface is a read-only snapshot of a wireless interface.
type WirelessInterface struct {
	Name           string `json:"name"`
	Phy            string `json:"phy"`
	Mode           Mode   `json:"mode"`
	SupportedModes []Mode `json:"supported_modes"`
	Driver         string `json:"driver,omitempty"`
	MAC            string `json:"mac,omitempty"`
}

// Supports reports whether m is in the supported-mode set.
func (w WirelessInterface) Supports(m Mode) bool {
	for _, s := range w.SupportedModes {
		if s == m {
			return true
		}
	}
	return false
}

// ComboLimit is one "#{ managed, AP } <= N" clause of an interface combination.
type ComboLimit struct {
	Max   int    `json:"max"`
	Types []Mode `json:"types"`
}

// Combination is one valid interface combination reported by the driver.
type Combination struct {
	Limits   []ComboLimit `json:"limits"`
	Total    int          `json:"total"`
	Channels int          `json:"channels"`
}

// CapabilityReport is the result of probing one interface.
type CapabilityReport struct {
	Interface                   WirelessInterface `json:"interface"`
	SupportsConcurrentAPManaged bool              `json:"supports_concurrent_ap_managed"`
	Combinations                []Combination     `json:"combinations,omitempty"`
	MaxChannels                 int               `json:"max_channels"`
	Advisory                    string            `json:"advisory,omitempty"`
	Warnings                    []string          `json:"warnings,omitempty"`
}

// UplinkStatus is Connected(ssid, ip) when Connected is true, else Disconnected.
type UplinkStatus struct {
	Connected bool   `json:"connected"`
	SSID      string `json:"ssid,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// Disconnected is the zero uplink status.
var Disconnected = UplinkStatus{}

// Connected builds a connected uplink status.
func Connected(ssid, ip string) UplinkStatus {
	return UplinkStatus{Connected: true, SSID: ssid, IP: ip}
}

// Prefix returns the uplink's address prefix, if it carries one.
func (u UplinkStatus) Prefix() (netip.Prefix, bool) {
	if !u.Connected || u.IP == "" {
		return netip.Prefix{}, false
	}
	p, err := netip.ParsePrefix(u.IP)
	if err != nil {
		return netip.Prefix{}, false
	}
	return p.Masked(), true
}

func (u UplinkStatus) String() string {
	if !u.Connected {
		return "disconnected"
	}
	return fmt.Sprintf("connected(%s, %s)", u.SSID, u.IP)
}

// ConnectedDevice is a client associated with the hotspot.
type ConnectedDevice struct {
	MAC      string    `json:"mac"`
	IP       string    `json:"ip"`
	Hostname string    `json:"hostname,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// State is the orchestration session state.
type State string

const (
	StateIdle       State = "idle"
	StateProbing    State = "probing"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRecovering State = "recovering"
	StateStopping   State = "stopping"
	StateError      State = "error"
)

// SessionState is a State plus the reason code when State is StateError.
type SessionState struct {
	State  State       `json:"state"`
	Reason util.Reason `json:"reason,omitempty"`
}

func (s SessionState) String() string {
	if s.State == StateError {
		return fmt.Sprintf("error(%s)", s.Reason)
	}
	return string(s.State)
}

// Active reports whether a session holds or is acquiring resources.
func (s SessionState) Active() bool {
	return s.State != StateIdle && s.State != StateError
}

// SessionInfo describes the resources held by the current session.
type SessionInfo struct {
	ID          string    `json:"id"`
	Interface   string    `json:"interface"`
	Uplink      string    `json:"uplink"`
	APInterface string    `json:"ap_interface,omitempty"`
	SSID        string    `json:"ssid"`
	Channel     int       `json:"channel"`
	Band        Band      `json:"band"`
	Subnet      string    `json:"subnet,omitempty"`
	Gateway     string    `json:"gateway,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	Message     string    `json:"message,omitempty"`
}

// Status is the reply to a status() request.
type Status struct {
	Session SessionState      `json:"session"`
	Info    *SessionInfo      `json:"info,omitempty"`
	Uplink  UplinkStatus      `json:"uplink"`
	Devices []ConnectedDevice `json:"devices"`
}

// Transition is one observed state change, delivered to observers.
type Transition struct {
	SessionID string       `json:"session_id,omitempty"`
	From      SessionState `json:"from"`
	To        SessionState `json:"to"`
	Message   string       `json:"message,omitempty"`
	At        time.Time    `json:"at"`
}
