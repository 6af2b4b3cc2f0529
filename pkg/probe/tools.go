package probe

import (
	"context"
	"strings"
)

// RequiredTools are the executables a hotspot session needs on the host.
var RequiredTools = []string{"iw", "hostapd", "dnsmasq", "iptables", "nmcli"}

// Tool is the availability of one executable.
type Tool struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Available bool   `json:"available"`
}

// ToolReport lists tool availability and the NetworkManager version.
type ToolReport struct {
	Tools                 []Tool `json:"tools"`
	NetworkManagerVersion string `json:"network_manager_version,omitempty"`
}

// Missing returns the names of unavailable tools.
func (r ToolReport) Missing() []string {
	var out []string
	for _, t := range r.Tools {
		if !t.Available {
			out = append(out, t.Name)
		}
	}
	return out
}

// Tools checks each required executable.
func (p *Prober) Tools(ctx context.Context) ToolReport {
	var r ToolReport
	for _, name := range RequiredTools {
		path, err := p.runner.LookPath(ctx, name)
		r.Tools = append(r.Tools, Tool{Name: name, Path: path, Available: err == nil})
	}
	if out, err := p.runner.Run(ctx, "nmcli", "--version"); err == nil {
		r.NetworkManagerVersion = parseNmcliVersion(string(out))
	}
	return r
}

// parseNmcliVersion extracts "1.42.4" from "nmcli tool, version 1.42.4".
func parseNmcliVersion(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.LastIndex(out, "version "); i >= 0 {
		return strings.TrimSpace(out[i+len("version "):])
	}
	return out
}
