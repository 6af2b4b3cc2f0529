package main

import (
	"fmt"
	"net"
	"os/user"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davytheprogrammer/hotspot-manager/pkg/cli"
	"github.com/davytheprogrammer/hotspot-manager/pkg/host"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/probe"
)

var (
	remoteHost string
	knownHosts string
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "Show which wireless interfaces can run a hotspot",
	Long: `Probe every wireless interface for concurrent access point and client
support. By default the daemon probes this machine; --host probes another
machine over SSH (read-only commands only).

Examples:
  hotspot interfaces
  hotspot interfaces --host admin@laptop.lan
  hotspot interfaces --host admin@10.0.0.5:2222 --known-hosts ~/.ssh/known_hosts`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		var reports []hotspot.CapabilityReport
		var err error
		if remoteHost != "" {
			err = withRemote(func(p *probe.Prober) error {
				reports, err = p.ProbeAll(ctx)
				return err
			})
		} else {
			reports, err = client.ProbeInterfaces(ctx)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(reports)
		}
		printReports(reports)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check daemon, interfaces and required tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		type checkResult struct {
			Status     *hotspot.Status            `json:"status,omitempty"`
			Daemon     string                     `json:"daemon_error,omitempty"`
			Interfaces []hotspot.CapabilityReport `json:"interfaces"`
			Tools      probe.ToolReport           `json:"tools"`
		}
		var res checkResult

		check := func(p *probe.Prober) error {
			res.Tools = p.Tools(ctx)
			reports, err := p.ProbeAll(ctx)
			res.Interfaces = reports
			return err
		}
		var err error
		if remoteHost != "" {
			err = withRemote(check)
		} else {
			if st, serr := client.Status(ctx); serr == nil {
				res.Status = &st
			} else {
				res.Daemon = serr.Error()
			}
			err = check(probe.New(host.LocalRunner{}))
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(res)
		}

		if remoteHost == "" {
			fmt.Println(cli.Bold("Daemon"))
			if res.Status != nil {
				fmt.Printf("  %s %s\n", cli.DotPad("hotspotd", 20), cli.Green("reachable"))
				fmt.Printf("  %s %s\n", cli.DotPad("session", 20), cli.State(res.Status.Session.String()))
				fmt.Printf("  %s %s\n", cli.DotPad("uplink", 20), res.Status.Uplink)
			} else {
				fmt.Printf("  %s %s\n", cli.DotPad("hotspotd", 20), cli.Red(res.Daemon))
			}
			fmt.Println()
		}

		fmt.Println(cli.Bold("Tools"))
		for _, t := range res.Tools.Tools {
			state := cli.Red("missing")
			if t.Available {
				state = cli.Green("ok") + " " + cli.Dim(t.Path)
			}
			fmt.Printf("  %s %s\n", cli.DotPad(t.Name, 20), state)
		}
		if v := res.Tools.NetworkManagerVersion; v != "" {
			fmt.Printf("  %s %s\n", cli.DotPad("NetworkManager", 20), v)
		}
		fmt.Println()

		fmt.Println(cli.Bold("Interfaces"))
		printReports(res.Interfaces)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{interfacesCmd, checkCmd} {
		cmd.Flags().StringVar(&remoteHost, "host", "", "Probe a remote machine over SSH: [user@]host[:port]")
		cmd.Flags().StringVar(&knownHosts, "known-hosts", "", "known_hosts file to verify the remote host key")
	}
}

// withRemote dials remoteHost, prompting for the SSH password, and runs fn
// with a prober that executes on the remote machine.
func withRemote(fn func(p *probe.Prober) error) error {
	cfg, err := parseHost(remoteHost)
	if err != nil {
		return err
	}
	cfg.KnownHosts = knownHosts
	cfg.Password, err = promptSecret(fmt.Sprintf("%s@%s's password: ", cfg.User, cfg.Host))
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	runner, err := host.DialSSH(cfg)
	if err != nil {
		return err
	}
	defer runner.Close()
	return fn(probe.New(runner))
}

// parseHost splits [user@]host[:port]. The user defaults to the local
// login name.
func parseHost(s string) (host.SSHConfig, error) {
	var cfg host.SSHConfig
	if at := strings.LastIndex(s, "@"); at >= 0 {
		cfg.User, s = s[:at], s[at+1:]
	}
	cfg.Host = s
	if h, p, err := net.SplitHostPort(s); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return cfg, fmt.Errorf("invalid port %q", p)
		}
		cfg.Host, cfg.Port = h, port
	}
	if cfg.Host == "" {
		return cfg, fmt.Errorf("no host in %q", s)
	}
	if cfg.User == "" {
		if u, err := user.Current(); err == nil {
			cfg.User = u.Username
		}
	}
	return cfg, nil
}

func printReports(reports []hotspot.CapabilityReport) {
	if len(reports) == 0 {
		fmt.Println("  no wireless interfaces found")
		return
	}
	t := cli.NewTable("INTERFACE", "PHY", "DRIVER", "MODE", "AP+CLIENT", "CHANNELS").WithPrefix("  ")
	for _, r := range reports {
		channels := ""
		if r.MaxChannels > 0 {
			channels = strconv.Itoa(r.MaxChannels)
		}
		t.Row(r.Interface.Name, r.Interface.Phy, r.Interface.Driver, string(r.Interface.Mode),
			cli.YesNo(r.SupportsConcurrentAPManaged), channels)
	}
	t.Flush()

	for _, r := range reports {
		for _, w := range r.Warnings {
			fmt.Printf("  %s %s: %s\n", cli.Yellow("!"), r.Interface.Name, w)
		}
		if r.Advisory != "" && !r.SupportsConcurrentAPManaged {
			fmt.Printf("  %s %s: %s\n", cli.Dim("i"), r.Interface.Name, r.Advisory)
		}
	}
}
