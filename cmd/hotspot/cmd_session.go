package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/davytheprogrammer/hotspot-manager/pkg/cli"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/settings"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// startFlags are the session flags of `hotspot start`.
type startFlags struct {
	ssid      string
	password  string
	iface     string
	uplink    string
	channel   int
	band      string
	hidden    bool
	save      bool
	ssidSet   bool
	chanSet   bool
	bandSet   bool
	ifaceSet  bool
	uplinkSet bool
}

var sf startFlags

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the hotspot",
	Long: `Start sharing the WiFi connection of an interface through a virtual
access point on the same radio. Returns once the hotspot is running or has
failed.

Unset flags use the saved settings (hotspot settings show), then defaults:
SSID MyHotspot, channel 6, band 2.4GHz. Without -i the first interface that
supports concurrent AP and client operation is used. The password is
prompted for when neither -p nor a saved password is available.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sf.ssidSet = cmd.Flags().Changed("ssid")
		sf.chanSet = cmd.Flags().Changed("channel")
		sf.bandSet = cmd.Flags().Changed("band")
		sf.ifaceSet = cmd.Flags().Changed("interface")
		sf.uplinkSet = cmd.Flags().Changed("internet")

		ctx, cancel := requestContext(cmd)
		defer cancel()

		cfg, err := buildConfig(sf, userSettings)
		if err != nil {
			return err
		}
		if cfg.Interface == "" {
			cfg.Interface, err = pickInterface(cmd)
			if err != nil {
				return err
			}
		}
		if cfg.Passphrase == "" {
			cfg.Passphrase, err = promptSecret("Hotspot password: ")
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		fmt.Printf("Starting hotspot %s on %s (channel %d, %s)...\n",
			cli.Bold(cfg.SSID), cfg.Interface, cfg.Channel, cfg.Band)
		began := time.Now()
		if err := client.Start(ctx, cfg); err != nil {
			return startError(err)
		}
		fmt.Printf("%s in %s\n", cli.Green("Hotspot running"), time.Since(began).Round(100*time.Millisecond))

		if sf.save {
			saveDefaults(cfg)
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the hotspot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		err := client.Stop(ctx)
		if errors.Is(err, util.ErrTeardownPartial) {
			fmt.Printf("%s: %v\n", cli.Yellow("Hotspot stopped with warnings"), err)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println("Hotspot stopped")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session state, uplink and connected devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		st, err := client.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		printStatus(st)
		return nil
	},
}

func init() {
	f := startCmd.Flags()
	f.StringVarP(&sf.ssid, "ssid", "s", "", "Network name")
	f.StringVarP(&sf.password, "password", "p", "", "WPA2 passphrase (8-63 characters)")
	f.StringVarP(&sf.iface, "interface", "i", "", "Wireless interface to share")
	f.StringVarP(&sf.uplink, "internet", "I", "", "Interface whose connection is shared (default: -i)")
	f.IntVarP(&sf.channel, "channel", "c", 0, "WiFi channel")
	f.StringVarP(&sf.band, "band", "b", "", "Band: 2.4GHz or 5GHz")
	f.BoolVar(&sf.hidden, "hidden", false, "Do not broadcast the SSID")
	f.BoolVar(&sf.save, "save", false, "Save these values as defaults after a successful start")
}

// buildConfig merges flags over saved settings over defaults. It does not
// validate.
func buildConfig(f startFlags, s *settings.Settings) (hotspot.HotspotConfig, error) {
	cfg := hotspot.HotspotConfig{
		SSID:       s.GetSSID(),
		Passphrase: s.Passphrase,
		Channel:    s.GetChannel(),
		Interface:  s.Interface,
		Uplink:     s.Uplink,
		Hidden:     f.hidden,
	}
	band := s.GetBand()

	if f.ssidSet {
		cfg.SSID = f.ssid
	}
	if f.password != "" {
		cfg.Passphrase = f.password
	}
	if f.ifaceSet {
		cfg.Interface = f.iface
	}
	if f.uplinkSet {
		cfg.Uplink = f.uplink
	}
	if f.chanSet {
		cfg.Channel = f.channel
	}
	if f.bandSet {
		band = f.band
	}

	b, err := hotspot.ParseBand(band)
	if err != nil {
		return cfg, util.NewValidationError(err.Error())
	}
	cfg.Band = b
	// a 5GHz band with the 2.4GHz default channel gets the first 5GHz channel
	if b == hotspot.Band5GHz && !f.chanSet && s.Channel == 0 {
		cfg.Channel = 36
	}
	return cfg, nil
}

func pickInterface(cmd *cobra.Command) (string, error) {
	ctx, cancel := requestContext(cmd)
	defer cancel()
	reports, err := client.ProbeInterfaces(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range reports {
		if r.SupportsConcurrentAPManaged {
			fmt.Printf("Using interface %s\n", r.Interface.Name)
			return r.Interface.Name, nil
		}
	}
	return "", fmt.Errorf("%w: no wireless interface supports AP and client at once (see hotspot interfaces)", util.ErrUnsupported)
}

func startError(err error) error {
	switch util.ReasonOf(err) {
	case util.ReasonUnsupported:
		return fmt.Errorf("%v\nRun 'hotspot interfaces' to see what each interface supports", err)
	case util.ReasonAlreadyActive:
		return fmt.Errorf("%v\nRun 'hotspot stop' first", err)
	}
	return err
}

func saveDefaults(cfg hotspot.HotspotConfig) {
	userSettings.SSID = cfg.SSID
	userSettings.Passphrase = cfg.Passphrase
	userSettings.Interface = cfg.Interface
	userSettings.Uplink = cfg.Uplink
	userSettings.Band = string(cfg.Band)
	userSettings.SetChannel(cfg.Channel)
	if err := userSettings.Save(); err != nil {
		util.Warnf("Could not save settings: %v", err)
		return
	}
	fmt.Printf("Defaults saved to %s\n", settings.DefaultSettingsPath())
}

func printStatus(st hotspot.Status) {
	fmt.Printf("State:   %s\n", cli.State(st.Session.String()))
	if st.Info != nil {
		info := st.Info
		fmt.Printf("Session: %s (since %s)\n", info.ID, info.StartedAt.Local().Format("15:04:05"))
		fmt.Printf("SSID:    %s on %s, channel %d, %s\n", cli.Bold(info.SSID), info.APInterface, info.Channel, info.Band)
		if info.Subnet != "" {
			fmt.Printf("Subnet:  %s (gateway %s)\n", info.Subnet, info.Gateway)
		}
		if info.Message != "" {
			fmt.Printf("Message: %s\n", info.Message)
		}
	}
	uplink := cli.Red(st.Uplink.String())
	if st.Uplink.Connected {
		uplink = cli.Green(st.Uplink.String())
	}
	fmt.Printf("Uplink:  %s\n", uplink)

	if !st.Session.Active() {
		return
	}
	fmt.Printf("\nConnected devices: %d\n", len(st.Devices))
	if len(st.Devices) == 0 {
		return
	}
	t := cli.NewTable("MAC", "IP", "HOSTNAME", "LAST SEEN").WithPrefix("  ")
	for _, d := range st.Devices {
		name := d.Hostname
		if name == "" {
			name = cli.Dim("-")
		}
		t.Row(d.MAC, d.IP, name, time.Since(d.LastSeen).Round(time.Second).String()+" ago")
	}
	t.Flush()
}
