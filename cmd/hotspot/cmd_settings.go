package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/davytheprogrammer/hotspot-manager/pkg/cli"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/settings"
)

const settingKeys = "ssid, password, interface, internet, channel, band, socket"

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage saved defaults",
	Long: `Manage the defaults used by 'hotspot start' when a flag is not given.

Settings are stored in ~/.config/hotspot-manager/config.json (mode 0600,
since the password is kept in the clear).

Examples:
  hotspot settings show
  hotspot settings set ssid CafeNet
  hotspot settings set channel 11
  hotspot settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

		t := cli.NewTable("SETTING", "VALUE")
		row := func(name, value, fallback string) {
			switch {
			case value != "":
			case fallback != "":
				value = fallback + " " + cli.Dim("(default)")
			default:
				value = "(not set)"
			}
			t.Row(name, value)
		}

		password := ""
		if s.Passphrase != "" {
			password = "********"
		}
		channel := ""
		if s.Channel != 0 {
			channel = strconv.Itoa(s.Channel)
		}
		row("ssid", s.SSID, settings.DefaultSSID)
		row("password", password, "")
		row("interface", s.Interface, "")
		row("internet", s.Uplink, "")
		row("channel", channel, strconv.Itoa(settings.DefaultChannel))
		row("band", s.Band, settings.DefaultBand)
		row("socket", s.SocketPath, settings.DefaultSocketPath)
		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Long: `Set a saved default.

Available settings:
  ssid       - Network name (-s)
  password   - WPA2 passphrase (-p)
  interface  - Wireless interface (-i)
  internet   - Interface whose connection is shared (-I)
  channel    - WiFi channel (-c)
  band       - 2.4GHz or 5GHz (-b)
  socket     - hotspotd control socket (--socket)`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}
		if err := applySetting(s, args[0], args[1]); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set\n", args[0])
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("All settings cleared.")
		return nil
	},
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show settings file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(settings.DefaultSettingsPath())
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsClearCmd, settingsPathCmd)
}

// applySetting validates value for key and stores it in s.
func applySetting(s *settings.Settings, key, value string) error {
	switch key {
	case "channel":
		ch, err := strconv.Atoi(value)
		if err != nil || ch < 1 || ch > 165 {
			return fmt.Errorf("invalid channel %q", value)
		}
		s.SetChannel(ch)
		return nil
	case "band":
		b, err := hotspot.ParseBand(value)
		if err != nil {
			return err
		}
		value = string(b)
	case "password":
		if len(value) < 8 || len(value) > 63 {
			return fmt.Errorf("password must be 8-63 characters")
		}
	}
	if !s.Set(key, value) {
		return fmt.Errorf("unknown setting: %s (valid: %s)", key, settingKeys)
	}
	return nil
}
