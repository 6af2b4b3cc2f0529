// hotspot - command-line client for hotspotd
//
// Session commands talk to the daemon over its control socket; flags not
// given fall back to the saved settings, then to built-in defaults.
//
//	hotspot start -s CafeNet -i wlan0          # share wlan0's WiFi as CafeNet
//	hotspot start -s CafeNet -i wlan0 -I eth0  # share eth0 instead
//	hotspot status                             # session, uplink, devices
//	hotspot stop
//	hotspot interfaces                         # concurrent AP+client support
//	hotspot interfaces --host admin@laptop     # probe another machine over SSH
//	hotspot check                              # status, interfaces, tools
//	hotspot settings set ssid CafeNet
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/davytheprogrammer/hotspot-manager/pkg/control"
	"github.com/davytheprogrammer/hotspot-manager/pkg/settings"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
	"github.com/davytheprogrammer/hotspot-manager/pkg/version"
)

var (
	socketPath string
	verbose    bool
	jsonOutput bool
	timeout    time.Duration

	userSettings *settings.Settings
	client       *control.Client
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "hotspot",
	Short:             "Share a WiFi connection as a hotspot on the same radio",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}

		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}
		if socketPath == "" {
			socketPath = userSettings.GetSocketPath()
		}
		client = control.NewClient(socketPath)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hotspot %s\n", version.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "hotspotd control socket")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "Request timeout")

	for _, cmd := range []*cobra.Command{statusCmd, interfacesCmd, checkCmd} {
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	}

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, interfacesCmd, checkCmd,
		settingsCmd, eventsCmd, versionCmd)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// promptSecret reads a line without echo, falling back to a plain read
// when stdin is not a terminal.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
