package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/davytheprogrammer/hotspot-manager/pkg/cli"
	"github.com/davytheprogrammer/hotspot-manager/pkg/events"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
)

var (
	redisAddr    string
	redisChannel string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow session state changes published to Redis",
	Long: `Print the last published session state, then every transition as it
happens. Requires hotspotd to be configured with a Redis address.

Examples:
  hotspot events --redis 127.0.0.1:6379`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p := events.NewPublisher(redisAddr, redisChannel)
		defer p.Close()
		if err := p.Connect(ctx); err != nil {
			return err
		}

		sub, err := p.Subscribe(ctx)
		if err != nil {
			return err
		}
		if last, err := p.Latest(ctx); err == nil && last != nil {
			fmt.Printf("%s  current state %s\n", last.At.Local().Format("15:04:05"), cli.State(last.To.String()))
		}

		for t := range sub {
			printTransition(t)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&redisAddr, "redis", "127.0.0.1:6379", "Redis address")
	eventsCmd.Flags().StringVar(&redisChannel, "channel", events.DefaultChannel, "Channel name")
}

func printTransition(t hotspot.Transition) {
	line := fmt.Sprintf("%s  %s -> %s", t.At.Local().Format("15:04:05"), t.From, cli.State(t.To.String()))
	if t.Message != "" {
		line += "  " + cli.Dim(t.Message)
	}
	fmt.Println(line)
}
