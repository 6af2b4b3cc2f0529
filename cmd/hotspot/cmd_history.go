package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/davytheprogrammer/hotspot-manager/pkg/audit"
	"github.com/davytheprogrammer/hotspot-manager/pkg/cli"
	"github.com/davytheprogrammer/hotspot-manager/pkg/control"
)

var historyQuery control.HistoryQuery

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent session history",
	Long: `Show start and stop requests and session state changes recorded by
hotspotd, oldest first.

Examples:
  hotspot history
  hotspot history --since 24h --failures
  hotspot history --session 3f1c2a9e-...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		events, err := client.History(ctx, historyQuery)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(events)
		}
		if len(events) == 0 {
			cmd.Println("No history recorded.")
			return nil
		}

		t := cli.NewTable("TIME", "OPERATION", "SESSION", "DETAIL", "RESULT").WithMaxWidth(3, 60)
		for _, e := range events {
			t.Row(e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Operation,
				shortID(e.SessionID), historyDetail(e), historyResult(e))
		}
		t.Flush()
		return nil
	},
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyQuery.SessionID, "session", "", "Only this session")
	f.StringVar(&historyQuery.Operation, "operation", "", "Only start, stop or transition")
	f.BoolVar(&historyQuery.FailureOnly, "failures", false, "Only failures")
	f.DurationVar(&historyQuery.Since, "since", 0, "Only events newer than this (e.g. 1h)")
	f.IntVarP(&historyQuery.Limit, "limit", "n", 20, "Most recent entries to show")
	f.BoolVar(&jsonOutput, "json", false, "JSON output")
	rootCmd.AddCommand(historyCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func historyDetail(e *audit.Event) string {
	switch e.Operation {
	case audit.OpTransition:
		return e.From + " -> " + e.To
	case audit.OpStart:
		return e.SSID + " on " + e.Interface
	}
	return ""
}

func historyResult(e *audit.Event) string {
	if !e.Success {
		if e.Reason != "" {
			return cli.Red(string(e.Reason))
		}
		return cli.Red("failed")
	}
	if e.Duration > 0 {
		return cli.Green("ok") + " " + cli.Dim(e.Duration.Round(time.Millisecond).String())
	}
	return cli.Green("ok")
}
