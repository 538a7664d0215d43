package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/storage"
)

var (
	alertsAck    bool
	alertsClient string
	alertsLimit  int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts [--ack] [--client id] [--limit n]",
	Short: "List unacknowledged rank-change alerts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		alerts, err := store.Alerts(cmd.Context(), alertsClient, true, alertsLimit)
		if err != nil {
			return fmt.Errorf("load alerts: %w", err)
		}
		if len(alerts) == 0 {
			fmt.Println("No unacknowledged alerts.")
			return nil
		}

		printAlerts(alerts)

		if alertsAck {
			ids := make([]string, len(alerts))
			for i, a := range alerts {
				ids[i] = a.ID
			}
			n, err := store.AckAlerts(cmd.Context(), ids)
			if err != nil {
				return fmt.Errorf("acknowledge alerts: %w", err)
			}
			fmt.Printf("\nAcknowledged %d alerts.\n", n)
		}
		return nil
	},
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsAck, "ack", false, "acknowledge the listed alerts")
	alertsCmd.Flags().StringVar(&alertsClient, "client", "", "only list alerts for this client ID")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 0, "maximum number of alerts to list (0 = all)")
	rootCmd.AddCommand(alertsCmd)
}

func printAlerts(alerts []*storage.Alert) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Created", "Client", "Keyword", "Type", "Position"})
	for _, a := range alerts {
		t.AppendRow(table.Row{
			a.CreatedAt.Format("2006-01-02 15:04"),
			a.ClientID,
			a.Keyword,
			string(a.Type),
			fmt.Sprintf("%s -> %s", alertPos(a.PrevPosition), alertPos(a.NewPosition)),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func alertPos(p *int) string {
	if p == nil {
		return "N/A"
	}
	return fmt.Sprintf("#%d", *p)
}
