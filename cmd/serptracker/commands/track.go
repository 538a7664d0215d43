package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/metrics"
	"github.com/stoic-cipher/serp-tracker/internal/scraper"
	"github.com/stoic-cipher/serp-tracker/internal/tracker"
)

var (
	trackClient  string
	trackKeyword string
	trackTest    bool
)

func init() {
	trackCmd.Flags().StringVar(&trackClient, "client", "", "track a single client id")
	trackCmd.Flags().StringVar(&trackKeyword, "keyword", "", "track a single keyword (requires --client)")
	trackCmd.Flags().BoolVar(&trackTest, "test", false, "track only the first keyword of each client")
	rootCmd.AddCommand(trackCmd)
}

var trackCmd = &cobra.Command{
	Use:   "track [--client id] [--keyword kw] [--test]",
	Short: "Run a tracking cycle and record fresh positions.",
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

		searcher, err := scraper.New(cfg.Scraping)
		if err != nil {
			return err
		}

		if cfg.Metrics.Port > 0 {
			srv := metrics.Start(cfg.Metrics.Port)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Stop(ctx)
			}()
		}

		sel := tracker.Selection{ClientID: trackClient, Keyword: trackKeyword, TestMode: trackTest}
		rep, err := tracker.New(cfg, store, searcher, slog.Default()).Run(cmd.Context(), sel)
		if rep != nil {
			printRunReport(rep)
		}
		return err
	},
}

func printRunReport(rep *tracker.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Client", "Keyword", "Status", "Position", "Alerts", "Error"})
	for _, o := range rep.Outcomes {
		position := ""
		switch {
		case o.Position != nil:
			position = fmt.Sprintf("#%d", *o.Position)
		case o.Status == tracker.StatusSuccess:
			position = "not ranking"
		}

		kinds := make([]string, 0, len(o.Alerts))
		for _, a := range o.Alerts {
			kinds = append(kinds, string(a.Type))
		}

		errMsg := ""
		if o.Err != nil {
			errMsg = o.Err.Error()
		}

		t.AppendRow(table.Row{o.ClientID, o.Keyword, string(o.Status), position, strings.Join(kinds, ", "), errMsg})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	fmt.Printf("\n%d checked, %d succeeded, %d failed, %d alerts in %s\n",
		rep.Totals.Keywords, rep.Totals.Succeeded, rep.Totals.Failed, rep.Totals.Alerts,
		rep.Duration.Round(time.Millisecond))
}
