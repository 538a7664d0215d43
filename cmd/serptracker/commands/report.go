package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/report"
)

var (
	reportClient string
	reportHTML   string
	reportEmail  bool
)

func init() {
	reportCmd.Flags().StringVar(&reportClient, "client", "", "report on a single client id")
	reportCmd.Flags().StringVar(&reportHTML, "html", "", "also write an HTML report to this path")
	reportCmd.Flags().BoolVar(&reportEmail, "email", false, "email the HTML report to the configured recipients")
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report [--client id] [--html path] [--email]",
	Short: "Print the current ranking summary.",
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

		rep, err := report.Build(cmd.Context(), store, cfg, reportClient)
		if err != nil {
			return err
		}

		if err := report.WriteText(os.Stdout, rep); err != nil {
			return err
		}

		if reportHTML != "" {
			if err := writeHTMLFile(reportHTML, rep); err != nil {
				return err
			}
			fmt.Printf("\nHTML report written to %s\n", reportHTML)
		}

		if reportEmail {
			if err := report.NewMailer(cfg.Reporting.SMTP).SendReport(rep); err != nil {
				return err
			}
			fmt.Printf("\nReport emailed to %s\n", strings.Join(cfg.Reporting.SMTP.To, ", "))
		}
		return nil
	},
}

func writeHTMLFile(path string, rep *report.Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := report.WriteHTML(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
