package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/export"
)

var (
	exportFormat string
	exportClient string
	exportDays   int
	exportOutput string
)

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "export format: csv, json, comparison, or ahrefs")
	exportCmd.Flags().StringVar(&exportClient, "client", "", "export a single client id")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "days of history to export")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "output path (default under exports/)")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [--format csv|json|comparison|ahrefs] [--client id] [--days n] [--output path]",
	Short: "Export ranking history for spreadsheets and SEO tools.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		clientIDs := cfg.ClientIDs()
		if exportClient != "" {
			if _, ok := cfg.ClientByID(exportClient); !ok {
				return fmt.Errorf("unknown client %q", exportClient)
			}
			clientIDs = []string{exportClient}
		}

		switch exportFormat {
		case "csv", "json":
		case "comparison", "ahrefs":
			if exportClient == "" {
				return fmt.Errorf("--client is required for the %s format", exportFormat)
			}
		default:
			return fmt.Errorf("unknown export format %q", exportFormat)
		}

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		path := exportOutput
		if path == "" {
			path = defaultExportPath(exportFormat, exportClient, time.Now())
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create export directory: %w", err)
			}
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}

		exporter := export.New(store)
		since := time.Now().AddDate(0, 0, -exportDays)

		var rows int
		switch exportFormat {
		case "csv":
			rows, err = exporter.WriteCSV(cmd.Context(), f, clientIDs, since)
		case "json":
			rows, err = exporter.WriteJSON(cmd.Context(), f, clientIDs, since)
		case "comparison":
			rows, err = exporter.WriteComparison(cmd.Context(), f, exportClient, time.Time{})
		case "ahrefs":
			rows, err = exporter.WriteAhrefs(cmd.Context(), f, exportClient)
		}
		if err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close export file: %w", err)
		}

		fmt.Printf("Exported %d rows to %s\n", rows, path)
		return nil
	},
}

// defaultExportPath builds exports/<kind>_<client|all>_<yyyymmdd>.<ext>.
func defaultExportPath(format, clientID string, now time.Time) string {
	stamp := now.Format("20060102")
	suffix := "_all"
	if clientID != "" {
		suffix = "_" + clientID
	}
	switch format {
	case "json":
		return fmt.Sprintf("exports/rankings%s_%s.json", suffix, stamp)
	case "comparison":
		return fmt.Sprintf("exports/comparison_%s_%s.csv", clientID, stamp)
	case "ahrefs":
		return fmt.Sprintf("exports/ahrefs_import_%s_%s.csv", clientID, stamp)
	default:
		return fmt.Sprintf("exports/rankings%s_%s.csv", suffix, stamp)
	}
}
