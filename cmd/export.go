package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/biogram-cli/internal/report"
)

var (
	expProfilePath   string
	expDataPath      string
	expFromWarehouse bool
	expDedup         string
	expStart         string
	expEnd           string
	expOutputPath    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the flattened fact table as CSV or XLSX",
	Long: `Flattens the raw data with the profile and writes one row per (isolate, drug), including
untested results. With --start/--end only facts dated inside the window are written.`,
	Example: `  biogram export --profile lab.json --data lab.xlsx --output facts.csv
  biogram export --warehouse --start 2024-01-01 --end 2024-03-31 --output q1.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := currentConfig()
		if err != nil {
			return err
		}
		r, err := parseRange(expStart, expEnd)
		if err != nil {
			return err
		}
		run, err := buildFacts(contextOf(cmd), c, pipelineOptions{
			ProfilePath:   expProfilePath,
			DataPath:      expDataPath,
			FromWarehouse: expFromWarehouse,
			Dedup:         splitList(expDedup),
			SortByDate:    c.SortByDate,
		})
		if err != nil {
			return explain(err)
		}
		ft := run.Facts
		if r != nil {
			if ft, err = ft.Between(*r); err != nil {
				return explain(err)
			}
		}

		if expOutputPath == "" {
			return report.WriteFactsCSV(cmd.OutOrStdout(), ft)
		}
		if strings.EqualFold(filepath.Ext(expOutputPath), ".xlsx") {
			if err := report.WriteFactsXLSX(expOutputPath, ft); err != nil {
				return err
			}
		} else {
			f, err := os.Create(expOutputPath)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			if err := report.WriteFactsCSV(f, ft); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d facts (%d isolates) to %s\n", ft.Len(), run.Facts.Isolates, expOutputPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&expProfilePath, "profile", "p", "", "profile JSON describing the data columns")
	exportCmd.Flags().StringVarP(&expDataPath, "data", "d", "", "raw data: CSV/TSV/XLSX file or a .db records store")
	exportCmd.Flags().BoolVar(&expFromWarehouse, "warehouse", false, "export facts stored in the configured warehouse")
	exportCmd.Flags().StringVar(&expDedup, "dedup", "", "comma-separated isolate key columns (default: profile key columns)")
	exportCmd.Flags().StringVar(&expStart, "start", "", "first day of the date window (inclusive)")
	exportCmd.Flags().StringVar(&expEnd, "end", "", "last day of the date window (inclusive)")
	exportCmd.Flags().StringVarP(&expOutputPath, "output", "o", "", "output .csv or .xlsx (default: CSV to stdout)")
}
