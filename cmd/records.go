package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/biogram-cli/internal/profile"
	"github.com/KaramelBytes/biogram-cli/internal/table"
	"github.com/KaramelBytes/biogram-cli/internal/warehouse"
)

var (
	recProfilePath string
	recDataPath    string
	recStore       string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage the raw records store",
}

var recordsSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Store a raw data file in a SQLite records store",
	Long: `Validates the data file against the profile and stores it in normalized form: record columns
in the records table and one row per drug result in the drugs table. The store replaces any
previous content and can be used as --data for generate and export.`,
	Example: `  biogram records save --profile lab.json --data lab.xlsx --store lab.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if recProfilePath == "" || recDataPath == "" || recStore == "" {
			return errors.New("--profile, --data and --store are required")
		}
		c, err := currentConfig()
		if err != nil {
			return err
		}
		prof, err := profile.Load(recProfilePath)
		if err != nil {
			return err
		}
		prof.Path = absPath(prof.Path)
		raw, err := table.Read(recDataPath, tableOptions(c))
		if err != nil {
			return err
		}
		ctx := contextOf(cmd)
		s, err := warehouse.Open(ctx, warehouse.DriverSQLite, recStore)
		if err != nil {
			return err
		}
		defer s.Close()
		n, err := s.SaveRecords(ctx, raw, prof)
		if err != nil {
			return explain(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Stored %d records in %s\n", n, recStore)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsSaveCmd)
	recordsSaveCmd.Flags().StringVarP(&recProfilePath, "profile", "p", "", "profile JSON describing the data columns")
	recordsSaveCmd.Flags().StringVarP(&recDataPath, "data", "d", "", "raw CSV/TSV/XLSX file")
	recordsSaveCmd.Flags().StringVar(&recStore, "store", "", "SQLite file to write")
}
