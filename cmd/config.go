package cmd

import (
	"fmt"
	"strings"

	cfgpkg "github.com/KaramelBytes/biogram-cli/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set Biogram configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := currentConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "drug_registry: %s\n", c.DrugRegistry)
		if c.OrganismFile != "" {
			fmt.Fprintf(out, "organism_file: %s\n", c.OrganismFile)
		}
		fmt.Fprintf(out, "cutoff: %d\n", c.Cutoff)
		fmt.Fprintf(out, "sort_by_date: %t\n", c.SortByDate)
		fmt.Fprintf(out, "group_by_drug_group: %t\n", c.GroupByDrugGroup)
		if len(c.Sections) > 0 {
			fmt.Fprintf(out, "sections: %s\n", strings.Join(c.Sections, ","))
		}
		if c.Delimiter != "" {
			fmt.Fprintf(out, "delimiter: %q\n", c.Delimiter)
		}
		if c.SheetName != "" {
			fmt.Fprintf(out, "sheet_name: %s\n", c.SheetName)
		}
		fmt.Fprintf(out, "sheet_index: %d\n", c.SheetIndex)
		fmt.Fprintf(out, "warehouse_driver: %s\n", c.WarehouseDriver)
		fmt.Fprintf(out, "warehouse_dsn: %s\n", maskDSN(c.WarehouseDSN))
		fmt.Fprintf(out, "batch_workers: %d\n", c.BatchWorkers)
		fmt.Fprintf(out, "log_level: %s\n", c.LogLevel)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Long:  "Set a config value and save to disk. Keys: " + strings.Join(cfgpkg.Keys, ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := currentConfig()
		if err != nil {
			return err
		}
		if err := c.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// maskDSN hides the password of a postgres URL DSN.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	user, _, ok := strings.Cut(creds, ":")
	if !ok {
		return dsn
	}
	return dsn[:scheme+3] + user + ":****" + dsn[at:]
}
