package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var drugsCmd = &cobra.Command{
	Use:   "drugs",
	Short: "Inspect the drug registry",
}

var drugsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered drugs by group",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := currentConfig()
		if err != nil {
			return err
		}
		if c.DrugRegistry == "" {
			return errors.New("no drug_registry configured (biogram config set drug_registry <file>)")
		}
		reg, err := loadDrugs(c)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "GROUP\tDRUG\tABBREVIATIONS")
		for _, d := range reg.Drugs() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Group, d.Name, strings.Join(d.Abbreviations, ", "))
		}
		return w.Flush()
	},
}

var drugsLookupCmd = &cobra.Command{
	Use:   "lookup <abbreviation...>",
	Short: "Resolve abbreviations to drug name and group",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := currentConfig()
		if err != nil {
			return err
		}
		reg, err := loadDrugs(c)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, a := range args {
			info := reg.LookupDrug(a)
			mark := "✓"
			if !reg.Has(a) {
				mark = "⚠"
			}
			fmt.Fprintf(out, "%s %s: %s (%s)\n", mark, a, info.Name, info.Group)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(drugsCmd)
	drugsCmd.AddCommand(drugsListCmd, drugsLookupCmd)
}
