package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/biogram-cli/internal/profile"
	"github.com/KaramelBytes/biogram-cli/internal/registry"
	"github.com/KaramelBytes/biogram-cli/internal/table"
)

var (
	profPath     string
	profOut      string
	profOrganism string
	profDate     string
	profKeys     string
	profData     string
	profSource   string
	profName     string
	profGroups   string
	profMapFile  string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Create and edit column profiles",
}

var profileInitCmd = &cobra.Command{
	Use:   "init <data>",
	Short: "Create a profile from a raw data file",
	Long: `Creates a profile listing every column of the data file. Columns whose name is a registered
drug abbreviation are flagged as drugs. Use --organism, --date and --key to set the other roles.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if profOut == "" {
			return errors.New("--out is required")
		}
		c, err := currentConfig()
		if err != nil {
			return err
		}
		raw, err := readRaw(contextOf(cmd), c, args[0])
		if err != nil {
			return err
		}
		drugs, err := loadDrugs(c)
		if err != nil {
			return err
		}
		p := profile.NewFromTable(raw, drugs)
		set := func(col string, fn func(a *profile.ColumnAttribute)) error {
			if col == "" {
				return nil
			}
			return p.Update(col, fn)
		}
		if err := set(profOrganism, func(a *profile.ColumnAttribute) { a.Organism, a.Drug = true, false }); err != nil {
			return err
		}
		if err := set(profDate, func(a *profile.ColumnAttribute) { a.Date, a.Drug = true, false }); err != nil {
			return err
		}
		for _, k := range splitList(profKeys) {
			if err := set(k, func(a *profile.ColumnAttribute) { a.Key = true }); err != nil {
				return err
			}
		}
		if err := p.SaveAs(profOut); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Created profile %s (%d columns, %d drugs)\n",
			profOut, len(p.Columns), len(p.ColumnsWithRole(profile.RoleDrug)))
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the columns of a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfileFlag()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COLUMN\tALIAS\tROLES\tKEEP\tTYPE")
		for _, col := range p.Columns {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", col.Name, col.Alias, roles(col), col.Keep, col.Type)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if len(p.Organisms) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d organism overrides\n", len(p.Organisms))
		}
		return nil
	},
}

var profileCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that a data file matches a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if profData == "" {
			return errors.New("--data is required")
		}
		p, err := loadProfileFlag()
		if err != nil {
			return err
		}
		c, err := currentConfig()
		if err != nil {
			return err
		}
		raw, err := readRaw(contextOf(cmd), c, profData)
		if err != nil {
			return err
		}
		if err := p.ApplyToTable(raw); err != nil {
			return explain(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s matches profile %s (%d records)\n", profData, p.Path, raw.Len())
		return nil
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <column> <field> <value>",
	Short: "Edit one column attribute (alias, keep, key, organism, drug, date, desc)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfileFlag()
		if err != nil {
			return err
		}
		col, field, val := args[0], strings.ToLower(args[1]), args[2]
		if field == "alias" || field == "desc" {
			err = p.Update(col, func(a *profile.ColumnAttribute) {
				if field == "alias" {
					a.Alias = val
				} else {
					a.Description = val
				}
			})
		} else {
			b, perr := strconv.ParseBool(val)
			if perr != nil {
				return fmt.Errorf("invalid bool for %s: %s", field, val)
			}
			var target *bool
			err = p.Update(col, func(a *profile.ColumnAttribute) {
				switch field {
				case "keep":
					target = &a.Keep
				case "key":
					target = &a.Key
				case "organism":
					target = &a.Organism
				case "drug":
					target = &a.Drug
				case "date":
					target = &a.Date
				default:
					return
				}
				*target = b
			})
			if err == nil && target == nil {
				return fmt.Errorf("unknown field %q (use alias|desc|keep|key|organism|drug|date)", field)
			}
		}
		if err != nil {
			return err
		}
		if err := p.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Updated %s.%s\n", col, field)
		return nil
	},
}

var profileDeriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Add a derived column that groups the values of another column",
	Example: `  biogram profile derive -p lab.json --source ward --name ward_type --groups "ICU1=icu,ICU2=icu,W3=general"
  biogram profile derive -p lab.json --source ward --name ward_type --map wards.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfileFlag()
		if err != nil {
			return err
		}
		groups, err := parseGroups(profGroups)
		if err != nil {
			return err
		}
		if profMapFile != "" {
			c, err := currentConfig()
			if err != nil {
				return err
			}
			t, err := table.Read(profMapFile, tableOptions(c))
			if err != nil {
				return err
			}
			if len(t.Columns) < 2 {
				return fmt.Errorf("group map %s needs 2 columns (value, group)", profMapFile)
			}
			for _, row := range t.Rows {
				groups[row[0]] = row[1]
			}
		}
		if len(groups) == 0 {
			return errors.New("--groups or --map is required")
		}
		name, err := p.AddDerivedColumn(profSource, profName, groups)
		if err != nil {
			return err
		}
		if err := p.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Added derived column %s (%d values mapped)\n", name, len(groups))
		return nil
	},
}

var profileOrganismsCmd = &cobra.Command{
	Use:   "organisms <file>",
	Short: "Import organism overrides (code, genus, species) into a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfileFlag()
		if err != nil {
			return err
		}
		c, err := currentConfig()
		if err != nil {
			return err
		}
		t, err := table.Read(args[0], tableOptions(c))
		if err != nil {
			return err
		}
		m, err := registry.OrganismsFromTable(t)
		if err != nil {
			return err
		}
		p.SetOrganisms(m)
		if err := p.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d organism overrides into %s\n", len(m), p.Path)
		return nil
	},
}

func loadProfileFlag() (*profile.Profile, error) {
	if profPath == "" {
		return nil, errors.New("--profile is required")
	}
	return profile.Load(profPath)
}

func roles(c profile.ColumnAttribute) string {
	var out []string
	for _, r := range []profile.Role{profile.RoleKey, profile.RoleOrganism, profile.RoleDrug, profile.RoleDate} {
		if c.Has(r) {
			out = append(out, r.String())
		}
	}
	if c.Derived() {
		out = append(out, "derived:"+c.Derivation.Source)
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}

// parseGroups reads "value=group,value=group".
func parseGroups(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range splitList(s) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid group %q (want value=group)", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileInitCmd, profileShowCmd, profileCheckCmd, profileSetCmd, profileDeriveCmd, profileOrganismsCmd)
	profileCmd.PersistentFlags().StringVarP(&profPath, "profile", "p", "", "profile JSON path")

	profileInitCmd.Flags().StringVarP(&profOut, "out", "o", "", "where to write the new profile")
	profileInitCmd.Flags().StringVar(&profOrganism, "organism", "", "column holding the organism code")
	profileInitCmd.Flags().StringVar(&profDate, "date", "", "column holding the specimen date")
	profileInitCmd.Flags().StringVar(&profKeys, "key", "", "comma-separated columns identifying one isolate")

	profileCheckCmd.Flags().StringVarP(&profData, "data", "d", "", "raw data file to check")

	profileDeriveCmd.Flags().StringVar(&profSource, "source", "", "column whose values are grouped")
	profileDeriveCmd.Flags().StringVar(&profName, "name", "", "name of the derived column (prefixed with @)")
	profileDeriveCmd.Flags().StringVar(&profGroups, "groups", "", "comma-separated value=group pairs")
	profileDeriveCmd.Flags().StringVar(&profMapFile, "map", "", "CSV/XLSX file with value and group columns")
}
