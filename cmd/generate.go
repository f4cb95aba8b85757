package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgpkg "github.com/KaramelBytes/biogram-cli/internal/config"
	"github.com/KaramelBytes/biogram-cli/internal/report"
	"github.com/KaramelBytes/biogram-cli/internal/utils"
	"github.com/KaramelBytes/biogram-cli/internal/warehouse"
)

var (
	genProfilePath   string
	genDataPath      string
	genFromWarehouse bool
	genIndex         string
	genDedup         string
	genCutoff        int
	genStart         string
	genEnd           string
	genSections      string
	genByGroup       bool
	genSortByDate    bool
	genOutputPath    string
	genSaveWarehouse bool
	genSaveMode      string
	genQuiet         bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build an antibiogram from lab records or warehouse facts",
	Example: `  biogram generate --profile lab.json --data lab.xlsx --index organism
  biogram generate --profile lab.json --data lab.csv --index organism,specimen --cutoff 30 --output report.xlsx
  biogram generate --profile lab.json --data lab.csv --start 2024-01-01 --end 2024-06-30 --sections total,narst_s
  biogram generate --warehouse --index organism --output report.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := currentConfig()
		if err != nil {
			return err
		}
		opt, err := generateOptions(cmd.Flags(), c)
		if err != nil {
			return err
		}
		if genSaveWarehouse && opt.FromWarehouse {
			return fmt.Errorf("--save-warehouse cannot be combined with --warehouse")
		}
		mode, err := warehouse.ParseMode(genSaveMode)
		if err != nil {
			return err
		}

		ctx := contextOf(cmd)
		rep, run, err := runPipeline(ctx, c, opt)
		if err != nil {
			return explain(err)
		}
		out := cmd.OutOrStdout()

		if genSaveWarehouse {
			s, err := warehouse.Open(ctx, c.WarehouseDriver, c.WarehouseDSN)
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.SaveFacts(ctx, run.Facts, absPath(run.Profile.Path), mode)
			if err != nil {
				return err
			}
			if !genQuiet {
				fmt.Fprintf(out, "✓ Saved %d facts to %s warehouse (%s)\n", n, s.Driver(), mode)
			}
		}

		if genOutputPath != "" {
			if err := writeReport(rep, genOutputPath); err != nil {
				return err
			}
			if !genQuiet {
				fmt.Fprintf(out, "✓ Wrote antibiogram to %s (%s)\n", genOutputPath, strings.Join(rep.Names(), ", "))
			}
			return nil
		}
		fmt.Fprintln(out, rep.Markdown())
		return nil
	},
}

// generateOptions merges generate flags over the configuration. Flags win when set in this run.
func generateOptions(f *pflag.FlagSet, c *cfgpkg.Global) (pipelineOptions, error) {
	opt := pipelineOptions{
		ProfilePath:   genProfilePath,
		DataPath:      genDataPath,
		FromWarehouse: genFromWarehouse,
		Index:         splitList(genIndex),
		Dedup:         splitList(genDedup),
		Cutoff:        c.Cutoff,
		ByDrugGroup:   c.GroupByDrugGroup,
		SortByDate:    c.SortByDate,
		Sections:      c.Sections,
	}
	if f.Changed("cutoff") {
		opt.Cutoff = genCutoff
	}
	if f.Changed("by-group") {
		opt.ByDrugGroup = genByGroup
	}
	if f.Changed("sort-by-date") {
		opt.SortByDate = genSortByDate
		opt.SortExplicit = true
	}
	if f.Changed("sections") {
		opt.Sections = splitList(genSections)
	}
	sections, err := report.ParseSections(strings.Join(opt.Sections, ","))
	if err != nil {
		return opt, err
	}
	opt.Sections = sections
	r, err := parseRange(genStart, genEnd)
	if err != nil {
		return opt, err
	}
	opt.Range = r
	return opt, nil
}

// writeReport picks the sink by extension: .xlsx writes a workbook, anything else Markdown.
func writeReport(rep *report.Report, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return rep.WriteXLSX(path)
	}
	if err := utils.SafeWriteFile(path, []byte(rep.Markdown())); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// absPath returns path made absolute, or path unchanged when that fails.
func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVarP(&genProfilePath, "profile", "p", "", "profile JSON describing the data columns")
	generateCmd.Flags().StringVarP(&genDataPath, "data", "d", "", "raw data: CSV/TSV/XLSX file or a .db records store")
	generateCmd.Flags().BoolVar(&genFromWarehouse, "warehouse", false, "build from facts stored in the configured warehouse")
	generateCmd.Flags().StringVarP(&genIndex, "index", "i", "", "comma-separated grouping columns (e.g. organism,specimen)")
	generateCmd.Flags().StringVar(&genDedup, "dedup", "", "comma-separated isolate key columns (default: profile key columns)")
	generateCmd.Flags().IntVar(&genCutoff, "cutoff", 0, "drop groups with fewer isolates (overrides config)")
	generateCmd.Flags().StringVar(&genStart, "start", "", "first day of the date window (inclusive)")
	generateCmd.Flags().StringVar(&genEnd, "end", "", "last day of the date window (inclusive)")
	generateCmd.Flags().StringVar(&genSections, "sections", "", "comma-separated sections to include: "+strings.Join(report.SectionOrder, ","))
	generateCmd.Flags().BoolVar(&genByGroup, "by-group", true, "nest drug columns under their drug group (overrides config)")
	generateCmd.Flags().BoolVar(&genSortByDate, "sort-by-date", true, "keep the earliest record per isolate (overrides config)")
	generateCmd.Flags().StringVarP(&genOutputPath, "output", "o", "", "write the report to .xlsx (workbook) or any other path (Markdown)")
	generateCmd.Flags().BoolVar(&genSaveWarehouse, "save-warehouse", false, "also store the fact table in the configured warehouse")
	generateCmd.Flags().StringVar(&genSaveMode, "mode", "replace", "warehouse save mode: replace|append")
	generateCmd.Flags().BoolVar(&genQuiet, "quiet", false, "suppress non-essential output")
}
