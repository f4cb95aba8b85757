package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/biogram-cli/internal/biogram"
	"github.com/KaramelBytes/biogram-cli/internal/utils"
)

var (
	gbOutDir    string
	gbWorkers   int
	gbKeepGoing bool
)

var generateBatchCmd = &cobra.Command{
	Use:   "generate-batch <files...>",
	Short: "Build one antibiogram workbook per input file",
	Long: `Runs the generate pipeline independently for every input file, using the same profile and
parameters, and writes <name>.antibiogram.xlsx for each. Glob patterns are expanded.`,
	Example: `  biogram generate-batch --profile lab.json --index organism "exports/*.csv" --out reports`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandInputs(args)
		if err != nil {
			return err
		}
		c, err := currentConfig()
		if err != nil {
			return err
		}
		base, err := generateOptions(cmd.Flags(), c)
		if err != nil {
			return err
		}
		if base.FromWarehouse || genSaveWarehouse {
			return errors.New("generate-batch reads files only; --warehouse and --save-warehouse are not supported")
		}
		outDir := gbOutDir
		if outDir == "" {
			outDir = "."
		}
		if err := utils.EnsureDir(outDir); err != nil {
			return err
		}
		workers := c.BatchWorkers
		if cmd.Flags().Changed("workers") && gbWorkers > 0 {
			workers = gbWorkers
		}

		ctx := contextOf(cmd)
		outputs := batchOutputs(files, outDir)
		out := cmd.OutOrStdout()
		var (
			mu     sync.Mutex
			failed []string
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		total := len(files)
		for i, path := range files {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				opt := base
				opt.DataPath = path
				rep, _, err := runPipeline(gctx, c, opt)
				if err == nil {
					err = rep.WriteXLSX(outputs[i])
				}
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if gbKeepGoing {
						slog.Warn("batch item failed", "file", path, "kind", biogram.Kind(err), "error", err)
						failed = append(failed, filepath.Base(path))
						return nil
					}
					return fmt.Errorf("%s: %w", path, explain(err))
				}
				if !genQuiet {
					fmt.Fprintf(out, "[%d/%d] ✓ %s → %s\n", i+1, total, filepath.Base(path), outputs[i])
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if len(failed) > 0 {
			sort.Strings(failed)
			fmt.Fprintf(out, "⚠ %d of %d files failed: %s\n", len(failed), total, strings.Join(failed, ", "))
		}
		return nil
	},
}

// expandInputs resolves globs and literal paths into a sorted, de-duplicated file list.
func expandInputs(args []string) ([]string, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, _ := filepath.Glob(arg)
		if len(matches) == 0 {
			// treat as literal path if exists
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files matched")
	}
	sort.Strings(files)
	return files, nil
}

// batchOutputs names one workbook per input. Inputs sharing a base name get a numeric suffix.
func batchOutputs(files []string, outDir string) []string {
	out := make([]string, len(files))
	used := map[string]int{}
	for i, f := range files {
		name := utils.BaseName(f)
		used[name]++
		if n := used[name]; n > 1 {
			name = fmt.Sprintf("%s__%d", name, n)
		}
		out[i] = filepath.Join(outDir, name+".antibiogram.xlsx")
	}
	return out
}

func init() {
	rootCmd.AddCommand(generateBatchCmd)
	f := generateBatchCmd.Flags()
	f.StringVarP(&genProfilePath, "profile", "p", "", "profile JSON shared by every input")
	f.StringVarP(&genIndex, "index", "i", "", "comma-separated grouping columns")
	f.StringVar(&genDedup, "dedup", "", "comma-separated isolate key columns (default: profile key columns)")
	f.IntVar(&genCutoff, "cutoff", 0, "drop groups with fewer isolates (overrides config)")
	f.StringVar(&genStart, "start", "", "first day of the date window (inclusive)")
	f.StringVar(&genEnd, "end", "", "last day of the date window (inclusive)")
	f.StringVar(&genSections, "sections", "", "comma-separated sections to include")
	f.BoolVar(&genByGroup, "by-group", true, "nest drug columns under their drug group (overrides config)")
	f.BoolVar(&genSortByDate, "sort-by-date", true, "keep the earliest record per isolate (overrides config)")
	f.BoolVar(&genQuiet, "quiet", false, "suppress progress output")
	f.StringVar(&gbOutDir, "out", "", "directory for the workbooks (default: current directory)")
	f.IntVar(&gbWorkers, "workers", 0, "parallel pipelines (overrides batch_workers)")
	f.BoolVar(&gbKeepGoing, "keep-going", false, "report failed files instead of stopping at the first failure")
}
