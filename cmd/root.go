package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/biogram-cli/internal/config"
	"github.com/KaramelBytes/biogram-cli/internal/logging"
)

var (
	// Global flags
	cfgFile string
	debug   bool

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "biogram",
	Short: "Biogram CLI: turn microbiology lab records into antibiograms",
	Long: `Biogram reads annotated microbiology records (one row per isolate, one column per drug),
flattens them into susceptibility facts and summarizes S versus I/R rates per drug, grouped by
the columns you choose. Reports are written as Excel workbooks or printed as Markdown.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.biogram/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func loadConfig() {
	// A missing .env is the normal case.
	_ = godotenv.Load()
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: commands fall back to built-in defaults
		logging.Init("info", debug)
		slog.Warn("failed to load config", "error", err)
		cfg = nil
		return
	}
	cfg = c
	logging.Init(cfg.LogLevel, debug)
	slog.Debug("config loaded", "file", cfgFile, "warehouse_driver", cfg.WarehouseDriver)
}

// currentConfig returns the loaded configuration, loading defaults when startup loading failed.
func currentConfig() (*cfgpkg.Global, error) {
	if cfg != nil {
		return cfg, nil
	}
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

// contextOf returns the command context, or a background context outside Execute.
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
