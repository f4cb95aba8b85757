package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	// Reference data
	DrugRegistry string `mapstructure:"drug_registry" yaml:"drug_registry"`
	OrganismFile string `mapstructure:"organism_file" yaml:"organism_file"`

	// Pipeline defaults
	Cutoff           int      `mapstructure:"cutoff" yaml:"cutoff"`
	SortByDate       bool     `mapstructure:"sort_by_date" yaml:"sort_by_date"`
	GroupByDrugGroup bool     `mapstructure:"group_by_drug_group" yaml:"group_by_drug_group"`
	Sections         []string `mapstructure:"sections" yaml:"sections"`

	// Raw data reading
	Delimiter  string `mapstructure:"delimiter" yaml:"delimiter"`
	SheetName  string `mapstructure:"sheet_name" yaml:"sheet_name"`
	SheetIndex int    `mapstructure:"sheet_index" yaml:"sheet_index"`

	// Warehouse
	WarehouseDriver string `mapstructure:"warehouse_driver" yaml:"warehouse_driver"`
	WarehouseDSN    string `mapstructure:"warehouse_dsn" yaml:"warehouse_dsn"`

	BatchWorkers int    `mapstructure:"batch_workers" yaml:"batch_workers"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
}

// Keys lists the settable configuration keys in display order.
var Keys = []string{
	"drug_registry", "organism_file", "cutoff", "sort_by_date", "group_by_drug_group", "sections",
	"delimiter", "sheet_name", "sheet_index", "warehouse_driver", "warehouse_dsn", "batch_workers", "log_level",
}

// Dir returns ~/.biogram.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".biogram"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.biogram/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("BIOGRAM")
	v.AutomaticEnv()

	v.SetDefault("drug_registry", "")
	v.SetDefault("organism_file", "")
	v.SetDefault("cutoff", 0)
	v.SetDefault("sort_by_date", true)
	v.SetDefault("group_by_drug_group", true)
	v.SetDefault("sections", []string{})
	v.SetDefault("delimiter", "")
	v.SetDefault("sheet_name", "")
	v.SetDefault("sheet_index", 1)
	v.SetDefault("warehouse_driver", "sqlite")
	v.SetDefault("warehouse_dsn", "")
	v.SetDefault("batch_workers", 4)
	v.SetDefault("log_level", "info")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		_ = os.MkdirAll(dir, 0o755)
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Env values arrive as a single comma-separated string.
	if len(c.Sections) == 1 && strings.Contains(c.Sections[0], ",") {
		c.Sections = strings.Split(c.Sections[0], ",")
	}
	if c.WarehouseDSN == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		c.WarehouseDSN = filepath.Join(dir, "warehouse.db")
	}
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = 1
	}
	return &c, nil
}

// Set assigns one key from its string form.
func (c *Global) Set(key, value string) error {
	switch key {
	case "drug_registry":
		c.DrugRegistry = value
	case "organism_file":
		c.OrganismFile = value
	case "cutoff":
		n, err := atoi(key, value)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("cutoff must not be negative")
		}
		c.Cutoff = n
	case "sort_by_date":
		b, err := parseBool(key, value)
		if err != nil {
			return err
		}
		c.SortByDate = b
	case "group_by_drug_group":
		b, err := parseBool(key, value)
		if err != nil {
			return err
		}
		c.GroupByDrugGroup = b
	case "sections":
		c.Sections = nil
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Sections = append(c.Sections, s)
			}
		}
	case "delimiter":
		c.Delimiter = value
	case "sheet_name":
		c.SheetName = value
	case "sheet_index":
		n, err := atoi(key, value)
		if err != nil {
			return err
		}
		c.SheetIndex = n
	case "warehouse_driver":
		c.WarehouseDriver = value
	case "warehouse_dsn":
		c.WarehouseDSN = value
	case "batch_workers":
		n, err := atoi(key, value)
		if err != nil {
			return err
		}
		c.BatchWorkers = n
	case "log_level":
		c.LogLevel = value
	default:
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys, ", "))
	}
	return nil
}

// DelimiterRune returns the configured CSV delimiter, 0 for auto.
func (c *Global) DelimiterRune() rune {
	switch c.Delimiter {
	case "":
		return 0
	case `\t`, "tab":
		return '\t'
	}
	return []rune(c.Delimiter)[0]
}

func atoi(key, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: expected an integer, got %q", key, value)
	}
	return n, nil
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("%s: expected true or false, got %q", key, value)
}
