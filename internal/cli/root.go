package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/newsledger/internal/logging"
	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/pipeline"
)

// Version is overridden at build time with -ldflags "-X .../internal/cli.Version=..."
var Version = "0.1.0"

// keyDelimiter keeps dotted alias keys ("news.bbc.co.uk") intact in viper
const keyDelimiter = "::"

var (
	cfgFile string
	verbose bool

	v = viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "newsledger",
	Short: "newsledger - news neutrality ledger",
	Long: `newsledger discovers stories from registered news outlets, captures
immutable snapshots of their text and records bias scores in an
append-only ledger.

Readers get a digest of recent stories, per-outlet daily trends and
outlet-level neutrality aggregates over HTTP or from the command line.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("newsledger v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.newsledger/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("store", "", "sqlite store path (overrides store.dsn)")

	// Bind flags to viper
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("store"+keyDelimiter+"dsn", rootCmd.PersistentFlags().Lookup("store"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if err := seedDefaults(v, model.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding defaults: %v\n", err)
	}

	if cfgFile != "" {
		// Use config file from the flag
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
		} else {
			v.AddConfigPath(filepath.Join(home, ".newsledger"))
		}
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	// NEWSLEDGER_STORE_DSN overrides store.dsn, and so on
	v.SetEnvPrefix("NEWSLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	} else if verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
	}
}

// seedDefaults registers every leaf of cfg as a viper default so each key
// is addressable from the environment
func seedDefaults(vp *viper.Viper, cfg *model.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}
	setDefaults(vp, "", tree)
	return nil
}

func setDefaults(vp *viper.Viper, prefix string, tree map[string]any) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + keyDelimiter + key
		}
		// aliases is a free-form map; its keys are data, not config paths
		if nested, ok := value.(map[string]any); ok && full != "aliases" {
			setDefaults(vp, full, nested)
			continue
		}
		vp.SetDefault(full, value)
	}
}

// loadConfig resolves the effective configuration: flags, env, file, defaults
func loadConfig() (*model.Config, error) {
	cfg, err := decodeConfig(v)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func decodeConfig(vp *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := vp.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// openPipeline loads the configuration and wires a pipeline. Callers must Close it.
func openPipeline(ctx context.Context) (*pipeline.Pipeline, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.LogLevel)
	p, err := pipeline.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, logger, nil
}

// requireStore opens a pipeline and fails when no store is configured
func requireStore(ctx context.Context) (*pipeline.Pipeline, *slog.Logger, error) {
	p, logger, err := openPipeline(ctx)
	if err != nil {
		return nil, nil, err
	}
	if p.Store == nil {
		_ = p.Close(ctx)
		return nil, nil, fmt.Errorf("%w (set store.dsn or NEWSLEDGER_STORE_DSN)", pipeline.ErrNoStore)
	}
	return p, logger, nil
}

// printJSON writes v to stdout as indented JSON
func printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
