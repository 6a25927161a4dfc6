package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/traceguard/internal/model"
)

// Version is overridden at build time with -ldflags
var Version = "0.3.0"

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "traceguard",
	Short: "TraceGuard - compliance traceability and evidence verification",
	Long: `TraceGuard ingests compliance artifacts from a source repository and keeps
an auditable picture of how well they trace to each other.

Requirements trace to user stories, stories to specifications, and
specifications to signed test evidence. TraceGuard detects changed files,
reconciles artifacts, rebuilds the traceability graph, verifies evidence
signatures and scores the resulting compliance risk.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the traceguard version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "traceguard v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.traceguard/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVar(&jsonOutput, "json", false, "print results as JSON")
	flags.String("env", "", "environment (development or production)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console or json)")
	flags.String("store", "", "SQLite database path")

	for key, flag := range map[string]string{
		"environment":    "env",
		"logging.level":  "log-level",
		"logging.format": "log-format",
		"store.dsn":      "store",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(versionCmd)
}

// initConfig layers defaults, the config file and TRACEGUARD_* variables
func initConfig() {
	if err := setDefaults(viper.GetViper(), model.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading defaults: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			return
		}
		viper.AddConfigPath(dir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("TRACEGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "config: %s\n", viper.ConfigFileUsed())
	}
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".traceguard"), nil
}

// setDefaults registers every key of cfg so environment variables can
// override keys that no config file mentions
func setDefaults(v *viper.Viper, cfg *model.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := viper.New()
	tmp.SetConfigType("yaml")
	if err := tmp.ReadConfig(bytes.NewReader(raw)); err != nil {
		return err
	}
	for _, key := range tmp.AllKeys() {
		v.SetDefault(key, tmp.Get(key))
	}
	return nil
}

// loadConfig resolves defaults, config file, environment and flags
func loadConfig() (*model.Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	switch cfg.Environment {
	case model.EnvDevelopment, model.EnvProduction:
	default:
		return nil, fmt.Errorf("unknown environment %q", cfg.Environment)
	}
	return cfg, nil
}
