package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/traceguard/internal/model"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
	Long: `Settings are resolved in this order, first match wins:
1. CLI flags
2. Environment variables (TRACEGUARD_*, e.g. TRACEGUARD_SOURCE_TOKEN)
3. Config file (~/.traceguard/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		source := viper.ConfigFileUsed()
		if source == "" {
			source = "built-in defaults"
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "# from %s\n", source)

		if cfg.Source.Token != "" {
			cfg.Source.Token = "********"
		}
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to ~/.traceguard/config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDir()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, "config.yaml")
		if err := writeDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// writeDefaultConfig writes the built-in configuration to path, refusing
// to overwrite an existing file
func writeDefaultConfig(path string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	body, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s already exists; remove it to start over", path)
	}
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close config file: %w", closeErr)
		}
	}()

	header := `# traceguard configuration
#
# Flags override TRACEGUARD_* variables, which override this file.
# TRACEGUARD_SOURCE_TOKEN sets source.token, and so on.
#
# Production (environment: production) requires verification keys, either
# verification.keys_file (JWKS JSON, or YAML list of kid/jwk) or inline
# verification.keys. The development signing key is refused there.

`
	if _, err := f.Write(append([]byte(header), body...)); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
