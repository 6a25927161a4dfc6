package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/traceguard/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the fetched-content cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Cache.DiskDir == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No disk cache configured")
			return nil
		}
		if err := cache.NewDisk(cfg.Cache.DiskDir, cfg.Cache.DiskTTL).Clear(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", cfg.Cache.DiskDir)
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached files older than cache.disk_ttl",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Cache.DiskDir == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No disk cache configured")
			return nil
		}
		n, err := cache.NewDisk(cfg.Cache.DiskDir, cfg.Cache.DiskTTL).Prune()
		if err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d cached file(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePruneCmd)
}
