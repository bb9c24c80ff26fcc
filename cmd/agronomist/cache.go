package main

import (
	"errors"
	"fmt"

	"github.com/pario-ai/agronomist/pkg/config"
	"github.com/spf13/cobra"
)

// openPersistentCache opens the configured cache for inspection. The memory
// backend lives inside the serving process, so there is nothing to inspect.
func openPersistentCache(configPath string) (advisoryCache, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Backend == config.BackendMemory {
		return nil, errors.New("memory cache is process-local; use the agronomist_cache_stats MCP tool against a running instance")
	}
	return openCache(cfg)
}

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the advisory cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openPersistentCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %d\nHits:    %d\nMisses:  %d\n", stats.Entries, stats.Hits, stats.Misses)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached advisories",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openPersistentCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(expiredOnly); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired advisories cleared.")
			} else {
				fmt.Println("All cached advisories cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
