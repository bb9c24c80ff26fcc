package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pario-ai/agronomist/pkg/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start Agronomist as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol.
			log.SetOutput(os.Stderr)

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var (
				cache mcp.CacheStatter
				usage mcp.UsageSummarizer
			)
			if st.cache != nil {
				cache = st.cache
			}
			if st.tracker != nil {
				usage = st.tracker
			}
			srv := mcp.New(st.newAdvisor(cfg), cache, usage, version)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}
