package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/pario-ai/agronomist/pkg/advisor"
	"github.com/pario-ai/agronomist/pkg/server"
	"github.com/pario-ai/agronomist/pkg/telemetry"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web front end and advisory API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if cfg.Provider.APIKey == "" {
				log.Printf("warning: no provider API key configured; advisories will use fallback text")
			}

			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			tel, err := telemetry.New(cfg.Metrics.Exporter, nil)
			if err != nil {
				return fmt.Errorf("init metrics: %w", err)
			}
			defer func() {
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutCtx); err != nil {
					log.Printf("metrics shutdown: %v", err)
				}
			}()

			srv := server.New(cfg, st.newAdvisor(cfg, advisor.WithMeterProvider(tel.MeterProvider)))
			if tel.Handler != nil {
				srv.MountMetrics(tel.Handler)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("starting agronomist with config: %s", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVar(&listen, "listen", "", "override listen address")
	return cmd
}
