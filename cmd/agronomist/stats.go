package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pario-ai/agronomist/pkg/tracker"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		since      string
		recent     int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show inference endpoint usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := cmd.Context()

			if recent > 0 {
				recs, err := tr.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No requests recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tREQUEST ID\tCACHE KEY\tOUTCOME\tTOKENS\tLATENCY")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%dms\n",
						r.CreatedAt.Format("2006-01-02T15:04:05"), r.RequestID, r.CacheKey, r.Outcome, r.TotalTokens, r.LatencyMs)
				}
				return w.Flush()
			}

			var from time.Time
			if since != "" {
				from, err = time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since (use YYYY-MM-DD): %w", err)
				}
			}

			summaries, err := tr.Summary(ctx, from)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tOUTCOME\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL\tAVG LATENCY")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%dms\n",
					s.Model, s.Outcome, s.RequestCount, s.TotalPrompt, s.TotalCompletion, s.TotalTokens, s.AvgLatencyMs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVar(&since, "since", "", "only include usage since this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&recent, "recent", 0, "list the N most recent upstream requests instead of the summary")
	return cmd
}
