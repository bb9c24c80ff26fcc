package main

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"strings"

	"github.com/pario-ai/agronomist/pkg/advisor"
	"github.com/pario-ai/agronomist/pkg/models"
	"github.com/spf13/cobra"
)

func validateDetection(disease string, confidence float64) error {
	if strings.TrimSpace(disease) == "" {
		return errors.New("--disease is required")
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 100 {
		return errors.New("--confidence must be between 0 and 100")
	}
	return nil
}

func newAdviseCmd() *cobra.Command {
	var (
		configPath string
		disease    string
		confidence float64
		imageURL   string
	)

	cmd := &cobra.Command{
		Use:   "advise",
		Short: "Look up an advisory for a single detection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateDetection(disease, confidence); err != nil {
				return err
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			rep := st.newAdvisor(cfg).Lookup(cmd.Context(), models.DetectionInput{
				Disease:    disease,
				Confidence: confidence,
				ImageURL:   imageURL,
			})
			if rep.Outcome != advisor.OutcomeSuccess {
				cmd.PrintErrf("advisory degraded: %s\n", rep.Outcome)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep.Advisory)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVar(&disease, "disease", "", "detected disease label")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "classifier confidence in percent")
	cmd.Flags().StringVar(&imageURL, "image", "", "reference to the analysed image")
	return cmd
}
