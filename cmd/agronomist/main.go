package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

const defaultConfigPath = "agronomist.yaml"

func main() {
	root := &cobra.Command{
		Use:          "agronomist",
		Short:        "Agronomist: treatment advisories for detected onion diseases",
		Version:      version,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newAdviseCmd(),
		newCacheCmd(),
		newStatsCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
