package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/lucid-vigil/markov-sentinel/pkg/api"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:     "models",
	Short:   "List the model library",
	Example: `  markov-sentinel models --models-dir models`,
	Args:    cobra.NoArgs,
	RunE:    runModels,
}

func init() {
	modelsCmd.Flags().String("models-dir", "models", "directory of model snapshots")
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lib, err := loadLibrary(cfg.Models.Dir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROTOCOL\tCLASS\tTHRESHOLD\tLENGTH\tLABEL")
	for _, m := range lib.Models() {
		info := api.Describe(m)
		class := "malicious"
		if info.Benign {
			class = "benign"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%g\t%d\t%s\n", info.ID, info.Protocol, class, info.Threshold, info.TrainingLen, info.Label)
	}
	return w.Flush()
}
