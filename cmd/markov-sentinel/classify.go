package main

import (
	"encoding/json"

	"github.com/lucid-vigil/markov-sentinel/pkg/classifier"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var classifyTupleID string

var classifyCmd = &cobra.Command{
	Use:   "classify <protocol> <state>",
	Short: "Classify one behaviour string",
	Long: `Classify a single state string against the model library and print the
verdict as JSON on stdout.`,
	Example: `  markov-sentinel classify tcp '88*y*y*h*h*' --models-dir models`,
	Args:    cobra.ExactArgs(2),
	RunE:    runClassify,
}

func init() {
	classifyCmd.Flags().String("models-dir", "models", "directory of model snapshots")
	classifyCmd.Flags().StringVar(&classifyTupleID, "tuple-id", "", "identifier reported in the verdict")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lib, err := loadLibrary(cfg.Models.Dir)
	if err != nil {
		return err
	}

	c := classifier.New(lib, nil, log.Logger)
	verdict := c.ClassifyState(args[0], args[1], classifyTupleID)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(verdict)
}
