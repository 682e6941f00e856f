package main

import (
	"fmt"
	"io"
	"os"

	"github.com/lucid-vigil/markov-sentinel/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	trainLabel     string
	trainThreshold float64
	trainOut       string
)

var trainCmd = &cobra.Command{
	Use:   "train <state>",
	Short: "Build a model snapshot from a behaviour string",
	Long: `Train a Markov chain on a state string and write the model snapshot,
ready to be dropped into the model directory.`,
	Example: `  markov-sentinel train --label From-Botnet-tcp-CC-HTTP --threshold 1.1 --out models/cc '88*y*y*h*h*'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runTrain,
}

func init() {
	trainCmd.Flags().StringVarP(&trainLabel, "label", "l", "", "model label, e.g. From-Botnet-tcp-CC (required)")
	trainCmd.Flags().Float64VarP(&trainThreshold, "threshold", "t", 1.0, "distance threshold for a match")
	trainCmd.Flags().StringVarP(&trainOut, "out", "o", "", "snapshot file to write (default stdout)")
	_ = trainCmd.MarkFlagRequired("label")
}

func runTrain(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}

	snap, err := models.SnapshotFromTraining(args[0], trainLabel, trainThreshold)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if trainOut != "" {
		f, err := os.Create(trainOut)
		if err != nil {
			return fmt.Errorf("create snapshot: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := models.WriteSnapshot(w, snap); err != nil {
		return err
	}

	log.Info().
		Str("label", trainLabel).
		Int("symbols", len([]rune(args[0]))).
		Float64("self_probability", snap.SelfProbability).
		Str("out", trainOut).
		Msg("Model trained")
	return nil
}
