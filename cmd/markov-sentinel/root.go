package main

import (
	"fmt"
	"os"

	"github.com/lucid-vigil/markov-sentinel/pkg/config"
	"github.com/lucid-vigil/markov-sentinel/pkg/logger"
	"github.com/lucid-vigil/markov-sentinel/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "markov-sentinel",
	Short: "Behavioural traffic classifier built on Markov chain models",
	Long: `markov-sentinel compares the behaviour string of a network connection
against a library of trained Markov chain models and reports which known
behaviour, if any, the connection matches.

Examples:
  markov-sentinel serve --input flows.jsonl          # Classify a stream of observations
  markov-sentinel classify tcp '88*y*y*h*h*'         # Classify one state string
  markov-sentinel train --label From-Botnet-tcp-CC --threshold 1.1 --out models/cc '88*y*y*'
  markov-sentinel models --models-dir models         # List the model library`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml or /etc/markov-sentinel/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(modelsCmd)
}

// loadConfig reads the configuration with cmd's flags layered on top, and
// initializes the logger. Logs go to stderr so stdout carries only results.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger.InitLoggerTo(os.Stderr, cfg.LogLevel)
	return cfg, nil
}

// loadLibrary loads every snapshot under dir.
func loadLibrary(dir string) (*models.Library, error) {
	lib := models.NewLibrary(log.Logger)
	n, err := lib.LoadFromDirectory(dir)
	if err != nil {
		return nil, fmt.Errorf("load models from %s: %w", dir, err)
	}
	log.Info().Int("models", n).Str("dir", dir).Msg("Model library loaded")
	return lib, nil
}
