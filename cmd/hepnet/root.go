package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "hepnet",
		Short: "Train and evaluate binary event classifiers on ROOT ntuples",
		Long: `hepnet trains convolutional and bidirectional LSTM classifiers to
separate signal from background events. The input is a ROOT file with
one TTree per class; models, weights, and training state round-trip
through JSON checkpoints.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newTrainCommand())
	root.AddCommand(newEvalCommand())
	root.AddCommand(newPredictCommand())
	return root
}

// newLogger builds the process logger. Development mode gives the
// human-oriented console encoding.
func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %v", err)
	}
	return logger.Sugar(), nil
}
