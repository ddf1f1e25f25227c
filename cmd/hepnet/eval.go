package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calolab/hepnet/hepdata"
)

func newEvalCommand() *cobra.Command {
	var (
		configPath string
		checkpoint string
		full       bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score a trained checkpoint against labeled events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if checkpoint != "" {
				cfg.Checkpoint = checkpoint
			}

			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return runEval(cfg, full, logger.Infof)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (required)")
	cmd.Flags().StringVarP(&checkpoint, "checkpoint", "m", "", "checkpoint to evaluate (overrides config)")
	cmd.Flags().BoolVar(&full, "full", false, "evaluate the whole file instead of the held-out split")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runEval(cfg *FileConfig, full bool, logf func(string, ...interface{})) error {
	ds, err := hepdata.Load(cfg.DataConfig())
	if err != nil {
		return err
	}

	eval := ds
	if !full {
		_, test, err := ds.Split(cfg.TrainFraction())
		if err != nil {
			return err
		}
		eval = test
	}
	sig, bkg := eval.ClassCounts()
	logf("Evaluating %d events (%d signal, %d background)", eval.Len(), sig, bkg)

	trainer, err := loadTrainerFromCheckpoint(cfg)
	if err != nil {
		return err
	}
	defer trainer.Close()

	stats, err := trainer.Evaluate(eval)
	if err != nil {
		return fmt.Errorf("evaluation failed: %v", err)
	}
	logf("loss=%.4f accuracy=%.2f%% batch_loss_std=%.4f", stats.Loss, stats.Accuracy*100, stats.BatchLossStd)
	return nil
}
