package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calolab/hepnet/hepdata"
	"github.com/calolab/hepnet/training"
)

func newTrainCommand() *cobra.Command {
	var (
		configPath string
		checkpoint string
		resume     bool
		epochs     int
		batchSize  int
		lr         float64
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a classifier and write a checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			// Flags beat the config file
			if epochs > 0 {
				cfg.Training.Epochs = epochs
			}
			if batchSize > 0 {
				cfg.Training.BatchSize = batchSize
			}
			if lr > 0 {
				cfg.Training.LearningRate = lr
			}
			if checkpoint != "" {
				cfg.Checkpoint = checkpoint
			}

			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return runTrain(cfg, resume, logger.Infof)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (required)")
	cmd.Flags().StringVarP(&checkpoint, "checkpoint", "o", "", "checkpoint output path (overrides config)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume training from the checkpoint path")
	cmd.Flags().IntVar(&epochs, "epochs", 0, "override the configured epoch count")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "override the configured batch size")
	cmd.Flags().Float64Var(&lr, "learning-rate", 0, "override the configured learning rate")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runTrain(cfg *FileConfig, resume bool, logf func(string, ...interface{})) error {
	logf("Loading events from %s", cfg.Data.File)
	ds, err := hepdata.Load(cfg.DataConfig())
	if err != nil {
		return err
	}
	sig, bkg := ds.ClassCounts()
	logf("Loaded %d events (%d signal, %d background)", ds.Len(), sig, bkg)

	train, test, err := ds.Split(cfg.TrainFraction())
	if err != nil {
		return err
	}
	logf("Split: %d training, %d test events", train.Len(), test.Len())

	// Trainer epoch summaries arrive with a trailing newline
	epochLogf := func(format string, args ...interface{}) {
		logf(strings.TrimSuffix(format, "\n"), args...)
	}

	var trainer *training.Trainer
	if resume {
		trainer, err = training.LoadCheckpoint(cfg.Checkpoint, cfg.TrainerConfig(epochLogf))
		if err != nil {
			return fmt.Errorf("failed to resume from %s: %v", cfg.Checkpoint, err)
		}
		logf("Resumed from %s at epoch %d", cfg.Checkpoint, trainer.Epoch())
	} else {
		spec, err := cfg.ModelSpec(cfg.Training.BatchSize)
		if err != nil {
			return err
		}
		logf("Model: %s, %d parameters", cfg.Model.Type, spec.TotalParameters)

		trainer, err = training.NewTrainer(spec, cfg.TrainerConfig(epochLogf))
		if err != nil {
			return err
		}
	}
	defer trainer.Close()

	if _, err := trainer.Fit(train, test); err != nil {
		return fmt.Errorf("training failed: %v", err)
	}

	stats, err := trainer.Evaluate(test)
	if err != nil {
		return fmt.Errorf("final evaluation failed: %v", err)
	}
	logf("Test set: loss=%.4f accuracy=%.2f%% (%d events)",
		stats.Loss, stats.Accuracy*100, stats.Samples)

	desc := fmt.Sprintf("%s classifier, test accuracy %.2f%%", cfg.Model.Type, stats.Accuracy*100)
	if err := trainer.SaveCheckpoint(cfg.Checkpoint, desc); err != nil {
		return err
	}
	logf("Checkpoint written to %s", cfg.Checkpoint)
	return nil
}
