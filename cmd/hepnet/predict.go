package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/calolab/hepnet/hepdata"
	"github.com/calolab/hepnet/training"
)

func newPredictCommand() *cobra.Command {
	var (
		configPath string
		checkpoint string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Print per-event class predictions from a trained checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if checkpoint != "" {
				cfg.Checkpoint = checkpoint
			}
			return runPredict(cfg, limit, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (required)")
	cmd.Flags().StringVarP(&checkpoint, "checkpoint", "m", "", "checkpoint to use (overrides config)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "print at most n events (0 prints all)")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runPredict(cfg *FileConfig, limit int, out io.Writer) error {
	ds, err := hepdata.Load(cfg.DataConfig())
	if err != nil {
		return err
	}

	trainer, err := loadTrainerFromCheckpoint(cfg)
	if err != nil {
		return err
	}
	defer trainer.Close()

	probs, err := trainer.Probabilities(ds)
	if err != nil {
		return fmt.Errorf("prediction failed: %v", err)
	}
	raw := probs.Data().([]float32)

	n := ds.Len()
	if limit > 0 && limit < n {
		n = limit
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "event\tlabel\tprediction\tp(signal)")
	for i := 0; i < n; i++ {
		_, label := ds.At(i)
		pSignal := raw[i*2+hepdata.LabelSignal]
		pred := hepdata.LabelBackground
		if pSignal > raw[i*2+hepdata.LabelBackground] {
			pred = hepdata.LabelSignal
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\n", i, className(label), className(pred), pSignal)
	}
	return w.Flush()
}

func className(label int) string {
	if label == hepdata.LabelSignal {
		return "signal"
	}
	return "background"
}

// loadTrainerFromCheckpoint restores a trainer for inference-only use.
// The stored spec travels with the weights, so the model section of
// the config only selects the data shape checks.
func loadTrainerFromCheckpoint(cfg *FileConfig) (*training.Trainer, error) {
	quiet := func(string, ...interface{}) {}
	trainer, err := training.LoadCheckpoint(cfg.Checkpoint, cfg.TrainerConfig(quiet))
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %v", cfg.Checkpoint, err)
	}
	return trainer, nil
}
