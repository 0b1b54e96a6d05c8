package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	logpkg "wisefido-ppg/common/logger"
	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/replay"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:      "ppg-replay",
		Usage:     "Replay a recorded PPG signal (timestamp,value CSV) through the processing pipeline",
		Version:   "1.0.0",
		ArgsUsage: "<file.csv | ->",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "tuning",
				Aliases: []string{"t"},
				Usage:   "Path to a TOML tuning file",
				Sources: cli.EnvVars("TUNING_FILE"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "warn",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the full report as JSON",
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("replay failed: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one input file")
	}

	tuning, err := config.LoadTuning(cmd.String("tuning"))
	if err != nil {
		return err
	}

	logger, err := logpkg.NewLogger(cmd.String("log-level"), "console", "ppg-replay")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	var input io.Reader = os.Stdin
	if path := cmd.Args().First(); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		input = f
	}

	report, err := replay.Run(ctx, input, tuning, logger)
	if err != nil {
		return err
	}

	out := os.Stdout
	if cmd.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "samples:     %d (skipped %d)\n", report.Samples, report.Skipped)
	fmt.Fprintf(out, "beats:       %d\n", len(report.Beats))
	fmt.Fprintf(out, "final bpm:   %d\n", report.FinalBPM)
	fmt.Fprintf(out, "arrhythmia:  %d (%s)\n", report.ArrhythmiaCount, report.ArrhythmiaStatus)
	if report.Vitals.SpO2 > 0 {
		fmt.Fprintf(out, "spo2:        %.1f\n", report.Vitals.SpO2)
	}
	if report.Vitals.RespirationRate > 0 {
		fmt.Fprintf(out, "respiration: %.1f/min\n", report.Vitals.RespirationRate)
	}
	return nil
}
