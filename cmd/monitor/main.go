package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"teslamon/cmd/monitor/app"
	"teslamon/internal/monitor"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	cliApp := &cli.App{
		Name:  "monitor",
		Usage: "run the coil experiment and export its record",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "source",
				Value: app.SourceSynthetic,
				Usage: "data source: serial, synthetic or replay",
			},
			&cli.StringFlag{
				Name:  "replay-file",
				Usage: "capture file for the replay source",
			},
			&cli.StringFlag{
				Name:  "mode",
				Value: string(monitor.ModeAuto),
				Usage: "experiment mode: auto or manual",
			},
			&cli.DurationFlag{
				Name:    "duration",
				Aliases: []string{"d"},
				Value:   10 * time.Second,
				Usage:   "run duration, within the configured safety bounds",
			},
			&cli.IntFlag{
				Name:  "servo",
				Value: -1,
				Usage: "initial servo angle in degrees (default: configured)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "artifact path; .sqlite/.db selects the SQLite exporter",
			},
			&cli.BoolFlag{
				Name:  "ack-checklist",
				Usage: "confirm the physical safety checklist was completed",
			},
		},
		Action: func(c *cli.Context) error {
			config, err := app.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logLevel.Set(config.LogLevel())

			if !c.Bool("ack-checklist") {
				return fmt.Errorf("refusing to run: confirm the safety checklist with --ack-checklist")
			}

			var mode monitor.Mode
			switch c.String("mode") {
			case "auto":
				mode = monitor.ModeAuto
			case "manual":
				mode = monitor.ModeManual
			default:
				return fmt.Errorf("unknown mode %q", c.String("mode"))
			}

			opts := app.Options{
				Source:       c.String("source"),
				ReplayFile:   c.String("replay-file"),
				Mode:         mode,
				Duration:     c.Duration("duration"),
				ServoDeg:     c.Int("servo"),
				Output:       c.String("output"),
				AckChecklist: true,
			}

			_, err = app.Run(c.Context, config, opts, logger)
			return err
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}
