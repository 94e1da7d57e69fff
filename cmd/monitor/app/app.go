// Package app wires the configured data source, exporter and
// controller together and drives a complete headless experiment run.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"teslamon/internal/experiment"
	"teslamon/internal/export"
	"teslamon/internal/monitor"
	"teslamon/internal/source"
)

// Source kinds selectable from the command line.
const (
	SourceSerial    = "serial"
	SourceSynthetic = "synthetic"
	SourceReplay    = "replay"
)

// Options are the per-invocation parameters of a run, layered on top
// of the configuration file.
type Options struct {
	Source     string
	ReplayFile string

	Mode     monitor.Mode
	Duration time.Duration
	ServoDeg int

	// Output overrides the configured artifact path when non-empty.
	Output string

	// AckChecklist is the operator's confirmation that the physical
	// safety checklist was completed. Without it the run is refused.
	AckChecklist bool
}

// Run executes one experiment end to end and returns the artifact
// path. It blocks until the run finishes, fails, or ctx is cancelled;
// cancellation stops the experiment cleanly and still exports the
// partial history.
func Run(ctx context.Context, config *Config, opts Options, logger *slog.Logger) (string, error) {
	settings, err := config.ExperimentSettings()
	if err != nil {
		return "", err
	}

	src, err := createSource(opts, settings, logger)
	if err != nil {
		return "", fmt.Errorf("creating data source: %w", err)
	}

	outputPath := settings.OutputPath
	if opts.Output != "" {
		outputPath = opts.Output
	}

	ctrl := monitor.New(settings, src, createExporter(outputPath), monitor.WithLogger(logger))
	defer ctrl.Reset()

	ctrl.SetChecklist(opts.AckChecklist)

	servoDeg := opts.ServoDeg
	if servoDeg < 0 {
		servoDeg = settings.ServoDegDefault
	}

	err = ctrl.StartExperiment(monitor.RunConfig{
		Mode:            opts.Mode,
		Duration:        opts.Duration,
		InitialServoDeg: servoDeg,
		OutputPath:      outputPath,
	})
	if err != nil {
		return "", fmt.Errorf("starting experiment: %w", err)
	}

	// The serial source paces the loop through its blocking read; the
	// synthetic source returns immediately, so the driver sleeps one
	// sampling period per tick to approximate real time.
	var pace time.Duration
	if opts.Source == SourceSynthetic || opts.Source == "" {
		pace = settings.SamplePeriod
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, stopping experiment")
			if err = ctrl.StopExperiment(); err != nil {
				return "", err
			}
		default:
		}

		if err = ctrl.Tick(); err != nil {
			return "", fmt.Errorf("run failed: %s", ctrl.LastError())
		}

		switch ctrl.State() {
		case monitor.StateFinished:
			logger.Info("run complete",
				slog.String("samples", humanize.Comma(int64(len(ctrl.History())))),
				slog.String("artifact", ctrl.ArtifactPath()))
			return ctrl.ArtifactPath(), nil

		case monitor.StateError:
			return "", fmt.Errorf("run failed: %s", ctrl.LastError())

		case monitor.StateRunningAuto, monitor.StateRunningManual:
			if pace > 0 {
				time.Sleep(pace)
			}

		default:
			return "", fmt.Errorf("unexpected controller state %s", ctrl.State())
		}
	}
}

// createSource builds the data source named by the options. The
// controller only ever sees the source.Source contract.
func createSource(opts Options, settings experiment.Settings, logger *slog.Logger) (source.Source, error) {
	switch opts.Source {
	case SourceSerial:
		return source.NewSerial(settings, source.WithSerialLogger(logger)), nil

	case SourceSynthetic, "":
		return source.NewSynthetic(settings), nil

	case SourceReplay:
		if opts.ReplayFile == "" {
			return nil, fmt.Errorf("replay source requires a capture file")
		}
		return source.NewReplay(opts.ReplayFile), nil

	default:
		return nil, fmt.Errorf("unknown source type %q", opts.Source)
	}
}

// createExporter picks the export backend from the artifact path
// extension: .sqlite and .db select SQLite, anything else CSV.
func createExporter(outputPath string) export.Exporter {
	switch filepath.Ext(outputPath) {
	case ".sqlite", ".db":
		return export.NewSqlite()
	default:
		return export.NewCSV()
	}
}
