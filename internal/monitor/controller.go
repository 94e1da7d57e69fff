// Package monitor implements the experiment controller: a
// single-caller state machine that gates a run behind the safety
// checklist, enforces the duration and servo envelopes, pulls samples
// from a data source on every tick, and hands the finished history to
// an exporter.
//
// The controller performs no internal scheduling and holds no locks.
// An external driver calls Tick repeatedly at its own cadence; exactly
// one call may be in flight at a time.
package monitor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"teslamon/internal/experiment"
	"teslamon/internal/export"
	"teslamon/internal/model"
	"teslamon/internal/sample"
	"teslamon/internal/source"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle          State = "IDLE"
	StateReady         State = "READY"
	StateRunningAuto   State = "RUNNING_AUTO"
	StateRunningManual State = "RUNNING_MANUAL"
	StateFinished      State = "FINISHED"
	StateError         State = "ERROR"
)

// Mode selects whether mid-run actuation commands are accepted. AUTO
// and MANUAL share identical timing, finalization and error logic.
type Mode string

const (
	ModeAuto   Mode = "AUTO"
	ModeManual Mode = "MANUAL"
)

// RunConfig describes one experiment run.
type RunConfig struct {
	Mode            Mode
	Duration        time.Duration
	InitialServoDeg int

	// OutputPath overrides the configured default artifact location
	// when non-empty.
	OutputPath string
}

// Controller drives the experiment. Create one with New; the zero
// value is not usable.
type Controller struct {
	settings experiment.Settings
	src      source.Source
	model    *model.Model
	exporter export.Exporter

	state       State
	checklistOK bool
	cfg         *RunConfig

	// startedAt and endsAt bound the active run window. Both are zero
	// exactly when the state is not RUNNING_*.
	startedAt time.Time
	endsAt    time.Time

	servoDeg     int
	artifactPath string
	errMsg       string

	resourcesOpen bool

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger for the controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "controller"))
	}
}

// WithClock overrides the time source, letting tests drive the run
// window deterministically.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates an idle controller around the given source and exporter,
// with a model calibrated from the settings and a discard logger.
func New(settings experiment.Settings, src source.Source, exporter export.Exporter, options ...Option) *Controller {
	c := &Controller{
		settings: settings,
		src:      src,
		model:    model.New(settings),
		exporter: exporter,

		state:    StateIdle,
		servoDeg: settings.ServoDegDefault,

		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// LastError returns the retained message of the failure that drove the
// controller to ERROR, or the empty string.
func (c *Controller) LastError() string {
	return c.errMsg
}

// ArtifactPath returns the location of the last exported run, or the
// empty string when no run has finished since the last reset.
func (c *Controller) ArtifactPath() string {
	return c.artifactPath
}

// ServoDeg returns the last commanded servo angle.
func (c *Controller) ServoDeg() int {
	return c.servoDeg
}

// History returns a snapshot copy of the processed-sample history.
func (c *Controller) History() []sample.Processed {
	return c.model.History()
}

// RemainingTime returns the time left in the active run window. The
// second return is false when no window is active.
func (c *Controller) RemainingTime() (time.Duration, bool) {
	if c.endsAt.IsZero() {
		return 0, false
	}

	remaining := c.endsAt.Sub(c.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// SetChecklist records the operator's safety checklist confirmation.
// Confirming moves IDLE to READY; withdrawing moves READY back to
// IDLE. Other states are unaffected so a later checklist toggle cannot
// snap the controller out of FINISHED, ERROR or a running state.
func (c *Controller) SetChecklist(ok bool) {
	c.checklistOK = ok

	if ok && c.state == StateIdle {
		c.state = StateReady
	}
	if !ok && c.state == StateReady {
		c.state = StateIdle
	}
}

// StartExperiment validates the run configuration, prepares the data
// source and opens the run window. The checklist and the duration
// bound are independent safety interlocks; either failing rejects the
// start with no state change.
func (c *Controller) StartExperiment(cfg RunConfig) error {
	if !c.checklistOK {
		return experiment.NewValidationError("safety checklist not confirmed")
	}
	if c.state != StateReady {
		return experiment.NewValidationError(fmt.Sprintf("cannot start from state %s", c.state))
	}

	if cfg.Duration < c.settings.MinDuration {
		return experiment.NewValidationError(fmt.Sprintf(
			"duration %s below minimum %s", cfg.Duration, c.settings.MinDuration))
	}
	if cfg.Duration > c.settings.MaxDuration {
		return experiment.NewValidationError(fmt.Sprintf(
			"duration %s exceeds safety limit %s", cfg.Duration, c.settings.MaxDuration))
	}

	if cfg.OutputPath == "" {
		cfg.OutputPath = c.settings.OutputPath
	}

	c.model.Reset()
	c.artifactPath = ""
	c.errMsg = ""

	if err := c.openResources(); err != nil {
		return fmt.Errorf("opening data source: %w", err)
	}

	if streamable, ok := c.src.(source.Streamable); ok {
		if err := streamable.StartStream(); err != nil {
			return fmt.Errorf("starting device stream: %w", err)
		}
	}

	// The initial angle must be applied before the run window opens; a
	// rejected angle leaves the controller in READY.
	if err := c.applyServoAngle(cfg.InitialServoDeg); err != nil {
		return err
	}

	c.cfg = &cfg
	c.startedAt = c.now()
	c.endsAt = c.startedAt.Add(cfg.Duration)

	if cfg.Mode == ModeManual {
		c.state = StateRunningManual
	} else {
		c.state = StateRunningAuto
	}

	c.logger.Info("experiment started",
		slog.String("mode", string(cfg.Mode)),
		slog.Duration("duration", cfg.Duration),
		slog.Int("servoDeg", cfg.InitialServoDeg))

	return nil
}

// Tick advances the run by one step: it finalizes an expired window,
// otherwise reads one sample and feeds it to the model. Outside a
// running state it does nothing. A read failure is fatal to the run:
// the controller moves to ERROR and only Reset recovers.
func (c *Controller) Tick() error {
	if !c.running() {
		return nil
	}

	if remaining, ok := c.RemainingTime(); ok && remaining <= 0 {
		return c.finalize()
	}

	raw, err := c.src.ReadSample()
	if err != nil {
		c.failRun(fmt.Errorf("reading sample: %w", err))
		return err
	}

	c.model.ProcessSample(raw)
	return nil
}

// SetServoAngle repositions the servo mid-run. Only accepted while
// running in manual mode.
func (c *Controller) SetServoAngle(deg int) error {
	if c.state != StateRunningManual {
		return experiment.NewValidationError("servo control only allowed in manual mode")
	}
	return c.applyServoAngle(deg)
}

// PreviewServoAngle repositions the servo before a run, from READY,
// letting the operator verify actuation without opening the timing
// window.
func (c *Controller) PreviewServoAngle(deg int) error {
	if c.state != StateReady {
		return experiment.NewValidationError("servo preview only allowed in READY")
	}

	if err := c.openResources(); err != nil {
		return fmt.Errorf("opening data source: %w", err)
	}
	return c.applyServoAngle(deg)
}

// StopExperiment ends the active run and exports its history. Outside
// a running state it does nothing.
func (c *Controller) StopExperiment() error {
	if !c.running() {
		return nil
	}
	return c.finalize()
}

// Reset returns the controller to IDLE from any state: an active run
// is stopped and exported first, then the history, run configuration,
// artifact pointer, timing window, checklist flag and error message
// are cleared and the data source is released. Secondary failures
// during teardown are logged, not propagated.
func (c *Controller) Reset() {
	if c.running() {
		if err := c.StopExperiment(); err != nil {
			c.logger.Warn("stopping run during reset", slog.String("error", err.Error()))
		}
	}

	if err := c.closeResources(); err != nil {
		c.logger.Warn("releasing data source during reset", slog.String("error", err.Error()))
	}

	c.model.Reset()
	c.cfg = nil
	c.artifactPath = ""
	c.startedAt = time.Time{}
	c.endsAt = time.Time{}
	c.checklistOK = false
	c.errMsg = ""
	c.servoDeg = c.settings.ServoDegDefault
	c.state = StateIdle
}

func (c *Controller) running() bool {
	return c.state == StateRunningAuto || c.state == StateRunningManual
}

// applyServoAngle validates the angle against the envelope, records it
// and forwards it to the source when it supports actuation.
func (c *Controller) applyServoAngle(deg int) error {
	if !c.settings.ValidServoDeg(deg) {
		return experiment.NewValidationError(fmt.Sprintf(
			"servo angle %d out of range [%d, %d]", deg, c.settings.ServoDegMin, c.settings.ServoDegMax))
	}

	if actuatable, ok := c.src.(source.Actuatable); ok {
		if err := actuatable.SetServoAngle(deg); err != nil {
			return err
		}
	}

	c.servoDeg = deg
	return nil
}

// openResources connects the source once per run when it holds
// external resources. Connect failures surface to the caller: this is
// an explicit startup path, not teardown.
func (c *Controller) openResources() error {
	if c.resourcesOpen {
		return nil
	}

	if connectable, ok := c.src.(source.Connectable); ok {
		if err := connectable.Connect(); err != nil {
			return err
		}
	}

	c.resourcesOpen = true
	return nil
}

// closeResources stops streaming and releases the source, collecting
// secondary failures instead of aborting the teardown.
func (c *Controller) closeResources() error {
	if !c.resourcesOpen {
		return nil
	}

	var errs []error
	if streamable, ok := c.src.(source.Streamable); ok {
		if err := streamable.StopStream(); err != nil {
			errs = append(errs, err)
		}
	}
	if connectable, ok := c.src.(source.Connectable); ok {
		if err := connectable.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.resourcesOpen = false
	return errors.Join(errs...)
}

// stopStreamBestEffort silences the device after a mid-run failure or
// at finalization; a secondary failure here must not mask the outcome.
func (c *Controller) stopStreamBestEffort() {
	streamable, ok := c.src.(source.Streamable)
	if !ok {
		return
	}
	if err := streamable.StopStream(); err != nil {
		c.logger.Warn("stopping device stream", slog.String("error", err.Error()))
	}
}

// failRun records a fatal run failure and moves to ERROR. The timing
// window is cleared; it only exists while running.
func (c *Controller) failRun(err error) {
	c.errMsg = err.Error()
	c.state = StateError
	c.startedAt = time.Time{}
	c.endsAt = time.Time{}

	c.stopStreamBestEffort()

	c.logger.Error("run failed", slog.String("error", err.Error()))
}

// finalize ends the run: stop streaming, export the full ordered
// history to the run's output path and close the timing window. An
// export failure is fatal and drives the controller to ERROR.
func (c *Controller) finalize() error {
	c.stopStreamBestEffort()

	outputPath := c.settings.OutputPath
	if c.cfg != nil && c.cfg.OutputPath != "" {
		outputPath = c.cfg.OutputPath
	}

	history := c.model.History()
	artifact, err := c.exporter.Export(history, outputPath)
	if err != nil {
		err = fmt.Errorf("exporting run: %w", err)
		c.errMsg = err.Error()
		c.state = StateError
		c.startedAt = time.Time{}
		c.endsAt = time.Time{}
		return err
	}

	c.artifactPath = artifact
	c.state = StateFinished
	c.startedAt = time.Time{}
	c.endsAt = time.Time{}

	c.logger.Info("experiment finished",
		slog.Int("samples", len(history)),
		slog.String("artifact", artifact))

	return nil
}
