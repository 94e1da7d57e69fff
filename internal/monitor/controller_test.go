package monitor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teslamon/internal/experiment"
	"teslamon/internal/sample"
	"teslamon/internal/source"
)

// fakeClock lets tests move through the run window without sleeping.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 11, 3, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// fakeSource implements every capability and records the calls.
type fakeSource struct {
	tMillis int64
	readErr error

	reads        int
	connects     int
	closes       int
	startStreams int
	stopStreams  int
	servoAngles  []int

	connectErr error
	servoErr   error
}

func (f *fakeSource) ReadSample() (sample.Raw, error) {
	if f.readErr != nil {
		return sample.Raw{}, f.readErr
	}

	f.reads++
	f.tMillis += 50
	return sample.Raw{TMillis: f.tMillis, ServoDeg: 0, VDiv: 0.95, VRF: 0.6, VPhoto: 0.1}, nil
}

func (f *fakeSource) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects++
	return nil
}

func (f *fakeSource) Close() error {
	f.closes++
	return nil
}

func (f *fakeSource) StartStream() error { f.startStreams++; return nil }
func (f *fakeSource) StopStream() error  { f.stopStreams++; return nil }

func (f *fakeSource) SetServoAngle(deg int) error {
	if f.servoErr != nil {
		return f.servoErr
	}
	f.servoAngles = append(f.servoAngles, deg)
	return nil
}

// bareSource exposes only the mandatory read method, no optional
// capabilities.
type bareSource struct {
	tMillis int64
}

func (b *bareSource) ReadSample() (sample.Raw, error) {
	b.tMillis += 50
	return sample.Raw{TMillis: b.tMillis, VDiv: 0.95, VRF: 0.6, VPhoto: 0.1}, nil
}

// fakeExporter records what it was asked to export.
type fakeExporter struct {
	histories [][]sample.Processed
	paths     []string
	err       error
}

func (e *fakeExporter) Export(history []sample.Processed, outputPath string) (string, error) {
	if e.err != nil {
		return "", e.err
	}

	e.histories = append(e.histories, history)
	e.paths = append(e.paths, outputPath)
	return outputPath, nil
}

func newTestController(t *testing.T) (*Controller, *fakeSource, *fakeExporter, *fakeClock) {
	t.Helper()
	src := &fakeSource{}
	exporter := &fakeExporter{}
	clock := newFakeClock()
	ctrl := New(experiment.Default(), src, exporter, WithClock(clock.Now))

	return ctrl, src, exporter, clock
}

func autoRun(d time.Duration) RunConfig {
	return RunConfig{Mode: ModeAuto, Duration: d, OutputPath: "out/run.csv"}
}

func TestChecklistTransitions(t *testing.T) {
	ctrl, _, _, _ := newTestController(t)

	assert.Equal(t, StateIdle, ctrl.State())

	ctrl.SetChecklist(true)
	assert.Equal(t, StateReady, ctrl.State())

	ctrl.SetChecklist(false)
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestChecklist_NoSnapBack(t *testing.T) {
	ctrl, _, _, clock := newTestController(t)

	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))

	// Toggling the checklist mid-run must not disturb the state.
	ctrl.SetChecklist(false)
	assert.Equal(t, StateRunningAuto, ctrl.State())
	ctrl.SetChecklist(true)
	assert.Equal(t, StateRunningAuto, ctrl.State())

	clock.Advance(6 * time.Second)
	require.NoError(t, ctrl.Tick())
	require.Equal(t, StateFinished, ctrl.State())

	// Same once finished.
	ctrl.SetChecklist(false)
	assert.Equal(t, StateFinished, ctrl.State())
	ctrl.SetChecklist(true)
	assert.Equal(t, StateFinished, ctrl.State())
}

func TestStartExperiment_RequiresChecklist(t *testing.T) {
	ctrl, _, _, _ := newTestController(t)

	err := ctrl.StartExperiment(autoRun(5 * time.Second))
	assert.True(t, experiment.IsValidationError(err))
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestStartExperiment_DurationBounds(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		wantErr  bool
	}{
		{"below minimum", 500 * time.Millisecond, true},
		{"at minimum", time.Second, false},
		{"at maximum", 20 * time.Second, false},
		{"exceeds safety limit", 25 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, _, _, _ := newTestController(t)
			ctrl.SetChecklist(true)

			err := ctrl.StartExperiment(autoRun(tt.duration))
			if tt.wantErr {
				assert.True(t, experiment.IsValidationError(err))
				assert.Equal(t, StateReady, ctrl.State())

				_, active := ctrl.RemainingTime()
				assert.False(t, active)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, StateRunningAuto, ctrl.State())
			}
		})
	}
}

func TestStartExperiment(t *testing.T) {
	ctrl, src, _, _ := newTestController(t)
	ctrl.SetChecklist(true)

	cfg := RunConfig{Mode: ModeAuto, Duration: 5 * time.Second, InitialServoDeg: 10}
	require.NoError(t, ctrl.StartExperiment(cfg))

	assert.Equal(t, StateRunningAuto, ctrl.State())
	assert.Equal(t, 1, src.connects)
	assert.Equal(t, 1, src.startStreams)
	assert.Equal(t, []int{10}, src.servoAngles)

	remaining, active := ctrl.RemainingTime()
	require.True(t, active)
	assert.Equal(t, 5*time.Second, remaining)
	assert.Empty(t, ctrl.LastError())
}

func TestStartExperiment_ManualMode(t *testing.T) {
	ctrl, _, _, _ := newTestController(t)
	ctrl.SetChecklist(true)

	require.NoError(t, ctrl.StartExperiment(RunConfig{Mode: ModeManual, Duration: 5 * time.Second}))
	assert.Equal(t, StateRunningManual, ctrl.State())
}

func TestStartExperiment_BadInitialServoAngle(t *testing.T) {
	ctrl, _, _, _ := newTestController(t)
	ctrl.SetChecklist(true)

	err := ctrl.StartExperiment(RunConfig{Mode: ModeAuto, Duration: 5 * time.Second, InitialServoDeg: 45})
	assert.True(t, experiment.IsValidationError(err))

	// The rejection happens before the run window opens.
	assert.Equal(t, StateReady, ctrl.State())
	_, active := ctrl.RemainingTime()
	assert.False(t, active)
}

func TestStartExperiment_BareSource(t *testing.T) {
	// A source without optional capabilities still works: the
	// controller branches on capability presence, not variant
	// identity.
	clock := newFakeClock()
	exporter := &fakeExporter{}
	ctrl := New(experiment.Default(), &bareSource{}, exporter, WithClock(clock.Now))

	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))
	require.NoError(t, ctrl.Tick())

	clock.Advance(6 * time.Second)
	require.NoError(t, ctrl.Tick())
	assert.Equal(t, StateFinished, ctrl.State())
}

func TestStartExperiment_ConnectFailureSurfaces(t *testing.T) {
	ctrl, src, _, _ := newTestController(t)
	src.connectErr = errors.New("port busy")

	ctrl.SetChecklist(true)
	err := ctrl.StartExperiment(autoRun(5 * time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port busy")
	assert.Equal(t, StateReady, ctrl.State())
}

func TestTick(t *testing.T) {
	ctrl, src, _, clock := newTestController(t)
	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))

	prev, _ := ctrl.RemainingTime()
	for i := 0; i < 10; i++ {
		require.NoError(t, ctrl.Tick())
		clock.Advance(50 * time.Millisecond)

		remaining, active := ctrl.RemainingTime()
		require.True(t, active)
		assert.LessOrEqual(t, remaining, prev)
		prev = remaining
	}

	// Every successful read lands in the history.
	assert.Len(t, ctrl.History(), 10)
	assert.Equal(t, 10, src.reads)
}

func TestTick_NoOpOutsideRunning(t *testing.T) {
	ctrl, src, _, _ := newTestController(t)

	require.NoError(t, ctrl.Tick())
	assert.Zero(t, src.reads)

	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.Tick())
	assert.Zero(t, src.reads)
	assert.Equal(t, StateReady, ctrl.State())
}

func TestTick_AutoFinalize(t *testing.T) {
	ctrl, src, exporter, clock := newTestController(t)
	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))

	// Expired window finalizes without reading; even a zero-sample run
	// produces an artifact.
	clock.Advance(5 * time.Second)
	require.NoError(t, ctrl.Tick())

	assert.Equal(t, StateFinished, ctrl.State())
	assert.Equal(t, "out/run.csv", ctrl.ArtifactPath())
	assert.Equal(t, 1, src.stopStreams)

	require.Len(t, exporter.histories, 1)
	assert.Empty(t, exporter.histories[0])

	_, active := ctrl.RemainingTime()
	assert.False(t, active)
	assert.Zero(t, src.reads)
}

func TestTick_ReadFailure(t *testing.T) {
	tests := []struct {
		name    string
		readErr error
	}{
		{"timeout", source.ErrTimeout},
		{"end of data", fmt.Errorf("%w: run.csv", source.ErrEndOfData)},
		{"io failure", errors.New("device unplugged")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, src, exporter, _ := newTestController(t)
			ctrl.SetChecklist(true)
			require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))

			src.readErr = tt.readErr
			err := ctrl.Tick()
			require.Error(t, err)

			assert.Equal(t, StateError, ctrl.State())
			assert.Contains(t, ctrl.LastError(), tt.readErr.Error())
			assert.Equal(t, 1, src.stopStreams)
			assert.Empty(t, exporter.histories, "a failed run is not exported")

			_, active := ctrl.RemainingTime()
			assert.False(t, active)

			// The run cannot resume.
			require.NoError(t, ctrl.Tick())
			assert.Equal(t, StateError, ctrl.State())
		})
	}
}

func TestSetServoAngle(t *testing.T) {
	ctrl, src, _, _ := newTestController(t)
	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(RunConfig{Mode: ModeManual, Duration: 5 * time.Second, InitialServoDeg: 0}))

	require.NoError(t, ctrl.SetServoAngle(20))
	assert.Equal(t, 20, ctrl.ServoDeg())
	assert.Equal(t, []int{0, 20}, src.servoAngles)

	err := ctrl.SetServoAngle(31)
	assert.True(t, experiment.IsValidationError(err))
	assert.Equal(t, 20, ctrl.ServoDeg())
}

func TestSetServoAngle_OnlyInManualMode(t *testing.T) {
	ctrl, _, _, _ := newTestController(t)
	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))

	err := ctrl.SetServoAngle(10)
	assert.True(t, experiment.IsValidationError(err))
}

func TestPreviewServoAngle(t *testing.T) {
	ctrl, src, _, _ := newTestController(t)

	// Not available before the checklist.
	err := ctrl.PreviewServoAngle(10)
	assert.True(t, experiment.IsValidationError(err))

	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.PreviewServoAngle(10))
	assert.Equal(t, []int{10}, src.servoAngles)
	assert.Equal(t, StateReady, ctrl.State())

	// Previewing must not open a run window.
	_, active := ctrl.RemainingTime()
	assert.False(t, active)

	// Not available mid-run either.
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))
	err = ctrl.PreviewServoAngle(15)
	assert.True(t, experiment.IsValidationError(err))
}

func TestStopExperiment(t *testing.T) {
	ctrl, src, exporter, _ := newTestController(t)
	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))

	require.NoError(t, ctrl.Tick())
	require.NoError(t, ctrl.Tick())
	require.NoError(t, ctrl.StopExperiment())

	assert.Equal(t, StateFinished, ctrl.State())
	require.Len(t, exporter.histories, 1)
	assert.Len(t, exporter.histories[0], 2)
	assert.Equal(t, "out/run.csv", exporter.paths[0])
	assert.Equal(t, 1, src.stopStreams)

	// Stopping again is a no-op.
	require.NoError(t, ctrl.StopExperiment())
	assert.Len(t, exporter.histories, 1)
}

func TestExportFailure(t *testing.T) {
	ctrl, _, exporter, _ := newTestController(t)
	exporter.err = errors.New("disk full")

	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))

	err := ctrl.StopExperiment()
	require.Error(t, err)
	assert.Equal(t, StateError, ctrl.State())
	assert.Contains(t, ctrl.LastError(), "disk full")
	assert.Empty(t, ctrl.ArtifactPath())
}

func TestReset(t *testing.T) {
	ctrl, src, exporter, _ := newTestController(t)
	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))
	require.NoError(t, ctrl.Tick())

	// Resetting mid-run stops the experiment first, which exports the
	// partial history; the artifact pointer is then cleared with the
	// rest of the state.
	ctrl.Reset()

	assert.Equal(t, StateIdle, ctrl.State())
	assert.Empty(t, ctrl.History())
	assert.Empty(t, ctrl.ArtifactPath())
	assert.Empty(t, ctrl.LastError())
	require.Len(t, exporter.histories, 1)
	assert.Len(t, exporter.histories[0], 1)
	assert.Equal(t, 1, src.closes)

	_, active := ctrl.RemainingTime()
	assert.False(t, active)

	// The checklist flag was cleared: starting again needs both steps.
	err := ctrl.StartExperiment(autoRun(5 * time.Second))
	assert.True(t, experiment.IsValidationError(err))

	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))
	assert.Equal(t, 2, src.connects)
}

func TestReset_FromError(t *testing.T) {
	ctrl, src, _, _ := newTestController(t)
	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))

	src.readErr = source.ErrTimeout
	require.Error(t, ctrl.Tick())
	require.Equal(t, StateError, ctrl.State())

	ctrl.Reset()
	assert.Equal(t, StateIdle, ctrl.State())
	assert.Empty(t, ctrl.LastError())
	assert.Equal(t, 1, src.closes)
}

func TestRemainingTime_Clamped(t *testing.T) {
	ctrl, _, _, clock := newTestController(t)
	ctrl.SetChecklist(true)
	require.NoError(t, ctrl.StartExperiment(autoRun(5*time.Second)))

	clock.Advance(10 * time.Second)
	remaining, active := ctrl.RemainingTime()
	require.True(t, active)
	assert.Equal(t, time.Duration(0), remaining)
}
