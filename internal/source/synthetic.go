package source

import (
	"fmt"
	"math/rand"
	"time"

	"teslamon/internal/experiment"
	"teslamon/internal/sample"
)

// Synthetic default channel baselines and noise amplitude, in volts.
// Chosen to sit in the middle of the rig's normal operating band.
const (
	defaultVDivBase   = 0.95
	defaultVRFBase    = 0.6
	defaultVPhotoBase = 0.1
	defaultNoise      = 0.02
)

// Synthetic generates plausible raw samples without hardware. Its
// millisecond clock advances by the configured sampling period on
// every read, independent of wall-clock time, so replayed pipelines
// behave deterministically under test drivers of any cadence.
type Synthetic struct {
	settings experiment.Settings

	tMillis  int64
	servoDeg int

	vDivBase   float64
	vRFBase    float64
	vPhotoBase float64

	noiseVDiv   float64
	noiseVRF    float64
	noiseVPhoto float64

	rng *rand.Rand
}

// SyntheticOption configures a Synthetic source.
type SyntheticOption func(*Synthetic)

// WithBaselines overrides the per-channel baseline voltages.
func WithBaselines(vDiv, vRF, vPhoto float64) SyntheticOption {
	return func(s *Synthetic) {
		s.vDivBase = vDiv
		s.vRFBase = vRF
		s.vPhotoBase = vPhoto
	}
}

// WithNoise overrides the per-channel uniform noise amplitudes.
func WithNoise(vDiv, vRF, vPhoto float64) SyntheticOption {
	return func(s *Synthetic) {
		s.noiseVDiv = vDiv
		s.noiseVRF = vRF
		s.noiseVPhoto = vPhoto
	}
}

// WithRand sets the random source, letting tests fix the seed.
func WithRand(rng *rand.Rand) SyntheticOption {
	return func(s *Synthetic) {
		s.rng = rng
	}
}

// NewSynthetic creates a synthetic source starting at the default
// servo angle.
func NewSynthetic(settings experiment.Settings, options ...SyntheticOption) *Synthetic {
	s := &Synthetic{
		settings: settings,
		servoDeg: settings.ServoDegDefault,

		vDivBase:   defaultVDivBase,
		vRFBase:    defaultVRFBase,
		vPhotoBase: defaultVPhotoBase,

		noiseVDiv:   defaultNoise,
		noiseVRF:    defaultNoise,
		noiseVPhoto: defaultNoise,

		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// SetServoAngle validates the angle and records it; subsequent samples
// carry the new position.
func (s *Synthetic) SetServoAngle(deg int) error {
	if !s.settings.ValidServoDeg(deg) {
		return experiment.NewValidationError(fmt.Sprintf(
			"servo angle %d out of range [%d, %d]", deg, s.settings.ServoDegMin, s.settings.ServoDegMax))
	}
	s.servoDeg = deg
	return nil
}

// ReadSample advances the internal clock by one sampling period and
// returns a sample with bounded uniform noise around the baselines.
func (s *Synthetic) ReadSample() (sample.Raw, error) {
	s.tMillis += s.settings.SamplePeriod.Milliseconds()

	return sample.Raw{
		TMillis:  s.tMillis,
		ServoDeg: s.servoDeg,
		VDiv:     s.vDivBase + s.uniform(s.noiseVDiv),
		VRF:      s.vRFBase + s.uniform(s.noiseVRF),
		VPhoto:   s.vPhotoBase + s.uniform(s.noiseVPhoto),
	}, nil
}

// uniform draws from [-amplitude, +amplitude).
func (s *Synthetic) uniform(amplitude float64) float64 {
	return (s.rng.Float64()*2.0 - 1.0) * amplitude
}
