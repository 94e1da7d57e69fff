package source

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teslamon/internal/experiment"
)

func TestSynthetic_ClockAdvancesByFixedStep(t *testing.T) {
	s := experiment.Default()
	src := NewSynthetic(s, WithRand(rand.New(rand.NewSource(1))))

	for i := 1; i <= 5; i++ {
		raw, err := src.ReadSample()
		require.NoError(t, err)
		assert.Equal(t, int64(i)*s.SamplePeriod.Milliseconds(), raw.TMillis)
	}
}

func TestSynthetic_NoiseStaysBounded(t *testing.T) {
	src := NewSynthetic(experiment.Default(),
		WithRand(rand.New(rand.NewSource(42))),
		WithBaselines(0.95, 0.6, 0.1),
		WithNoise(0.02, 0.02, 0.02))

	for i := 0; i < 1000; i++ {
		raw, err := src.ReadSample()
		require.NoError(t, err)

		assert.InDelta(t, 0.95, raw.VDiv, 0.02)
		assert.InDelta(t, 0.6, raw.VRF, 0.02)
		assert.InDelta(t, 0.1, raw.VPhoto, 0.02)
	}
}

func TestSynthetic_ServoAngle(t *testing.T) {
	s := experiment.Default()
	src := NewSynthetic(s, WithRand(rand.New(rand.NewSource(1))))

	raw, err := src.ReadSample()
	require.NoError(t, err)
	assert.Equal(t, s.ServoDegDefault, raw.ServoDeg)

	require.NoError(t, src.SetServoAngle(15))
	raw, err = src.ReadSample()
	require.NoError(t, err)
	assert.Equal(t, 15, raw.ServoDeg)

	// Out-of-range angles are rejected before mutating anything.
	err = src.SetServoAngle(s.ServoDegMax + 1)
	assert.True(t, experiment.IsValidationError(err))

	raw, err = src.ReadSample()
	require.NoError(t, err)
	assert.Equal(t, 15, raw.ServoDeg)
}
