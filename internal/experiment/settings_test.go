package experiment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero baud rate", func(s *Settings) { s.BaudRate = 0 }},
		{"zero read timeout", func(s *Settings) { s.ReadTimeout = 0 }},
		{"zero min duration", func(s *Settings) { s.MinDuration = 0 }},
		{"max below min", func(s *Settings) { s.MaxDuration = s.MinDuration - 1 }},
		{"zero sample period", func(s *Settings) { s.SamplePeriod = 0 }},
		{"servo max below min", func(s *Settings) { s.ServoDegMax = s.ServoDegMin - 1 }},
		{"servo default out of envelope", func(s *Settings) { s.ServoDegDefault = s.ServoDegMax + 1 }},
		{"zero arm length", func(s *Settings) { s.ArmLength = 0 }},
		{"zero divider resistance", func(s *Settings) { s.RBot = 0 }},
		{"zero equivalent resistance", func(s *Settings) { s.ReqHigh = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)

			err := s.Validate()
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestValidServoDeg(t *testing.T) {
	s := Default()

	assert.True(t, s.ValidServoDeg(s.ServoDegMin))
	assert.True(t, s.ValidServoDeg(s.ServoDegMax))
	assert.False(t, s.ValidServoDeg(s.ServoDegMin-1))
	assert.False(t, s.ValidServoDeg(s.ServoDegMax+1))
}

func TestSampleRateHz(t *testing.T) {
	s := Default()
	assert.Equal(t, 20, s.SampleRateHz())

	s.SamplePeriod = time.Millisecond
	assert.Equal(t, 1000, s.SampleRateHz())

	// Periods longer than a second still request a usable rate.
	s.SamplePeriod = 5 * time.Second
	assert.Equal(t, 1, s.SampleRateHz())
}
