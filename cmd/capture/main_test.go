package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatChannel(t *testing.T) {
	// Raw ADC payloads are counts; float transport noise must round to
	// the nearest integer, not truncate.
	assert.Equal(t, "512", formatChannel(511.9999, true))
	assert.Equal(t, "512", formatChannel(512.0001, true))
	assert.Equal(t, "0", formatChannel(0.0, true))

	// Voltage payloads keep their full precision.
	assert.Equal(t, "0.915", formatChannel(0.915, false))
	assert.Equal(t, "0.1042", formatChannel(0.1042, false))
}
