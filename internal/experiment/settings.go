// Package experiment holds the fixed operating envelope of the rig:
// communication parameters, safety limits, geometry and the electrical
// calibration constants. A single Settings value is constructed once at
// startup and passed explicitly to the model, the source factory and
// the controller.
package experiment

import "time"

// Settings is the complete read-only configuration surface of the
// core. The zero value is not usable; start from Default().
type Settings struct {
	// Serial endpoint of the microcontroller.
	SerialPort  string
	BaudRate    int
	ReadTimeout time.Duration

	// Run duration limits. The maximum is a hard safety limit: the
	// coil heats up quickly.
	MinDuration time.Duration
	MaxDuration time.Duration

	// Target sampling period. 50ms -> 20Hz requested from the device.
	SamplePeriod time.Duration

	// Servo envelope (mechanical safety).
	ServoDegMin     int
	ServoDegMax     int
	ServoDegDefault int

	// Geometry in meters: servo arm length and servo-to-coil base
	// offset. Both enter the law-of-cosines distance formula.
	ArmLength  float64
	BaseOffset float64

	// Voltage divider, measured values in ohms.
	RTop float64
	RBot float64

	// Piecewise equivalent-resistance model. Below the threshold the
	// coil runs without an arc (low regime); at or above it the corona
	// regime applies.
	ReqLow       float64
	ReqHigh      float64
	VInThreshold float64

	// Theoretical scale constants for the RF and photodiode trends.
	Kb float64
	Kl float64

	// Default artifact location for exported runs.
	OutputPath string
}

// Default returns the measured calibration of the rig.
func Default() Settings {
	return Settings{
		SerialPort:  "/dev/ttyUSB0",
		BaudRate:    115200,
		ReadTimeout: time.Second,

		MinDuration:  time.Second,
		MaxDuration:  20 * time.Second,
		SamplePeriod: 50 * time.Millisecond,

		ServoDegMin:     0,
		ServoDegMax:     30,
		ServoDegDefault: 0,

		ArmLength:  0.22,
		BaseOffset: 0.325,

		RTop: 99_800.0,
		RBot: 9_935.0,

		ReqLow:       15.25,
		ReqHigh:      19.64,
		VInThreshold: 11.0,

		Kb: 0.3,
		Kl: 1.0,

		OutputPath: "salidas/experimento.csv",
	}
}

// Validate checks the settings for internal consistency.
func (s Settings) Validate() error {
	if s.BaudRate <= 0 {
		return NewValidationError("baud rate must be positive")
	}
	if s.ReadTimeout <= 0 {
		return NewValidationError("read timeout must be positive")
	}
	if s.MinDuration <= 0 || s.MaxDuration < s.MinDuration {
		return NewValidationError("invalid duration bounds")
	}
	if s.SamplePeriod <= 0 {
		return NewValidationError("sample period must be positive")
	}
	if s.ServoDegMax < s.ServoDegMin {
		return NewValidationError("invalid servo bounds")
	}
	if s.ServoDegDefault < s.ServoDegMin || s.ServoDegDefault > s.ServoDegMax {
		return NewValidationError("default servo angle out of bounds")
	}
	if s.ArmLength <= 0 || s.BaseOffset <= 0 {
		return NewValidationError("geometry constants must be positive")
	}
	if s.RTop <= 0 || s.RBot <= 0 {
		return NewValidationError("divider resistances must be positive")
	}
	if s.ReqLow <= 0 || s.ReqHigh <= 0 {
		return NewValidationError("equivalent resistances must be positive")
	}
	return nil
}

// ValidServoDeg reports whether deg lies within the servo envelope.
func (s Settings) ValidServoDeg(deg int) bool {
	return deg >= s.ServoDegMin && deg <= s.ServoDegMax
}

// SampleRateHz is the streaming rate requested from the device,
// derived from the sampling period and never below 1Hz.
func (s Settings) SampleRateHz() int {
	hz := int(float64(time.Second)/float64(s.SamplePeriod) + 0.5)
	if hz < 1 {
		hz = 1
	}
	return hz
}
