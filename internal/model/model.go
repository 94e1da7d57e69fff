// Package model turns raw device frames into processed samples and
// keeps the ordered run history. Processing is deterministic: the same
// raw frame and calibration always produce the same processed sample.
package model

import (
	"teslamon/internal/experiment"
	"teslamon/internal/sample"
)

// Model applies the rig's physical model to raw samples. Calibration
// constants are fixed for the lifetime of the Model; only the history
// mutates, and only by appending during ProcessSample or clearing in
// Reset.
type Model struct {
	settings experiment.Settings
	history  []sample.Processed
}

// New creates a Model calibrated from the given settings.
func New(settings experiment.Settings) *Model {
	return &Model{settings: settings}
}

// ProcessSample derives the physical quantities for one raw frame,
// appends the result to the history and returns it.
func (m *Model) ProcessSample(raw sample.Raw) sample.Processed {
	s := m.settings

	r := distance(float64(raw.ServoDeg), s.ArmLength, s.BaseOffset)

	vin := vinReal(raw.VDiv, s.RTop, s.RBot)
	req := reqForVin(vin, s.ReqLow, s.ReqHigh, s.VInThreshold)
	pin := powerIn(vin, req)

	bExp := raw.VRF
	lExp := raw.VPhoto

	bTeo := scaled(s.Kb, trend(r, 1.0))
	lTeo := scaled(s.Kl, trend(r, 2.0))

	p := sample.Processed{
		Raw: raw,

		RMeters: r,

		VIn: vin,
		PIn: pin,

		BExp: bExp,
		LExp: lExp,

		BTeo: bTeo,
		LTeo: lTeo,

		ErrBAbs: errAbs(bExp, bTeo),
		ErrLAbs: errAbs(lExp, lTeo),
		ErrBRel: errRel(bExp, bTeo),
		ErrLRel: errRel(lExp, lTeo),
	}

	m.history = append(m.history, p)
	return p
}

// History returns a copy of the processed-sample history in append
// order. Callers never observe the live slice.
func (m *Model) History() []sample.Processed {
	out := make([]sample.Processed, len(m.history))
	copy(out, m.history)
	return out
}

// Len returns the number of processed samples in the history.
func (m *Model) Len() int {
	return len(m.history)
}

// Reset clears the history. Calibration is untouched.
func (m *Model) Reset() {
	m.history = m.history[:0]
}
