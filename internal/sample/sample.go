// Package sample defines the data records exchanged between the data
// sources, the model and the exporters: raw device frames, processed
// samples enriched with derived physical quantities, and the tri-state
// Value used for quantities that may be undefined.
package sample

// Raw is a single unprocessed frame produced by a data source: the
// device timestamp, the actuator position and the three measured
// channel voltages.
type Raw struct {
	TMillis  int64   // device-clock milliseconds, monotonic within a run
	ServoDeg int     // servo angle in degrees
	VDiv     float64 // divider tap voltage (V)
	VRF      float64 // RF loop voltage (V)
	VPhoto   float64 // photodiode voltage (V)
}

// Processed is a Raw frame enriched with derived quantities and
// theory-vs-experiment errors. Instances are immutable once created
// and owned by the model's history.
type Processed struct {
	Raw

	RMeters float64 // loop-to-coil distance derived from the servo angle (m)

	VIn float64 // input voltage reconstructed from the divider (V)
	PIn float64 // input power from the equivalent-resistance model (W)

	BExp float64 // experimental RF signal (pass-through VRF)
	LExp float64 // experimental light signal (pass-through VPhoto)

	BTeo Value // theoretical RF signal, Kb/r
	LTeo Value // theoretical light signal, Kl/r^2

	ErrBAbs Value // BExp - BTeo
	ErrLAbs Value // LExp - LTeo
	ErrBRel Value // (BExp - BTeo) / BTeo
	ErrLRel Value // (LExp - LTeo) / LTeo
}

// Value is a float that may be undefined, allowing explicit
// invalid/missing data representation instead of IEEE infinities.
type Value struct {
	V     float64
	Valid bool
}

// Defined returns a valid Value holding v.
func Defined(v float64) Value {
	return Value{V: v, Valid: true}
}

// Undefined returns the invalid Value.
func Undefined() Value {
	return Value{}
}
