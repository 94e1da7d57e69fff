package model

import (
	"math"

	"teslamon/internal/sample"
)

const (
	// reqFloor guards the power formula against a zero equivalent
	// resistance.
	reqFloor = 1e-12

	// relErrEpsilon is the magnitude below which a theoretical value
	// makes the relative error undefined.
	relErrEpsilon = 1e-12
)

// distance is the loop-to-coil distance in meters for a servo angle in
// degrees, by the law of cosines adapted to the rig geometry: arm of
// length l swinging against a fixed base offset y0.
func distance(thetaDeg float64, l, y0 float64) float64 {
	thetaRad := thetaDeg * math.Pi / 180.0
	return math.Sqrt(l*l + y0*y0 - 2.0*y0*l*math.Sin(thetaRad))
}

// vinReal reconstructs the true input voltage from the divider tap:
// Vdiv = Vin * Rbot / (Rtop + Rbot).
func vinReal(vDiv, rTop, rBot float64) float64 {
	return vDiv * (rTop + rBot) / rBot
}

// reqForVin selects the equivalent resistance by regime. Strictly
// below the threshold the coil runs without an arc; at or above it the
// corona regime applies. The boundary is inclusive on the high side.
func reqForVin(vin, reqLow, reqHigh, threshold float64) float64 {
	if vin < threshold {
		return reqLow
	}
	return reqHigh
}

// powerIn is the input power Vin^2 / Req with the resistance floored
// to avoid division by zero.
func powerIn(vin, req float64) float64 {
	req = math.Max(req, reqFloor)
	return vin * vin / req
}

// trend is the theoretical 1/r^n relation. Zero or negative distance
// has no defined value.
func trend(r float64, n float64) sample.Value {
	if r <= 0.0 {
		return sample.Undefined()
	}
	return sample.Defined(1.0 / math.Pow(r, n))
}

// scaled multiplies a trend value by a scale constant, propagating
// undefinedness.
func scaled(k float64, v sample.Value) sample.Value {
	if !v.Valid {
		return v
	}
	return sample.Defined(k * v.V)
}

// errAbs is the absolute error exp - teo, undefined when the
// theoretical value is.
func errAbs(exp float64, teo sample.Value) sample.Value {
	if !teo.Valid {
		return sample.Undefined()
	}
	return sample.Defined(exp - teo.V)
}

// errRel is the relative error (exp - teo) / teo, undefined when the
// theoretical value is undefined or smaller in magnitude than
// relErrEpsilon.
func errRel(exp float64, teo sample.Value) sample.Value {
	if !teo.Valid || math.Abs(teo.V) < relErrEpsilon {
		return sample.Undefined()
	}
	return sample.Defined((exp - teo.V) / teo.V)
}
