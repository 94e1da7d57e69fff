// Package export persists a finished run's processed-sample history as
// an artifact. Two backends exist: a CSV file matching the layout the
// analysis notebooks expect, and a SQLite database for ad-hoc queries
// across runs.
package export

import (
	"strconv"

	"teslamon/internal/sample"
)

// Exporter writes the ordered history of a run to outputPath and
// returns the location of the produced artifact. A header (or schema)
// is emitted even for an empty history.
type Exporter interface {
	Export(history []sample.Processed, outputPath string) (string, error)
}

// columns is the fixed column order of an exported run. Relative-time
// columns are computed against the first row's t_ms.
var columns = []string{
	"t_ms", "t_ms_rel", "t_s_rel",
	"servo_deg",
	"v_div", "v_rf", "v_photo",
	"r_m",
	"B_exp", "L_exp",
	"V_in", "P_in",
	"B_teo", "L_teo",
	"err_B_abs", "err_L_abs",
	"err_B_rel", "err_L_rel",
}

// formatFloat renders a defined numeric value for CSV output.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// formatValue renders a tri-state value; undefined serializes as an
// empty field.
func formatValue(v sample.Value) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.V)
}
