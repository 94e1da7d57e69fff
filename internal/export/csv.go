package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"teslamon/internal/sample"
)

// CSV exports a run history as a comma-separated file.
type CSV struct{}

// NewCSV creates a CSV exporter.
func NewCSV() *CSV {
	return &CSV{}
}

// Export writes the history to outputPath, creating parent directories
// as needed, and returns the path. The header row is written even when
// the history is empty.
func (e *CSV) Export(history []sample.Processed, outputPath string) (path string, err error) {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating output directory: %w", err)
		}
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("creating output file: %w", err)
	}
	defer closeWithError(file, &err)

	writer := csv.NewWriter(file)

	if err = writer.Write(columns); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	var t0 int64
	if len(history) > 0 {
		t0 = history[0].TMillis
	}

	for _, p := range history {
		tRel := p.TMillis - t0

		row := []string{
			strconv.FormatInt(p.TMillis, 10),
			strconv.FormatInt(tRel, 10),
			formatFloat(float64(tRel) / 1000.0),
			strconv.Itoa(p.ServoDeg),
			formatFloat(p.VDiv),
			formatFloat(p.VRF),
			formatFloat(p.VPhoto),
			formatFloat(p.RMeters),
			formatFloat(p.BExp),
			formatFloat(p.LExp),
			formatFloat(p.VIn),
			formatFloat(p.PIn),
			formatValue(p.BTeo),
			formatValue(p.LTeo),
			formatValue(p.ErrBAbs),
			formatValue(p.ErrLAbs),
			formatValue(p.ErrBRel),
			formatValue(p.ErrLRel),
		}

		if err = writer.Write(row); err != nil {
			return "", fmt.Errorf("writing row: %w", err)
		}
	}

	writer.Flush()
	if err = writer.Error(); err != nil {
		return "", fmt.Errorf("flushing output: %w", err)
	}

	return outputPath, nil
}

// closeWithError closes cl and surfaces the close failure only when no
// earlier error is pending.
func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
