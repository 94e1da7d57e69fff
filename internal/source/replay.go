package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"teslamon/internal/sample"
)

// replayColumns are the columns a capture file must provide. Extra
// columns (from a full export) are ignored.
var replayColumns = []string{"t_ms", "servo_deg", "v_div", "v_rf", "v_photo"}

// Replay yields raw samples from a previously captured CSV file, in
// file order. Exhausting the file is reported as ErrEndOfData, not as
// a transient failure.
type Replay struct {
	path string

	file   *os.File
	reader *csv.Reader
	index  map[string]int
}

// NewReplay creates a replay source for the given capture file. The
// file is not opened until Connect.
func NewReplay(path string) *Replay {
	return &Replay{path: path}
}

// Connect opens the capture file and resolves the required columns
// from its header. Calling it on an open source is a no-op.
func (r *Replay) Connect() error {
	if r.file != nil {
		return nil
	}

	file, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("opening capture file: %w", err)
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("reading capture header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, name := range replayColumns {
		if _, ok := index[name]; !ok {
			_ = file.Close()
			return fmt.Errorf("capture file %s: missing column %q", r.path, name)
		}
	}

	r.file = file
	r.reader = reader
	r.index = index
	return nil
}

// Close releases the file handle. Safe to call multiple times.
func (r *Replay) Close() error {
	if r.file == nil {
		return nil
	}

	err := r.file.Close()
	r.file = nil
	r.reader = nil

	if err != nil {
		return fmt.Errorf("closing capture file: %w", err)
	}
	return nil
}

// ReadSample returns the next row as a raw sample.
func (r *Replay) ReadSample() (sample.Raw, error) {
	if r.file == nil {
		return sample.Raw{}, ErrNotConnected
	}

	row, err := r.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return sample.Raw{}, fmt.Errorf("%w: %s", ErrEndOfData, r.path)
		}
		return sample.Raw{}, fmt.Errorf("reading capture row: %w", err)
	}

	tMillis, err := strconv.ParseInt(r.field(row, "t_ms"), 10, 64)
	if err != nil {
		return sample.Raw{}, fmt.Errorf("parsing t_ms: %w", err)
	}

	servoDeg, err := strconv.Atoi(r.field(row, "servo_deg"))
	if err != nil {
		return sample.Raw{}, fmt.Errorf("parsing servo_deg: %w", err)
	}

	vDiv, err := strconv.ParseFloat(r.field(row, "v_div"), 64)
	if err != nil {
		return sample.Raw{}, fmt.Errorf("parsing v_div: %w", err)
	}

	vRF, err := strconv.ParseFloat(r.field(row, "v_rf"), 64)
	if err != nil {
		return sample.Raw{}, fmt.Errorf("parsing v_rf: %w", err)
	}

	vPhoto, err := strconv.ParseFloat(r.field(row, "v_photo"), 64)
	if err != nil {
		return sample.Raw{}, fmt.Errorf("parsing v_photo: %w", err)
	}

	return sample.Raw{
		TMillis:  tMillis,
		ServoDeg: servoDeg,
		VDiv:     vDiv,
		VRF:      vRF,
		VPhoto:   vPhoto,
	}, nil
}

func (r *Replay) field(row []string, name string) string {
	i := r.index[name]
	if i >= len(row) {
		return ""
	}
	return row[i]
}
