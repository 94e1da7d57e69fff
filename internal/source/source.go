// Package source provides the data sources feeding the experiment:
// the live serial device, a synthetic generator for development, and a
// replay source backed by a previously captured file.
//
// The controller depends only on the Source contract plus the optional
// capability interfaces, never on a concrete variant, so new kinds of
// sources plug in without touching the run logic.
package source

import (
	"errors"

	"teslamon/internal/sample"
)

// Source is the mandatory contract: produce the next raw sample.
// Blocking characteristics vary by variant; the live device blocks up
// to its configured read timeout, the others return immediately.
type Source interface {
	ReadSample() (sample.Raw, error)
}

// Connectable is implemented by sources holding an external resource
// such as a serial port or a file handle. Connect and Close are
// idempotent.
type Connectable interface {
	Connect() error
	Close() error
}

// Streamable is implemented by sources whose device must be told to
// start and stop continuous transmission.
type Streamable interface {
	StartStream() error
	StopStream() error
}

// Actuatable is implemented by sources that can position the servo.
type Actuatable interface {
	SetServoAngle(deg int) error
}

var (
	// ErrTimeout is returned when the live device delivers no data
	// frame within the configured read timeout. Fatal to the current
	// run.
	ErrTimeout = errors.New("timeout waiting for data frame")

	// ErrEndOfData is returned when a replay source has yielded its
	// last row. Distinct from a transient I/O failure, but treated the
	// same by the run logic.
	ErrEndOfData = errors.New("end of recorded data")

	// ErrNotConnected is returned when a read or command is attempted
	// before Connect.
	ErrNotConnected = errors.New("source not connected")

	// ErrTooManyParseErrors is returned when consecutive malformed
	// frames exceed the tolerated threshold.
	ErrTooManyParseErrors = errors.New("too many consecutive malformed frames")
)
