// Package protocol implements the text line protocol spoken by the
// rig's microcontroller. Commands and responses are newline-terminated
// lines; measurement frames carry the DATA tag:
//
//	DATA,<t_ms>,<servo_deg>,<v_div>,<v_rf>,<v_photo>
//
// Any other line (READY, INFO, OK, free-form logs) is not a frame and
// is filtered by the caller or rejected here.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"teslamon/internal/sample"
)

// FrameTag prefixes every measurement frame.
const FrameTag = "DATA"

// frameFields is the exact comma-separated field count of a frame,
// tag included.
const frameFields = 6

// Commands understood by the device.
const (
	CmdPing  = "PING"
	CmdStart = "START"
	CmdStop  = "STOP"
)

// Acknowledgements of interest in device output.
const (
	AckPong = "PONG"
	AckOK   = "OK"
)

// ErrInvalidFrame is returned, possibly wrapped with detail, when a
// line cannot be decoded as a measurement frame.
var ErrInvalidFrame = errors.New("invalid data frame")

// CmdRaw formats the payload-mode command: raw=false requests voltage
// floats, raw=true requests unscaled ADC integers.
func CmdRaw(raw bool) string {
	if raw {
		return "RAW=1"
	}
	return "RAW=0"
}

// CmdRate formats the sample-rate command for the given frequency.
func CmdRate(hz int) string {
	return fmt.Sprintf("RATE=%d", hz)
}

// CmdServo formats the actuation command for the given angle.
func CmdServo(deg int) string {
	return fmt.Sprintf("SERVO=%d", deg)
}

// IsFrame reports whether the (already trimmed) line is a measurement
// frame rather than a status or log line.
func IsFrame(line string) bool {
	return strings.HasPrefix(line, FrameTag+",")
}

// Decode parses one line into a raw sample. The line is trimmed of
// surrounding whitespace first. Lines that do not start with the DATA
// tag, have a field count other than six, or fail numeric conversion
// are rejected with an error wrapping ErrInvalidFrame.
func Decode(line string) (sample.Raw, error) {
	line = strings.TrimSpace(line)

	if !IsFrame(line) {
		return sample.Raw{}, fmt.Errorf("%w: missing %q tag", ErrInvalidFrame, FrameTag)
	}

	fields := strings.Split(line, ",")
	if len(fields) != frameFields {
		return sample.Raw{}, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidFrame, frameFields, len(fields))
	}

	tMillis, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return sample.Raw{}, fmt.Errorf("%w: bad t_ms: %w", ErrInvalidFrame, err)
	}

	servoDeg, err := strconv.Atoi(fields[2])
	if err != nil {
		return sample.Raw{}, fmt.Errorf("%w: bad servo_deg: %w", ErrInvalidFrame, err)
	}

	vDiv, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return sample.Raw{}, fmt.Errorf("%w: bad v_div: %w", ErrInvalidFrame, err)
	}

	vRF, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return sample.Raw{}, fmt.Errorf("%w: bad v_rf: %w", ErrInvalidFrame, err)
	}

	vPhoto, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return sample.Raw{}, fmt.Errorf("%w: bad v_photo: %w", ErrInvalidFrame, err)
	}

	return sample.Raw{
		TMillis:  tMillis,
		ServoDeg: servoDeg,
		VDiv:     vDiv,
		VRF:      vRF,
		VPhoto:   vPhoto,
	}, nil
}
