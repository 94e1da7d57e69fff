package source

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.bug.st/serial"

	"teslamon/internal/experiment"
	"teslamon/internal/protocol"
	"teslamon/internal/sample"
)

// parseErrorsThreshold is the default number of consecutive malformed
// frames tolerated before a read fails.
const parseErrorsThreshold = 5

// Serial is the live data source: a microcontroller on a serial port
// streaming newline-terminated frames. It owns the port for the
// duration of a run; exactly one Connect/Close pair per run.
type Serial struct {
	settings experiment.Settings

	port  serial.Port
	lines *protocol.LineReader

	parseErrorsThreshold int
	logger               *slog.Logger
}

// SerialOption configures a Serial source.
type SerialOption func(*Serial)

// WithSerialLogger sets the logger for the serial source.
func WithSerialLogger(logger *slog.Logger) SerialOption {
	return func(s *Serial) {
		s.logger = logger.With(slog.String("source", "serial"), slog.String("port", s.settings.SerialPort))
	}
}

// WithParseErrorsThreshold sets the number of consecutive malformed
// frames tolerated before a read fails.
func WithParseErrorsThreshold(threshold int) SerialOption {
	return func(s *Serial) {
		s.parseErrorsThreshold = threshold
	}
}

// NewSerial creates a live serial source with a discard logger. The
// port is not opened until Connect.
func NewSerial(settings experiment.Settings, options ...SerialOption) *Serial {
	s := &Serial{
		settings:             settings,
		parseErrorsThreshold: parseErrorsThreshold,
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// Connect opens the serial port at the configured baud rate and read
// timeout and discards anything buffered on either side. Calling it on
// an open port is a no-op.
func (s *Serial) Connect() error {
	if s.port != nil {
		return nil
	}

	port, err := serial.Open(s.settings.SerialPort, &serial.Mode{BaudRate: s.settings.BaudRate})
	if err != nil {
		return fmt.Errorf("opening serial port %s: %w", s.settings.SerialPort, err)
	}

	if err = port.SetReadTimeout(s.settings.ReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("setting read timeout: %w", err)
	}

	// Drop boot logs or half frames buffered before we attached.
	if err = port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return fmt.Errorf("flushing input buffer: %w", err)
	}
	if err = port.ResetOutputBuffer(); err != nil {
		_ = port.Close()
		return fmt.Errorf("flushing output buffer: %w", err)
	}

	s.port = port
	s.lines = protocol.NewLineReader(port)

	s.logger.Info("serial port connected", slog.Int("baud", s.settings.BaudRate))
	return nil
}

// Close releases the serial port. Safe to call multiple times.
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}

	err := s.port.Close()
	s.port = nil
	s.lines = nil

	if err != nil {
		return fmt.Errorf("closing serial port: %w", err)
	}
	return nil
}

// StartStream negotiates the device mode and begins streaming: voltage
// floats, the sample rate derived from the configured sampling period,
// then the start command.
func (s *Serial) StartStream() error {
	if err := s.send(protocol.CmdRaw(false)); err != nil {
		return err
	}
	if err := s.send(protocol.CmdRate(s.settings.SampleRateHz())); err != nil {
		return err
	}
	return s.send(protocol.CmdStart)
}

// StopStream tells the device to stop streaming. A no-op when the port
// is already closed.
func (s *Serial) StopStream() error {
	if s.port == nil {
		return nil
	}
	return s.send(protocol.CmdStop)
}

// SetServoAngle validates the angle against the configured envelope
// and sends the actuation command. Out-of-range input fails before any
// command is written.
func (s *Serial) SetServoAngle(deg int) error {
	if !s.settings.ValidServoDeg(deg) {
		return experiment.NewValidationError(fmt.Sprintf(
			"servo angle %d out of range [%d, %d]", deg, s.settings.ServoDegMin, s.settings.ServoDegMax))
	}
	return s.send(protocol.CmdServo(deg))
}

// ReadSample reads lines until a DATA frame decodes, silently
// discarding status and log lines. It fails with ErrTimeout when no
// line arrives within the read timeout, and with
// ErrTooManyParseErrors when the device keeps sending DATA lines that
// do not decode.
func (s *Serial) ReadSample() (sample.Raw, error) {
	if s.lines == nil {
		return sample.Raw{}, ErrNotConnected
	}

	var parseErrors int
	for {
		line, err := s.readLine()
		if err != nil {
			return sample.Raw{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !protocol.IsFrame(line) {
			// READY, INFO, OK and other device chatter.
			s.logger.Debug("discarding non-frame line", slog.String("line", line))
			continue
		}

		raw, err := protocol.Decode(line)
		if err != nil {
			parseErrors++
			s.logger.Warn("malformed frame", slog.String("line", line), slog.String("error", err.Error()))

			if parseErrors >= s.parseErrorsThreshold {
				return sample.Raw{}, fmt.Errorf("%w: %w", ErrTooManyParseErrors, err)
			}
			continue
		}

		return raw, nil
	}
}

// send writes one command line to the device.
func (s *Serial) send(command string) error {
	if s.port == nil {
		return ErrNotConnected
	}

	if _, err := fmt.Fprintf(s.port, "%s\n", command); err != nil {
		return fmt.Errorf("sending %q: %w", command, err)
	}

	s.logger.Debug("command sent", slog.String("command", command))
	return nil
}

// readLine returns the next newline-terminated line from the port. A
// read window that yields no bytes means the device went quiet and
// produces ErrTimeout.
func (s *Serial) readLine() (string, error) {
	line, err := s.lines.ReadLine()
	if errors.Is(err, protocol.ErrNoData) {
		return "", ErrTimeout
	}
	if err != nil {
		return "", fmt.Errorf("reading serial port: %w", err)
	}
	return line, nil
}
