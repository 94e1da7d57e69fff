// Command capture records raw frames from the rig's microcontroller
// into a CSV file, without any processing: it verifies the link,
// configures the device, previews a few frames and then captures for a
// fixed duration. The produced file is directly usable by the
// monitor's replay source.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"go.bug.st/serial"

	"teslamon/internal/protocol"
	"teslamon/internal/sample"
)

const (
	// readWindow bounds a single port read so the capture loop can
	// check its deadlines.
	readWindow = 200 * time.Millisecond

	// settleDelay waits out the device reset triggered by opening the
	// port.
	settleDelay = 2 * time.Second

	// ackTimeout bounds the wait for a command acknowledgement.
	ackTimeout = 2 * time.Second

	// previewTimeout bounds the whole preview phase.
	previewTimeout = 5 * time.Second
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	app := &cli.App{
		Name:  "capture",
		Usage: "record raw device frames to a CSV file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   "/dev/ttyUSB0",
				Usage:   "serial port of the microcontroller",
			},
			&cli.IntFlag{
				Name:  "baud",
				Value: 115200,
				Usage: "baud rate, must match the firmware",
			},
			&cli.DurationFlag{
				Name:    "duration",
				Aliases: []string{"d"},
				Value:   30 * time.Second,
				Usage:   "capture duration",
			},
			&cli.IntFlag{
				Name:  "rate",
				Value: 20,
				Usage: "sample rate requested from the device (Hz)",
			},
			&cli.BoolFlag{
				Name:  "raw-adc",
				Usage: "request unscaled ADC integers instead of voltages",
			},
			&cli.StringFlag{
				Name:    "out-dir",
				Aliases: []string{"o"},
				Value:   "data",
				Usage:   "directory for the capture file",
			},
			&cli.IntFlag{
				Name:  "preview",
				Value: 10,
				Usage: "frames to preview before capturing (0 disables)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("verbose") {
				logLevel.Set(slog.LevelDebug)
			}

			return run(c.Context, captureConfig{
				port:     c.String("port"),
				baud:     c.Int("baud"),
				duration: c.Duration("duration"),
				rateHz:   c.Int("rate"),
				rawADC:   c.Bool("raw-adc"),
				outDir:   c.String("out-dir"),
				preview:  c.Int("preview"),
			}, logger)
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

type captureConfig struct {
	port     string
	baud     int
	duration time.Duration
	rateHz   int
	rawADC   bool
	outDir   string
	preview  int
}

func run(ctx context.Context, cfg captureConfig, logger *slog.Logger) (err error) {
	port, err := serial.Open(cfg.port, &serial.Mode{BaudRate: cfg.baud})
	if err != nil {
		return fmt.Errorf("opening serial port %s (is another serial monitor attached?): %w", cfg.port, err)
	}
	defer closeWithError(port, &err)

	if err = port.SetReadTimeout(readWindow); err != nil {
		return fmt.Errorf("setting read timeout: %w", err)
	}

	// Opening the port resets the board; let the boot chatter pass and
	// drop it.
	time.Sleep(settleDelay)
	if err = port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flushing input buffer: %w", err)
	}

	lines := protocol.NewLineReader(port)

	if err = handshake(port, lines); err != nil {
		return err
	}

	if err = configureDevice(port, lines, cfg); err != nil {
		return err
	}
	logger.Info("device configured",
		slog.Int("rateHz", cfg.rateHz),
		slog.Bool("rawADC", cfg.rawADC),
		slog.Duration("duration", cfg.duration))

	if cfg.preview > 0 {
		shown, err := previewFrames(port, lines, cfg.preview, logger)
		if err != nil {
			return err
		}
		if shown == 0 {
			return fmt.Errorf("no frames arrived during preview; check wiring, baud rate and firmware")
		}
	}

	outputPath, rows, err := capture(ctx, port, lines, cfg, logger)
	if err != nil {
		return err
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("inspecting capture file: %w", err)
	}

	logger.Info("capture complete",
		slog.String("file", outputPath),
		slog.String("rows", humanize.Comma(int64(rows))),
		slog.String("size", humanize.Bytes(uint64(info.Size()))))

	return nil
}

// handshake verifies the link with a PING/PONG exchange.
func handshake(port serial.Port, lines *protocol.LineReader) error {
	if err := send(port, protocol.CmdPing); err != nil {
		return err
	}
	if !awaitReply(lines, protocol.AckPong, ackTimeout) {
		return fmt.Errorf("no %s reply; check firmware, baud rate and port", protocol.AckPong)
	}
	return nil
}

// configureDevice stops any auto-started stream, then applies the
// payload mode and sample rate.
func configureDevice(port serial.Port, lines *protocol.LineReader, cfg captureConfig) error {
	// The firmware may boot with streaming already on.
	if err := send(port, protocol.CmdStop); err != nil {
		return err
	}
	awaitReply(lines, protocol.AckOK, time.Second)

	if err := send(port, protocol.CmdRaw(cfg.rawADC)); err != nil {
		return err
	}
	if !awaitReply(lines, protocol.AckOK, ackTimeout) {
		return fmt.Errorf("device did not acknowledge payload mode")
	}

	if err := send(port, protocol.CmdRate(cfg.rateHz)); err != nil {
		return err
	}
	if !awaitReply(lines, protocol.AckOK, ackTimeout) {
		return fmt.Errorf("device did not acknowledge sample rate")
	}

	return nil
}

// previewFrames streams briefly and logs up to n decoded frames so the
// operator can sanity-check the signal before committing to a capture.
func previewFrames(port serial.Port, lines *protocol.LineReader, n int, logger *slog.Logger) (int, error) {
	if err := send(port, protocol.CmdStart); err != nil {
		return 0, err
	}
	if !awaitReply(lines, protocol.AckOK, ackTimeout) {
		return 0, fmt.Errorf("device did not acknowledge stream start")
	}

	var shown int
	deadline := time.Now().Add(previewTimeout)

	for shown < n && time.Now().Before(deadline) {
		raw, ok := nextFrame(lines)
		if !ok {
			continue
		}

		logger.Info("preview frame",
			slog.Int64("t_ms", raw.TMillis),
			slog.Int("servo_deg", raw.ServoDeg),
			slog.Float64("v_div", raw.VDiv),
			slog.Float64("v_rf", raw.VRF),
			slog.Float64("v_photo", raw.VPhoto))
		shown++
	}

	if err := send(port, protocol.CmdStop); err != nil {
		return shown, err
	}
	awaitReply(lines, protocol.AckOK, ackTimeout)

	return shown, nil
}

// capture streams for the configured duration, writing every decoded
// frame to a timestamped CSV in the output directory.
func capture(ctx context.Context, port serial.Port, lines *protocol.LineReader, cfg captureConfig, logger *slog.Logger) (path string, rows int, err error) {
	if err = os.MkdirAll(cfg.outDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating output directory: %w", err)
	}

	name := fmt.Sprintf("run_%s_%ds.csv", time.Now().Format("20060102_150405"), int(cfg.duration.Seconds()))
	path = filepath.Join(cfg.outDir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("creating capture file: %w", err)
	}
	defer closeWithError(file, &err)

	writer := csv.NewWriter(file)

	header := []string{"t_ms", "t_ms_rel", "t_s_rel", "servo_deg", "v_div", "v_rf", "v_photo"}
	if cfg.rawADC {
		header = []string{"t_ms", "t_ms_rel", "t_s_rel", "servo_deg", "adc_div", "adc_rf", "adc_photo"}
	}
	if err = writer.Write(header); err != nil {
		return "", 0, fmt.Errorf("writing header: %w", err)
	}

	if err = send(port, protocol.CmdStart); err != nil {
		return "", 0, err
	}
	if !awaitReply(lines, protocol.AckOK, ackTimeout) {
		return "", 0, fmt.Errorf("device did not acknowledge stream start")
	}

	logger.Info("capturing...", slog.String("file", path))

	var t0 int64 = -1
	deadline := time.Now().Add(cfg.duration)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, stopping capture")
			deadline = time.Now()
			continue
		default:
		}

		raw, ok := nextFrame(lines)
		if !ok {
			continue
		}

		// The first valid frame defines the time origin.
		if t0 < 0 {
			t0 = raw.TMillis
		}
		tRel := raw.TMillis - t0

		row := []string{
			strconv.FormatInt(raw.TMillis, 10),
			strconv.FormatInt(tRel, 10),
			strconv.FormatFloat(float64(tRel)/1000.0, 'f', 3, 64),
			strconv.Itoa(raw.ServoDeg),
			formatChannel(raw.VDiv, cfg.rawADC),
			formatChannel(raw.VRF, cfg.rawADC),
			formatChannel(raw.VPhoto, cfg.rawADC),
		}
		if err = writer.Write(row); err != nil {
			return "", 0, fmt.Errorf("writing row: %w", err)
		}
		rows++
	}

	if err = send(port, protocol.CmdStop); err != nil {
		return "", 0, err
	}
	awaitReply(lines, protocol.AckOK, ackTimeout)

	writer.Flush()
	if err = writer.Error(); err != nil {
		return "", 0, fmt.Errorf("flushing capture file: %w", err)
	}

	return path, rows, nil
}

// nextFrame reads one line and decodes it, reporting false for lulls,
// chatter and malformed frames alike.
func nextFrame(lines *protocol.LineReader) (sample.Raw, bool) {
	line, err := lines.ReadLine()
	if err != nil {
		return sample.Raw{}, false
	}

	raw, err := protocol.Decode(line)
	if err != nil {
		return sample.Raw{}, false
	}
	return raw, true
}

// send writes one command line to the device.
func send(port serial.Port, command string) error {
	if _, err := fmt.Fprintf(port, "%s\n", command); err != nil {
		return fmt.Errorf("sending %q: %w", command, err)
	}
	return nil
}

// awaitReply consumes lines until the expected acknowledgement arrives
// or the timeout elapses. Other lines, including DATA frames, are
// skipped.
func awaitReply(lines *protocol.LineReader, expected string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		line, err := lines.ReadLine()
		if err != nil {
			if errors.Is(err, protocol.ErrNoData) {
				continue
			}
			return false
		}
		if line == expected {
			return true
		}
	}
	return false
}

// closeWithError closes cl and surfaces the close failure only when no
// earlier error is pending.
func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// formatChannel renders a channel value: raw ADC payloads are
// integers, voltage payloads keep their full precision.
func formatChannel(v float64, rawADC bool) string {
	if rawADC {
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
