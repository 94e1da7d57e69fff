package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"teslamon/internal/experiment"
)

// Config represents the main application configuration.
type Config struct {
	Settings   Settings         `yaml:"settings"`
	Serial     SerialConfig     `yaml:"serial"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Servo      ServoConfig      `yaml:"servo"`
	Model      ModelConfig      `yaml:"model"`
	Output     OutputConfig     `yaml:"output"`
}

// Settings represents global application settings.
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// SerialConfig represents the microcontroller endpoint.
type SerialConfig struct {
	Port        string  `yaml:"port"`
	BaudRate    int     `yaml:"baudRate"`
	ReadTimeout float64 `yaml:"readTimeoutS"`
}

// ExperimentConfig represents the run timing envelope.
type ExperimentConfig struct {
	MinDuration  float64 `yaml:"minDurationS"`
	MaxDuration  float64 `yaml:"maxDurationS"`
	SamplePeriod int     `yaml:"samplePeriodMs"`
}

// ServoConfig represents the servo envelope.
type ServoConfig struct {
	DegMin     int `yaml:"degMin"`
	DegMax     int `yaml:"degMax"`
	DegDefault int `yaml:"degDefault"`
}

// ModelConfig represents the physical calibration of the rig.
type ModelConfig struct {
	ArmLength  float64 `yaml:"armLengthM"`
	BaseOffset float64 `yaml:"baseOffsetM"`

	RTop float64 `yaml:"rTopOhm"`
	RBot float64 `yaml:"rBotOhm"`

	ReqLow       float64 `yaml:"reqLowOhm"`
	ReqHigh      float64 `yaml:"reqHighOhm"`
	VInThreshold float64 `yaml:"vinThresholdV"`

	Kb float64 `yaml:"kb"`
	Kl float64 `yaml:"kl"`
}

// OutputConfig represents the default artifact location.
type OutputConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the configuration matching the rig's measured
// calibration.
func DefaultConfig() *Config {
	s := experiment.Default()

	return &Config{
		Settings: Settings{LogLevel: "info"},
		Serial: SerialConfig{
			Port:        s.SerialPort,
			BaudRate:    s.BaudRate,
			ReadTimeout: s.ReadTimeout.Seconds(),
		},
		Experiment: ExperimentConfig{
			MinDuration:  s.MinDuration.Seconds(),
			MaxDuration:  s.MaxDuration.Seconds(),
			SamplePeriod: int(s.SamplePeriod.Milliseconds()),
		},
		Servo: ServoConfig{
			DegMin:     s.ServoDegMin,
			DegMax:     s.ServoDegMax,
			DegDefault: s.ServoDegDefault,
		},
		Model: ModelConfig{
			ArmLength:    s.ArmLength,
			BaseOffset:   s.BaseOffset,
			RTop:         s.RTop,
			RBot:         s.RBot,
			ReqLow:       s.ReqLow,
			ReqHigh:      s.ReqHigh,
			VInThreshold: s.VInThreshold,
			Kb:           s.Kb,
			Kl:           s.Kl,
		},
		Output: OutputConfig{Path: s.OutputPath},
	}
}

// LoadConfig reads a YAML configuration file over the defaults, so a
// partial file only overrides what it names. An empty path returns the
// defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing configuration file: %w", err)
	}

	return config, nil
}

// ExperimentSettings converts the file representation into the
// immutable settings value handed to the core.
func (c *Config) ExperimentSettings() (experiment.Settings, error) {
	s := experiment.Settings{
		SerialPort:  c.Serial.Port,
		BaudRate:    c.Serial.BaudRate,
		ReadTimeout: secondsToDuration(c.Serial.ReadTimeout),

		MinDuration:  secondsToDuration(c.Experiment.MinDuration),
		MaxDuration:  secondsToDuration(c.Experiment.MaxDuration),
		SamplePeriod: time.Duration(c.Experiment.SamplePeriod) * time.Millisecond,

		ServoDegMin:     c.Servo.DegMin,
		ServoDegMax:     c.Servo.DegMax,
		ServoDegDefault: c.Servo.DegDefault,

		ArmLength:  c.Model.ArmLength,
		BaseOffset: c.Model.BaseOffset,

		RTop: c.Model.RTop,
		RBot: c.Model.RBot,

		ReqLow:       c.Model.ReqLow,
		ReqHigh:      c.Model.ReqHigh,
		VInThreshold: c.Model.VInThreshold,

		Kb: c.Model.Kb,
		Kl: c.Model.Kl,

		OutputPath: c.Output.Path,
	}

	if err := s.Validate(); err != nil {
		return experiment.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// LogLevel parses the configured log level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch c.Settings.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
