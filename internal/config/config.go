package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every configuration load or validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds all daemon configuration. A *Config is treated as an
// immutable snapshot once loaded; reloads replace the whole value.
type Config struct {
	ModelPath           string        `yaml:"model_path" mapstructure:"model_path" validate:"required"`
	Language            string        `yaml:"language" mapstructure:"language" validate:"required"`
	MaxRecordingSeconds uint32        `yaml:"max_recording_seconds" mapstructure:"max_recording_seconds" validate:"min=1,max=3600"`
	MinRecordingMS      uint32        `yaml:"min_recording_ms" mapstructure:"min_recording_ms" validate:"max=10000"`
	RequestTimeout      time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"gte=0"`
	RecordingsDir       string        `yaml:"recordings_dir" mapstructure:"recordings_dir"`
	Audio               AudioConfig   `yaml:"audio" mapstructure:"audio"`
	Socket              SocketConfig  `yaml:"socket" mapstructure:"socket"`
	Log                 LogConfig     `yaml:"log" mapstructure:"log"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate    uint32 `yaml:"sample_rate" mapstructure:"sample_rate" validate:"min=1"`
	Channels      uint32 `yaml:"channels" mapstructure:"channels" validate:"min=1,max=8"`
	BufferSeconds uint32 `yaml:"buffer_seconds" mapstructure:"buffer_seconds" validate:"min=1,max=600"`
}

// SocketConfig holds the local IPC endpoints.
type SocketConfig struct {
	Path        string `yaml:"path" mapstructure:"path" validate:"required"`
	ControlPath string `yaml:"control_path" mapstructure:"control_path" validate:"required"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=text json"`
	File   string `yaml:"file" mapstructure:"file"`
}

// DefaultSocketPath is where the daemon accepts commands.
const DefaultSocketPath = "/tmp/stt-sock"

// DefaultControlPath is where auto-stop notifications are delivered.
const DefaultControlPath = "/tmp/stt-control.sock"

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "stt-assistant")
}

// DefaultConfigPath returns the default per-user config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// SystemConfigPaths lists the system-wide config files, first match wins.
func SystemConfigPaths() []string {
	return []string{"/etc/stt-assistant.toml", "/etc/stt-assistant.yaml"}
}

// DefaultModelsDir returns the per-user whisper models directory.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("models")
	}
	return filepath.Join(home, ".local", "share", "stt-assistant", "models")
}

// SystemModelsDir returns the system-wide whisper models directory.
func SystemModelsDir() string {
	return "/usr/share/stt-assistant/models"
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		ModelPath:           "ggml-base.bin",
		Language:            "es",
		MaxRecordingSeconds: 60,
		MinRecordingMS:      0,
		RequestTimeout:      2 * time.Minute,
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			BufferSeconds: 30,
		},
		Socket: SocketConfig{
			Path:        DefaultSocketPath,
			ControlPath: DefaultControlPath,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Clone returns a copy of c that can be modified freely.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// MaxSamples is the segment length cap in samples.
func (c *Config) MaxSamples() int {
	return int(c.MaxRecordingSeconds) * int(c.Audio.SampleRate)
}

// MinSamples is the shortest segment that is worth transcribing.
func (c *Config) MinSamples() int {
	return int(uint64(c.MinRecordingMS) * uint64(c.Audio.SampleRate) / 1000)
}

// BufferSamples is the capacity of the capture ring buffer.
func (c *Config) BufferSamples() int {
	return int(c.Audio.BufferSeconds) * int(c.Audio.SampleRate)
}

// Load reads and parses a single YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %v", ErrInvalid, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %v", ErrInvalid, err)
	}

	cfg.expandPaths()
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}

	if c.Socket.Path == c.Socket.ControlPath {
		return fmt.Errorf("%w: socket.path and socket.control_path must differ", ErrInvalid)
	}

	if c.MinSamples() >= c.MaxSamples() {
		return fmt.Errorf("%w: min_recording_ms must be shorter than max_recording_seconds", ErrInvalid)
	}

	return nil
}

// describe turns a validator error into "audio.sample_rate must be >= 1".
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s must not be empty", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

// ParseLogLevel maps a config level name to a slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func (c *Config) expandPaths() {
	c.ModelPath = expandTilde(c.ModelPath)
	c.RecordingsDir = expandTilde(c.RecordingsDir)
	c.Log.File = expandTilde(c.Log.File)
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
