package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. STT_LANGUAGE or
// STT_AUDIO_SAMPLE_RATE.
const EnvPrefix = "STT"

// ErrNoConfigFile is returned by Watch when no config file exists to watch.
var ErrNoConfigFile = errors.New("no config file found")

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"model":    "model_path",
	"language": "language",
}

// Loader resolves the effective configuration from, lowest to highest
// precedence: built-in defaults, the system file, the user file, an explicit
// file, STT_* environment variables and command-line flags.
type Loader struct {
	explicit    string
	flags       *pflag.FlagSet
	systemPaths []string
	userPath    string
}

// NewLoader creates a Loader. explicit may be empty; flags may be nil.
func NewLoader(explicit string, flags *pflag.FlagSet) *Loader {
	return &Loader{
		explicit:    expandTilde(explicit),
		flags:       flags,
		systemPaths: SystemConfigPaths(),
		userPath:    DefaultConfigPath(),
	}
}

// RegisterFlags adds the flags understood by Loader to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("model", "", "whisper model path or file name (overrides model_path)")
	fs.String("language", "", "transcription language code (overrides language)")
}

// Sources returns the config files that Load would read, in merge order.
func (l *Loader) Sources() []string {
	var files []string
	for _, p := range l.systemPaths {
		if fileExists(p) {
			files = append(files, p)
			break
		}
	}
	if l.userPath != "" && fileExists(l.userPath) {
		files = append(files, l.userPath)
	}
	if l.explicit != "" {
		files = append(files, l.explicit)
	}
	return files
}

// Load merges every source into a new Config. The result is not validated.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	for _, path := range l.Sources() {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalid, path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.flags != nil {
		for name, key := range flagKeys {
			f := l.flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("%w: binding flag --%s: %v", ErrInvalid, name, err)
			}
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("%w: decoding config: %v", ErrInvalid, err)
	}

	cfg.expandPaths()
	return cfg, nil
}

// Watch calls onChange whenever the highest-precedence config file is
// written. It returns the watched path.
func (l *Loader) Watch(onChange func(fsnotify.Event)) (string, error) {
	sources := l.Sources()
	if len(sources) == 0 {
		return "", ErrNoConfigFile
	}
	path := sources[len(sources)-1]

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrInvalid, path, err)
	}
	v.OnConfigChange(onChange)
	v.WatchConfig()
	return path, nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("model_path", d.ModelPath)
	v.SetDefault("language", d.Language)
	v.SetDefault("max_recording_seconds", d.MaxRecordingSeconds)
	v.SetDefault("min_recording_ms", d.MinRecordingMS)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("recordings_dir", d.RecordingsDir)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.buffer_seconds", d.Audio.BufferSeconds)
	v.SetDefault("socket.path", d.Socket.Path)
	v.SetDefault("socket.control_path", d.Socket.ControlPath)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
