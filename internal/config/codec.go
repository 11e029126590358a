package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Encode serializes c as a single line of flow-style YAML, suitable as a
// REFRESH payload.
func Encode(c *Config) (string, error) {
	var node yaml.Node
	if err := node.Encode(c); err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	node.Style = yaml.FlowStyle

	data, err := yaml.Marshal(&node)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Decode parses a REFRESH payload. Both YAML and JSON objects are accepted.
// Missing fields take their default values and unknown fields are rejected.
func Decode(payload string) (*Config, error) {
	return DecodeOnto(Default(), payload)
}

// DecodeOnto is Decode with missing fields taken from base. base itself is
// not modified.
func DecodeOnto(base *Config, payload string) (*Config, error) {
	cfg := base.Clone()
	dec := yaml.NewDecoder(strings.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty payload", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.expandPaths()
	return cfg, nil
}

const defaultHeader = `# stt-assistant configuration
#
# Precedence (lowest to highest): built-in defaults, /etc/stt-assistant.(toml|yaml),
# this file, --config, STT_* environment variables, --model/--language flags.
#
# model_path may be a bare file name; it is then searched in
# ~/.local/share/stt-assistant/models, /usr/share/stt-assistant/models and ./models.

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) without touching anything when the file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
