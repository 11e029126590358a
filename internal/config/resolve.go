package config

import (
	"path/filepath"
)

// ModelSearchDirs lists where model files are looked up by name, in order.
func ModelSearchDirs() []string {
	return []string{DefaultModelsDir(), SystemModelsDir(), "models"}
}

// ResolveModelPath returns modelPath if it names an existing file, otherwise
// the first match of its base name in ModelSearchDirs. When nothing matches
// modelPath is returned unchanged so the load error names what was asked for.
func ResolveModelPath(modelPath string) string {
	return resolveModelPath(modelPath, ModelSearchDirs())
}

func resolveModelPath(modelPath string, dirs []string) string {
	modelPath = expandTilde(modelPath)
	if modelPath == "" || fileExists(modelPath) {
		return modelPath
	}
	name := filepath.Base(modelPath)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if fileExists(candidate) {
			return candidate
		}
	}
	return modelPath
}

// WithResolvedModel returns a copy of c whose ModelPath has been resolved.
func (c *Config) WithResolvedModel() *Config {
	cp := c.Clone()
	cp.ModelPath = ResolveModelPath(cp.ModelPath)
	return cp
}
