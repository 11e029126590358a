// Package models manages whisper ggml model files: the download catalog,
// the per-user and system model directories, and downloads.
package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airvzxf/stt-assistant/internal/config"
)

// BaseURL is where ggml models are published.
const BaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Model describes one downloadable whisper model.
type Model struct {
	Name        string
	Description string
	SizeMB      int
}

// FileName is the on-disk name, e.g. "ggml-base.bin".
func (m Model) FileName() string { return FileName(m.Name) }

// URL is the download location under BaseURL.
func (m Model) URL() string { return BaseURL + "/" + m.FileName() }

// Catalog lists the known models, smallest first.
var Catalog = []Model{
	{Name: "tiny", Description: "Tiny model (lowest accuracy)", SizeMB: 75},
	{Name: "tiny.en", Description: "Tiny, English only", SizeMB: 75},
	{Name: "base", Description: "Base model (standard balance)", SizeMB: 142},
	{Name: "base.en", Description: "Base, English only", SizeMB: 142},
	{Name: "small", Description: "Small model", SizeMB: 466},
	{Name: "small.en", Description: "Small, English only", SizeMB: 466},
	{Name: "medium", Description: "Medium model", SizeMB: 1500},
	{Name: "medium.en", Description: "Medium, English only", SizeMB: 1500},
	{Name: "large-v3", Description: "Large v3 model (highest accuracy)", SizeMB: 2900},
}

// Lookup finds a model by name. "ggml-base.bin" and "base" are both accepted.
func Lookup(name string) (Model, error) {
	name = strings.TrimSuffix(strings.TrimPrefix(name, "ggml-"), ".bin")
	for _, m := range Catalog {
		if m.Name == name {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("model %q not found, run 'stt-models list' to see available models", name)
}

// FileName returns the ggml file name for a model name.
func FileName(name string) string {
	return "ggml-" + name + ".bin"
}

// Dirs are the local (per-user) and global (system) model directories.
type Dirs struct {
	Local  string
	Global string
}

// DefaultDirs returns the directories the daemon searches.
func DefaultDirs() Dirs {
	return Dirs{Local: config.DefaultModelsDir(), Global: config.SystemModelsDir()}
}

// Target returns the directory a download goes to.
func (d Dirs) Target(global bool) string {
	if global {
		return d.Global
	}
	return d.Local
}

// Presence reports where a model is installed.
type Presence struct {
	Model  Model
	Local  bool
	Global bool
}

// Scan checks every catalog model against both directories.
func (d Dirs) Scan() []Presence {
	out := make([]Presence, 0, len(Catalog))
	for _, m := range Catalog {
		out = append(out, Presence{
			Model:  m,
			Local:  installed(filepath.Join(d.Local, m.FileName())),
			Global: installed(filepath.Join(d.Global, m.FileName())),
		})
	}
	return out
}

func installed(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
