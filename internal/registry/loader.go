// Package registry is the catalog of local GGUF model files served by the
// local-gpu and local-cpu backends.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"proofduck/internal/common/fsutil"
	"proofduck/pkg/types"
)

// Ext is the model file extension, matched case-insensitively.
const Ext = ".gguf"

// families maps an id prefix (lowercase) to a model family.
var families = []struct{ prefix, family string }{
	{"qwen", "qwen"},
	{"llama", "llama"},
	{"meta-llama", "llama"},
	{"mistral", "mistral"},
	{"phi", "phi"},
	{"gemma", "gemma"},
	{"smollm", "smollm"},
	{"hermes", "hermes"},
}

// LoadDir scans dir (a leading ~ is expanded) for *.gguf files. The model id
// is the filename without extension. Results are sorted by id.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), Ext) {
			continue
		}
		m := types.Model{ID: modelID(name), Path: filepath.Join(abs, name)}
		m.Name = m.ID
		m.Family = Family(m.ID)
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Family guesses the model family from its id; empty when unknown.
func Family(id string) string {
	l := strings.ToLower(id)
	for _, f := range families {
		if strings.HasPrefix(l, f.prefix) {
			return f.family
		}
	}
	return ""
}

func modelID(filename string) string {
	return filename[:len(filename)-len(filepath.Ext(filename))]
}
