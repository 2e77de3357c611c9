package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ggml file names for the known whisper.cpp models.
var registry = map[string]string{
	"tiny":     "ggml-tiny.bin",
	"base":     "ggml-base.bin",
	"small":    "ggml-small.bin",
	"medium":   "ggml-medium.bin",
	"large-v3": "ggml-large-v3.bin",
}

// KnownModels returns the registered model names, sorted.
func KnownModels() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a model name or file path to the ggml file on disk. Known
// names resolve against modelDir; anything that looks like a path is used
// as-is. The file must already exist; downloading is out of scope.
func Resolve(name, modelDir string) (Ref, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Ref{}, errors.New("model name must not be empty")
	}

	if fileName, ok := registry[name]; ok {
		path := filepath.Join(modelDir, fileName)
		if _, err := os.Stat(path); err != nil {
			return Ref{}, fmt.Errorf("model file %s: %w", path, err)
		}
		return Ref{Name: name, Path: path}, nil
	}

	if strings.ContainsRune(name, os.PathSeparator) || strings.HasSuffix(name, ".bin") {
		path := filepath.Clean(name)
		if _, err := os.Stat(path); err != nil {
			return Ref{}, fmt.Errorf("model file %s: %w", path, err)
		}
		return Ref{Name: filepath.Base(path), Path: path}, nil
	}

	return Ref{}, fmt.Errorf("unknown model %q (known models: %s)",
		name, strings.Join(KnownModels(), ", "))
}

// FileLoader returns a LoadFunc that resolves the named model under modelDir.
func FileLoader(name, modelDir string) LoadFunc {
	return func(_ context.Context) (Ref, error) {
		return Resolve(name, modelDir)
	}
}
