// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"modelinstall/pkg/install"
)

// extKind maps a lowercase file extension to the model "type" a file
// with that extension usually represents.
var extKind = map[string]string{
	".safetensors": "main",
	".ckpt":        "main",
	".pt":          "main",
	".pth":         "main",
	".bin":         "main",
	".gguf":        "main",
	".onnx":        "main",
}

// baseMarkers maps a substring found in a path (case-insensitive) to
// the base architecture it implies. Checked in list order and the
// first marker found wins.
var baseMarkers = []struct {
	marker string
	base   string
}{
	{"stable-diffusion-xl", "sdxl"},
	{"sdxl", "sdxl"},
	{"sd-3", "sd3"},
	{"sd3", "sd3"},
	{"flux", "flux"},
	{"stable-diffusion-2", "sd2"},
	{"sd2", "sd2"},
	{"stable-diffusion-1", "sd1"},
	{"sd1", "sd1"},
	{"sd-1", "sd1"},
}

// Prober is an install.Probe that classifies a path by extension and
// directory shape and hashes its content with the requested algorithm.
type Prober struct{}

var _ install.Probe = Prober{}

// Probe inspects path (a file or a directory, e.g. a diffusers
// pipeline checkout) and returns a ModelConfig. overrides win over any
// inferred field that is non-empty.
func (Prober) Probe(ctx context.Context, path string, overrides install.ConfigOverrides, hashAlgo string) (install.ModelConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return install.ModelConfig{}, fmt.Errorf("probe %s: %w", path, err)
	}

	base := inferBase(path)
	typ := "main"
	if !info.IsDir() {
		if k, ok := extKind[strings.ToLower(filepath.Ext(path))]; ok {
			typ = k
		}
	} else if hasConfigJSON(path) {
		typ = "main"
	}

	name := overrides.Name
	if name == "" {
		name = filepath.Base(path)
	}

	sum, err := hashPath(path, hashAlgo)
	if err != nil {
		return install.ModelConfig{}, fmt.Errorf("probe %s: %w", path, err)
	}

	cfg := install.ModelConfig{
		Base:              base,
		Type:              typ,
		Name:              name,
		Path:              path,
		Description:       overrides.Description,
		ConfigPath:        overrides.ConfigPath,
		Source:            overrides.Source,
		SourceType:        overrides.SourceType,
		SourceAPIResponse: overrides.SourceAPIResponse,
		Hash:              sum,
	}
	return cfg, nil
}

// inferBase scans path for any known architecture marker, falling
// back to "unknown" when nothing matches.
func inferBase(path string) string {
	lower := strings.ToLower(path)
	for _, m := range baseMarkers {
		if strings.Contains(lower, m.marker) {
			return m.base
		}
	}
	return "unknown"
}

// hasConfigJSON reports whether dir looks like a diffusers pipeline
// checkout (a model_index.json or config.json at its root).
func hasConfigJSON(dir string) bool {
	for _, name := range []string{"model_index.json", "config.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func newHasher(algo string) (hash.Hash, error) {
	switch strings.ToLower(algo) {
	case "", "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}
}

// hashPath hashes a single file, or the concatenation of every file
// under a directory in deterministic (sorted) path order.
func hashPath(path, algo string) (string, error) {
	h, err := newHasher(algo)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		if err := hashFileInto(h, path); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return hashFileInto(h, p)
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFileInto(h hash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(h, f)
	return err
}
