// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"modelinstall/pkg/install"
)

func TestProbeFileExtensionAndBase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sdxl-base-1.0.safetensors")
	content := []byte("weights")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := (Prober{}).Probe(context.Background(), path, install.ConfigOverrides{}, "sha256")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Base != "sdxl" {
		t.Fatalf("expected base sdxl, got %s", cfg.Base)
	}
	if cfg.Type != "main" {
		t.Fatalf("expected type main, got %s", cfg.Type)
	}

	want := sha256.Sum256(content)
	if cfg.Hash != hex.EncodeToString(want[:]) {
		t.Fatalf("hash mismatch: got %s", cfg.Hash)
	}
}

func TestProbeNameOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.ckpt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := (Prober{}).Probe(context.Background(), path, install.ConfigOverrides{Name: "custom"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "custom" {
		t.Fatalf("expected overridden name, got %s", cfg.Name)
	}
}

func TestProbeDirectoryPipeline(t *testing.T) {
	dir := t.TempDir()
	repo := filepath.Join(dir, "flux-dev")
	if err := os.MkdirAll(repo, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "model_index.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := (Prober{}).Probe(context.Background(), repo, install.ConfigOverrides{}, "sha256")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Base != "flux" {
		t.Fatalf("expected base flux, got %s", cfg.Base)
	}
}

func TestProbeUnsupportedHashAlgo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.bin")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := (Prober{}).Probe(context.Background(), path, install.ConfigOverrides{}, "md5"); err == nil {
		t.Fatal("expected error for unsupported hash algorithm")
	}
}
