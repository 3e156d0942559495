// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMigrateLegacyYAMLHappyPath(t *testing.T) {
	root := t.TempDir()
	modelFile := filepath.Join(root, "sdxl.safetensors")
	if err := os.WriteFile(modelFile, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	legacyPath := filepath.Join(root, "..", "models.yaml")
	legacyYAML := `__metadata__:
  version: "3.0.0"
main_models:
  sdxl:
    my-model:
      path: sdxl.safetensors
      description: a legacy model
`
	if err := os.WriteFile(legacyPath, []byte(legacyYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	records := newFakeRecordStore()
	s := New(Config{ModelsRoot: root, HashAlgorithm: "sha256", LegacyYAMLPath: "models.yaml"}, records, newFakeDownloadQueue(), &fakeProbe{base: "sdxl", typ: "main"}, &fakeEventBus{})

	if err := s.migrateLegacyYAML(context.Background()); err != nil {
		t.Fatalf("migrateLegacyYAML: %v", err)
	}

	cfgs, err := records.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cfgs) != 1 {
		t.Fatalf("expected 1 migrated record, got %d", len(cfgs))
	}
	cfg := cfgs[0]
	if cfg.Name != "my-model" {
		t.Fatalf("expected name my-model, got %q", cfg.Name)
	}
	wantSource, _ := filepath.Abs(modelFile)
	if cfg.Source != wantSource {
		t.Fatalf("expected source %q, got %q", wantSource, cfg.Source)
	}
	if cfg.SourceType != SourceTypePath {
		t.Fatalf("expected source_type PATH, got %q", cfg.SourceType)
	}

	if s.cfg.LegacyYAMLPath != "" {
		t.Fatalf("expected legacy yaml path cleared after migration")
	}
	if _, err := os.Stat(legacyPath + ".bak"); err != nil {
		t.Fatalf("expected legacy file renamed to .bak: %v", err)
	}
}

func TestMigrateLegacyYAMLSkipsWhenRecordsAlreadyExist(t *testing.T) {
	root := t.TempDir()
	legacyPath := filepath.Join(root, "..", "models.yaml")
	legacyYAML := `__metadata__:
  version: "3.0.0"
`
	if err := os.WriteFile(legacyPath, []byte(legacyYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	records := newFakeRecordStore()
	if _, err := records.Add(context.Background(), ModelConfig{Name: "existing"}); err != nil {
		t.Fatal(err)
	}

	s := New(Config{ModelsRoot: root, HashAlgorithm: "sha256", LegacyYAMLPath: "models.yaml"}, records, newFakeDownloadQueue(), &fakeProbe{}, &fakeEventBus{})

	if err := s.migrateLegacyYAML(context.Background()); err != nil {
		t.Fatalf("migrateLegacyYAML: %v", err)
	}

	if s.cfg.LegacyYAMLPath != "" {
		t.Fatalf("expected legacy yaml path cleared even when skipped")
	}
	if _, err := os.Stat(legacyPath); err != nil {
		t.Fatalf("expected legacy file left in place when records already exist: %v", err)
	}
}

func TestMigrateLegacyYAMLRejectsUnsupportedVersion(t *testing.T) {
	root := t.TempDir()
	legacyPath := filepath.Join(root, "..", "models.yaml")
	legacyYAML := `__metadata__:
  version: "1.0.0"
`
	if err := os.WriteFile(legacyPath, []byte(legacyYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	records := newFakeRecordStore()
	s := New(Config{ModelsRoot: root, HashAlgorithm: "sha256", LegacyYAMLPath: "models.yaml"}, records, newFakeDownloadQueue(), &fakeProbe{}, &fakeEventBus{})

	err := s.migrateLegacyYAML(context.Background())
	if err == nil {
		t.Fatal("expected an error for unsupported legacy version")
	}
	if errKind(err) != KindUnsupportedMigration {
		t.Fatalf("expected KindUnsupportedMigration, got %v", err)
	}
}
