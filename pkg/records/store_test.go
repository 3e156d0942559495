// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package records

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"modelinstall/pkg/install"
)

func TestStoreAddGetUpdateDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "models.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	key, err := s.Add(ctx, install.ModelConfig{Base: "sdxl", Type: "main", Name: "foo", Path: "sdxl/main/foo"})
	if err != nil {
		t.Fatal(err)
	}
	if key == "" {
		t.Fatal("expected a generated key")
	}

	cfg, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "foo" || cfg.Key != key {
		t.Fatalf("got %#v", cfg)
	}

	cfg.Description = "updated"
	if err := s.Update(ctx, key, cfg); err != nil {
		t.Fatal(err)
	}
	cfg2, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if cfg2.Description != "updated" {
		t.Fatalf("update did not persist: %#v", cfg2)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, install.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreList(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "models.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.Add(ctx, install.ModelConfig{Base: "sdxl", Type: "main", Name: name}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
}

func TestStoreUpdateMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "models.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	err = s.Update(context.Background(), "missing", install.ModelConfig{})
	if !errors.Is(err, install.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
