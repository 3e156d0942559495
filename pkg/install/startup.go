// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// scratchDirPrefix names the ephemeral directories the remote expander
// creates under the models root.
const scratchDirPrefix = "tmpinstall_"

// scrubScratchDirs removes any leftover entry under the models root
// whose name begins with tmpinstall_, left behind by a previous
// process that did not shut down cleanly.
func (s *Service) scrubScratchDirs() error {
	entries, err := os.ReadDir(s.cfg.ModelsRoot)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), scratchDirPrefix) {
			if err := removeAll(filepath.Join(s.cfg.ModelsRoot, e.Name())); err != nil {
				s.logger.Printf("install service: failed to scrub %s: %v", e.Name(), err)
			}
		}
	}
	return nil
}

// scanOrphans walks the canonical <models_root>/<base>/<type>/<name>
// layout and registers any entry not already known to the records
// store. Entries under <models_root>/core are reserved and skipped.
// Duplicate registrations are ignored; any other error is logged and
// the scan continues.
func (s *Service) scanOrphans(ctx context.Context) {
	bases, err := os.ReadDir(s.cfg.ModelsRoot)
	if err != nil {
		s.logger.Printf("install service: orphan scan: %v", err)
		return
	}

	known := s.knownPaths(ctx)

	for _, base := range bases {
		if !base.IsDir() || base.Name() == "core" || strings.HasPrefix(base.Name(), scratchDirPrefix) {
			continue
		}
		baseDir := filepath.Join(s.cfg.ModelsRoot, base.Name())
		types, err := os.ReadDir(baseDir)
		if err != nil {
			continue
		}
		for _, typ := range types {
			if !typ.IsDir() {
				continue
			}
			typeDir := filepath.Join(baseDir, typ.Name())
			names, err := os.ReadDir(typeDir)
			if err != nil {
				continue
			}
			for _, name := range names {
				candidate := filepath.Join(typeDir, name.Name())
				if known[candidate] {
					s.logger.Printf("install service: orphan scan: %s already known", candidate)
					continue
				}
				if _, err := s.registerPath(ctx, candidate, ConfigOverrides{}); err != nil {
					if errKind(err) != KindDuplicate {
						s.logger.Printf("install service: orphan scan: failed to register %s: %v", candidate, err)
					}
				}
			}
		}
	}
}

// warnMissingModels logs a warning for every recorded model whose
// backing file is absent (e.g. a disconnected volume). It does not
// remove the record.
func (s *Service) warnMissingModels(ctx context.Context) {
	cfgs, err := s.records.List(ctx)
	if err != nil {
		s.logger.Printf("install service: missing-model scan: %v", err)
		return
	}
	for _, cfg := range cfgs {
		abs := s.absoluteModelPath(cfg.Path)
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			s.logger.Printf("install service: model %s (%s) is missing its backing file at %s", cfg.Key, cfg.Name, abs)
		}
	}
}

func (s *Service) knownPaths(ctx context.Context) map[string]bool {
	known := make(map[string]bool)
	cfgs, err := s.records.List(ctx)
	if err != nil {
		return known
	}
	for _, cfg := range cfgs {
		known[s.absoluteModelPath(cfg.Path)] = true
	}
	return known
}
