// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// legacyYAMLVersion is the only legacy models.yaml schema version this
// migration understands.
const legacyYAMLVersion = "3.0.0"

type legacyMetadata struct {
	Version string `yaml:"version"`
}

type legacyEntry struct {
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
	ConfigPath  string `yaml:"config"`
}

// migrateLegacyYAML performs the one-shot legacy models.yaml
// migration: it only runs if a configured legacy file exists, requires
// version 3.0.0, and only migrates into an empty records store. On
// completion the source file is renamed to "<name>.bak" and the
// configured path is cleared so this never runs twice, regardless of
// outcome of the per-model registrations.
func (s *Service) migrateLegacyYAML(ctx context.Context) error {
	path := s.legacyYAMLPath()
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var doc struct {
		Metadata legacyMetadata                    `yaml:"__metadata__"`
		Rest     map[string]yaml.Node              `yaml:",inline"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc.Metadata.Version != legacyYAMLVersion {
		return newErr(KindUnsupportedMigration, "legacy models.yaml version is not "+legacyYAMLVersion, nil)
	}

	existing, err := s.records.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		s.cfg.LegacyYAMLPath = ""
		return nil
	}

	for groupKind, node := range doc.Rest {
		if groupKind == "__metadata__" {
			continue
		}
		var kinds map[string]map[string]legacyEntry
		if err := node.Decode(&kinds); err != nil {
			s.logger.Printf("install service: legacy migration: skipping %s: %v", groupKind, err)
			continue
		}
		for kind, models := range kinds {
			for name, entry := range models {
				s.migrateOne(ctx, groupKind, kind, name, entry)
			}
		}
	}

	s.cfg.LegacyYAMLPath = ""
	return os.Rename(path, path+".bak")
}

func (s *Service) migrateOne(ctx context.Context, group, kind, name string, entry legacyEntry) {
	resolvedPath := entry.Path
	if !filepath.IsAbs(resolvedPath) {
		resolvedPath = filepath.Join(s.cfg.ModelsRoot, resolvedPath)
	}

	overrides := ConfigOverrides{
		Name:        name,
		Description: entry.Description,
	}
	if entry.ConfigPath != "" {
		overrides.ConfigPath = relativizeToRoot(entry.ConfigPath, s.cfg.LegacyConfigRoot)
	}

	if _, err := s.registerPath(ctx, resolvedPath, overrides); err != nil {
		s.logger.Printf("install service: legacy migration: failed to register %s/%s/%s: %v", group, kind, name, err)
		return
	}
	s.logger.Printf("install service: legacy migration: registered %s/%s/%s", group, kind, name)
}

// legacyYAMLPath resolves the configured legacy path against the app
// root when it is not already absolute.
func (s *Service) legacyYAMLPath() string {
	if s.cfg.LegacyYAMLPath == "" {
		return ""
	}
	if filepath.IsAbs(s.cfg.LegacyYAMLPath) {
		return s.cfg.LegacyYAMLPath
	}
	return filepath.Join(s.cfg.ModelsRoot, "..", s.cfg.LegacyYAMLPath)
}
