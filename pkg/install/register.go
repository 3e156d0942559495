// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// isUnderRoot reports whether path lies inside root, and if so returns
// its path relative to root.
func isUnderRoot(path, root string) (string, bool) {
	absPath, err1 := filepath.Abs(path)
	absRoot, err2 := filepath.Abs(root)
	if err1 != nil || err2 != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// relativizeToRoot returns path relative to root if path is inside
// root, else path unchanged. This implements invariants 6 and 7:
// managed paths are stored relative, foreign ones absolute.
func relativizeToRoot(path, root string) string {
	if rel, ok := isUnderRoot(path, root); ok {
		return rel
	}
	return path
}

// registerPath probes path, defaults config.source to path's absolute
// form and config.source_type to PATH whenever the caller did not
// supply a source override (without clobbering one already set by
// Probe), persists the resulting record, and returns its opaque key.
func (s *Service) registerPath(ctx context.Context, path string, overrides ConfigOverrides) (string, error) {
	cfg, err := s.probe.Probe(ctx, path, overrides, s.cfg.HashAlgorithm)
	if err != nil {
		return "", newErr(KindInvalidModelConfig, "probe rejected "+path, err)
	}

	if cfg.Source == "" {
		if overrides.Source != "" {
			cfg.Source = overrides.Source
		} else if abs, err := filepath.Abs(path); err == nil {
			cfg.Source = abs
		} else {
			cfg.Source = path
		}
	}
	if overrides.Source == "" {
		cfg.SourceType = SourceTypePath
	} else if cfg.SourceType == "" {
		cfg.SourceType = overrides.SourceType
	}
	if overrides.SourceAPIResponse != nil {
		cfg.SourceAPIResponse = overrides.SourceAPIResponse
	}
	if overrides.Description != "" && cfg.Description == "" {
		cfg.Description = overrides.Description
	}

	cfg.Path = relativizeToRoot(path, s.cfg.ModelsRoot)
	if cfg.ConfigPath != "" {
		cfg.ConfigPath = relativizeToRoot(cfg.ConfigPath, s.cfg.LegacyConfigRoot)
	}

	key, err := s.records.Add(ctx, cfg)
	if err != nil {
		return "", err
	}
	return key, nil
}

// installPath probes path, computes the canonical destination under
// the models root, copies (never moves) the file or directory into
// place, and registers against the new location. Fails with
// ErrDuplicate if the destination already exists.
func (s *Service) installPath(ctx context.Context, path string, overrides ConfigOverrides) (string, error) {
	cfg, err := s.probe.Probe(ctx, path, overrides, s.cfg.HashAlgorithm)
	if err != nil {
		return "", newErr(KindInvalidModelConfig, "probe rejected "+path, err)
	}

	name := filepath.Base(path)
	if overrides.Name != "" {
		name = overrides.Name + filepath.Ext(path)
	}
	dest := filepath.Join(s.cfg.ModelsRoot, cfg.Base, cfg.Type, name)

	if _, err := os.Stat(dest); err == nil {
		return "", newErr(KindDuplicate, "destination already exists: "+dest, nil)
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if _, err := copyPath(path, dest); err != nil {
		return "", err
	}

	return s.registerPath(ctx, dest, overrides)
}

// registerOrInstall is run by the worker to finalize a job: it
// computes local sizes, stamps source metadata onto config_in, and
// dispatches to registerPath or installPath depending on Inplace.
func (s *Service) registerOrInstall(ctx context.Context, job *InstallJob) error {
	size, err := recursiveSize(job.LocalPath)
	if err == nil {
		s.mu.Lock()
		job.TotalBytes = size
		job.Bytes = size
		s.mu.Unlock()
	}

	s.mu.Lock()
	job.Status = StatusRunning
	s.publish("install-running", job.snapshot())
	overrides := job.ConfigIn.Clone()
	overrides.Source = job.Source.String()
	overrides.SourceType = sourceTypeOf(job.Source)
	if job.SourceMetadata != nil {
		overrides.SourceAPIResponse = job.SourceMetadata
	}
	inplace := job.Inplace
	localPath := job.LocalPath
	s.mu.Unlock()

	var key string
	if inplace {
		key, err = s.registerPath(ctx, localPath, overrides)
	} else {
		key, err = s.installPath(ctx, localPath, overrides)
	}
	if err != nil {
		return err
	}

	cfg, err := s.records.Get(ctx, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	job.ConfigOut = &cfg
	job.Status = StatusCompleted
	s.publish("install-completed", job.snapshot())
	s.mu.Unlock()
	return nil
}

func sourceTypeOf(src Source) SourceType {
	switch src.(type) {
	case LocalSource:
		return SourceTypePath
	case RepoSource:
		return SourceTypeHF
	case URLSource:
		return SourceTypeURL
	default:
		return ""
	}
}
