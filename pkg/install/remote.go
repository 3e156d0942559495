// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// expandRemote resolves a Repo or URL source into a set of remote
// files and stages a scratch directory. The metadata fetch itself runs
// without the service lock held (it blocks on network I/O); only the
// final job mutation and part bookkeeping that follow take the lock,
// matching the rule that metadata fetch and download-queue submission
// never happen while the lock is held.
func (s *Service) expandRemote(ctx context.Context, job *InstallJob) error {
	meta, files, subfolder, err := s.resolveRemoteFiles(ctx, job.Source)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return newErr(KindEmptyRemote, "remote metadata yielded zero files", nil)
	}

	scratch := filepath.Join(s.cfg.ModelsRoot, "tmpinstall_"+uuid.NewString())

	type pending struct {
		partID, url, destPath, rel string
		totalBytes                 int64
	}
	parts := make([]pending, 0, len(files))
	var totalBytes int64
	for _, f := range files {
		rel := f.Path
		if subfolder != "" {
			rel = strings.TrimPrefix(rel, strings.TrimSuffix(subfolder, "/")+"/")
		}
		destPath := filepath.Join(scratch, filepath.FromSlash(rel))
		parts = append(parts, pending{partID: uuid.NewString(), url: f.URL, destPath: destPath, rel: rel, totalBytes: f.Size})
		totalBytes += f.Size
	}

	s.logger.Printf("install job %d: expanding %s into %s", job.ID, job.Source, filesString(len(files)))

	s.mu.Lock()
	job.ScratchDir = scratch
	job.LocalPath = scratch
	job.SourceMetadata = meta
	job.TotalBytes = totalBytes
	job.downloadParts = make(map[string]*downloadPart, len(parts))
	for _, p := range parts {
		job.downloadParts[p.partID] = &downloadPart{ID: p.partID, URL: p.url, LocalPath: p.destPath, TotalBytes: p.totalBytes}
		s.downloadCache[p.partID] = job.ID
	}
	s.mu.Unlock()

	token := accessTokenOf(job.Source)
	cb := s.downloadCallbacks()
	for _, p := range parts {
		if err := s.downloads.Enqueue(ctx, p.partID, p.url, scratch, p.rel, token, cb); err != nil {
			return fmt.Errorf("enqueue %s: %w", p.url, err)
		}
	}
	return nil
}

// resolveRemoteFiles dispatches to the matching MetadataFetcher, or
// for URL sources that no fetcher claims, synthesizes a single direct
// download.
func (s *Service) resolveRemoteFiles(ctx context.Context, src Source) (SourceMetadata, []RemoteFile, string, error) {
	switch v := src.(type) {
	case RepoSource:
		variant := v.Variant
		if variant == nil && s.cfg.PreferFP16 {
			fp16 := VariantFP16
			variant = &fp16
		}
		effective := v
		effective.Variant = variant
		if effective.AccessToken == "" && s.tokens != nil {
			effective.AccessToken = s.tokens.TokenForRepo(v.RepoID)
		}
		for _, f := range s.fetchers {
			if f.Supports(effective) {
				meta, files, err := f.Fetch(ctx, effective)
				return meta, files, v.Subfolder, err
			}
		}
		return nil, nil, "", newErr(KindBadSource, "no metadata fetcher for repo "+v.RepoID, nil)

	case URLSource:
		for _, f := range s.fetchers {
			if f.Supports(v) {
				meta, files, err := f.Fetch(ctx, v)
				return meta, files, "", err
			}
		}
		// No fetcher claims this URL: synthesize a single direct file.
		return nil, []RemoteFile{{URL: v.URL, Path: ".", Size: 0}}, "", nil

	default:
		return nil, nil, "", newErr(KindBadSource, "not a remote source", nil)
	}
}

func accessTokenOf(src Source) string {
	switch v := src.(type) {
	case RepoSource:
		return v.AccessToken
	case URLSource:
		return v.AccessToken
	default:
		return ""
	}
}
