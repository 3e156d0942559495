// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfmeta

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"modelinstall/pkg/install"
)

// bareRepoURL matches a HuggingFace repo page URL with no file path of
// its own, e.g. "https://huggingface.co/owner/name" or the same with a
// trailing slash. Anything more specific (a /resolve/, /blob/ or
// /tree/ URL) already names a concrete file or subpath and is left to
// a direct download instead of a tree walk.
var bareRepoURL = regexp.MustCompile(`^https://huggingface\.co/([\w.-]+/[\w.-]+)/?$`)

// Fetcher is an install.MetadataFetcher for HuggingFace repositories.
type Fetcher struct {
	httpc   *http.Client
	baseURL string
}

// New builds a Fetcher with a pooled HTTP client against the real
// HuggingFace Hub.
func New() *Fetcher {
	return &Fetcher{httpc: buildHTTPClient(), baseURL: defaultBaseURL}
}

var _ install.MetadataFetcher = (*Fetcher)(nil)

func (f *Fetcher) Supports(src install.Source) bool {
	switch v := src.(type) {
	case install.RepoSource:
		return true
	case install.URLSource:
		return bareRepoURL.MatchString(v.URL)
	default:
		return false
	}
}

func (f *Fetcher) Fetch(ctx context.Context, src install.Source) (install.SourceMetadata, []install.RemoteFile, error) {
	var repoID, token string
	var variant *install.RepoVariant
	var subfolder string

	switch v := src.(type) {
	case install.RepoSource:
		repoID, token, variant, subfolder = v.RepoID, v.AccessToken, v.Variant, v.Subfolder
	case install.URLSource:
		m := bareRepoURL.FindStringSubmatch(v.URL)
		if m == nil {
			return nil, nil, install.ErrBadSource
		}
		repoID, token = m[1], v.AccessToken
	default:
		return nil, nil, install.ErrBadSource
	}

	return f.fetchFrom(ctx, f.baseURL, repoID, token, variant, subfolder)
}

// fetchFrom does the actual walk against baseURL, split out from
// Fetch so tests can point it at an httptest server.
func (f *Fetcher) fetchFrom(ctx context.Context, baseURL, repoID, token string, variant *install.RepoVariant, subfolder string) (install.SourceMetadata, []install.RemoteFile, error) {
	var all []install.RemoteFile
	err := walkTree(ctx, f.httpc, token, baseURL, repoID, "", func(n node) error {
		size := n.Size
		if n.LFS != nil && n.LFS.Size > 0 {
			size = n.LFS.Size
		}
		all = append(all, install.RemoteFile{
			URL:  resolveURL(baseURL, repoID, n.Path),
			Path: n.Path,
			Size: size,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, install.ErrEmptyRemote
	}

	filtered := filterBySubfolder(all, subfolder)
	filtered = filterByVariant(filtered, variant)
	if len(filtered) == 0 {
		return nil, nil, install.ErrEmptyRemote
	}

	meta := install.SourceMetadata{"repo_id": repoID, "file_count": len(filtered)}
	return meta, filtered, nil
}

// filterBySubfolder keeps only files under subfolder, if one is given.
func filterBySubfolder(files []install.RemoteFile, subfolder string) []install.RemoteFile {
	if subfolder == "" {
		return files
	}
	prefix := strings.TrimSuffix(subfolder, "/") + "/"
	out := make([]install.RemoteFile, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.Path, prefix) {
			out = append(out, f)
		}
	}
	return out
}

var variantDirs = map[install.RepoVariant]string{
	install.VariantONNX:     "onnx/",
	install.VariantOpenVINO: "openvino/",
}

// filterByVariant narrows the full file set down to the one matching
// variant. fp16/fp32 select by filename marker since HuggingFace
// diffusers repos commonly ship both precisions side by side rather
// than in separate directories; onnx/openvino select by directory,
// matching how those exports are actually laid out. Unmatched variants
// fall back rather than erroring, since not every repo ships every
// variant: an unmatched onnx/openvino falls back to the unfiltered set,
// an unmatched fp16/fp32 to the default-variant set.
func filterByVariant(files []install.RemoteFile, variant *install.RepoVariant) []install.RemoteFile {
	if variant == nil || *variant == install.VariantDefault {
		return excludeVariantMarked(files)
	}

	if dir, ok := variantDirs[*variant]; ok {
		var matched []install.RemoteFile
		for _, f := range files {
			if strings.HasPrefix(f.Path, dir) {
				matched = append(matched, f)
			}
		}
		if len(matched) > 0 {
			return matched
		}
		return files
	}

	marker := string(*variant) // "fp16" or "fp32"
	var matched []install.RemoteFile
	for _, f := range files {
		if strings.Contains(strings.ToLower(f.Path), marker) {
			matched = append(matched, f)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return excludeVariantMarked(files)
}

// excludeVariantMarked drops files belonging to an explicit precision
// or export variant when no variant was requested, so the default
// install doesn't pull every precision at once.
func excludeVariantMarked(files []install.RemoteFile) []install.RemoteFile {
	out := make([]install.RemoteFile, 0, len(files))
	for _, f := range files {
		lower := strings.ToLower(f.Path)
		if strings.HasPrefix(lower, "onnx/") || strings.HasPrefix(lower, "openvino/") || strings.Contains(lower, "fp16") {
			continue
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return files
	}
	return out
}
