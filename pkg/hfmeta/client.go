// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	revision       = "main"
	defaultBaseURL = "https://huggingface.co"
)

// node is one entry returned by the repo tree API.
type node struct {
	Type string   `json:"type"` // "file"|"directory" (sometimes "blob"|"tree")
	Path string   `json:"path"`
	Size int64    `json:"size,omitempty"`
	LFS  *lfsInfo `json:"lfs,omitempty"`
}

type lfsInfo struct {
	Size int64 `json:"size,omitempty"`
}

func buildHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
		Timeout: 30 * time.Second,
	}
}

func addAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "modelinstall/1")
}

func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}

func resolveURL(baseURL, repoID, path string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", baseURL, repoID, url.PathEscape(revision), pathEscapeAll(path))
}

func treeURL(baseURL, repoID, prefix string) string {
	if prefix == "" {
		return fmt.Sprintf("%s/api/models/%s/tree/%s", baseURL, repoID, url.PathEscape(revision))
	}
	return fmt.Sprintf("%s/api/models/%s/tree/%s/%s", baseURL, repoID, url.PathEscape(revision), pathEscapeAll(prefix))
}

// walkTree recursively lists every file under repoID, calling fn for
// each leaf node encountered.
func walkTree(ctx context.Context, httpc *http.Client, token, baseURL, repoID, prefix string, fn func(node) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, treeURL(baseURL, repoID, prefix), nil)
	if err != nil {
		return err
	}
	addAuth(req, token)

	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("401 unauthorized: %s requires a token or you lack access (visit %s)", repoID, fmt.Sprintf("%s/%s", baseURL, repoID))
	case http.StatusForbidden:
		return fmt.Errorf("403 forbidden: accept the repository terms at %s/%s", baseURL, repoID)
	case http.StatusNotFound:
		return fmt.Errorf("repository %s not found", repoID)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tree API failed: %s", resp.Status)
	}

	var nodes []node
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return err
	}
	for _, n := range nodes {
		switch n.Type {
		case "directory", "tree":
			if err := walkTree(ctx, httpc, token, baseURL, repoID, n.Path, fn); err != nil {
				return err
			}
		default:
			if err := fn(n); err != nil {
				return err
			}
		}
	}
	return nil
}
