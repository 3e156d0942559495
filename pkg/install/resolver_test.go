// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestParseSource(t *testing.T) {
	dir := t.TempDir()
	localFile := filepath.Join(dir, "m.ckpt")
	if err := os.WriteFile(localFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		in     string
		assert func(t *testing.T, src Source, err error)
	}{
		{
			name: "local file",
			in:   localFile,
			assert: func(t *testing.T, src Source, err error) {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				ls, ok := src.(LocalSource)
				if !ok || ls.Path != localFile {
					t.Fatalf("got %#v", src)
				}
			},
		},
		{
			name: "bare repo",
			in:   "a/b",
			assert: func(t *testing.T, src Source, err error) {
				rs, ok := src.(RepoSource)
				if !ok || rs.RepoID != "a/b" || rs.Variant != nil || rs.Subfolder != "" {
					t.Fatalf("got %#v err %v", src, err)
				}
			},
		},
		{
			name: "repo with variant",
			in:   "a/b:fp16",
			assert: func(t *testing.T, src Source, err error) {
				rs, ok := src.(RepoSource)
				if !ok || rs.Variant == nil || *rs.Variant != VariantFP16 {
					t.Fatalf("got %#v err %v", src, err)
				}
			},
		},
		{
			name: "repo with variant and subfolder",
			in:   "a/b:fp16:/sub/dir",
			assert: func(t *testing.T, src Source, err error) {
				rs, ok := src.(RepoSource)
				if !ok || rs.Variant == nil || *rs.Variant != VariantFP16 || rs.Subfolder != "sub/dir" {
					t.Fatalf("got %#v err %v", src, err)
				}
			},
		},
		{
			name: "repo with subfolder only",
			in:   "a/b::sub",
			assert: func(t *testing.T, src Source, err error) {
				rs, ok := src.(RepoSource)
				if !ok || rs.Variant != nil || rs.Subfolder != "sub" {
					t.Fatalf("got %#v err %v", src, err)
				}
			},
		},
		{
			name: "huggingface url",
			in:   "https://huggingface.co/a/b",
			assert: func(t *testing.T, src Source, err error) {
				us, ok := src.(URLSource)
				if !ok || us.URL != "https://huggingface.co/a/b" {
					t.Fatalf("got %#v err %v", src, err)
				}
			},
		},
		{
			name: "bad source",
			in:   "!!!not-a-source!!!",
			assert: func(t *testing.T, src Source, err error) {
				if err == nil {
					t.Fatalf("expected error, got %#v", src)
				}
				if errKind(err) != KindBadSource {
					t.Fatalf("expected BadSource, got %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src, err := ParseSource(tc.in, ConfigOverrides{}, "", false, nil)
			tc.assert(t, src, err)
		})
	}
}

func TestParseSourceTokenRules(t *testing.T) {
	rules := []TokenRule{
		{Pattern: regexp.MustCompile(`^https://special\.example\.com/`), Token: "tok-special"},
	}
	src, err := ParseSource("https://special.example.com/file.bin", ConfigOverrides{}, "", false, rules)
	if err != nil {
		t.Fatal(err)
	}
	us := src.(URLSource)
	if us.AccessToken != "tok-special" {
		t.Fatalf("expected matched token, got %q", us.AccessToken)
	}
}
