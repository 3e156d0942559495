// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"os"
	"regexp"
	"strings"
)

// repoPattern matches "<owner>/<name>" optionally followed by
// ":<variant>?" and ":/<subfolder>" or "::<subfolder>". The grammar is
// intentionally liberal (see spec design notes on tokenization) — a
// tighter grammar is left as a future rewrite.
var repoPattern = regexp.MustCompile(`^([^/:]+/[^/:]+)(?::([A-Za-z0-9]*)?(?::/?([^:]+))?)?$`)

var urlPattern = regexp.MustCompile(`^https?://`)

// ParseSource interprets a free-form source string per the resolver
// grammar: an existing filesystem entry is Local; a
// "<owner>/<name>[:variant][:/subfolder]" string naming a known
// variant is Repo; an "http(s)://" string is URL; anything else fails
// with ErrBadSource.
func ParseSource(sourceString string, overrides ConfigOverrides, accessToken string, inplace bool, tokenRules []TokenRule) (Source, error) {
	if _, err := os.Stat(sourceString); err == nil {
		return LocalSource{Path: sourceString, Inplace: inplace}, nil
	}

	if m := repoPattern.FindStringSubmatch(sourceString); m != nil {
		repoID, variantStr, subfolder := m[1], m[2], m[3]
		var variant *RepoVariant
		if variantStr != "" {
			v, ok := knownVariants[strings.ToLower(variantStr)]
			if !ok {
				return nil, newErr(KindBadSource, "unknown repo variant: "+variantStr, nil)
			}
			variant = &v
		}
		return RepoSource{
			RepoID:      repoID,
			Variant:     variant,
			Subfolder:   subfolder,
			AccessToken: accessToken,
		}, nil
	}

	if urlPattern.MatchString(sourceString) {
		token := accessToken
		if token == "" {
			token = resolveTokenForURL(sourceString, tokenRules)
		}
		return URLSource{URL: sourceString, AccessToken: token}, nil
	}

	return nil, newErr(KindBadSource, "unrecognized source: "+sourceString, nil)
}

// resolveTokenForURL returns the token of the first matching rule, or
// empty if none match.
func resolveTokenForURL(url string, rules []TokenRule) string {
	for _, r := range rules {
		if r.Pattern != nil && r.Pattern.MatchString(url) {
			return r.Token
		}
	}
	return ""
}
