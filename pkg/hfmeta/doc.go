// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hfmeta implements install.MetadataFetcher for HuggingFace
// repository sources and HuggingFace-hosted URLs: it walks the repo
// tree API to discover files and applies variant/subfolder filtering.
package hfmeta
