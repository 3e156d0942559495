// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package records implements install.RecordStore on top of buntdb, an
// embedded, file-backed key/value store. Every ModelConfig is stored
// as a JSON blob under its Key, or under an opaque generated key when
// Key is empty; the store never
// interprets ModelConfig fields itself, leaving that to pkg/probe and
// pkg/install.
package records
