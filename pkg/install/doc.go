// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package install implements the model install coordinator: it takes
// sources (local paths, repository identifiers, arbitrary URLs),
// materializes them on disk under a canonical per-base/type/name
// layout, probes the result, and persists a model configuration
// record. Long-running installs are tracked as jobs with a lifecycle,
// multi-part download aggregation, cancellation, and event emission.
//
// The coordinator depends on a handful of collaborators it does not
// implement itself (see collaborators.go): a records store, a download
// queue, a content probe, metadata fetchers, an event bus, and a
// logger. Concrete implementations live in sibling packages
// (pkg/records, pkg/probe, pkg/fetchqueue, pkg/hfmeta, internal/events).
package install
