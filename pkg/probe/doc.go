// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package probe implements install.Probe: given a filesystem path it
// infers the model's base architecture and type from its extension
// and directory shape, then hashes its content.
package probe
