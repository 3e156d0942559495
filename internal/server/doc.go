// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server exposes a pkg/install.Service over HTTP: a REST API
// for submitting installs and inspecting job state, and a WebSocket
// feed of install lifecycle events for live progress UIs.
package server
