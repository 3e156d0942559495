// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package events implements install.EventBus: a fan-out hub that
// delivers install lifecycle events to any number of subscriber
// channels, used to drive the TUI and the WebSocket hub.
package events
