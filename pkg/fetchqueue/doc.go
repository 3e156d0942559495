// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package fetchqueue implements install.DownloadQueue: a bounded-
// concurrency pool of HTTP downloads, each reporting progress through
// install.DownloadCallbacks on its own goroutine. Large, range-capable
// downloads are split into concurrent byte-range parts the same way a
// single HuggingFace file is split across workers; everything else
// downloads as one streamed GET.
package fetchqueue
