// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package tui renders a live terminal view of install job progress,
// fed by internal/events.
package tui

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/term"

	"modelinstall/internal/events"
	"modelinstall/pkg/install"
)

// EMA smoothing factor (0.1 = very smooth, 0.5 = responsive)
const speedSmoothingFactor = 0.3

func smoothSpeed(current, previous float64) float64 {
	if previous == 0 {
		return current
	}
	return speedSmoothingFactor*current + (1-speedSmoothingFactor)*previous
}

// jobState is the renderer's view of one install job.
type jobState struct {
	id     int64
	source string
	status install.Status
	bytes  int64
	total  int64
	errMsg string

	lastBytes     int64
	lastTime      time.Time
	smoothedSpeed float64
	started       time.Time
}

// LiveRenderer renders an adaptive, colorful progress table of every
// install job observed on a subscribed events.Hub.
type LiveRenderer struct {
	mu       sync.Mutex
	ch       chan events.Event
	done     chan struct{}
	stopped  bool
	hideCur  bool
	supports bool
	noColor  bool

	jobs map[int64]*jobState

	lastTotalBytes int64
	lastTick       time.Time
	smoothedSpeed  float64
}

// NewLiveRenderer subscribes to hub and starts rendering.
func NewLiveRenderer(hub *events.Hub) *LiveRenderer {
	lr := &LiveRenderer{
		ch:      hub.Subscribe(),
		done:    make(chan struct{}),
		jobs:    map[int64]*jobState{},
		noColor: os.Getenv("NO_COLOR") != "",
	}
	lr.supports = isInteractive() && ansiOkay()
	if lr.supports && !lr.noColor {
		fmt.Fprint(os.Stdout, "\x1b[?25l")
		lr.hideCur = true
	}
	go lr.loop()
	return lr
}

// Close stops the renderer and restores the terminal.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	if lr.stopped {
		lr.mu.Unlock()
		return
	}
	lr.stopped = true
	close(lr.done)
	lr.mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	if lr.hideCur {
		fmt.Fprint(os.Stdout, "\x1b[?25h")
	}
	fmt.Fprintln(os.Stdout)
}

func (lr *LiveRenderer) loop() {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-lr.done:
			lr.render(true)
			return
		case ev, ok := <-lr.ch:
			if !ok {
				return
			}
			lr.apply(ev)
		case <-ticker.C:
			lr.render(false)
		}
	}
}

func (lr *LiveRenderer) apply(ev events.Event) {
	snap, ok := ev.Payload.(install.Snapshot)
	if !ok {
		return
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()

	js, exists := lr.jobs[snap.ID]
	if !exists {
		js = &jobState{id: snap.ID, started: time.Now()}
		lr.jobs[snap.ID] = js
	}
	js.source = snap.Source
	js.status = snap.Status
	js.bytes = snap.Bytes
	js.total = snap.TotalBytes
	js.errMsg = snap.Error
}

func (lr *LiveRenderer) render(final bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	w, h := termSize()
	if w < 70 {
		w = 70
	}
	if h < 10 {
		h = 10
	}

	var active, rest []*jobState
	var aggBytes, aggTotal int64
	for _, js := range lr.jobs {
		aggBytes += js.bytes
		aggTotal += js.total
		switch js.status {
		case install.StatusDownloading, install.StatusRunning, install.StatusWaiting, install.StatusDownloadsDone:
			active = append(active, js)
		default:
			rest = append(rest, js)
		}
	}

	now := time.Now()
	if !lr.lastTick.IsZero() && now.After(lr.lastTick) {
		dt := now.Sub(lr.lastTick).Seconds()
		if dt > 0.05 {
			speed := float64(aggBytes-lr.lastTotalBytes) / dt
			if speed >= 0 {
				lr.smoothedSpeed = smoothSpeed(speed, lr.smoothedSpeed)
			}
			lr.lastTick = now
			lr.lastTotalBytes = aggBytes
		}
	} else if lr.lastTick.IsZero() {
		lr.lastTick = now
		lr.lastTotalBytes = aggBytes
	}

	if lr.supports {
		fmt.Fprint(os.Stdout, "\x1b[H\x1b[2J")
	}

	prog := float64(0)
	if aggTotal > 0 {
		prog = float64(aggBytes) / float64(aggTotal)
		prog = clamp01(prog)
	}
	bar := renderBar(int(float64(w)*0.4), prog, lr)
	speedStr := humanBytes(int64(lr.smoothedSpeed)) + "/s"
	fmt.Fprintf(os.Stdout, "%s  %s  %s/%s  %s  %d active\n",
		colorize(bar, "fg=green", lr), percent(prog),
		humanBytes(aggBytes), humanBytes(aggTotal), speedStr, len(active))

	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, headerRow([]string{"Status", "Job", "Progress", "Speed"}, w))

	sort.Slice(active, func(i, j int) bool { return active[i].bytes > active[j].bytes })
	sort.Slice(rest, func(i, j int) bool { return rest[i].started.After(rest[j].started) })

	maxRows := h - 8
	if maxRows < 3 {
		maxRows = 3
	}
	shown := 0
	for _, js := range active {
		if shown >= maxRows {
			break
		}
		fmt.Fprintln(os.Stdout, renderJobRow(js, w, lr))
		shown++
	}
	for _, js := range rest {
		if shown >= maxRows {
			break
		}
		fmt.Fprintln(os.Stdout, renderJobRow(js, w, lr))
		shown++
	}

	if lr.supports && !final {
		fmt.Fprintln(os.Stdout, dim(fmt.Sprintf("Press Ctrl+C to cancel • %s/%s", runtime.GOOS, runtime.GOARCH)))
	}
}

func renderJobRow(js *jobState, w int, lr *LiveRenderer) string {
	statusW, speedW := 12, 10
	remain := w - (statusW + speedW + 6)
	if remain < 30 {
		remain = 30
	}
	nameW := int(float64(remain) * 0.45)
	if nameW < 18 {
		nameW = 18
	}
	progressW := remain - nameW

	var icon, col string
	switch js.status {
	case install.StatusDownloading:
		icon, col = "▶", "fg=yellow"
	case install.StatusRunning:
		icon, col = "⚙", "fg=cyan"
	case install.StatusCompleted:
		icon, col = "✓", "fg=green"
	case install.StatusCancelled:
		icon, col = "•", "fg=blue"
	case install.StatusError:
		icon, col = "×", "fg=red"
	default:
		icon, col = "…", "fg=magenta"
	}
	status := pad(colorize(icon+" "+strings.ToLower(string(js.status)), col, lr), statusW)
	name := ellipsizeMiddle(js.source, nameW)

	p := float64(0)
	if js.total > 0 {
		p = clamp01(float64(js.bytes) / float64(js.total))
	}
	bar := renderBar(progressW-18, p, lr)
	progTxt := fmt.Sprintf(" %s/%s %s", humanBytes(js.bytes), humanBytes(js.total), percent(p))
	progress := bar + progTxt
	if utf8.RuneCountInString(progress) > progressW {
		runes := []rune(progress)
		progress = string(runes[:progressW])
	}

	now := time.Now()
	if !js.lastTime.IsZero() {
		dt := now.Sub(js.lastTime).Seconds()
		if dt > 0.05 {
			speed := float64(js.bytes-js.lastBytes) / dt
			if speed >= 0 {
				js.smoothedSpeed = smoothSpeed(speed, js.smoothedSpeed)
			}
			js.lastTime = now
			js.lastBytes = js.bytes
		}
	} else {
		js.lastTime = now
		js.lastBytes = js.bytes
	}
	speedTxt := pad(humanBytes(int64(js.smoothedSpeed))+"/s", speedW)

	return fmt.Sprintf("%s  %s  %s  %s", status, pad(name, nameW), progress, speedTxt)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func headerRow(cols []string, w int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = bold(c)
	}
	s := strings.Join(parts, "  ")
	if utf8.RuneCountInString(s) > w {
		runes := []rune(s)
		return string(runes[:w])
	}
	return s
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return pad(s, w)
	}
	runes := []rune(s)
	half := (w - 3) / 2
	if 2*half+3 > len(runes) {
		return pad(s, w)
	}
	return pad(string(runes[:half])+"..."+string(runes[len(runes)-half:]), w)
}

func pad(s string, w int) string {
	r := utf8.RuneCountInString(s)
	if r >= w {
		return s
	}
	return s + strings.Repeat(" ", w-r)
}

func renderBar(width int, p float64, lr *LiveRenderer) string {
	if width < 3 {
		width = 3
	}
	filled := int(p * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func percent(p float64) string { return fmt.Sprintf("%3.0f%%", p*100) }

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for n/div >= unit && exp < 6 {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func termSize() (int, int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 100, 30
	}
	return w, h
}

func isInteractive() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

func ansiOkay() bool {
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}

func colorize(s, style string, lr *LiveRenderer) string {
	if lr.noColor || !lr.supports {
		return s
	}
	switch style {
	case "fg=green":
		return "\x1b[32m" + s + "\x1b[0m"
	case "fg=yellow":
		return "\x1b[33m" + s + "\x1b[0m"
	case "fg=red":
		return "\x1b[31m" + s + "\x1b[0m"
	case "fg=blue":
		return "\x1b[34m" + s + "\x1b[0m"
	case "fg=magenta":
		return "\x1b[35m" + s + "\x1b[0m"
	case "fg=cyan":
		return "\x1b[36m" + s + "\x1b[0m"
	default:
		return s
	}
}

func bold(s string) string { return "\x1b[1m" + s + "\x1b[0m" }
func dim(s string) string  { return "\x1b[2m" + s + "\x1b[0m" }
