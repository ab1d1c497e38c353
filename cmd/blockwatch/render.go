package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"blockwatch"
)

func renderSummary(canary *blockwatch.Canary, elapsed time.Duration) string {
	blocks, filtered := canary.Stats()
	stack := canary.StackSampler().Stats()
	cpu := canary.CPUSampler().Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "Ran %s | %d blocks | %d filtered | last block %s\n",
		formatDuration(elapsed.Seconds()),
		blocks,
		filtered,
		canary.LastBlockDuration().Round(time.Millisecond))
	fmt.Fprintf(&b, "stack\t%d ticks\t%d failed\t%d retained\n", stack.Ticks, stack.Failures, stack.Entries)
	fmt.Fprintf(&b, "cpu\t%d ticks\t%d failed\t%d retained\n", cpu.Ticks, cpu.Failures, cpu.Entries)

	if w := canary.Writer(); w != nil {
		files, err := w.Files()
		if err != nil {
			fmt.Fprintf(&b, "reports: %v\n", err)
		}
		for _, f := range files {
			fmt.Fprintf(&b, "report\t%s\n", sanitizePath(f, w.Dir()))
		}
	}
	return b.String()
}

func sanitizePath(path, dir string) string {
	if rel, err := filepath.Rel(dir, path); err == nil {
		return rel
	}
	return filepath.Base(path)
}

func formatDuration(seconds float64) string {
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
