package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/simulator"
)

// PrintStats writes a run summary to w.
func PrintStats(w io.Writer, stats *simulator.Stats) {
	if stats == nil {
		fmt.Fprintln(w, "No stats available")
		return
	}
	fmt.Fprintln(w, "=== Global Statistics ===")
	fmt.Fprintf(w, "Platform: %s\n", stats.Platform)
	fmt.Fprintf(w, "Power Managed: %t\n", stats.Managed)
	fmt.Fprintf(w, "Duration: %s\n", stats.Duration)
	fmt.Fprintf(w, "Last-Man Elections Won: %d\n", stats.LastMan)
	fmt.Fprintf(w, "Elections Lost: %d\n", stats.LostElection)
	fmt.Fprintf(w, "Suspends Skipped: %d\n", stats.SkipSuspend)
	fmt.Fprintf(w, "Late Power-Ups: %d\n", stats.LatePowerUp)
	fmt.Fprintf(w, "Fatal Violations: %d\n", stats.Fatal)
	fmt.Fprintf(w, "Power Bus Writes: %d\n", stats.BusWrites)
	fmt.Fprintf(w, "Teardowns: local=%d cluster=%d\n", stats.LocalTeardowns, stats.ClusterTeardowns)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Core Statistics ===")
	for _, cs := range stats.Cores {
		fmt.Fprintf(w, "%s: Entries=%d, Resets=%d, Stores=%d, Loads=%d, PowerUps=%d, Redundant=%d, PowerDowns=%d, Skipped=%d, Rejected=%d\n",
			cs.Core, cs.Entries, cs.Resets, cs.Stores, cs.Loads, cs.PowerUps, cs.Redundant, cs.PowerDowns, cs.SkipSuspends, cs.Rejected)
	}

	if !stats.Managed {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Use Counts ===")
	for cl, row := range stats.Table.UseCount {
		counts := make([]string, len(row))
		for cpu, n := range row {
			counts[cpu] = fmt.Sprint(n)
		}
		fmt.Fprintf(w, "Cluster %d: [%s] active=%d\n", cl, strings.Join(counts, " "), stats.Table.Active[cl])
	}
	if stats.Faulted {
		fmt.Fprintln(w, "Sequencer: FAULTED")
	}
	if stats.Invariant != "" {
		fmt.Fprintf(w, "Invariant: %s\n", stats.Invariant)
	}
	for _, v := range stats.Violations {
		fmt.Fprintf(w, "Cache violation: %s\n", v)
	}
}

// PrintTimelines writes one line per event of each request.
func PrintTimelines(w io.Writer, timelines []*core.RequestTimeline) {
	for _, tl := range timelines {
		fmt.Fprintf(w, "request %s (%s)\n", tl.RequestID, tl.Core)
		for _, ev := range tl.Events {
			fmt.Fprintf(w, "  #%-4d %-20s %s\n", ev.Sequence, ev.EventType, formatMetadata(ev.Metadata))
		}
	}
}

func formatMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + meta[k]
	}
	return strings.Join(parts, " ")
}
