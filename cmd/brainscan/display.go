package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rewired-gh/brainscan/internal/history"
	"github.com/rewired-gh/brainscan/internal/models"
)

// printPrediction displays a single interpreted prediction
func printPrediction(res models.PredictionResult) {
	interp := res.Interpretation
	fmt.Printf("\n%s\n", interp.Title)
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("  File:       %s (%s)\n", res.File.Name, humanize.Bytes(uint64(res.File.Size)))
	fmt.Printf("  Result:     %s\n", res.Raw.Label)
	fmt.Printf("  Severity:   %s\n", interp.Severity.Label())
	fmt.Printf("  Confidence: %.1f%% (%s)\n", interp.Confidence, interp.ConfidenceTier)
	if interp.LowConfidence {
		fmt.Println("  Note:       low confidence, interpret with caution")
	}

	fmt.Printf("\n%s\n", interp.Description)
	for _, p := range interp.DetailPoints {
		fmt.Printf("  - %s\n", p)
	}

	fmt.Println("\nRecommendations:")
	for i, r := range interp.Recommendations {
		fmt.Printf("  %d. %s\n", i+1, r)
	}
}

// printBatch displays per-file results followed by the summary
func printBatch(set models.BatchResultSet) {
	fmt.Printf("\n%-32s %-12s %-14s %s\n", "FILE", "CATEGORY", "SEVERITY", "CONFIDENCE")
	fmt.Println(strings.Repeat("-", 72))
	for _, item := range set.Items {
		if !item.Resolved {
			fmt.Printf("%-32s %-12s %-14s %s\n", truncate(item.File.Name, 32), "pending", "-", "-")
			continue
		}
		in := item.Interpretation
		fmt.Printf("%-32s %-12s %-14s %.1f%%\n",
			truncate(item.File.Name, 32), in.Category, in.Severity.Label(), in.Confidence)
	}

	s := set.Summary
	fmt.Printf("\nTotal: %d  Tumor detected: %d  No tumor: %d", s.Total, s.TumorDetected, s.NoTumor)
	if s.Unresolved > 0 {
		fmt.Printf("  Pending: %d", s.Unresolved)
	}
	fmt.Printf("\nAverage confidence: %.1f%%\n", s.AverageConfidence)
	for _, c := range models.Categories {
		if n := s.ByCategory[c]; n > 0 {
			fmt.Printf("  %s: %d\n", c, n)
		}
	}
}

// printHistory displays recent predictions and the analytics summary
func printHistory(entries []models.HistoryEntry, analytics *models.Analytics) {
	fmt.Println("\nRecent predictions:")
	if len(entries) == 0 {
		fmt.Println("  (none)")
	}
	for _, e := range entries {
		fmt.Printf("  %-20s %-28s %-22s %.1f%%\n", e.Timestamp, truncate(e.Filename, 28), e.Result, e.Confidence)
	}

	fmt.Println("\nAnalytics:")
	if analytics == nil {
		fmt.Println("  unavailable")
		return
	}
	fmt.Printf("  Total predictions: %s\n", humanize.Comma(int64(analytics.TotalPredictions)))
	fmt.Printf("  Tumor detected:    %d\n", analytics.TumorDetected)
	fmt.Printf("  No tumor:          %d\n", analytics.NoTumorDetected)
	if analytics.TumorDetectionRate != "" {
		fmt.Printf("  Detection rate:    %s\n", analytics.TumorDetectionRate)
	}
}

// printSystemInfo displays backend metadata as returned
func printSystemInfo(info models.SystemInfo) {
	sections := []struct {
		name string
		body json.RawMessage
	}{
		{"Health", info.Health},
		{"Classes", info.Classes},
		{"Model", info.Model},
	}
	for _, s := range sections {
		fmt.Printf("\n%s:\n", s.name)
		if len(s.body) == 0 {
			fmt.Println("  unavailable")
			continue
		}
		printJSON(s.body)
	}
}

// printCharts lists available charts with their decoded sizes
func printCharts(set models.ChartSet) {
	sizes := history.ChartSizes(set)
	names := make([]string, 0, len(sizes))
	for name := range sizes {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\nCharts:")
	if len(names) == 0 {
		fmt.Println("  (none)")
	}
	for _, name := range names {
		fmt.Printf("  %-32s %s\n", name, humanize.Bytes(uint64(sizes[name])))
	}
	if len(set.Statistics) > 0 {
		fmt.Println("\nStatistics:")
		printJSON(set.Statistics)
	}
}

func printJSON(body json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "  ", "  "); err != nil {
		fmt.Printf("  %s\n", body)
		return
	}
	fmt.Printf("  %s\n", buf.String())
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
