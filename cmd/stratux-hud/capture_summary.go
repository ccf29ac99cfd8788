package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"stratux-hud/internal/replay"
	"stratux-hud/internal/traffic"
)

type captureSummary struct {
	Segments    int
	Lines       int
	Malformed   int
	MaxDuration time.Duration
	// Reports counts parsed lines per target ID.
	Reports map[string]int
}

func summarizeCapture(records []replay.Record) captureSummary {
	s := captureSummary{Reports: map[string]int{}}
	origin := time.Duration(0)
	hasLines := false

	for _, r := range records {
		if r.Line == nil {
			s.Segments++
			origin = r.At
			continue
		}
		hasLines = true
		s.Lines++
		s.MaxDuration = max(s.MaxDuration, r.At-origin)

		rec, err := traffic.ParseReport(r.Line)
		if err != nil {
			s.Malformed++
			continue
		}
		s.Reports[rec.ID]++
	}
	if s.Segments == 0 && hasLines {
		s.Segments = 1
	}
	return s
}

func printCaptureSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeCapture(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "lines: %d\n", s.Lines)
	fmt.Fprintf(w, "malformed: %d\n", s.Malformed)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "targets: %d\n", len(s.Reports))

	ids := make([]string, 0, len(s.Reports))
	for id := range s.Reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(w, "reports:\n")
	for _, id := range ids {
		fmt.Fprintf(w, "  %s: %d\n", id, s.Reports[id])
	}
	return nil
}
