package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/filerecall/filerecall/internal/activity"
	"github.com/filerecall/filerecall/internal/core"
	"github.com/filerecall/filerecall/internal/ranker"
	"github.com/filerecall/filerecall/internal/scanner"
)

// styles holds the CLI's result-rendering palette, static (no animation)
// since scan/recommend/health are one-shot commands, not long-running
// indexing jobs.
type styles struct {
	Header lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	OK     lipgloss.Style
	Bad    lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("154")),
		Label:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Value:  lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("154")),
		Bad:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func plainStyles() styles {
	plain := lipgloss.NewStyle()
	return styles{Header: plain, Label: plain, Value: plain, OK: plain, Bad: plain}
}

// isTTY reports whether w is a terminal, via an
// isatty.IsTerminal/IsCygwinTerminal check.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func stylesFor(w io.Writer) styles {
	if !isTTY(w) || os.Getenv("NO_COLOR") != "" {
		return plainStyles()
	}
	return defaultStyles()
}

func printHealth(w io.Writer, h core.HealthResult) {
	s := stylesFor(w)
	fmt.Fprintln(w, s.Header.Render("filerecall health"))
	row(w, s, "ok", fmt.Sprintf("%v", h.OK))
	row(w, s, "config_loaded", fmt.Sprintf("%v", h.ConfigLoaded))
	row(w, s, "files", fmt.Sprintf("%d", h.NFiles))
	row(w, s, "embedded", fmt.Sprintf("%d", h.NEmbedded))
	row(w, s, "index_dirty", fmt.Sprintf("%v", h.IndexDirty))
}

func printScanReport(w io.Writer, r *scanner.ScanReport) {
	s := stylesFor(w)
	fmt.Fprintln(w, s.Header.Render("scan "+r.Root))
	row(w, s, "added", fmt.Sprintf("%d", r.Added))
	row(w, s, "updated", fmt.Sprintf("%d", r.Updated))
	row(w, s, "unchanged", fmt.Sprintf("%d", r.Unchanged))
	row(w, s, "tombstoned", fmt.Sprintf("%d", r.Tombstoned))
	if r.Failures > 0 {
		fmt.Fprintln(w, s.Bad.Render(fmt.Sprintf("  failures: %d", r.Failures)))
	}
}

func printRecommendations(w io.Writer, path string, recs []ranker.Recommendation) {
	s := stylesFor(w)
	fmt.Fprintln(w, s.Header.Render("recommendations for "+path))
	if len(recs) == 0 {
		fmt.Fprintln(w, s.Label.Render("  (none)"))
		return
	}
	for i, r := range recs {
		fmt.Fprintf(w, "  %2d. %s  %s\n", i+1, s.Value.Render(r.Path),
			s.Label.Render(fmt.Sprintf("score=%.3f (sem=%.3f rec=%.3f co=%.3f)",
				r.FinalScore, r.Factors.Semantic, r.Factors.Recency, r.Factors.Cooccurrence)))
	}
}

func printLogResult(w io.Writer, path string, res activity.LogResult) {
	s := stylesFor(w)
	fmt.Fprintln(w, s.Header.Render("logged access: "+path))
	row(w, s, "access_count", fmt.Sprintf("%d", res.AccessCountAfter))
	row(w, s, "co_pairs_updated", fmt.Sprintf("%d", res.CoPairsUpdated))
}

func row(w io.Writer, s styles, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", s.Label.Render(strings.TrimSuffix(label, ":")+":"), s.Value.Render(value))
}
