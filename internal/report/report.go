// Package report renders stored results as terminal tables or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/kalambet/sift/internal/batch"
	"github.com/kalambet/sift/internal/ledger"
	"github.com/kalambet/sift/internal/pipeline"
	"github.com/kalambet/sift/internal/storage"
)

const maxTitle = 60

var (
	heading = color.New(color.Bold, color.FgCyan)
	dim     = color.New(color.Faint)
	warn    = color.New(color.FgYellow)
	bad     = color.New(color.FgRed)
	good    = color.New(color.FgGreen)
)

// JSON writes v as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Posts writes a table of scored posts under title.
func Posts(w io.Writer, title string, posts []storage.PostView) error {
	heading.Fprintln(w, title)
	if len(posts) == 0 {
		dim.Fprintln(w, "  (no posts)")
		return nil
	}
	t := newTable(w)
	fmt.Fprintln(t, "ROI\tCOMP\tREL\tEMO\tPAIN\tGROUP\tLABEL\tTITLE")
	for _, p := range posts {
		fmt.Fprintf(t, "%d\t%.2f\t%.1f\t%.1f\t%.1f\t%s\t%s\t%s\n",
			p.ROIWeight, p.Composite, p.Relevance, p.Emotion, p.Pain,
			p.Group, p.Label, truncate(p.Title, maxTitle))
	}
	if err := t.Flush(); err != nil {
		return err
	}
	for _, p := range posts {
		if p.PainPoint == "" {
			continue
		}
		fmt.Fprintf(w, "\n%s %s\n", good.Sprint("•"), truncate(p.Title, maxTitle))
		fmt.Fprintf(w, "  pain: %s\n", p.PainPoint)
		if len(p.Tags) > 0 {
			fmt.Fprintf(w, "  tags: %s\n", strings.Join(p.Tags, ", "))
		}
		if p.ClusterSummary != "" {
			fmt.Fprintf(w, "  thread: %s\n", p.ClusterSummary)
		}
		fmt.Fprintf(w, "  %s\n", dim.Sprint(p.URL))
	}
	return nil
}

// Top writes the top-posts report.
func Top(w io.Writer, days int, order string, posts []storage.PostView) error {
	if order == "" {
		order = "roi"
	}
	title := fmt.Sprintf("Top %d posts by %s", len(posts), order)
	if days > 0 {
		title += fmt.Sprintf(" (last %d days)", days)
	}
	return Posts(w, title, posts)
}

// Tag writes the posts-by-tag report.
func Tag(w io.Writer, tag string, posts []storage.PostView) error {
	return Posts(w, fmt.Sprintf("Posts tagged %q", tag), posts)
}

// Stats writes store aggregates, recent runs and the budget snapshot.
func Stats(w io.Writer, st storage.Stats, runs []storage.Run, snap ledger.Snapshot) error {
	heading.Fprintln(w, "Store")
	t := newTable(w)
	fmt.Fprintf(t, "  items\t%d\n", st.Items)
	fmt.Fprintf(t, "  history\t%d\n", st.History)
	fmt.Fprintf(t, "  scored\t%d\n", st.Scored)
	fmt.Fprintf(t, "  processed\t%d\n", st.Processed)
	fmt.Fprintf(t, "  avg relevance\t%.2f\n", st.AvgRelevance)
	fmt.Fprintf(t, "  avg emotion\t%.2f\n", st.AvgEmotion)
	fmt.Fprintf(t, "  avg pain\t%.2f\n", st.AvgPain)
	if err := t.Flush(); err != nil {
		return err
	}

	sections := []struct {
		title  string
		counts []storage.Count
	}{
		{"By community", st.ByCommunity},
		{"By group", st.ByGroup},
		{"By label", st.ByLabel},
		{"Discovered per day", st.RecentDays},
	}
	for _, s := range sections {
		if len(s.counts) == 0 {
			continue
		}
		fmt.Fprintln(w)
		heading.Fprintln(w, s.title)
		t := newTable(w)
		for _, c := range s.counts {
			fmt.Fprintf(t, "  %s\t%d\n", c.Key, c.Count)
		}
		if err := t.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	if err := Budget(w, snap); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return Runs(w, runs)
}

// Budget writes the ledger snapshot.
func Budget(w io.Writer, snap ledger.Snapshot) error {
	heading.Fprintf(w, "Budget %s\n", snap.Month)
	remaining := fmt.Sprintf("$%.4f", snap.Remaining)
	switch {
	case snap.Remaining <= 0:
		remaining = bad.Sprint(remaining)
	case snap.Ceiling > 0 && snap.Remaining < snap.Ceiling*0.1:
		remaining = warn.Sprint(remaining)
	}
	t := newTable(w)
	fmt.Fprintf(t, "  spent\t$%.4f\n", snap.Spent)
	fmt.Fprintf(t, "  ceiling\t$%.2f\n", snap.Ceiling)
	fmt.Fprintf(t, "  remaining\t%s\n", remaining)
	return t.Flush()
}

// Runs writes the run history, newest first.
func Runs(w io.Writer, runs []storage.Run) error {
	heading.Fprintln(w, "Recent runs")
	if len(runs) == 0 {
		dim.Fprintln(w, "  (no runs)")
		return nil
	}
	t := newTable(w)
	fmt.Fprintln(t, "STARTED\tACQ\tFILT\tSEL\tINS\tCLU\tDEF\tCOST\tSTOP")
	for _, r := range runs {
		fmt.Fprintf(t, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t$%.4f\t%s\n",
			r.StartedAt.UTC().Format("2006-01-02 15:04"),
			r.Acquired, r.Filtered, r.Selected, r.Insighted, r.Clustered, r.Deferred,
			r.Cost, stopReason(r.StopReason))
	}
	return t.Flush()
}

func stopReason(s string) string {
	if s == "DONE" {
		return good.Sprint(s)
	}
	return warn.Sprint(s)
}

// Summary writes the per-stage outcome of one pipeline run.
func Summary(w io.Writer, sum pipeline.Summary) error {
	heading.Fprintf(w, "Run %s\n", sum.RunID)
	t := newTable(w)
	fmt.Fprintln(t, "STAGE\tCOUNT\tDEFERRED\tTIME\tNOTE")
	for _, s := range sum.Stages {
		note := s.Error
		if s.Skipped && note == "" {
			note = "skipped"
		}
		if note != "" {
			note = warn.Sprint(note)
		}
		fmt.Fprintf(t, "%s\t%d\t%d\t%s\t%s\n", s.Stage, s.Count, s.Deferred, s.Duration.Round(time.Millisecond), note)
	}
	if err := t.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "cost $%.4f, stop: %s\n", sum.Cost, stopReason(sum.StopReason))
	return nil
}

// Deferred lists deferred work files.
func Deferred(w io.Writer, files []batch.DeferredFile) error {
	heading.Fprintln(w, "Deferred batches")
	if len(files) == 0 {
		dim.Fprintln(w, "  (none)")
		return nil
	}
	t := newTable(w)
	fmt.Fprintln(t, "MODIFIED\tREQUESTS\tPATH")
	total := 0
	for _, f := range files {
		total += f.Requests
		fmt.Fprintf(t, "%s\t%d\t%s\n", f.ModTime.UTC().Format("2006-01-02 15:04"), f.Requests, f.Path)
	}
	if err := t.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d files, %d requests\n", len(files), total)
	return nil
}
