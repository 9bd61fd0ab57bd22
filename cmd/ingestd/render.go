package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/fyrsmithlabs/ingestd/internal/ingest"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/tableindex"
	"github.com/fyrsmithlabs/ingestd/internal/testcases"
	"github.com/fyrsmithlabs/ingestd/internal/vectorindex"
)

// Color palette
const (
	colorAccent   = "51"
	colorGray     = "245"
	colorDarkGray = "238"
	colorGreen    = "46"
	colorYellow   = "226"
	colorRed      = "196"
)

// reportStyles holds the styles of rendered reports.
type reportStyles struct {
	Header  lipgloss.Style
	Section lipgloss.Style
	Dim     lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Border  lipgloss.Style
	Panel   lipgloss.Style
}

var styles = reportStyles{
	Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
	Section: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)).MarginTop(1),
	Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
	Success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen)),
	Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
	Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorRed)),
	Border:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorDarkGray)),
	Panel: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorDarkGray)).
		Padding(0, 1),
}

// snippetLen caps chunk text shown in tables.
const snippetLen = 80

// newTable returns a table with the report border and header style.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

// status colors a success/partial/error status.
func status(s string) string {
	switch s {
	case ingest.StatusSuccess:
		return styles.Success.Render(s)
	case tableindex.StatusPartial:
		return styles.Warning.Render(s)
	}
	return styles.Error.Render(s)
}

func renderIngestResults(results []*ingest.Result) string {
	t := newTable("FILE", "STATUS", "NAMESPACE", "STRATEGY", "SIZE/OVERLAP", "CHUNKS", "VECTORS", "REDACTED", "DOCUMENT")
	var analyses []string
	for _, r := range results {
		doc := r.DocumentID
		if r.Error != "" {
			doc = r.Error
		}
		preset := ""
		if r.Strategy != "" {
			preset = fmt.Sprintf("%d/%d", r.ChunkSize, r.Overlap)
		}
		t.Row(r.Filename, status(r.Status), r.Namespace, r.Strategy, preset,
			strconv.Itoa(r.Chunks), strconv.Itoa(r.VectorsUpserted), strconv.Itoa(r.Redactions), doc)
		if r.Analysis != "" {
			analyses = append(analyses, styles.Dim.Render(strings.TrimRight(r.Analysis, "\n")))
		}
	}
	if len(analyses) == 0 {
		return t.Render()
	}
	return t.Render() + "\n" + strings.Join(analyses, "\n\n")
}

func renderRepoResult(res *ingest.RepoResult) string {
	var b strings.Builder
	b.WriteString(styles.Header.Render(res.Repository))
	b.WriteString(styles.Dim.Render(fmt.Sprintf("  namespace %s  %d succeeded  %d failed", res.Namespace, res.Succeeded, res.Failed)))
	b.WriteString("\n")
	b.WriteString(renderIngestResults(res.Branches))
	return b.String()
}

func renderTableResults(results []tableindex.TableResult) string {
	t := newTable("TABLE", "STATUS", "ROWS", "CHUNKS", "VECTORS", "NOTE")
	for _, r := range results {
		note := r.Message
		if r.Error != "" {
			note = r.Error
		}
		t.Row(r.TableName, status(r.Status), strconv.Itoa(r.RowsProcessed),
			strconv.Itoa(r.ChunksCreated), strconv.Itoa(r.VectorsUpserted), note)
	}
	return t.Render()
}

func renderTableSummary(res *tableindex.IndexAllResult) string {
	return styles.Panel.Render(fmt.Sprintf("%s  %d tables  %d rows  %d chunks  %d vectors  → %s",
		status(res.Status), res.TablesProcessed, res.TotalRows, res.TotalChunks, res.TotalVectors, res.Namespace))
}

func renderTestCases(res *testcases.Result) string {
	t := newTable("STORY", "STATUS", "CASES", "FILE")
	total := 0
	for _, r := range res.Results {
		file := r.OutputFile
		if r.Error != "" {
			file = r.Error
		}
		t.Row(r.Key, storyStatus(r.Status), strconv.Itoa(r.Count), file)
		total += r.Count
	}
	summary := styles.Header.Render(fmt.Sprintf("%d test cases for %d stories matching %q", total, len(res.Results), res.Label))
	return summary + "\n" + t.Render()
}

func storyStatus(s string) string {
	switch s {
	case testcases.StatusGenerated:
		return styles.Success.Render(s)
	case testcases.StatusEmpty:
		return styles.Warning.Render(s)
	}
	return styles.Error.Render(s)
}

func renderChunks(chunks []retrieval.Chunk) string {
	if len(chunks) == 0 {
		return styles.Warning.Render(retrieval.NoAnswer)
	}
	t := newTable("#", "SCORE", "NAMESPACE", "SOURCE", "TEXT")
	for i, c := range chunks {
		t.Row(strconv.Itoa(i+1), fmt.Sprintf("%.3f", c.Score), c.Namespace, c.Source, snippet(c.Text))
	}
	return t.Render()
}

func renderFailures(failures []vectorindex.NamespaceFailure) string {
	lines := make([]string, 0, len(failures)+1)
	lines = append(lines, styles.Warning.Render("failed namespaces:"))
	for _, f := range failures {
		lines = append(lines, styles.Dim.Render(fmt.Sprintf("  %s: %s", f.Namespace, f.Message)))
	}
	return strings.Join(lines, "\n")
}

func renderAnswer(res *retrieval.AnswerResult) string {
	var b strings.Builder
	b.WriteString(styles.Panel.Render(res.Answer))
	if res.SQL != nil {
		b.WriteString("\n")
		b.WriteString(styles.Section.Render("SQL"))
		b.WriteString("\n")
		b.WriteString(styles.Dim.Render(res.SQL.SQL))
	}
	if len(res.Chunks) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Section.Render("Sources"))
		b.WriteString("\n")
		b.WriteString(renderChunks(res.Chunks))
	}
	if len(res.Failures) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Warning.Render("failed namespaces: " + strings.Join(res.Failures, ", ")))
	}
	return b.String()
}

func renderLabelContext(lc *retrieval.LabelContext) string {
	var b strings.Builder
	b.WriteString(styles.Header.Render(fmt.Sprintf("%d work items match %q", len(lc.Items), lc.Label)))
	for _, item := range lc.Items {
		b.WriteString("\n")
		b.WriteString(styles.Section.Render(fmt.Sprintf("%s  %s", item.Item.Key, item.Item.Summary)))
		if len(item.Item.Labels) > 0 {
			b.WriteString(styles.Dim.Render("  [" + strings.Join(item.Item.Labels, ", ") + "]"))
		}
		b.WriteString("\n")
		b.WriteString(renderChunks(item.Chunks))
		if len(item.Failures) > 0 {
			b.WriteString("\n")
			b.WriteString(renderFailures(item.Failures))
		}
	}
	return b.String()
}

// snippet flattens text to one line of at most snippetLen runes.
func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= snippetLen {
		return text
	}
	return string(runes[:snippetLen-1]) + "…"
}
