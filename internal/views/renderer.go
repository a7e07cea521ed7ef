// Package views renders tasks and search results for the terminal.
package views

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"caldavtasks/backend"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Renderer writes tasks in text or JSON form. Text output is styled only
// when the writer is a color-capable terminal.
type Renderer struct {
	writer io.Writer
	format string

	checkboxStyle lipgloss.Style
	doneStyle     lipgloss.Style
	dueStyle      lipgloss.Style
	labelStyle    lipgloss.Style
	idStyle       lipgloss.Style
	noteStyle     lipgloss.Style
	headerStyle   lipgloss.Style
}

// NewRenderer creates a renderer for writer. Unknown formats fall back to text.
func NewRenderer(writer io.Writer, format string) *Renderer {
	lr := lipgloss.NewRenderer(writer)
	return &Renderer{
		writer:        writer,
		format:        format,
		checkboxStyle: lr.NewStyle().Foreground(lipgloss.Color("10")),
		doneStyle:     lr.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(true),
		dueStyle:      lr.NewStyle().Foreground(lipgloss.Color("214")),
		labelStyle:    lr.NewStyle().Foreground(lipgloss.Color("212")),
		idStyle:       lr.NewStyle().Foreground(lipgloss.Color("240")),
		noteStyle:     lr.NewStyle().Foreground(lipgloss.Color("245")).PaddingLeft(6),
		headerStyle:   lr.NewStyle().Bold(true),
	}
}

// RenderTasks writes a task list
func (r *Renderer) RenderTasks(tasks []backend.Task) error {
	if r.format == FormatJSON {
		if tasks == nil {
			tasks = []backend.Task{}
		}
		return r.writeJSON(tasks)
	}

	if len(tasks) == 0 {
		_, err := fmt.Fprintln(r.writer, "No open tasks.")
		return err
	}
	for _, t := range tasks {
		if _, err := fmt.Fprintln(r.writer, r.taskLine(t)); err != nil {
			return err
		}
	}
	return nil
}

// RenderTask writes a single task with its note
func (r *Renderer) RenderTask(task backend.Task) error {
	if r.format == FormatJSON {
		return r.writeJSON(task)
	}

	var b strings.Builder
	b.WriteString(r.taskLine(task))
	b.WriteString("\n")
	if task.Start != "" {
		b.WriteString(r.noteStyle.Render("start: " + FormatDate(task.Start)))
		b.WriteString("\n")
	}
	if task.ItemURL != "" {
		b.WriteString(r.noteStyle.Render("url: " + task.ItemURL))
		b.WriteString("\n")
	}
	for _, line := range strings.Split(task.Note, "\n") {
		if line == "" {
			continue
		}
		b.WriteString(r.noteStyle.Render(line))
		b.WriteString("\n")
	}
	_, err := io.WriteString(r.writer, b.String())
	return err
}

// RenderSearchResults writes search results as title and id
func (r *Renderer) RenderSearchResults(results []backend.SearchResult) error {
	if r.format == FormatJSON {
		if results == nil {
			results = []backend.SearchResult{}
		}
		return r.writeJSON(results)
	}

	if len(results) == 0 {
		_, err := fmt.Fprintln(r.writer, "No matching tasks.")
		return err
	}
	for _, res := range results {
		if _, err := fmt.Fprintf(r.writer, "%s %s\n", res.Title, r.idStyle.Render("("+res.IssueData.ID+")")); err != nil {
			return err
		}
	}
	return nil
}

// RenderHeader writes a bold header line, text output only
func (r *Renderer) RenderHeader(text string) error {
	if r.format == FormatJSON {
		return nil
	}
	_, err := fmt.Fprintln(r.writer, r.headerStyle.Render(text))
	return err
}

func (r *Renderer) taskLine(t backend.Task) string {
	checkbox := "[ ]"
	summary := t.Summary
	if t.Completed {
		checkbox = "[x]"
		summary = r.doneStyle.Render(summary)
	}
	if summary == "" {
		summary = "(no summary)"
	}

	parts := []string{r.checkboxStyle.Render(checkbox), summary}
	if t.Due != "" {
		parts = append(parts, r.dueStyle.Render("due "+FormatDate(t.Due)))
	}
	if len(t.Labels) > 0 {
		parts = append(parts, r.labelStyle.Render("{"+strings.Join(t.Labels, ", ")+"}"))
	}
	parts = append(parts, r.idStyle.Render("("+t.ID+")"))
	return strings.Join(parts, " ")
}

func (r *Renderer) writeJSON(v any) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatDate turns a raw iCalendar DATE or DATE-TIME value into a readable
// date. Values it does not recognize are returned unchanged.
func FormatDate(raw string) string {
	if t, err := time.Parse("20060102", raw); err == nil {
		return t.Format("2006-01-02")
	}
	if t, err := time.Parse("20060102T150405Z", raw); err == nil {
		return t.Format("2006-01-02 15:04") + " UTC"
	}
	if t, err := time.Parse("20060102T150405", raw); err == nil {
		return t.Format("2006-01-02 15:04")
	}
	return raw
}
