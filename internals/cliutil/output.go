package cliutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/romakot321/higgsfieldai-api/internals/schemas"
	"github.com/romakot321/higgsfieldai-api/internals/tasks"
	"github.com/romakot321/higgsfieldai-api/internals/term"
)

var statusColors = map[tasks.Status]lipgloss.Color{
	tasks.StatusPending:  lipgloss.Color("245"),
	tasks.StatusRunning:  lipgloss.Color("39"),
	tasks.StatusFinished: lipgloss.Color("42"),
	tasks.StatusFailed:   lipgloss.Color("196"),
}

type printer struct {
	w     io.Writer
	label lipgloss.Style
	r     *lipgloss.Renderer
}

func newPrinter(w io.Writer) printer {
	r := lipgloss.NewRenderer(w)
	return printer{w: w, r: r, label: r.NewStyle().Bold(true)}
}

func (p printer) status(status tasks.Status) string {
	style := p.r.NewStyle()
	if color, ok := statusColors[status]; ok {
		style = style.Foreground(color)
	}
	return style.Render(string(status))
}

func (p printer) line(label, value string) {
	fmt.Fprintf(p.w, "%s %s\n", p.label.Render(label+":"), value)
}

// PrintTask writes a human readable summary of task.
func PrintTask(w io.Writer, task *tasks.Task) {
	p := newPrinter(w)
	p.line("task", task.ID.String())
	p.line("status", p.status(task.Status))
	p.line("prompt", task.Prompt)
	if task.Model != "" {
		p.line("model", task.Model)
	}
	if task.WebhookURL != nil {
		p.line("webhook", term.Link(p.w, *task.WebhookURL))
	}
	if len(task.Result) > 0 {
		p.line("result", compactJSON(task.Result))
	}
	if task.Error != nil {
		p.line("error", *task.Error)
	}
}

// PrintTasks writes one row per task, newest first as given.
func PrintTasks(w io.Writer, list []tasks.Task) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	p := newPrinter(w)
	idCol := p.r.NewStyle().Width(38)
	statusCol := p.r.NewStyle().Width(10)
	timeCol := p.r.NewStyle().Width(21)

	fmt.Fprintln(w, p.label.Render(idCol.Render("ID")+statusCol.Render("STATUS")+timeCol.Render("CREATED")+"PROMPT"))
	for _, task := range list {
		fmt.Fprintln(w,
			idCol.Render(task.ID.String())+
				statusCol.Render(p.status(task.Status))+
				timeCol.Render(task.CreatedAt.Local().Format(time.DateTime))+
				truncate(task.Prompt, 48),
		)
	}
}

// PrintJSON writes the public view of task as indented JSON.
func PrintJSON(w io.Writer, task *tasks.Task) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(schemas.TaskReadFromTask(task))
}

func compactJSON(raw json.RawMessage) string {
	var out bytes.Buffer
	if err := json.Compact(&out, raw); err != nil {
		return string(raw)
	}
	return out.String()
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}
