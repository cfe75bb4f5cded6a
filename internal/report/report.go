// Package report renders run outcomes as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"git.home.luguber.info/inful/pipewright/internal/scheduler"
)

const markdownTemplate = `# Run {{ .RunID }}

**Status:** {{ icon (print .Status) }} {{ title (print .Status) }}

| Workspace | Ref | Kind | Commit | Started | Duration |
|---|---|---|---|---|---|
| {{ cell .Context.Workspace }} | {{ cell .Context.Ref }} | {{ .Context.Kind }} | {{ short .Context.Commit }} | {{ .StartedAt.UTC.Format "2006-01-02 15:04:05Z" }} | {{ duration .Duration }} |
{{ if .CancelReason }}
Canceled: {{ cell .CancelReason }}
{{ end }}
## Jobs

| Job | Stage | State | Attempts | Duration | Failure | Bundles |
|---|---|---|---|---|---|---|
{{- range .Jobs }}
| {{ cell .Name }} | {{ cell .Stage }} | {{ icon (print .State) }} {{ title (print .State) }} | {{ .Attempts }} | {{ duration .Duration }} | {{ failure . }} | {{ len .Bundles }} |
{{- end }}
{{ if .Excluded }}
## Excluded

| Job | Reason |
|---|---|
{{- range .Excluded }}
| {{ cell .Name }} | {{ cell .Reason }} |
{{- end }}
{{ end }}`

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>pipewright run {{ .RunID }}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; }
table { border-collapse: collapse; margin-bottom: 1.5rem; }
th, td { border: 1px solid #ccc; padding: .3rem .6rem; text-align: left; }
</style>
</head>
<body>
{{ .Body }}
</body>
</html>
`

var (
	funcs = texttemplate.FuncMap{
		"title":    title,
		"icon":     icon,
		"cell":     cell,
		"short":    short,
		"duration": formatDuration,
		"failure":  failure,
	}

	mdTmpl   = texttemplate.Must(texttemplate.New("report.md").Funcs(funcs).Parse(markdownTemplate))
	htmlTmpl = template.Must(template.New("report.html").Parse(htmlTemplate))

	md = goldmark.New(goldmark.WithExtensions(extension.Table))
)

// Markdown writes a Markdown report of o.
func Markdown(w io.Writer, o *scheduler.Outcome) error {
	if err := mdTmpl.Execute(w, o); err != nil {
		return fmt.Errorf("render markdown report: %w", err)
	}
	return nil
}

// HTML writes a standalone HTML page of the Markdown report.
func HTML(w io.Writer, o *scheduler.Outcome) error {
	var src bytes.Buffer
	if err := Markdown(&src, o); err != nil {
		return err
	}
	var body bytes.Buffer
	if err := md.Convert(src.Bytes(), &body); err != nil {
		return fmt.Errorf("convert report to html: %w", err)
	}
	data := struct {
		RunID string
		Body  template.HTML
	}{
		RunID: o.RunID,
		// goldmark escapes raw HTML unless configured as unsafe.
		Body: template.HTML(body.String()), //nolint:gosec
	}
	if err := htmlTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

// title builds a Caser per call; Casers are not safe for concurrent use.
func title(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}

func icon(state string) string {
	switch state {
	case string(scheduler.StateSucceeded):
		return "✅"
	case string(scheduler.StateFailed):
		return "❌"
	case string(scheduler.StateCanceled):
		return "⏹"
	case string(scheduler.StateRunning), string(scheduler.StateRetrying):
		return "⏳"
	default:
		return "•"
	}
}

// cell makes s safe inside a table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func short(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func failure(j scheduler.JobResult) string {
	switch {
	case j.FailureClass != "" && j.Error != "":
		return cell(string(j.FailureClass) + ": " + j.Error)
	case j.FailureClass != "":
		return string(j.FailureClass)
	case j.Error != "":
		return cell(j.Error)
	default:
		return "-"
	}
}
