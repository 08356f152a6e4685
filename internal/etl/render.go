package etl

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"os"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
)

// ── HTML rendering ─────────────────────────────────────────
// Post-processing of finished artifacts. Nothing here sees the records;
// it only reads what the emitters wrote.

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
pre { white-space: pre-wrap; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 4px; vertical-align: top; white-space: pre-wrap; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

var tableTemplate = template.Must(template.New("table").Parse(`<table>
{{- range $i, $row := .}}
<tr>{{range $row}}{{if eq $i 0}}<th>{{.}}</th>{{else}}<td>{{.}}</td>{{end}}{{end}}</tr>
{{- end}}
</table>`))

var markdown = goldmark.New(goldmark.WithParserOptions(parser.WithAutoHeadingID()))

// RenderHTML converts a narrative document to a standalone HTML page.
// Raw HTML inside answers is escaped, never passed through.
func RenderHTML(w io.Writer, narrative []byte, title string) error {
	var body bytes.Buffer
	if err := markdown.Convert(narrative, &body); err != nil {
		return fmt.Errorf("convert markdown: %w", err)
	}
	return writePage(w, title, body.Bytes())
}

// RenderHTMLFile reads mdPath and writes the page to htmlPath.
func RenderHTMLFile(mdPath, htmlPath, title string) error {
	src, err := os.ReadFile(mdPath)
	if err != nil {
		return fmt.Errorf("read narrative: %w", err)
	}
	return writeFile(htmlPath, func(w io.Writer) error { return RenderHTML(w, src, title) })
}

// RenderTable converts a tabular artifact to an HTML table page.
// Meta columns are left out unless keepMeta is set.
func RenderTable(w io.Writer, r io.Reader, title string, keepMeta bool) error {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return fmt.Errorf("read table: %w", err)
	}
	if len(rows) > 0 && !keepMeta {
		var keep []int
		for i, col := range rows[0] {
			if !IsMetaKey(col) {
				keep = append(keep, i)
			}
		}
		for ri, row := range rows {
			trimmed := make([]string, 0, len(keep))
			for _, i := range keep {
				if i < len(row) {
					trimmed = append(trimmed, row[i])
				}
			}
			rows[ri] = trimmed
		}
	}

	var body bytes.Buffer
	if err := tableTemplate.Execute(&body, rows); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	return writePage(w, title, body.Bytes())
}

// RenderTableFile reads csvPath and writes the table page to htmlPath.
func RenderTableFile(csvPath, htmlPath, title string, keepMeta bool) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("open table: %w", err)
	}
	defer f.Close()
	return writeFile(htmlPath, func(w io.Writer) error { return RenderTable(w, f, title, keepMeta) })
}

func writePage(w io.Writer, title string, body []byte) error {
	data := struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body)}
	if err := pageTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
