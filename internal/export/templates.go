package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(reportHTML))

// RenderReportHTML renders the report template with the provided data.
func RenderReportHTML(report Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: Letter landscape; margin: 0.5in; }
    body { font-family: Arial, sans-serif; font-size: 10pt; line-height: 1.4; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.4rem; margin-bottom: 0.4rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #ccc; padding: 4px 6px; text-align: left; vertical-align: top; }
    th { background: #f0f0f0; }
    tr { page-break-inside: avoid; }
    .status { text-transform: capitalize; }
    .status-new { color: #1a5fb4; }
    .status-reviewed { color: #26a269; }
    .status-archived { color: #777; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <div class="meta">{{len .Rows}} submissions | generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}}</div>
  {{if .Rows}}
  <table>
    <thead>
      <tr>
        <th>Submitted</th>
        <th>Status</th>
        {{range .Columns}}<th>{{.Label}}</th>{{end}}
      </tr>
    </thead>
    <tbody>
      {{range .Rows}}
      <tr>
        <td>{{.SubmittedAt}}{{if .SubmittedBy}}<br><small>{{.SubmittedBy}}</small>{{end}}</td>
        <td class="status status-{{lower .Status}}">{{.Status}}</td>
        {{range .Values}}<td>{{.}}</td>{{end}}
      </tr>
      {{end}}
    </tbody>
  </table>
  {{else}}
  <p>No submissions.</p>
  {{end}}
</body>
</html>`
