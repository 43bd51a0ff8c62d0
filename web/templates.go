package web

import (
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/mbocsi/gobridge/bridge"
)

const statusPage = `<!DOCTYPE html>
<html>
<head><title>gobridge</title></head>
<body>
<h1>Bridge {{ .State }}</h1>
<table>
<tr><th>Protocol</th><td>{{ .Protocol }}</td></tr>
<tr><th>Host</th><td>{{ .Addr }}</td></tr>
{{- if .Epoch }}
<tr><th>Epoch</th><td>{{ .Epoch }}</td></tr>
<tr><th>Connected</th><td>{{ since .ConnectedAt }}</td></tr>
{{- end }}
<tr><th>Events</th><td>{{ join .Events }}</td></tr>
</table>
</body>
</html>
`

type Templates struct {
	status *template.Template
}

func NewTemplates() *Templates {
	funcs := template.FuncMap{
		"join": func(items []string) string {
			if len(items) == 0 {
				return "none"
			}
			return strings.Join(items, ", ")
		},
		"since": func(t time.Time) string {
			return time.Since(t).Truncate(time.Second).String() + " ago"
		},
	}
	return &Templates{
		status: template.Must(template.New("status").Funcs(funcs).Parse(statusPage)),
	}
}

func (t *Templates) RenderStatus(w io.Writer, s bridge.Status) error {
	return t.status.Execute(w, s)
}
