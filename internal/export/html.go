package export

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/capitalize-ai/artifact-sync/internal/model"
)

var funcs = template.FuncMap{
	"coord": func(v *float64) string {
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%.6f", *v)
	},
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "N/A"
		}
		return t.UTC().Format("Jan 2, 2006 15:04 MST")
	},
}

var printTemplate = template.Must(template.New("print").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Artifact Export</title>
<style>
body { font-family: Arial, sans-serif; padding: 30px; }
h1 { color: #9333EA; border-bottom: 3px solid #9333EA; padding-bottom: 10px; }
.artifact { page-break-inside: avoid; margin: 30px 0; padding: 20px; border: 1px solid #ddd; border-radius: 8px; }
.artifact h2 { color: #4b5563; margin: 0 0 15px 0; }
.photo { max-width: 300px; height: auto; margin: 15px 0; border-radius: 4px; }
.field { margin: 8px 0; }
.field strong { color: #6b7280; }
.meta { background: #f3f4f6; padding: 15px; border-radius: 6px; margin: 20px 0; }
.badge { display: inline-block; padding: 4px 12px; border-radius: 12px; font-size: 12px; margin: 0 5px 5px 0; }
.badge-interesting { background: #fbbf24; color: #78350f; }
.badge-reviewed { background: #10b981; color: #065f46; }
</style>
</head>
<body onload="window.print()">
<h1>Artifact Export Report</h1>
<div class="meta">
<strong>Export Date:</strong> {{when .Date}}<br>
<strong>Total Artifacts:</strong> {{len .Items}}
</div>
{{range .Items}}<div class="artifact">
<h2>{{or .ArtifactCode "Unnamed Artifact"}}</h2>
{{if .PhotoURL}}<img src="{{.PhotoURL}}" class="photo" alt="{{.ArtifactCode}}">
{{end}}<div class="field"><strong>Type:</strong> {{.Type}}</div>
<div class="field"><strong>Created By:</strong> {{or .CreatedBy "N/A"}}</div>
<div class="field"><strong>Created Date:</strong> {{when .CreatedDate}}</div>
{{if and .LocationLat .LocationLng}}<div class="field"><strong>Location:</strong> {{coord .LocationLat}}, {{coord .LocationLng}}</div>
{{end}}{{if .Priority}}<div class="field"><strong>Priority:</strong> {{.Priority}}</div>
{{end}}{{if .UserNotes}}<div class="field"><strong>Field Notes:</strong> {{.UserNotes}}</div>
{{end}}{{if .AdminNotes}}<div class="field"><strong>Admin Notes:</strong> {{.AdminNotes}}</div>
{{end}}<div>{{if .Interesting}}<span class="badge badge-interesting">Interesting</span>{{end}}{{if .Reviewed}}<span class="badge badge-reviewed">Reviewed</span>{{end}}</div>
{{if .AudioURL}}<div class="field"><strong>Audio:</strong> {{.AudioURL}}</div>
{{end}}</div>
{{end}}</body>
</html>
`))

// HTML writes a print-ready document that opens the print dialog on load.
// All record content is escaped.
func HTML(w io.Writer, artifacts []model.Artifact, opts Options, now time.Time) error {
	err := printTemplate.Execute(w, struct {
		Date  time.Time
		Items []Item
	}{now, Items(artifacts, opts)})
	if err != nil {
		return fmt.Errorf("failed to render export: %w", err)
	}
	return nil
}
