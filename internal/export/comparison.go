package export

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/capitalize-ai/artifact-sync/internal/model"
)

// ComparedArtifact is an artifact as listed in a comparison export.
type ComparedArtifact struct {
	Code  string `json:"code"`
	Type  string `json:"type"`
	Notes string `json:"notes"`
}

// ComparisonDoc is the exported form of a comparison.
type ComparisonDoc struct {
	Date      time.Time          `json:"date"`
	Artifacts []ComparedArtifact `json:"artifacts"`
	Analysis  string             `json:"analysis"`
}

// NewComparisonDoc builds the export document for a comparison of artifacts.
func NewComparisonDoc(c *model.Comparison, artifacts []model.Artifact) ComparisonDoc {
	doc := ComparisonDoc{Date: c.CreatedAt, Analysis: c.Content}
	for _, a := range artifacts {
		doc.Artifacts = append(doc.Artifacts, ComparedArtifact{
			Code:  a.ArtifactCode,
			Type:  a.Type(),
			Notes: a.UserNotes,
		})
	}
	return doc
}

var comparisonTemplate = template.Must(template.New("comparison").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Artifact Comparison Report</title>
<style>
body { font-family: Arial, sans-serif; padding: 30px; line-height: 1.6; }
h1 { color: #9333EA; }
.artifact { padding: 8px; margin: 4px 0; background: #f3f4f6; border-radius: 4px; }
.analysis { white-space: pre-wrap; margin-top: 20px; }
</style>
</head>
<body onload="window.print()">
<h1>Artifact Comparison Report</h1>
<p><strong>Date:</strong> {{when .Date}}</p>
<h2>Artifacts Compared</h2>
{{range .Artifacts}}<div class="artifact"><strong>{{.Code}}</strong> - {{.Type}}</div>
{{end}}<h2>Analysis</h2>
<div class="analysis">{{.Analysis}}</div>
</body>
</html>
`))

// Comparison writes doc in format f (json, txt or html).
func Comparison(w io.Writer, doc ComparisonDoc, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode comparison: %w", err)
		}
		return nil
	case FormatTXT:
		var b strings.Builder
		b.WriteString("ARTIFACT COMPARISON REPORT\n")
		fmt.Fprintf(&b, "Date: %s\n\n", doc.Date.UTC().Format("Jan 2, 2006 15:04 MST"))
		b.WriteString("ARTIFACTS COMPARED:\n")
		for _, a := range doc.Artifacts {
			fmt.Fprintf(&b, "- %s: %s\n", a.Code, a.Type)
		}
		b.WriteString("\nANALYSIS:\n")
		b.WriteString(doc.Analysis)
		_, err := io.WriteString(w, b.String())
		return err
	case FormatHTML:
		if err := comparisonTemplate.Execute(w, doc); err != nil {
			return fmt.Errorf("failed to render comparison: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unsupported comparison format %q", f)
}
