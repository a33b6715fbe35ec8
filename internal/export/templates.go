package export

import (
	"bytes"
	"html/template"
	"time"
)

var sopTemplate = template.Must(template.New("sop").Parse(sopTemplateHTML))

type TemplateData struct {
	Title     string
	Category  string
	Purpose   string
	Frequency string
	OrgName   string
	Draft     bool
	UpdatedAt time.Time
	Steps     []TemplateStep
}

type TemplateStep struct {
	StepNumber  int
	Title       string
	Description string
}

// RenderSOPHTML renders the SOP document template. All field values are
// escaped by html/template, so step text can never inject markup.
func RenderSOPHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := sopTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const sopTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #1a1a1a; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; margin-bottom: 0.25rem; }
    h2 { margin-top: 2rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    .draft-banner { background: #fff3cd; border: 1px solid #d4a017; color: #7a5c00; padding: 0.5rem 1rem; margin-bottom: 1.5rem; font-weight: bold; text-transform: uppercase; letter-spacing: 0.1em; }
    .purpose { background: #f5f5f5; padding: 1rem; margin-bottom: 1rem; border-left: 3px solid #333; }
    ol.steps { padding-left: 1.5rem; }
    ol.steps > li { margin-bottom: 1rem; }
    .step-title { font-weight: bold; }
    .step-desc { margin: 0.25rem 0 0; color: #333; white-space: pre-wrap; }
  </style>
</head>
<body>
  {{if .Draft}}<div class="draft-banner">Draft: not approved for use</div>{{end}}
  <h1>{{.Title}}</h1>
  <div class="meta">{{.OrgName}}{{if .Category}} | {{.Category}}{{end}}{{if .Frequency}} | {{.Frequency}}{{end}} | Updated {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  {{if .Purpose}}<div class="purpose"><strong>Purpose:</strong> {{.Purpose}}</div>{{end}}
  <h2>Procedure</h2>
  <ol class="steps">
    {{range .Steps}}<li><div class="step-title">{{.Title}}</div>{{if .Description}}<p class="step-desc">{{.Description}}</p>{{end}}</li>
    {{end}}
  </ol>
</body>
</html>`
