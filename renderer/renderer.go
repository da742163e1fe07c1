package renderer

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
	"time"

	"github.com/blumarkets/portfolio"
)

//go:embed templates/*.md
var templates embed.FS

var funcs = template.FuncMap{
	"pct": func(f float64) string { return portfolio.Percent(f).String() },
	"drift": func(f float64) string {
		return portfolio.Percent(f).SignedString()
	},
	"date": formatDate,
	"days": func(d time.Duration) string {
		return fmt.Sprintf("%.1f days", d.Hours()/24)
	},
	"describe": Describe,
	"nextDue": func(l portfolio.Loan) string {
		i, ok := l.NextDue()
		if !ok {
			return "-"
		}
		return fmt.Sprintf("%s on %s", i.Due(), i.DueAt.UTC().Format("2006-01-02"))
	},
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// RenderPreview renders a preview result to a markdown string.
func RenderPreview(res portfolio.PreviewResult, target portfolio.TargetLayerPct) string {
	partials := map[string]string{
		"layers": "layers.md",
	}
	if res.Plan != nil {
		partials["plan"] = "plan.md"
	} else {
		partials["plan"] = ""
	}
	v := previewView{
		PreviewResult: res,
		Action:        Describe(res.Payload),
		Layers:        compareLayers(res.Before, res.After, target),
		Delta:         res.After.TotalIRR.Sub(res.Before.TotalIRR),
	}
	return renderTemplate("preview", "preview.md", partials, v)
}

// RenderCommit renders a confirmed action to a markdown string.
func RenderCommit(res portfolio.CommitResult) string {
	v := commitView{
		CommitResult: res,
		Action:       Describe(res.LedgerEntry.Payload),
	}
	return renderTemplate("commit", "commit.md", map[string]string{"positions": "positions.md"}, v)
}

// RenderSnapshot renders the valuation of a portfolio.
func RenderSnapshot(id string, s portfolio.State, snap portfolio.Snapshot, table portfolio.BoundaryTable, now time.Time) string {
	v := newSnapshotView(id, s, snap, table, now)
	partials := map[string]string{
		"holdings": "holdings.md",
		"loans":    "loans.md",
	}
	return renderTemplate("snapshot", "snapshot.md", partials, v)
}

// renderTemplate is a generic utility to render a main template that depends on several partials.
func renderTemplate(templateName, mainFile string, partials map[string]string, data any) string {
	mainContent, err := fs.ReadFile(templates, "templates/"+mainFile)
	if err != nil {
		return fmt.Sprintf("error reading main template %q: %v", mainFile, err)
	}

	tmpl, err := template.New(templateName).Funcs(funcs).Parse(string(mainContent))
	if err != nil {
		return fmt.Sprintf("error parsing main template %q: %v", mainFile, err)
	}

	for name, file := range partials {
		var content []byte
		// An empty file name is a valid case, resulting in an empty template.
		if file != "" {
			content, err = fs.ReadFile(templates, "templates/"+file)
			if err != nil {
				return fmt.Sprintf("error reading partial template %q: %v", file, err)
			}
		}
		if _, err := tmpl.New(name).Parse(string(content)); err != nil {
			return fmt.Sprintf("error parsing partial template %q for %q: %v", file, name, err)
		}
	}

	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, templateName, data); err != nil {
		return fmt.Sprintf("error executing template %q: %v", templateName, err)
	}
	return b.String()
}
