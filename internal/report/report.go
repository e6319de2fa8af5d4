// Package report renders the catalog as a markdown document grouped by
// category.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"
	"unicode"

	"github.com/kevinmichaelchen/star-catalog/internal/models"
)

const noDescription = "no description"

type Entry struct {
	Name    string
	URL     string
	Summary string
}

type Section struct {
	Name   string
	Anchor string
	Repos  []Entry
}

type Report struct {
	GeneratedAt time.Time
	Total       int
	Sections    []Section
}

var tmpl = template.Must(template.New("report").Parse(`# Starred Repositories

Generated {{.GeneratedAt.Format "2006-01-02"}}.

## Statistics

Total repositories: {{.Total}}
Categories: {{len .Sections}}

{{range .Sections}}- {{.Name}}: {{len .Repos}}
{{end}}
## Contents

{{range .Sections}}- [{{.Name}}](#{{.Anchor}})
{{end}}{{range .Sections}}
## {{.Name}}

{{range .Repos}}- [{{.Name}}]({{.URL}}) - {{.Summary}}
{{end}}{{end}}`))

// Build groups repos by category (unset ones under "unclassified"), sorting
// categories by name and repositories case-insensitively by name.
func Build(repos []models.Repo, now time.Time) Report {
	groups := make(map[string][]Entry)
	for _, r := range repos {
		cat := models.UnclassifiedHeading
		if r.Category != nil && *r.Category != "" {
			cat = *r.Category
		}
		groups[cat] = append(groups[cat], Entry{Name: r.Name, URL: r.URL, Summary: summaryOf(r)})
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	rep := Report{GeneratedAt: now, Total: len(repos)}
	for _, name := range names {
		entries := groups[name]
		sort.SliceStable(entries, func(i, j int) bool {
			return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
		})
		rep.Sections = append(rep.Sections, Section{Name: name, Anchor: Anchor(name), Repos: entries})
	}
	return rep
}

func summaryOf(r models.Repo) string {
	s := r.Description
	if r.AISummary != nil && strings.TrimSpace(*r.AISummary) != "" {
		s = *r.AISummary
	}
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return noDescription
	}
	return s
}

// Anchor is the fragment GitHub generates for a heading.
func Anchor(heading string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(heading)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	return b.String()
}

func Render(w io.Writer, rep Report) error {
	if err := tmpl.Execute(w, rep); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}

// WriteFile renders repos to path, creating parent directories.
func WriteFile(path string, repos []models.Repo, now time.Time) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := Render(f, Build(repos, now)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
