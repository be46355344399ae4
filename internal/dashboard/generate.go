// Package dashboard renders Grafana dashboards over the recorded GreptimeDB
// tables.
package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"segchain/internal/record"
	"segchain/internal/relay"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

// Params fill the dashboard templates.
type Params struct {
	SafetyTable string
	EventTable  string
	Thresholds  relay.Thresholds
}

// DefaultParams matches the tables written by record.GreptimeDBWriter.
func DefaultParams() Params {
	return Params{
		SafetyTable: record.SafetyTable,
		EventTable:  record.LinkEventTable,
		Thresholds:  relay.DefaultThresholds(),
	}
}

// Render writes every dashboard into outDir. Templates may read environment
// variables with env; a missing variable is an error.
func Render(outDir string, p Params) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}
	names, err := templates.ReadDir("templates")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, entry := range names {
		name := entry.Name()
		t, err := template.New(name).Funcs(funcMap).ParseFS(templates, "templates/"+name)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(name, ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, p); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
