package config

import (
	"fmt"
	"strings"
	"text/template"
)

// RenderTemplate renders a file resource template with the resolved
// manifest vars. Vars are addressed as {{ .NAME }}. Referencing a
// missing variable is an error.
func RenderTemplate(text string, vars map[string]any) (string, error) {
	tmpl, err := template.New("content").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return buf.String(), nil
}
