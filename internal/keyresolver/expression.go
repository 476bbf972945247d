package keyresolver

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// Expression evaluates a text/template over the named call arguments, e.g.
// `{{ .req.TemplateID }}-{{ join .req.Receivers "," }}`. The caller is
// available as .caller.
type Expression struct {
	source string
	tmpl   *template.Template
}

func NewExpression(expr string) (*Expression, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: key expression is required", domain.ErrValidation)
	}

	tmpl, err := template.New("key").
		Option("missingkey=error").
		Funcs(template.FuncMap{"join": strings.Join}).
		Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid key expression: %v", domain.ErrValidation, err)
	}

	return &Expression{source: expr, tmpl: tmpl}, nil
}

func (e *Expression) Resolve(inv Invocation) (string, error) {
	if len(inv.ArgNames) != len(inv.Args) {
		return "", fmt.Errorf("argument names (%d) do not match arguments (%d)", len(inv.ArgNames), len(inv.Args))
	}

	data := make(map[string]any, len(inv.Args)+1)
	for i, name := range inv.ArgNames {
		data[name] = inv.Args[i]
	}
	data["caller"] = inv.Caller

	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to evaluate key expression %q: %w", e.source, err)
	}

	return Digest(inv.Method, buf.String()), nil
}
