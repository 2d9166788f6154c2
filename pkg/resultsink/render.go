package resultsink

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig"

	"github.com/harun/actuator/pkg/action"
)

// Renderer turns a result into the text fed back to the model.
type Renderer interface {
	Render(name string, params action.Params, result action.Result) (string, error)
}

// TemplateData is what result templates are executed with.
type TemplateData struct {
	Name       string
	Kind       string
	Text       string
	Truncated  bool
	Params     map[string]string
	ParamOrder []string
}

// DefaultTemplates holds one template per result kind.
var DefaultTemplates = map[action.Kind]string{
	action.KindSuccess: `[{{ .Name }}] Result:
{{ .Text | default "(no output)" }}{{ if .Truncated }}
(output was truncated){{ end }}`,
	action.KindValidationError: `[{{ .Name }}] Error: {{ .Text }}`,
	action.KindRejected:        `[{{ .Name }}] The user denied this operation.{{ with .Text }} Reason: {{ . }}{{ end }}`,
	action.KindExecutionError:  `[{{ .Name }}] Error executing action: {{ .Text }}`,
}

// TemplateRenderer renders results with text/template and the sprig
// function map.
type TemplateRenderer struct {
	templates map[action.Kind]*template.Template
}

// NewTemplateRenderer parses the default templates with overrides applied.
// Override keys are result kinds.
func NewTemplateRenderer(overrides map[string]string) (*TemplateRenderer, error) {
	sources := make(map[action.Kind]string, len(DefaultTemplates))
	for kind, src := range DefaultTemplates {
		sources[kind] = src
	}
	for key, src := range overrides {
		kind := action.Kind(key)
		if _, ok := DefaultTemplates[kind]; !ok {
			return nil, fmt.Errorf("unknown result kind %q in templates", key)
		}
		sources[kind] = src
	}

	r := &TemplateRenderer{templates: make(map[action.Kind]*template.Template, len(sources))}
	for kind, src := range sources {
		tmpl, err := template.New(string(kind)).Funcs(sprig.TxtFuncMap()).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", kind, err)
		}
		r.templates[kind] = tmpl
	}
	return r, nil
}

// DefaultRenderer returns a renderer using DefaultTemplates.
func DefaultRenderer() *TemplateRenderer {
	r, err := NewTemplateRenderer(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// Render implements Renderer.
func (r *TemplateRenderer) Render(name string, params action.Params, result action.Result) (string, error) {
	if result == nil {
		return "", fmt.Errorf("nil result for action '%s'", name)
	}
	tmpl, ok := r.templates[result.Kind()]
	if !ok {
		return "", fmt.Errorf("no template for result kind %s", result.Kind())
	}

	data := TemplateData{
		Name:       name,
		Kind:       string(result.Kind()),
		Text:       result.Text(),
		Params:     params.Clone().Values,
		ParamOrder: append([]string(nil), params.Order...),
	}
	if s, ok := result.(action.Success); ok {
		data.Truncated = s.Truncated
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s result of '%s': %w", result.Kind(), name, err)
	}
	return buf.String(), nil
}

var _ Renderer = (*TemplateRenderer)(nil)
