// Package template renders step parameters against the outputs of earlier steps.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"text/template"
	"text/template/parse"
	"time"
)

// Context is the data visible to parameter templates.
type Context struct {
	Steps    map[string]map[string]any
	Workflow map[string]any
	Run      map[string]any
	Trigger  string
	// TriggerData carries what fired the run, such as the path of a file event.
	TriggerData map[string]any
	Now         time.Time
}

// triggerValue prints as the trigger type, so {{ .trigger }} stays a plain
// word while {{ .trigger.path }} reaches the event details.
type triggerValue map[string]any

func (t triggerValue) String() string {
	s, _ := t["type"].(string)
	return s
}

func (c Context) data() map[string]any {
	steps := make(map[string]any, len(c.Steps))
	for id, out := range c.Steps {
		steps[id] = out
	}
	trigger := make(triggerValue, len(c.TriggerData)+1)
	for k, v := range c.TriggerData {
		trigger[k] = v
	}
	trigger["type"] = c.Trigger
	return map[string]any{
		"steps":    steps,
		"workflow": c.Workflow,
		"run":      c.Run,
		"trigger":  trigger,
	}
}

// RenderParams renders every string in params, descending into nested maps
// and lists. The input is left unmodified.
func RenderParams(params map[string]any, ctx Context) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	data := ctx.data()
	funcs := funcMap(ctx.Now)
	out := make(map[string]any, len(params))
	for k, v := range params {
		rendered, err := renderValue(v, data, funcs)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

func renderValue(v any, data map[string]any, funcs template.FuncMap) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "{{") {
			return val, nil
		}
		return render(val, data, funcs)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			rendered, err := renderValue(item, data, funcs)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rendered, err := renderValue(item, data, funcs)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil
	}
	return v, nil
}

func funcMap(now time.Time) template.FuncMap {
	if now.IsZero() {
		now = time.Now()
	}
	return template.FuncMap{
		"now": func() string {
			return now.UTC().Format(time.RFC3339)
		},
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
		"default": func(def, v any) any {
			if v == nil || v == "" {
				return def
			}
			return v
		},
	}
}

// Render executes a single template. A template that is exactly one field
// reference, such as "{{ .steps.fetch.status }}", yields the referenced value
// with its own type; any other template yields the rendered string.
func Render(templateStr string, data any, funcs template.FuncMap) (any, error) {
	return render(templateStr, data, funcs)
}

func render(templateStr string, data any, funcs template.FuncMap) (any, error) {
	tmpl, err := template.New("param").Option("missingkey=error").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	if path, ok := singleField(tmpl.Tree); ok {
		if v, ok := lookup(data, path); ok {
			return v, nil
		}
	}
	return buf.String(), nil
}

// singleField returns the field chain of a template holding one {{ .a.b }}
// action and nothing but whitespace around it.
func singleField(tree *parse.Tree) ([]string, bool) {
	if tree == nil || tree.Root == nil {
		return nil, false
	}
	var field []string
	for _, n := range tree.Root.Nodes {
		switch node := n.(type) {
		case *parse.TextNode:
			if len(bytes.TrimSpace(node.Text)) > 0 {
				return nil, false
			}
		case *parse.ActionNode:
			if field != nil || len(node.Pipe.Decl) > 0 || len(node.Pipe.Cmds) != 1 {
				return nil, false
			}
			args := node.Pipe.Cmds[0].Args
			if len(args) != 1 {
				return nil, false
			}
			f, ok := args[0].(*parse.FieldNode)
			if !ok {
				return nil, false
			}
			field = f.Ident
		default:
			return nil, false
		}
	}
	return field, field != nil
}

func lookup(data any, path []string) (any, bool) {
	cur := data
	for _, key := range path {
		rv := reflect.ValueOf(cur)
		if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		cur = v.Interface()
	}
	if s, ok := cur.(fmt.Stringer); ok {
		return s.String(), true
	}
	return cur, true
}
