// Package definition reads and checks workflow definition documents.
package definition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/scheduler"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Document is the authoring format of a workflow, in JSON or YAML.
type Document struct {
	Name        string         `json:"name" yaml:"name" validate:"required,max=255"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty" validate:"max=2000"`
	Schedule    string         `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Timeout     string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Watch       *WatchDocument `json:"watch,omitempty" yaml:"watch,omitempty"`
	Steps       []StepDocument `json:"steps" yaml:"steps" validate:"dive"`
}

// WatchDocument fires the workflow on filesystem events. Recursive defaults
// to true and events to created and modified.
type WatchDocument struct {
	Paths     []string `json:"paths" yaml:"paths" validate:"required,min=1,dive,required"`
	Recursive *bool    `json:"recursive,omitempty" yaml:"recursive,omitempty"`
	Patterns  []string `json:"patterns,omitempty" yaml:"patterns,omitempty" validate:"dive,required"`
	Events    []string `json:"events,omitempty" yaml:"events,omitempty" validate:"dive,oneof=created modified deleted renamed"`
	Debounce  string   `json:"debounce,omitempty" yaml:"debounce,omitempty"`
}

type StepDocument struct {
	ID              string         `json:"id,omitempty" yaml:"id,omitempty" validate:"omitempty,max=100"`
	Action          string         `json:"action" yaml:"action" validate:"required"`
	Params          map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Retry           *RetryDocument `json:"retry,omitempty" yaml:"retry,omitempty"`
	ContinueOnError bool           `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
	Timeout         string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

type RetryDocument struct {
	MaxAttempts     int     `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty" validate:"omitempty,min=1,max=100"`
	Backoff         string  `json:"backoff,omitempty" yaml:"backoff,omitempty" validate:"omitempty,oneof=exponential linear constant"`
	InitialInterval string  `json:"initialInterval,omitempty" yaml:"initialInterval,omitempty"`
	MaxInterval     string  `json:"maxInterval,omitempty" yaml:"maxInterval,omitempty"`
	Multiplier      float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty" validate:"omitempty,gte=1"`
}

// Catalog resolves action types; *action.Registry satisfies it.
type Catalog interface {
	Resolve(actionType string) (action.Handler, error)
}

// Error lists every problem found in a document.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid workflow definition: " + strings.Join(e.Problems, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report field names the way they are written in the document
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Parse decodes a JSON or YAML document. JSON is recognised by a leading brace.
func Parse(data []byte) (*Document, error) {
	var doc Document
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty workflow definition")
	}
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json definition: %w", err)
		}
		return &doc, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(trimmed))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode yaml definition: %w", err)
	}
	return &doc, nil
}

func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return Parse(data)
}

// Validate checks the document structure, durations, schedule, step ids and,
// when catalog is not nil, that every action exists and accepts its params.
// Params holding templates are only checked at run time.
func (d *Document) Validate(catalog Catalog) error {
	var problems []string
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, fieldProblem(fe))
		}
	}

	if d.Schedule != "" {
		if _, err := scheduler.ParseSchedule(d.Schedule); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if _, err := parseDuration(d.Timeout); err != nil {
		problems = append(problems, fmt.Sprintf("timeout: %v", err))
	}
	if d.Watch != nil {
		for i, p := range d.Watch.Patterns {
			if _, err := filepath.Match(p, ""); err != nil {
				problems = append(problems, fmt.Sprintf("watch.patterns[%d]: invalid glob %q", i, p))
			}
		}
		if _, err := parseDuration(d.Watch.Debounce); err != nil {
			problems = append(problems, fmt.Sprintf("watch.debounce: %v", err))
		}
	}

	seen := make(map[string]int, len(d.Steps))
	for i, s := range d.Steps {
		id := domain.StepIDOrDefault(domain.Step{ID: s.ID}, i)
		if prev, dup := seen[id]; dup {
			problems = append(problems, fmt.Sprintf("steps[%d]: id %q already used by steps[%d]", i, id, prev))
		} else {
			seen[id] = i
		}
		if _, err := parseDuration(s.Timeout); err != nil {
			problems = append(problems, fmt.Sprintf("steps[%d].timeout: %v", i, err))
		}
		if s.Retry != nil {
			if _, err := parseDuration(s.Retry.InitialInterval); err != nil {
				problems = append(problems, fmt.Sprintf("steps[%d].retry.initialInterval: %v", i, err))
			}
			if _, err := parseDuration(s.Retry.MaxInterval); err != nil {
				problems = append(problems, fmt.Sprintf("steps[%d].retry.maxInterval: %v", i, err))
			}
		}
		if catalog == nil || s.Action == "" {
			continue
		}
		handler, err := catalog.Resolve(s.Action)
		if err != nil {
			problems = append(problems, fmt.Sprintf("steps[%d]: %v", i, err))
			continue
		}
		if !hasTemplate(s.Params) {
			if err := handler.Validate(action.Params(s.Params)); err != nil {
				problems = append(problems, fmt.Sprintf("steps[%d]: %v", i, err))
			}
		}
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

func fieldProblem(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", path, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", path, fe.Tag())
}

func hasTemplate(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.Contains(val, "{{")
	case map[string]any:
		for _, item := range val {
			if hasTemplate(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if hasTemplate(item) {
				return true
			}
		}
	}
	return false
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %s is negative", s)
	}
	return d, nil
}

// Workflow converts a validated document. Enabled defaults to true.
func (d *Document) Workflow() (*domain.Workflow, error) {
	timeout, err := parseDuration(d.Timeout)
	if err != nil {
		return nil, err
	}
	wf := &domain.Workflow{
		Name:        d.Name,
		Description: d.Description,
		Schedule:    d.Schedule,
		Timeout:     timeout,
		Enabled:     d.Enabled == nil || *d.Enabled,
		Steps:       make([]domain.Step, 0, len(d.Steps)),
	}
	if d.Watch != nil {
		w := &domain.Watch{
			Paths:     d.Watch.Paths,
			Recursive: d.Watch.Recursive == nil || *d.Watch.Recursive,
			Patterns:  d.Watch.Patterns,
		}
		for _, ev := range d.Watch.Events {
			w.Events = append(w.Events, domain.WatchEvent(ev))
		}
		if w.Debounce, err = parseDuration(d.Watch.Debounce); err != nil {
			return nil, err
		}
		wf.Watch = w
	}
	for i, s := range d.Steps {
		step := domain.Step{
			ID:              domain.StepIDOrDefault(domain.Step{ID: s.ID}, i),
			Action:          s.Action,
			Params:          s.Params,
			ContinueOnError: s.ContinueOnError,
		}
		if step.Timeout, err = parseDuration(s.Timeout); err != nil {
			return nil, err
		}
		if s.Retry != nil {
			step.Retry = domain.RetryPolicy{
				MaxAttempts: s.Retry.MaxAttempts,
				Backoff:     domain.BackoffShape(s.Retry.Backoff),
				Multiplier:  s.Retry.Multiplier,
			}
			if step.Retry.InitialInterval, err = parseDuration(s.Retry.InitialInterval); err != nil {
				return nil, err
			}
			if step.Retry.MaxInterval, err = parseDuration(s.Retry.MaxInterval); err != nil {
				return nil, err
			}
		}
		wf.Steps = append(wf.Steps, step)
	}
	return wf, nil
}

// FromWorkflow renders a stored workflow back into its document form.
func FromWorkflow(wf *domain.Workflow) *Document {
	enabled := wf.Enabled
	doc := &Document{
		Name:        wf.Name,
		Description: wf.Description,
		Schedule:    wf.Schedule,
		Timeout:     formatDuration(wf.Timeout),
		Enabled:     &enabled,
		Steps:       make([]StepDocument, 0, len(wf.Steps)),
	}
	if wf.Watch != nil {
		recursive := wf.Watch.Recursive
		doc.Watch = &WatchDocument{
			Paths:     wf.Watch.Paths,
			Recursive: &recursive,
			Patterns:  wf.Watch.Patterns,
			Debounce:  formatDuration(wf.Watch.Debounce),
		}
		for _, ev := range wf.Watch.Events {
			doc.Watch.Events = append(doc.Watch.Events, string(ev))
		}
	}
	for _, s := range wf.Steps {
		sd := StepDocument{
			ID:              s.ID,
			Action:          s.Action,
			Params:          s.Params,
			ContinueOnError: s.ContinueOnError,
			Timeout:         formatDuration(s.Timeout),
		}
		if s.Retry != (domain.RetryPolicy{}) {
			sd.Retry = &RetryDocument{
				MaxAttempts:     s.Retry.MaxAttempts,
				Backoff:         string(s.Retry.Backoff),
				InitialInterval: formatDuration(s.Retry.InitialInterval),
				MaxInterval:     formatDuration(s.Retry.MaxInterval),
				Multiplier:      s.Retry.Multiplier,
			}
		}
		doc.Steps = append(doc.Steps, sd)
	}
	return doc
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

// Encode writes the document as YAML, or JSON when path ends in .json.
func (d *Document) Encode(path string) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.MarshalIndent(d, "", "  ")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
