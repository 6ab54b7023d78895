package action

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator checks params against a compiled JSON schema. Handlers
// embed it to get Validate and ParamsSchema for free.
type SchemaValidator struct {
	action string
	raw    string
	schema *gojsonschema.Schema
}

func NewSchemaValidator(actionType, schema string) (*SchemaValidator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile params schema for %s: %w", actionType, err)
	}
	return &SchemaValidator{action: actionType, raw: schema, schema: compiled}, nil
}

// MustSchemaValidator is NewSchemaValidator for package level schemas.
func MustSchemaValidator(actionType, schema string) *SchemaValidator {
	v, err := NewSchemaValidator(actionType, schema)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *SchemaValidator) Validate(params Params) error {
	if params == nil {
		params = Params{}
	}
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(map[string]any(params)))
	if err != nil {
		return &ValidationError{Action: v.action, Message: err.Error(), Cause: err}
	}
	if result.Valid() {
		return nil
	}
	var msgs []string
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	ve := &ValidationError{Action: v.action, Message: strings.Join(msgs, "; ")}
	if errs := result.Errors(); len(errs) == 1 {
		ve.Field = errs[0].Field()
		ve.Message = errs[0].Description()
	}
	return ve
}

func (v *SchemaValidator) ParamsSchema() string {
	return v.raw
}
