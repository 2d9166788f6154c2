package dispatch

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/actuator/pkg/action"
)

// buildSchema generates a JSON Schema from the parameter specs. All
// parameter values are strings.
func buildSchema(def Definition) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(def.Params))
	required := []string{}

	for _, p := range def.Params {
		prop := map[string]interface{}{
			"type": "string",
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			enum := make([]interface{}, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		if p.MaxLength > 0 {
			prop["maxLength"] = p.MaxLength
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": !def.Strict,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// CheckParams validates params against the schema of action name.
func (r *Registry) CheckParams(name string, params action.Params) error {
	_, schema, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", action.ErrUnknownAction, name)
	}
	return validateParams(schema, params)
}

func validateParams(schema *gojsonschema.Schema, params action.Params) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params.Map()))
	if err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, describe(e))
	}
	return fmt.Errorf("malformed parameters: %s", strings.Join(problems, "; "))
}

// describe renders a schema error in terms of action parameters rather
// than JSON paths.
func describe(e gojsonschema.ResultError) string {
	field := e.Field()
	switch e.Type() {
	case "required":
		if p, ok := e.Details()["property"].(string); ok {
			return fmt.Sprintf("missing required parameter '%s'", p)
		}
	case "additional_property_not_allowed":
		if p, ok := e.Details()["property"].(string); ok {
			return fmt.Sprintf("unexpected parameter '%s'", p)
		}
	}
	if field == "(root)" || field == "" {
		return e.Description()
	}
	return fmt.Sprintf("parameter '%s': %s", field, e.Description())
}
