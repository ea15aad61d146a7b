package features

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"loan-risk/internal/loan"

	"github.com/xeipuuv/gojsonschema"
)

// shapeSchema builds the JSON Schema a raw application must satisfy before
// any coercion: exactly the declared fields, numeric fields as numbers or
// strings, categorical fields as non-empty strings.
func shapeSchema(s Schema) map[string]any {
	props := make(map[string]any, len(s.Categorical)+len(s.Numeric))
	for _, f := range s.Numeric {
		props[f] = map[string]any{"type": []string{"number", "string"}}
	}
	for _, f := range s.Categorical {
		props[f] = map[string]any{"type": "string", "minLength": 1}
	}
	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           props,
		"required":             s.Fields(),
		"additionalProperties": false,
	}
}

func compileShape(s Schema) (*gojsonschema.Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(shapeSchema(s)))
	if err != nil {
		return nil, fmt.Errorf("compile request schema for %s: %w", s.Name, err)
	}
	return compiled, nil
}

// checkShape validates raw against the compiled shape and reports the first
// violation in field order.
func checkShape(shape *gojsonschema.Schema, fields []string, raw loan.RawApplication) error {
	if raw == nil {
		return loan.NewValidationError("", "empty application")
	}
	result, err := shape.Validate(gojsonschema.NewGoLoader(map[string]any(raw)))
	if err != nil {
		return loan.NewValidationError("", "malformed application")
	}
	if result.Valid() {
		return nil
	}

	rank := make(map[string]int, len(fields))
	for i, f := range fields {
		rank[f] = i
	}
	var best *loan.ValidationError
	bestRank := len(fields) + 1
	for _, re := range result.Errors() {
		ve := resultToValidation(re)
		r, ok := rank[ve.Field]
		if !ok {
			r = len(fields)
		}
		if best == nil || r < bestRank {
			best, bestRank = ve, r
		}
	}
	return best
}

func resultToValidation(re gojsonschema.ResultError) *loan.ValidationError {
	field := re.Field()
	if p, ok := re.Details()["property"].(string); ok && p != "" {
		field = p
	}
	if field == "(root)" {
		field = ""
	}

	switch re.Type() {
	case "required":
		return loan.NewValidationError(field, "required field missing")
	case "additional_property_not_allowed":
		return loan.NewValidationError(field, "field not allowed for this deployment")
	case "invalid_type":
		return loan.NewValidationError(field, "wrong type, expected %v", re.Details()["expected"])
	case "string_gte":
		return loan.NewValidationError(field, "value must not be empty")
	default:
		return loan.NewValidationError(field, "%s", re.Description())
	}
}

// coerceNumber converts a loosely-typed value to a finite float64.
func coerceNumber(field string, v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, loan.NewValidationError(field, "value %q is not a number", n.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, loan.NewValidationError(field, "value %q is not a number", n)
		}
		f = parsed
	default:
		return 0, loan.NewValidationError(field, "value of type %T is not a number", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, loan.NewValidationError(field, "value must be finite")
	}
	return f, nil
}

// normalizeCategory trims v and translates it through the field's value
// map when one is declared. Unmapped values are rejected.
func normalizeCategory(s Schema, field string, v any) (string, error) {
	str, ok := v.(string)
	if !ok {
		return "", loan.NewValidationError(field, "value of type %T is not a string", v)
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return "", loan.NewValidationError(field, "value must not be empty")
	}

	m, ok := s.ValueMaps[field]
	if !ok {
		return str, nil
	}
	token, ok := m[str]
	if !ok {
		return "", loan.NewValidationError(field, "value %q has no mapping", str)
	}
	return token, nil
}
