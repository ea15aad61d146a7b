// Package features implements the feature codec: it turns a loosely-typed
// loan application into the exact feature representation a pre-fitted
// model artifact was trained on.
//
// A Schema pins the field set, the concatenation order and the scaling
// scope for one deployment. The order is a contract with the artifact, so
// every profile is validated against the loaded encoder and scaler before
// the codec is handed out.
package features

import (
	"fmt"
	"os"

	"loan-risk/internal/loan"

	"gopkg.in/yaml.v3"
)

// Order is the concatenation order of the encoded blocks.
type Order string

const (
	CategoricalFirst Order = "categorical_first"
	NumericFirst     Order = "numeric_first"
)

// ScaleScope selects which columns the scaler covers.
type ScaleScope string

const (
	ScaleNone    ScaleScope = "none"
	ScaleNumeric ScaleScope = "numeric"
	ScaleAll     ScaleScope = "all"
)

// Layout selects between a bare numeric vector and a schema-typed record.
type Layout string

const (
	LayoutVector Layout = "vector"
	LayoutRecord Layout = "record"
)

// Schema is the static description of one deployment's feature contract.
type Schema struct {
	Name        string                       `yaml:"name"`
	Categorical []string                     `yaml:"categorical"`
	Numeric     []string                     `yaml:"numeric"`
	Order       Order                        `yaml:"order"`
	Scale       ScaleScope                   `yaml:"scale"`
	Layout      Layout                       `yaml:"layout"`
	ValueMaps   map[string]map[string]string `yaml:"valueMaps"`
}

// Built-in profiles. Each one is pinned to the artifact family it was
// trained with.
var profiles = map[string]Schema{
	"classic": {
		Name:        "classic",
		Categorical: []string{loan.FieldGender, loan.FieldMarried, loan.FieldEducation, loan.FieldSelfEmployed},
		Numeric:     []string{loan.FieldCreditHistory, loan.FieldApplicantIncome, loan.FieldLoanAmount},
		Order:       CategoricalFirst,
		Scale:       ScaleNumeric,
		Layout:      LayoutVector,
	},
	"scaled": {
		Name:        "scaled",
		Categorical: []string{loan.FieldEducation, loan.FieldEmployment},
		Numeric:     []string{loan.FieldAge, loan.FieldIncome, loan.FieldLoanAmount, loan.FieldLoanTerm, loan.FieldCreditScore},
		Order:       NumericFirst,
		Scale:       ScaleAll,
		Layout:      LayoutVector,
	},
	"pipeline": {
		Name:        "pipeline",
		Categorical: []string{loan.FieldEducation, loan.FieldEmployment},
		Numeric:     []string{loan.FieldAge, loan.FieldIncome, loan.FieldLoanAmount, loan.FieldCreditScore, loan.FieldDTIRatio},
		Order:       NumericFirst,
		Scale:       ScaleNone,
		Layout:      LayoutRecord,
		ValueMaps: map[string]map[string]string{
			loan.FieldEmployment: {
				"Employed":      "Full-time",
				"Part-time":     "Part-time",
				"Self-employed": "Self-employed",
				"Unemployed":    "Unemployed",
			},
		},
	},
}

// Profile returns a copy of a built-in schema profile.
func Profile(name string) (Schema, error) {
	s, ok := profiles[name]
	if !ok {
		return Schema{}, fmt.Errorf("unknown schema profile %q", name)
	}
	return s.clone(), nil
}

// ProfileNames lists the built-in profiles.
func ProfileNames() []string {
	return []string{"classic", "scaled", "pipeline"}
}

// LoadSchemaFile reads a Schema from a YAML file and validates it.
func LoadSchemaFile(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}

	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("failed to parse schema file: %w", err)
	}
	if s.Scale == "" {
		s.Scale = ScaleNone
	}
	if s.Layout == "" {
		s.Layout = LayoutVector
	}
	if err := s.Validate(); err != nil {
		return Schema{}, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

// Validate checks the schema is self-consistent.
func (s Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is empty")
	}
	if len(s.Categorical)+len(s.Numeric) == 0 {
		return fmt.Errorf("schema declares no fields")
	}
	switch s.Order {
	case CategoricalFirst, NumericFirst:
	default:
		return fmt.Errorf("invalid order %q", s.Order)
	}
	switch s.Scale {
	case ScaleNone, ScaleNumeric, ScaleAll:
	default:
		return fmt.Errorf("invalid scale scope %q", s.Scale)
	}
	switch s.Layout {
	case LayoutVector:
	case LayoutRecord:
		if s.Scale != ScaleNone {
			return fmt.Errorf("record layout cannot declare scaling, the pipeline artifact scales")
		}
	default:
		return fmt.Errorf("invalid layout %q", s.Layout)
	}

	seen := make(map[string]bool)
	for _, f := range s.Fields() {
		if !loan.IsKnownField(f) {
			return fmt.Errorf("unknown field %q", f)
		}
		if seen[f] {
			return fmt.Errorf("field %q declared twice", f)
		}
		seen[f] = true
	}
	for f, m := range s.ValueMaps {
		if !s.isCategorical(f) {
			return fmt.Errorf("value map for non-categorical field %q", f)
		}
		if len(m) == 0 {
			return fmt.Errorf("value map for %q is empty", f)
		}
	}
	return nil
}

// Fields returns the required field set in block order.
func (s Schema) Fields() []string {
	out := make([]string, 0, len(s.Categorical)+len(s.Numeric))
	if s.Order == NumericFirst {
		out = append(out, s.Numeric...)
		return append(out, s.Categorical...)
	}
	out = append(out, s.Categorical...)
	return append(out, s.Numeric...)
}

func (s Schema) isCategorical(name string) bool {
	for _, f := range s.Categorical {
		if f == name {
			return true
		}
	}
	return false
}

func (s Schema) clone() Schema {
	c := s
	c.Categorical = append([]string(nil), s.Categorical...)
	c.Numeric = append([]string(nil), s.Numeric...)
	if s.ValueMaps != nil {
		c.ValueMaps = make(map[string]map[string]string, len(s.ValueMaps))
		for f, m := range s.ValueMaps {
			mm := make(map[string]string, len(m))
			for k, v := range m {
				mm[k] = v
			}
			c.ValueMaps[f] = mm
		}
	}
	return c
}
