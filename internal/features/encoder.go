package features

import (
	"encoding/json"
	"fmt"
	"os"

	"loan-risk/internal/loan"
)

// EncoderKind is the categorical encoding strategy of a fitted encoder.
type EncoderKind string

const (
	OneHot  EncoderKind = "onehot"
	Ordinal EncoderKind = "ordinal"
)

// CategoricalEncoder is the exported state of a pre-fitted categorical
// encoder. Categories[i] is the fitted vocabulary of Features[i], in the
// order the encoder assigned codes.
type CategoricalEncoder struct {
	Kind       EncoderKind `json:"kind"`
	Features   []string    `json:"features"`
	Categories [][]string  `json:"categories"`
}

// LoadEncoder reads an encoder artifact from a JSON file.
func LoadEncoder(path string) (*CategoricalEncoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoder artifact: %w", err)
	}
	var enc CategoricalEncoder
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("failed to parse encoder artifact: %w", err)
	}
	if err := enc.Validate(); err != nil {
		return nil, fmt.Errorf("encoder artifact %s: %w", path, err)
	}
	return &enc, nil
}

// Validate checks the artifact is internally consistent.
func (e *CategoricalEncoder) Validate() error {
	if e.Kind != OneHot && e.Kind != Ordinal {
		return fmt.Errorf("unsupported encoder kind %q", e.Kind)
	}
	if len(e.Features) != len(e.Categories) {
		return fmt.Errorf("%d features but %d category lists", len(e.Features), len(e.Categories))
	}
	for i, cats := range e.Categories {
		if len(cats) == 0 {
			return fmt.Errorf("feature %q has no categories", e.Features[i])
		}
	}
	return nil
}

// Width is the number of columns Transform emits.
func (e *CategoricalEncoder) Width() int {
	if e.Kind == Ordinal {
		return len(e.Features)
	}
	n := 0
	for _, cats := range e.Categories {
		n += len(cats)
	}
	return n
}

// Names returns the output column names in emission order.
func (e *CategoricalEncoder) Names() []string {
	if e.Kind == Ordinal {
		return append([]string(nil), e.Features...)
	}
	names := make([]string, 0, e.Width())
	for i, f := range e.Features {
		for _, c := range e.Categories[i] {
			names = append(names, f+"="+c)
		}
	}
	return names
}

// Contains reports whether value is in the fitted vocabulary of field.
func (e *CategoricalEncoder) Contains(field, value string) bool {
	return e.index(field, value) >= 0
}

func (e *CategoricalEncoder) index(field, value string) int {
	for i, f := range e.Features {
		if f != field {
			continue
		}
		for j, c := range e.Categories[i] {
			if c == value {
				return j
			}
		}
		return -1
	}
	return -1
}

// Transform encodes one row of categorical values given in Features order.
// A value outside the fitted vocabulary is a validation error.
func (e *CategoricalEncoder) Transform(values []string) ([]float64, error) {
	if len(values) != len(e.Features) {
		return nil, loan.NewValidationError("", "encoder expects %d categorical values, got %d", len(e.Features), len(values))
	}

	out := make([]float64, 0, e.Width())
	for i, v := range values {
		code := -1
		for j, c := range e.Categories[i] {
			if c == v {
				code = j
				break
			}
		}
		if code < 0 {
			return nil, loan.NewValidationError(e.Features[i], "value %q is not a known category", v)
		}

		if e.Kind == Ordinal {
			out = append(out, float64(code))
			continue
		}
		for j := range e.Categories[i] {
			if j == code {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out, nil
}
