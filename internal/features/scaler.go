package features

import (
	"encoding/json"
	"fmt"
	"os"

	"loan-risk/internal/loan"
)

// StandardScaler is the exported state of a pre-fitted standard scaler:
// x' = (x - Mean[i]) / Scale[i].
type StandardScaler struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
}

// LoadScaler reads a scaler artifact from a JSON file.
func LoadScaler(path string) (*StandardScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaler artifact: %w", err)
	}
	var sc StandardScaler
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scaler artifact: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scaler artifact %s: %w", path, err)
	}
	return &sc, nil
}

// Validate checks widths agree and no column has zero scale.
func (s *StandardScaler) Validate() error {
	if len(s.Features) == 0 {
		return fmt.Errorf("scaler declares no features")
	}
	if len(s.Mean) != len(s.Features) || len(s.Scale) != len(s.Features) {
		return fmt.Errorf("scaler has %d features, %d means, %d scales", len(s.Features), len(s.Mean), len(s.Scale))
	}
	for i, sc := range s.Scale {
		if sc == 0 {
			return fmt.Errorf("feature %q has zero scale", s.Features[i])
		}
	}
	return nil
}

// Transform scales one row. The row width must equal the fitted width.
func (s *StandardScaler) Transform(row []float64) ([]float64, error) {
	if len(row) != len(s.Features) {
		return nil, loan.NewValidationError("", "scaler expects %d columns, got %d", len(s.Features), len(row))
	}
	out := make([]float64, len(row))
	for i, x := range row {
		out[i] = (x - s.Mean[i]) / s.Scale[i]
	}
	return out, nil
}
