package ml

import (
	"context"
	"fmt"
	"math"
	"time"

	"loan-risk/internal/loan"

	"gonum.org/v1/gonum/floats"
)

// LogisticModel is an exported logistic-regression classifier over a bare
// numeric vector.
type LogisticModel struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at,omitempty"`
	Features  []string  `json:"features"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	Threshold float64   `json:"threshold"`
}

// LoadLogistic reads a logistic artifact from path.
func LoadLogistic(path string) (*LogisticModel, error) {
	var m LogisticModel
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	if err := m.check(); err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", path, err)
	}
	return &m, nil
}

func (m *LogisticModel) check() error {
	if len(m.Features) == 0 {
		return fmt.Errorf("model declares no features")
	}
	if len(m.Coef) != len(m.Features) {
		return fmt.Errorf("%d coefficients for %d features", len(m.Coef), len(m.Features))
	}
	if m.Threshold == 0 {
		m.Threshold = 0.5
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		return fmt.Errorf("threshold %f outside (0,1)", m.Threshold)
	}
	return nil
}

func (m *LogisticModel) Metadata() ModelMetadata {
	return ModelMetadata{
		Version:   m.Version,
		Kind:      KindLinear,
		Features:  append([]string(nil), m.Features...),
		TrainedAt: m.TrainedAt,
	}
}

// Score returns P(label=1).
func (m *LogisticModel) Score(_ context.Context, f loan.Features) (float64, error) {
	if f.IsRecord() {
		return 0, invocationErr("linear model takes a numeric vector, got a typed record")
	}
	if err := checkNames(f.Names, m.Features); err != nil {
		return 0, err
	}
	if len(f.Vector) != len(m.Coef) {
		return 0, invocationErr("model expects %d values, got %d", len(m.Coef), len(f.Vector))
	}
	return m.probability(f.Vector), nil
}

func (m *LogisticModel) Predict(ctx context.Context, f loan.Features) (loan.Label, error) {
	p, err := m.Score(ctx, f)
	if err != nil {
		return 0, err
	}
	return m.decide(p), nil
}

func (m *LogisticModel) probability(x []float64) float64 {
	z := floats.Dot(m.Coef, x) + m.Intercept
	return 1.0 / (1.0 + math.Exp(-z))
}

func (m *LogisticModel) decide(p float64) loan.Label {
	if p >= m.Threshold {
		return loan.LabelDanger
	}
	return loan.LabelSafe
}
