package ml

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"loan-risk/internal/loan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogisticModel_Predict(t *testing.T) {
	m := twoFeatureModel()
	names := []string{"a", "b"}

	testCases := []struct {
		name string
		a, b float64
		want loan.Label
	}{
		{"strongly positive", 3, 0, loan.LabelDanger},
		{"strongly negative", 0, 3, loan.LabelSafe},
		{"boundary counts as danger", 1, 2, loan.LabelDanger},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.Predict(context.Background(), vec(names, tc.a, tc.b))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLogisticModel_Score(t *testing.T) {
	m := twoFeatureModel()
	p, err := m.Score(context.Background(), vec([]string{"a", "b"}, 1, 1))
	require.NoError(t, err)
	assert.InDelta(t, 1/(1+math.Exp(-1)), p, 1e-12)
}

func TestLogisticModel_RejectsWrongShape(t *testing.T) {
	m := twoFeatureModel()
	ctx := context.Background()

	testCases := []struct {
		name string
		f    loan.Features
	}{
		{"too short", vec([]string{"a"}, 1)},
		{"wrong names", vec([]string{"b", "a"}, 1, 2)},
		{"names without values", loan.Features{Names: []string{"a", "b"}, Vector: []float64{1}}},
		{"typed record", loan.Features{Names: []string{"a", "b"}, Record: []loan.Field{{Name: "a"}, {Name: "b"}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Predict(ctx, tc.f)
			requireInvocationErr(t, err)
		})
	}
}

func TestLoadLogistic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ModelFile)
	writeArtifact(t, path, map[string]any{
		"version":  "v1",
		"features": []string{"a", "b"},
		"coef":     []float64{0.1, 0.2},
	})

	m, err := LoadLogistic(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.Threshold)
	assert.Equal(t, KindLinear, m.Metadata().Kind)
	assert.Equal(t, []string{"a", "b"}, m.Metadata().Features)

	writeArtifact(t, path, map[string]any{
		"version":  "v1",
		"features": []string{"a", "b"},
		"coef":     []float64{0.1},
	})
	_, err = LoadLogistic(path)
	assert.Error(t, err)

	writeArtifact(t, path, map[string]any{
		"features":  []string{"a"},
		"coef":      []float64{0.1},
		"threshold": 1.5,
	})
	_, err = LoadLogistic(path)
	assert.Error(t, err)

	_, err = LoadLogistic(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
