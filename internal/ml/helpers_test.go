package ml

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"loan-risk/internal/loan"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu         sync.Mutex
	inferences int
	failures   int
	timeouts   int
	latencySum float64
}

func (m *MockMetrics) InferenceInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferences++
}

func (m *MockMetrics) InferenceFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) InferenceTimeoutsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

func (m *MockMetrics) InferenceLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

// stubClassifier returns a fixed label or error.
type stubClassifier struct {
	label loan.Label
	err   error
	names []string
}

func (s *stubClassifier) Predict(ctx context.Context, f loan.Features) (loan.Label, error) {
	if s.err != nil {
		return 0, s.err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.label, nil
}

func (s *stubClassifier) Metadata() ModelMetadata {
	return ModelMetadata{Version: "stub", Kind: KindLinear, Features: s.names}
}

// twoFeatureModel is P(danger) = sigmoid(2*a - b).
func twoFeatureModel() *LogisticModel {
	m := &LogisticModel{
		Version:  "test-1",
		Features: []string{"a", "b"},
		Coef:     []float64{2, -1},
	}
	if err := m.check(); err != nil {
		panic(err)
	}
	return m
}

func vec(names []string, values ...float64) loan.Features {
	return loan.Features{Names: names, Vector: values}
}

func requireInvocationErr(t *testing.T, err error) *loan.ModelInvocationError {
	t.Helper()
	var mie *loan.ModelInvocationError
	if !errors.As(err, &mie) {
		t.Fatalf("Expected *ModelInvocationError, got %T: %v", err, err)
	}
	return mie
}

func writeArtifact(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal artifact: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}
