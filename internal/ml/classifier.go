// Package ml provides the inference engine for the scoring service.
// It wraps an opaque pre-fitted classifier artifact behind the Classifier
// interface and exposes a single Engine that is loaded once at startup and
// shared read-only by every request.
//
// Supported artifact kinds are native logistic models (linear), combined
// encoder+scaler+model pipelines (pipeline), ONNX models run through a
// Python onnxruntime subprocess (onnx) and a remote model server (remote).
package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"loan-risk/internal/features"
	"loan-risk/internal/loan"
)

// Kind identifies a classifier backend.
type Kind string

const (
	KindLinear   Kind = "linear"
	KindPipeline Kind = "pipeline"
	KindONNX     Kind = "onnx"
	KindRemote   Kind = "remote"
)

// ModelMetadata describes a loaded artifact. Backend is the kind actually
// evaluating the model behind a remote classifier. Vocabulary is set for
// artifacts that encode categorical fields themselves.
type ModelMetadata struct {
	Version    string                       `json:"version"`
	Kind       Kind                         `json:"kind"`
	Backend    Kind                         `json:"backend,omitempty"`
	Features   []string                     `json:"features"`
	TrainedAt  time.Time                    `json:"trained_at,omitempty"`
	Vocabulary *features.CategoricalEncoder `json:"vocabulary,omitempty"`
}

// served is the kind that determines the input layout.
func (m ModelMetadata) served() Kind {
	if m.Kind == KindRemote {
		return m.Backend
	}
	return m.Kind
}

// Classifier is the contract every backend fulfils. Implementations must be
// safe for concurrent use and must not mutate state per call.
type Classifier interface {
	// Predict returns the raw class for one canonical input.
	Predict(ctx context.Context, f loan.Features) (loan.Label, error)

	// Metadata describes the artifact, including the exact input names.
	Metadata() ModelMetadata
}

// Scorer is implemented by classifiers that expose the positive-class
// probability alongside the label.
type Scorer interface {
	Score(ctx context.Context, f loan.Features) (float64, error)
}

func invocationErr(format string, args ...any) *loan.ModelInvocationError {
	return &loan.ModelInvocationError{Reason: fmt.Sprintf(format, args...)}
}

func checkNames(got, want []string) error {
	if len(got) != len(want) {
		return invocationErr("model expects %d inputs, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			return invocationErr("input %d is %q, model expects %q", i, got[i], want[i])
		}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	return nil
}
