package ml

import (
	"context"
	"errors"
	"math"
	"time"

	"loan-risk/internal/features"
	"loan-risk/internal/loan"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines the metrics methods needed by the engine
type MetricsInterface interface {
	InferenceInc()
	InferenceFailuresInc()
	InferenceTimeoutsInc()
	InferenceLatencyObserve(float64)
}

type noopMetrics struct{}

func (noopMetrics) InferenceInc()                   {}
func (noopMetrics) InferenceFailuresInc()           {}
func (noopMetrics) InferenceTimeoutsInc()           {}
func (noopMetrics) InferenceLatencyObserve(float64) {}

// Engine is the loaded model. It is created once at startup and shared
// read-only by every request.
type Engine struct {
	clf     Classifier
	meta    ModelMetadata
	metrics MetricsInterface
}

// NewEngine wraps a classifier. A nil metrics sink is allowed.
func NewEngine(clf Classifier, metrics MetricsInterface) *Engine {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Engine{
		clf:     clf,
		meta:    clf.Metadata(),
		metrics: metrics,
	}
}

// Metadata describes the loaded artifact.
func (e *Engine) Metadata() ModelMetadata {
	m := e.meta
	m.Features = append([]string(nil), e.meta.Features...)
	return m
}

// Vocabulary returns the categorical encoder of artifacts that encode
// categorical fields themselves, local or behind a model server, or nil for
// backends that take an already encoded vector.
func (e *Engine) Vocabulary() *features.CategoricalEncoder {
	return e.meta.Vocabulary
}

// Predict runs the artifact on f. Any shape mismatch, non-finite input,
// backend failure or label outside {0,1} is a *loan.ModelInvocationError.
func (e *Engine) Predict(ctx context.Context, f loan.Features) (loan.Label, error) {
	start := time.Now()
	e.metrics.InferenceInc()

	label, err := e.predict(ctx, f)
	e.metrics.InferenceLatencyObserve(time.Since(start).Seconds())
	if err != nil {
		e.metrics.InferenceFailuresInc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.metrics.InferenceTimeoutsInc()
		}
		log.Warn().Err(err).Str("model_version", e.meta.Version).Msg("inference failed")
		return 0, err
	}
	return label, nil
}

func (e *Engine) predict(ctx context.Context, f loan.Features) (loan.Label, error) {
	if want := len(e.meta.Features); f.Width() != want {
		return 0, invocationErr("model expects %d inputs, got %d", want, f.Width())
	}
	for i, v := range f.Vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, invocationErr("input %d is not finite", i)
		}
	}

	label, err := e.clf.Predict(ctx, f)
	if err != nil {
		var mie *loan.ModelInvocationError
		if errors.As(err, &mie) {
			return 0, err
		}
		return 0, &loan.ModelInvocationError{Reason: "classifier failed", Err: err}
	}
	if !label.Valid() {
		return 0, invocationErr("model produced label %d outside {0,1}", label)
	}
	return label, nil
}
