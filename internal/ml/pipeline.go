package ml

import (
	"context"
	"fmt"
	"time"

	"loan-risk/internal/features"
	"loan-risk/internal/loan"
)

// PipelineModel is a single combined artifact: its own categorical encoder,
// numeric scaler and logistic head. It consumes a schema-typed record.
type PipelineModel struct {
	Version   string                       `json:"version"`
	TrainedAt time.Time                    `json:"trained_at,omitempty"`
	Features  []string                     `json:"features"`
	Numeric   []string                     `json:"numeric"`
	Encoder   *features.CategoricalEncoder `json:"encoder"`
	Scaler    *features.StandardScaler     `json:"scaler"`
	Coef      []float64                    `json:"coef"`
	Intercept float64                      `json:"intercept"`
	Threshold float64                      `json:"threshold"`

	head *LogisticModel
}

// LoadPipeline reads a pipeline artifact from path.
func LoadPipeline(path string) (*PipelineModel, error) {
	var p PipelineModel
	if err := readJSON(path, &p); err != nil {
		return nil, err
	}
	if err := p.init(); err != nil {
		return nil, fmt.Errorf("pipeline artifact %s: %w", path, err)
	}
	return &p, nil
}

func (p *PipelineModel) init() error {
	if p.Encoder == nil || p.Scaler == nil {
		return fmt.Errorf("pipeline must embed an encoder and a scaler")
	}
	if err := p.Encoder.Validate(); err != nil {
		return err
	}
	if err := p.Scaler.Validate(); err != nil {
		return err
	}
	if len(p.Scaler.Features) != len(p.Numeric) {
		return fmt.Errorf("scaler covers %d columns, pipeline declares %d numeric", len(p.Scaler.Features), len(p.Numeric))
	}
	if len(p.Numeric)+len(p.Encoder.Features) != len(p.Features) {
		return fmt.Errorf("features %v do not split into numeric %v and categorical %v", p.Features, p.Numeric, p.Encoder.Features)
	}

	headNames := append(append([]string(nil), p.Numeric...), p.Encoder.Names()...)
	p.head = &LogisticModel{
		Version:   p.Version,
		Features:  headNames,
		Coef:      p.Coef,
		Intercept: p.Intercept,
		Threshold: p.Threshold,
	}
	return p.head.check()
}

// Vocabulary exposes the embedded encoder so the codec can reject unknown
// categories before they reach the pipeline.
func (p *PipelineModel) Vocabulary() *features.CategoricalEncoder {
	return p.Encoder
}

func (p *PipelineModel) Metadata() ModelMetadata {
	return ModelMetadata{
		Version:    p.Version,
		Kind:       KindPipeline,
		Features:   append([]string(nil), p.Features...),
		TrainedAt:  p.TrainedAt,
		Vocabulary: p.Encoder,
	}
}

func (p *PipelineModel) Score(ctx context.Context, f loan.Features) (float64, error) {
	if !f.IsRecord() {
		return 0, invocationErr("pipeline takes a typed record, got a bare vector")
	}
	if err := checkNames(f.Names, p.Features); err != nil {
		return 0, err
	}

	byName := make(map[string]loan.Field, len(f.Record))
	for _, fld := range f.Record {
		byName[fld.Name] = fld
	}

	nums := make([]float64, len(p.Numeric))
	for i, name := range p.Numeric {
		fld, ok := byName[name]
		if !ok || fld.Kind != loan.KindNumeric {
			return 0, invocationErr("field %q must be numeric", name)
		}
		nums[i] = fld.Num
	}
	cats := make([]string, len(p.Encoder.Features))
	for i, name := range p.Encoder.Features {
		fld, ok := byName[name]
		if !ok || fld.Kind != loan.KindCategorical {
			return 0, invocationErr("field %q must be categorical", name)
		}
		cats[i] = fld.Str
	}

	scaled, err := p.Scaler.Transform(nums)
	if err != nil {
		return 0, &loan.ModelInvocationError{Reason: "pipeline scaler rejected input", Err: err}
	}
	encoded, err := p.Encoder.Transform(cats)
	if err != nil {
		return 0, &loan.ModelInvocationError{Reason: "pipeline encoder rejected input", Err: err}
	}

	x := append(scaled, encoded...)
	return p.head.Score(ctx, loan.Features{Names: p.head.Features, Vector: x})
}

func (p *PipelineModel) Predict(ctx context.Context, f loan.Features) (loan.Label, error) {
	s, err := p.Score(ctx, f)
	if err != nil {
		return 0, err
	}
	return p.head.decide(s), nil
}
