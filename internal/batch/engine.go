package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"loan-risk/internal/loan"
	"loan-risk/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// Encoder turns a raw application into model input.
type Encoder interface {
	EncodeRaw(raw loan.RawApplication) (loan.Application, loan.Features, error)
}

// Predictor is the loaded model.
type Predictor interface {
	Predict(ctx context.Context, f loan.Features) (loan.Label, error)
}

// Config wires an Engine. Sink is optional; when set every scored
// application is appended to it in input order.
type Config struct {
	Codec   Encoder
	Model   Predictor
	Fields  []string
	Sink    storage.History
	Profile string
	Workers int
}

// Outcome is the result for one input row.
type Outcome struct {
	Line     int         `json:"line"`
	Key      string      `json:"key,omitempty"`
	Label    *loan.Label `json:"label,omitempty"`
	Outcome  string      `json:"outcome,omitempty"`
	Expected *loan.Label `json:"expected,omitempty"`
	RecordID string      `json:"record_id,omitempty"`
	ErrKind  string      `json:"error,omitempty"`
	Field    string      `json:"field,omitempty"`
	Message  string      `json:"message,omitempty"`

	app     loan.Application
	latency time.Duration
}

// Failed reports whether the row produced no usable label.
func (o Outcome) Failed() bool { return o.ErrKind != "" }

// Results holds the outcome of a batch run.
type Results struct {
	Outcomes       []Outcome      `json:"outcomes"`
	Total          int            `json:"total"`
	Scored         int            `json:"scored"`
	Failed         int            `json:"failed"`
	Safe           int            `json:"safe_count"`
	Danger         int            `json:"danger_count"`
	FailuresByKind map[string]int `json:"failures_by_kind"`
	Persisted      int            `json:"persisted"`

	// Only rows that carried an expected label count here.
	Labelled  int       `json:"labelled"`
	Agreed    int       `json:"agreed"`
	Accuracy  float64   `json:"accuracy"`
	Confusion [2][2]int `json:"confusion"` // [expected][predicted]

	MeanLatencyMs float64   `json:"mean_latency_ms"`
	P95LatencyMs  float64   `json:"p95_latency_ms"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

// Engine scores a loaded batch.
type Engine struct {
	codec   Encoder
	model   Predictor
	fields  map[string]bool
	sink    storage.History
	profile string
	workers int
}

// NewEngine creates a batch engine.
func NewEngine(c Config) (*Engine, error) {
	if c.Codec == nil || c.Model == nil {
		return nil, fmt.Errorf("batch: codec and model are required")
	}
	e := &Engine{
		codec:   c.Codec,
		model:   c.Model,
		sink:    c.Sink,
		profile: c.Profile,
		workers: c.Workers,
	}
	if e.workers <= 0 {
		e.workers = runtime.NumCPU()
	}
	if len(c.Fields) > 0 {
		e.fields = make(map[string]bool, len(c.Fields))
		for _, f := range c.Fields {
			e.fields[f] = true
		}
	}
	return e, nil
}

// Run scores every application in data. Rows fail independently; only a
// cancelled context aborts the run.
func (e *Engine) Run(ctx context.Context, data *Loader) (*Results, error) {
	res := &Results{StartTime: time.Now(), FailuresByKind: make(map[string]int)}

	var apps []Application
	for data.HasNext() {
		apps = append(apps, data.Next())
	}
	res.Outcomes = make([]Outcome, len(apps))

	log.Info().
		Int("applications", len(apps)).
		Int("workers", e.workers).
		Bool("persist", e.sink != nil).
		Msg("Starting batch scoring")

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res.Outcomes[i] = e.score(ctx, apps[i])
			}
		}()
	}

dispatch:
	for i := range apps {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e.sink != nil {
		e.persist(ctx, res.Outcomes)
	}

	e.summarise(res)
	res.EndTime = time.Now()

	log.Info().
		Int("scored", res.Scored).
		Int("failed", res.Failed).
		Int("persisted", res.Persisted).
		Dur("elapsed", res.EndTime.Sub(res.StartTime)).
		Msg("Batch scoring finished")
	return res, nil
}

func (e *Engine) score(ctx context.Context, a Application) Outcome {
	out := Outcome{Line: a.Line, Key: a.Key, Expected: a.Expected}

	raw := a.Raw
	if e.fields != nil {
		raw = make(loan.RawApplication, len(e.fields))
		for k, v := range a.Raw {
			if e.fields[k] {
				raw[k] = v
			}
		}
	}

	start := time.Now()
	app, f, err := e.codec.EncodeRaw(raw)
	if err != nil {
		return out.fail(err)
	}
	label, err := e.model.Predict(ctx, f)
	out.latency = time.Since(start)
	if err != nil {
		return out.fail(err)
	}

	out.Label = &label
	out.Outcome = label.Outcome()
	out.app = app
	return out
}

// persist appends scored rows in input order. A row whose append fails is
// reported as a storage failure, since its prediction was not recorded.
func (e *Engine) persist(ctx context.Context, outcomes []Outcome) {
	for i := range outcomes {
		o := &outcomes[i]
		if o.Failed() {
			continue
		}
		rec := loan.PredictionRecord{
			ID:          uuid.NewString(),
			CreatedAt:   time.Now().UTC(),
			Profile:     e.profile,
			Numeric:     o.app.Numeric,
			Categorical: o.app.Categorical,
			Label:       *o.Label,
		}
		if err := e.sink.Append(ctx, rec); err != nil {
			log.Error().Err(err).Int("line", o.Line).Msg("Failed to record prediction")
			*o = o.fail(err)
			continue
		}
		o.RecordID = rec.ID
	}
}

func (e *Engine) summarise(res *Results) {
	var latencies []float64
	for _, o := range res.Outcomes {
		res.Total++
		if o.Failed() {
			res.Failed++
			res.FailuresByKind[o.ErrKind]++
			continue
		}
		res.Scored++
		if o.RecordID != "" {
			res.Persisted++
		}
		latencies = append(latencies, float64(o.latency)/float64(time.Millisecond))
		if *o.Label == loan.LabelSafe {
			res.Safe++
		} else {
			res.Danger++
		}
		if o.Expected != nil {
			res.Labelled++
			res.Confusion[*o.Expected][*o.Label]++
			if *o.Expected == *o.Label {
				res.Agreed++
			}
		}
	}

	if res.Labelled > 0 {
		res.Accuracy = float64(res.Agreed) / float64(res.Labelled)
	}
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		res.MeanLatencyMs = stat.Mean(latencies, nil)
		res.P95LatencyMs = stat.Quantile(0.95, stat.Empirical, latencies, nil)
	}
}

func (o Outcome) fail(err error) Outcome {
	out := Outcome{Line: o.Line, Key: o.Key, Expected: o.Expected, ErrKind: loan.Kind(err)}
	var ve *loan.ValidationError
	if errors.As(err, &ve) {
		out.Field = ve.Field
		out.Message = ve.Reason
	} else {
		out.Message = err.Error()
	}
	return out
}
