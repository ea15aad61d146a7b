// Package scoring implements the two request handlers of the service:
// scoring one application and reading the dashboard. Both pass the access
// gate first; a score is reported only after its record is durably stored.
package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loan-risk/internal/auth"
	"loan-risk/internal/dashboard"
	"loan-risk/internal/loan"
	"loan-risk/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Encoder turns a raw application into model input.
type Encoder interface {
	EncodeRaw(raw loan.RawApplication) (loan.Application, loan.Features, error)
}

// Predictor is the loaded model.
type Predictor interface {
	Predict(ctx context.Context, f loan.Features) (loan.Label, error)
}

// Publisher receives live dashboard updates. Clients reports how many
// subscribers are connected; no snapshot is taken while it is zero.
type Publisher interface {
	Publish(u dashboard.Update)
	Clients() int
}

// MetricsInterface defines the metrics methods needed by the service
type MetricsInterface interface {
	ScoreRequestsInc()
	ScoreFailuresInc(kind string)
	PredictionsInc(outcome string)
	DashboardRequestsInc()
	DashboardFailuresInc(kind string)
	StoreAppendObserve(float64)
	HistorySizeSet(float64)
}

type noopMetrics struct{}

func (noopMetrics) ScoreRequestsInc()           {}
func (noopMetrics) ScoreFailuresInc(string)     {}
func (noopMetrics) PredictionsInc(string)       {}
func (noopMetrics) DashboardRequestsInc()       {}
func (noopMetrics) DashboardFailuresInc(string) {}
func (noopMetrics) StoreAppendObserve(float64)  {}
func (noopMetrics) HistorySizeSet(float64)      {}

// ScoreResult is returned for a persisted prediction.
type ScoreResult struct {
	Label    loan.Label `json:"label"`
	Outcome  string     `json:"outcome"`
	RecordID string     `json:"record_id"`
}

// DashboardView is one consistent snapshot of the history and its counts.
type DashboardView struct {
	Columns []string                `json:"columns"`
	Records []loan.PredictionRecord `json:"records"`
	Safe    int                     `json:"safe_count"`
	Danger  int                     `json:"danger_count"`
	Total   int                     `json:"total_count"`
}

// Summary returns the view's counts.
func (v DashboardView) Summary() loan.Summary {
	return loan.Summary{Safe: v.Safe, Danger: v.Danger, Total: v.Total}
}

// Config wires a Service. Publisher and Metrics are optional.
type Config struct {
	Gate      auth.Gate
	Codec     Encoder
	Model     Predictor
	History   storage.History
	Profile   string
	Columns   []string
	Publisher Publisher
	Metrics   MetricsInterface
}

// Service holds the shared, read-only components every request uses.
type Service struct {
	gate      auth.Gate
	codec     Encoder
	model     Predictor
	history   storage.History
	profile   string
	columns   []string
	publisher Publisher
	metrics   MetricsInterface

	now   func() time.Time
	newID func() string

	// A burst of appends collapses into one pending update; a single
	// goroutine turns it into one scan and one Publish.
	latestMu  sync.Mutex
	latest    *loan.PredictionRecord
	dirty     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewService(c Config) (*Service, error) {
	switch {
	case c.Gate == nil:
		return nil, fmt.Errorf("scoring: no access gate")
	case c.Codec == nil:
		return nil, fmt.Errorf("scoring: no feature codec")
	case c.Model == nil:
		return nil, fmt.Errorf("scoring: no model")
	case c.History == nil:
		return nil, fmt.Errorf("scoring: no history store")
	}
	m := c.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	s := &Service{
		gate:      c.Gate,
		codec:     c.Codec,
		model:     c.Model,
		history:   c.History,
		profile:   c.Profile,
		columns:   append([]string(nil), c.Columns...),
		publisher: c.Publisher,
		metrics:   m,
		now:       time.Now,
		newID:     uuid.NewString,
		dirty:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if s.publisher != nil {
		s.wg.Add(1)
		go s.publishLoop()
	}
	return s, nil
}

// Close stops live updates. Requests may still be served afterwards.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

// HandleScoreRequest authorises the caller, encodes raw, runs the model and
// appends the record. The result is returned only once the append has
// succeeded; any failure leaves the history untouched.
func (s *Service) HandleScoreRequest(ctx context.Context, raw loan.RawApplication, session string) (ScoreResult, error) {
	s.metrics.ScoreRequestsInc()

	if !s.gate.Authorized(ctx, session) {
		return ScoreResult{}, s.fail("score", loan.ErrUnauthorized)
	}

	app, f, err := s.codec.EncodeRaw(raw)
	if err != nil {
		return ScoreResult{}, s.fail("score", err)
	}

	label, err := s.model.Predict(ctx, f)
	if err != nil {
		return ScoreResult{}, s.fail("score", err)
	}

	rec := loan.PredictionRecord{
		ID:          s.newID(),
		CreatedAt:   s.now().UTC(),
		Profile:     s.profile,
		Numeric:     app.Numeric,
		Categorical: app.Categorical,
		Label:       label,
	}

	start := time.Now()
	err = s.history.Append(ctx, rec)
	s.metrics.StoreAppendObserve(time.Since(start).Seconds())
	if err != nil {
		return ScoreResult{}, s.fail("score", err)
	}

	s.metrics.PredictionsInc(label.Outcome())
	log.Info().
		Str("record_id", rec.ID).
		Int("label", int(label)).
		Str("outcome", label.Outcome()).
		Msg("Application scored")

	s.markDirty(rec)

	return ScoreResult{Label: label, Outcome: label.Outcome(), RecordID: rec.ID}, nil
}

// HandleDashboardRequest authorises the caller and returns every record
// with counts computed from the same snapshot.
func (s *Service) HandleDashboardRequest(ctx context.Context, session string) (DashboardView, error) {
	s.metrics.DashboardRequestsInc()

	if !s.gate.Authorized(ctx, session) {
		return DashboardView{}, s.fail("dashboard", loan.ErrUnauthorized)
	}

	records, err := s.history.ScanAll(ctx)
	if err != nil {
		return DashboardView{}, s.fail("dashboard", err)
	}
	if records == nil {
		records = []loan.PredictionRecord{}
	}
	s.metrics.HistorySizeSet(float64(len(records)))

	sum := dashboard.Summarize(records)
	return DashboardView{
		Columns: append([]string(nil), s.columns...),
		Records: records,
		Safe:    sum.Safe,
		Danger:  sum.Danger,
		Total:   sum.Total,
	}, nil
}

// Snapshot summarises the current history without a gate check. It backs
// the live feed, whose endpoint is gated by the caller.
func (s *Service) Snapshot(ctx context.Context) (loan.Summary, error) {
	records, err := s.history.ScanAll(ctx)
	if err != nil {
		return loan.Summary{}, err
	}
	s.metrics.HistorySizeSet(float64(len(records)))
	return dashboard.Summarize(records), nil
}

// markDirty records rec as the newest append and wakes the publisher.
// Nothing happens while no live client is connected.
func (s *Service) markDirty(rec loan.PredictionRecord) {
	if s.publisher == nil || s.publisher.Clients() == 0 {
		return
	}
	s.latestMu.Lock()
	s.latest = &rec
	s.latestMu.Unlock()

	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Service) publishLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.dirty:
			s.publish()
		}
	}
}

// publish scans once for every pending batch. The scan starts after the
// newest append returned, so the summary always includes it.
func (s *Service) publish() {
	s.latestMu.Lock()
	rec := s.latest
	s.latest = nil
	s.latestMu.Unlock()
	if rec == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sum, err := s.Snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Skipping dashboard update")
		return
	}
	s.publisher.Publish(dashboard.Update{Summary: sum, Latest: rec, Timestamp: s.now()})
}

func (s *Service) fail(op string, err error) error {
	kind := loan.Kind(err)
	if op == "dashboard" {
		s.metrics.DashboardFailuresInc(kind)
	} else {
		s.metrics.ScoreFailuresInc(kind)
	}

	ev := log.Warn()
	if kind == "storage" || kind == "internal" {
		ev = log.Error()
	}
	ev.Err(err).Str("op", op).Str("kind", kind).Msg("Request failed")
	return err
}
