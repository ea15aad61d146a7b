package metrics

// MetricsWrapper adapts Metrics to the narrow interfaces the ml and scoring
// packages declare, so neither imports Prometheus.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) InferenceInc() {
	w.m.Inferences.Inc()
}

func (w *MetricsWrapper) InferenceFailuresInc() {
	w.m.InferenceFailures.Inc()
}

func (w *MetricsWrapper) InferenceTimeoutsInc() {
	w.m.InferenceTimeouts.Inc()
}

func (w *MetricsWrapper) InferenceLatencyObserve(v float64) {
	w.m.InferenceLatency.Observe(v)
}

func (w *MetricsWrapper) ScoreRequestsInc() {
	w.m.ScoreRequests.Inc()
}

func (w *MetricsWrapper) ScoreFailuresInc(kind string) {
	w.m.ScoreFailures.WithLabelValues(kind).Inc()
}

func (w *MetricsWrapper) PredictionsInc(outcome string) {
	w.m.Predictions.WithLabelValues(outcome).Inc()
}

func (w *MetricsWrapper) DashboardRequestsInc() {
	w.m.DashboardRequests.Inc()
}

func (w *MetricsWrapper) DashboardFailuresInc(kind string) {
	w.m.DashboardFailures.WithLabelValues(kind).Inc()
}

func (w *MetricsWrapper) StoreAppendObserve(v float64) {
	w.m.StoreAppendLatency.Observe(v)
}

func (w *MetricsWrapper) HistorySizeSet(v float64) {
	w.m.HistorySize.Set(v)
}

func (w *MetricsWrapper) LoginInc(result string) {
	w.m.Logins.WithLabelValues(result).Inc()
}

func (w *MetricsWrapper) DashboardClientsSet(v float64) {
	w.m.DashboardClients.Set(v)
}
