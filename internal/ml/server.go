package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"loan-risk/internal/loan"

	"github.com/rs/zerolog/log"
)

// ModelServer exposes a loaded Classifier over HTTP so that several scoring
// frontends can share one artifact through RemoteClassifier.
type ModelServer struct {
	clf     Classifier
	timeout time.Duration
	server  *http.Server
}

// WireField is the JSON form of loan.Field.
type WireField struct {
	Name string         `json:"name"`
	Kind loan.FieldKind `json:"kind"`
	Num  float64        `json:"num,omitempty"`
	Str  string         `json:"str,omitempty"`
}

// PredictionRequest carries one canonical model input.
type PredictionRequest struct {
	RequestID string      `json:"request_id,omitempty"`
	Names     []string    `json:"names"`
	Vector    []float64   `json:"vector,omitempty"`
	Record    []WireField `json:"record,omitempty"`
}

// PredictionResponse is the model server's answer.
type PredictionResponse struct {
	Label        int       `json:"label"`
	Score        *float64  `json:"score,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	ModelVersion string    `json:"model_version"`
	Latency      float64   `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

type serverError struct {
	Error string `json:"error"`
}

// NewModelServer wraps clf in an HTTP server listening on port.
func NewModelServer(clf Classifier, port int, timeout time.Duration) *ModelServer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ms := &ModelServer{clf: clf, timeout: timeout}

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      ms.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

// Handler returns the server's routes.
func (ms *ModelServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/predict", ms.handlePredict)
	mux.HandleFunc("/health", ms.handleHealth)
	mux.HandleFunc("/model/info", ms.handleModelInfo)
	return mux
}

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, serverError{Error: "method not allowed"})
		return
	}

	start := time.Now()

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, serverError{Error: "invalid request body"})
		return
	}
	if len(req.Names) == 0 {
		writeJSON(w, http.StatusBadRequest, serverError{Error: "names cannot be empty"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ms.timeout)
	defer cancel()

	f := req.features()
	label, err := ms.clf.Predict(ctx, f)
	if err != nil {
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("prediction failed")
		var mie *loan.ModelInvocationError
		if errors.As(err, &mie) {
			writeJSON(w, http.StatusUnprocessableEntity, serverError{Error: mie.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, serverError{Error: "prediction failed"})
		return
	}

	resp := PredictionResponse{
		Label:        int(label),
		RequestID:    req.RequestID,
		ModelVersion: ms.clf.Metadata().Version,
		Latency:      float64(time.Since(start).Milliseconds()),
		Timestamp:    time.Now(),
	}
	if sc, ok := ms.clf.(Scorer); ok {
		if p, err := sc.Score(ctx, f); err == nil {
			resp.Score = &p
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	meta := ms.clf.Metadata()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": meta.Version,
		"kind":    meta.Kind,
	})
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ms.clf.Metadata())
}

func (req PredictionRequest) features() loan.Features {
	f := loan.Features{Names: req.Names, Vector: req.Vector}
	if req.Record != nil {
		f.Vector = nil
		f.Record = make([]loan.Field, len(req.Record))
		for i, wf := range req.Record {
			f.Record[i] = loan.Field{Name: wf.Name, Kind: wf.Kind, Num: wf.Num, Str: wf.Str}
		}
	}
	return f
}

func newPredictionRequest(id string, f loan.Features) PredictionRequest {
	req := PredictionRequest{RequestID: id, Names: f.Names, Vector: f.Vector}
	if f.IsRecord() {
		req.Vector = nil
		req.Record = make([]WireField, len(f.Record))
		for i, fld := range f.Record {
			req.Record[i] = WireField{Name: fld.Name, Kind: fld.Kind, Num: fld.Num, Str: fld.Str}
		}
	}
	return req
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
