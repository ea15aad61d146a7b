package ml

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"loan-risk/internal/features"
	"loan-risk/internal/loan"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RemoteClassifier forwards predictions to a ModelServer.
type RemoteClassifier struct {
	base string
	rest *resty.Client
	meta ModelMetadata
}

// NewRemote connects to the model server at base and fetches its metadata.
// An unreachable server is a startup error.
func NewRemote(ctx context.Context, base string, timeout time.Duration) (*RemoteClassifier, error) {
	if base == "" {
		return nil, fmt.Errorf("remote model url is empty")
	}
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	c := &RemoteClassifier{base: strings.TrimRight(base, "/"), rest: r}

	var meta ModelMetadata
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&meta).
		Get(c.base + "/model/info")
	if err != nil {
		return nil, fmt.Errorf("model server unreachable: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("model server info: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	if len(meta.Features) == 0 {
		return nil, fmt.Errorf("model server declares no features")
	}
	backend := meta.served()
	if backend == "" || backend == KindRemote {
		return nil, fmt.Errorf("model server does not report the kind it serves")
	}
	if meta.Vocabulary != nil {
		if err := meta.Vocabulary.Validate(); err != nil {
			return nil, fmt.Errorf("model server vocabulary: %w", err)
		}
	}
	meta.Kind, meta.Backend = KindRemote, backend
	c.meta = meta

	log.Info().
		Str("url", c.base).
		Str("version", meta.Version).
		Str("backend", string(backend)).
		Int("features", len(meta.Features)).
		Msg("Remote model connected")
	return c, nil
}

func (c *RemoteClassifier) Metadata() ModelMetadata {
	m := c.meta
	m.Features = append([]string(nil), c.meta.Features...)
	return m
}

// Vocabulary returns the categorical encoder the server evaluates with, or
// nil when it takes an already encoded vector.
func (c *RemoteClassifier) Vocabulary() *features.CategoricalEncoder {
	return c.meta.Vocabulary
}

func (c *RemoteClassifier) Predict(ctx context.Context, f loan.Features) (loan.Label, error) {
	if err := checkNames(f.Names, c.meta.Features); err != nil {
		return 0, err
	}

	var (
		out    PredictionResponse
		errOut serverError
	)
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(newPredictionRequest(uuid.NewString(), f)).
		SetResult(&out).
		SetError(&errOut).
		Post(c.base + "/predict")
	if err != nil {
		return 0, &loan.ModelInvocationError{Reason: "model server request failed", Err: err}
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return loan.Label(out.Label), nil
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return 0, invocationErr("model server rejected input: %s", errOut.Error)
	default:
		return 0, invocationErr("model server returned status %d", resp.StatusCode())
	}
}
