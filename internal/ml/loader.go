package ml

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"loan-risk/internal/features"

	"github.com/rs/zerolog/log"
)

// Artifact file names inside MODEL_DIR.
const (
	ModelFile    = "model.json"
	PipelineFile = "pipeline.json"
	ONNXFile     = "model.onnx"
)

// Options selects and configures a backend.
type Options struct {
	Dir        string
	Kind       Kind
	URL        string
	PythonPath string
	Timeout    time.Duration
}

// Load opens the artifact described by opts and checks that it consumes
// exactly what codec produces. A mismatch is a startup error.
func Load(ctx context.Context, opts Options, codec *features.Codec, metrics MetricsInterface) (*Engine, error) {
	var (
		clf Classifier
		err error
	)
	layout := codec.Schema().Layout

	switch opts.Kind {
	case KindLinear, "":
		clf, err = LoadLogistic(filepath.Join(opts.Dir, ModelFile))
	case KindPipeline:
		clf, err = LoadPipeline(filepath.Join(opts.Dir, PipelineFile))
	case KindONNX:
		clf, err = NewONNX(ONNXOptions{
			ModelPath:  filepath.Join(opts.Dir, ONNXFile),
			PythonPath: opts.PythonPath,
			Timeout:    opts.Timeout,
		})
	case KindRemote:
		clf, err = NewRemote(ctx, opts.URL, opts.Timeout)
	default:
		return nil, fmt.Errorf("unknown model kind %q", opts.Kind)
	}
	if err != nil {
		return nil, err
	}

	meta := clf.Metadata()
	served := meta.served()
	switch {
	case served == KindPipeline && layout != features.LayoutRecord:
		return nil, fmt.Errorf("pipeline artifact needs a record-layout schema, %s is %s", codec.Schema().Name, layout)
	case served != KindPipeline && layout != features.LayoutVector:
		return nil, fmt.Errorf("%s artifact needs a vector-layout schema, %s is %s", served, codec.Schema().Name, layout)
	case layout == features.LayoutRecord && meta.Vocabulary == nil:
		return nil, fmt.Errorf("%s artifact declares no categorical vocabulary for record-layout schema %s", meta.Kind, codec.Schema().Name)
	}
	if err := sameNames(meta.Features, codec.Names()); err != nil {
		return nil, fmt.Errorf("artifact %s does not match schema %s: %w", meta.Version, codec.Schema().Name, err)
	}

	log.Info().
		Str("kind", string(meta.Kind)).
		Str("version", meta.Version).
		Str("schema", codec.Schema().Name).
		Int("inputs", len(meta.Features)).
		Msg("Model loaded")

	return NewEngine(clf, metrics), nil
}

func sameNames(model, codec []string) error {
	if len(model) != len(codec) {
		return fmt.Errorf("model takes %d inputs %v, codec emits %d %v", len(model), model, len(codec), codec)
	}
	for i := range model {
		if model[i] != codec[i] {
			return fmt.Errorf("input %d: model expects %q, codec emits %q", i, model[i], codec[i])
		}
	}
	return nil
}
