package ml

import (
	"context"
	"path/filepath"
	"testing"

	"loan-risk/internal/features"
	"loan-risk/internal/loan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classicCodec(t *testing.T) *features.Codec {
	t.Helper()
	s, err := features.Profile("classic")
	require.NoError(t, err)
	enc := &features.CategoricalEncoder{
		Kind:       features.OneHot,
		Features:   []string{"gender", "married", "education", "self_employed"},
		Categories: [][]string{{"Female", "Male"}, {"No", "Yes"}, {"Graduate", "Not Graduate"}, {"No", "Yes"}},
	}
	sc := &features.StandardScaler{
		Features: []string{"credit_history", "applicant_income", "loan_amount"},
		Mean:     []float64{0.5, 5000, 150},
		Scale:    []float64{0.5, 2500, 50},
	}
	c, err := features.NewCodec(s, enc, sc)
	require.NoError(t, err)
	return c
}

func pipelineCodec(t *testing.T) *features.Codec {
	t.Helper()
	s, err := features.Profile("pipeline")
	require.NoError(t, err)
	c, err := features.NewCodec(s, nil, nil)
	require.NoError(t, err)
	return c
}

func TestLoad_LinearMatchesCodec(t *testing.T) {
	codec := classicCodec(t)
	dir := t.TempDir()
	writeArtifact(t, filepath.Join(dir, ModelFile), map[string]any{
		"version":  "classic-1",
		"features": codec.Names(),
		"coef":     make([]float64, codec.Width()),
	})

	e, err := Load(context.Background(), Options{Dir: dir, Kind: KindLinear}, codec, nil)
	require.NoError(t, err)
	assert.Equal(t, "classic-1", e.Metadata().Version)

	_, f, err := codec.EncodeRaw(loan.RawApplication{
		"gender": "Male", "married": "Yes", "education": "Graduate", "self_employed": "No",
		"credit_history": 1, "applicant_income": 5000, "loan_amount": 120,
	})
	require.NoError(t, err)
	label, err := e.Predict(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, loan.LabelDanger, label, "zero weights give p=0.5")
}

func TestLoad_RejectsMismatchedArtifact(t *testing.T) {
	codec := classicCodec(t)
	dir := t.TempDir()

	names := codec.Names()
	names[0], names[1] = names[1], names[0]
	writeArtifact(t, filepath.Join(dir, ModelFile), map[string]any{
		"version":  "classic-1",
		"features": names,
		"coef":     make([]float64, len(names)),
	})
	_, err := Load(context.Background(), Options{Dir: dir, Kind: KindLinear}, codec, nil)
	assert.Error(t, err)

	writeArtifact(t, filepath.Join(dir, ModelFile), map[string]any{
		"version":  "classic-1",
		"features": names[:5],
		"coef":     make([]float64, 5),
	})
	_, err = Load(context.Background(), Options{Dir: dir, Kind: KindLinear}, codec, nil)
	assert.Error(t, err)
}

func TestLoad_PipelineNeedsRecordLayout(t *testing.T) {
	dir := t.TempDir()
	p := testPipeline(t)
	writeArtifact(t, filepath.Join(dir, PipelineFile), p)

	_, err := Load(context.Background(), Options{Dir: dir, Kind: KindPipeline}, classicCodec(t), nil)
	assert.Error(t, err)

	e, err := Load(context.Background(), Options{Dir: dir, Kind: KindPipeline}, pipelineCodec(t), nil)
	require.NoError(t, err)
	assert.NotNil(t, e.Vocabulary())
}

func TestLoad_Errors(t *testing.T) {
	codec := classicCodec(t)

	_, err := Load(context.Background(), Options{Dir: t.TempDir(), Kind: "xgboost"}, codec, nil)
	assert.Error(t, err)

	_, err = Load(context.Background(), Options{Dir: t.TempDir(), Kind: KindLinear}, codec, nil)
	assert.Error(t, err, "missing artifact must fail at startup")

	_, err = Load(context.Background(), Options{Dir: t.TempDir(), Kind: KindONNX}, codec, nil)
	assert.Error(t, err)

	_, err = Load(context.Background(), Options{Kind: KindRemote}, codec, nil)
	assert.Error(t, err)
}
